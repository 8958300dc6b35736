// internal/scoring/verdict.go
package scoring

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rovshanmuradov/solsniperx/internal/market"
)

type Recommendation string

const (
	Buy   Recommendation = "Buy"
	Sell  Recommendation = "Sell"
	Hold  Recommendation = "Hold"
	Avoid Recommendation = "Avoid"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Rank orders risk levels; unknown levels rank as High.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	default:
		return 2
	}
}

// Verdict is the scorer's recommendation for one token.
type Verdict struct {
	Recommendation Recommendation `json:"recommendation"`
	Probability    int            `json:"probability_score"`
	Risk           RiskLevel      `json:"risk_assessment"`
	Sentiment      string         `json:"sentiment"`
	Summary        string         `json:"summary"`
	KeyFactors     []string       `json:"key_factors,omitempty"`
}

// Scorer turns a snapshot into a verdict.
type Scorer interface {
	Score(ctx context.Context, token market.Snapshot) (Verdict, error)
}

// Fallback is the neutral verdict used when no analysis could be obtained.
func Fallback(token market.Snapshot) Verdict {
	return Verdict{
		Recommendation: Hold,
		Probability:    50,
		Risk:           RiskMedium,
		Sentiment:      "Neutral",
		Summary: fmt.Sprintf("Due to an issue, a full AI analysis could not be performed for %s. Basic data is available.",
			token.Label()),
		KeyFactors: []string{"Data unavailable", "Manual review recommended"},
	}
}

// ParseVerdict extracts labelled fields from free-form model output. Fields
// that cannot be read keep the neutral defaults.
func ParseVerdict(content string) Verdict {
	v := Verdict{
		Recommendation: Hold,
		Probability:    50,
		Risk:           RiskMedium,
		Sentiment:      "Neutral",
	}

	for _, line := range strings.Split(content, "\n") {
		switch {
		case strings.Contains(line, "Sentiment:"):
			if s := firstWord(after(line, "Sentiment:")); s != "" {
				v.Sentiment = s
			}
		case strings.Contains(line, "Probability Score:"):
			if p, ok := parseProbability(after(line, "Probability Score:")); ok {
				v.Probability = p
			}
		case strings.Contains(line, "Risk Assessment:"):
			if r, ok := ParseRiskLevel(firstWord(after(line, "Risk Assessment:"))); ok {
				v.Risk = r
			}
		case strings.Contains(line, "Trading Recommendation:"):
			if r, ok := ParseRecommendation(firstWord(after(line, "Trading Recommendation:"))); ok {
				v.Recommendation = r
			}
		case strings.Contains(line, "Key Factors:"):
			if f := clean(after(line, "Key Factors:")); f != "" {
				v.KeyFactors = append(v.KeyFactors, f)
			}
		}
	}

	v.Summary = strings.TrimSpace(strings.SplitN(content, "\n\n", 2)[0])
	return v
}

// ParseRecommendation matches case-insensitively.
func ParseRecommendation(s string) (Recommendation, bool) {
	for _, r := range []Recommendation{Buy, Sell, Hold, Avoid} {
		if strings.EqualFold(s, string(r)) {
			return r, true
		}
	}
	return "", false
}

// ParseRiskLevel matches case-insensitively.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	for _, r := range []RiskLevel{RiskLow, RiskMedium, RiskHigh} {
		if strings.EqualFold(s, string(r)) {
			return r, true
		}
	}
	return "", false
}

func after(line, label string) string {
	return line[strings.Index(line, label)+len(label):]
}

// clean strips markdown emphasis and placeholder brackets.
func clean(s string) string {
	return strings.TrimSpace(strings.NewReplacer("*", "", "[", "", "]", "", "_", "").Replace(s))
}

func firstWord(s string) string {
	fields := strings.FieldsFunc(clean(s), func(r rune) bool {
		return r == ' ' || r == '\t' || r == ',' || r == '.' || r == '(' || r == '-' || r == ':'
	})
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func parseProbability(s string) (int, bool) {
	s = clean(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	p, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	if p > 100 {
		p = 100
	}
	return p, true
}
