// internal/scoring/llm.go
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solsniperx/internal/market"
)

const (
	defaultLLMTimeout = 30 * time.Second
	maxResponseBytes  = 1 << 20

	systemPrompt = "You are SolSniperX AI, an expert cryptocurrency analyst specializing in Solana memecoins. " +
		"Provide detailed analysis with risk assessment, sentiment analysis, and trading recommendations."
)

// LLMConfig configures the chat-completions scorer.
type LLMConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// LLMScorer asks an OpenAI-compatible chat endpoint for a verdict.
type LLMScorer struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	logger  *zap.Logger
}

var _ Scorer = (*LLMScorer)(nil)

func NewLLMScorer(cfg LLMConfig) *LLMScorer {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultLLMTimeout}
	}
	return &LLMScorer{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    httpClient,
		logger:  cfg.Logger.Named("scoring"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

// Score returns the parsed verdict, or Fallback together with the error.
func (s *LLMScorer) Score(ctx context.Context, token market.Snapshot) (Verdict, error) {
	content, err := s.complete(ctx, buildPrompt(token))
	if err != nil {
		s.logger.Warn("Returning fallback analysis",
			zap.String("token", token.Address), zap.Error(err))
		return Fallback(token), err
	}

	v := ParseVerdict(content)
	s.logger.Debug("Token scored",
		zap.String("token", token.Address),
		zap.String("recommendation", string(v.Recommendation)),
		zap.Int("probability", v.Probability),
		zap.String("risk", string(v.Risk)))
	return v, nil
}

func (s *LLMScorer) complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   1000,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read completion: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat completion: unexpected status %d", resp.StatusCode)
	}

	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() || strings.TrimSpace(content.String()) == "" {
		return "", fmt.Errorf("chat completion: empty content")
	}
	return content.String(), nil
}

func buildPrompt(t market.Snapshot) string {
	var b strings.Builder
	b.WriteString("Analyze the following Solana memecoin data and provide a comprehensive report.\n")
	b.WriteString("Focus on identifying high-probability trading opportunities and potential rugpull risks.\n")
	b.WriteString("Provide a clear sentiment (Bullish, Neutral, Bearish), a probability score (0-100),\n")
	b.WriteString("and a concise trading recommendation (Buy, Sell, Hold, Avoid).\n\n")

	b.WriteString("Token Details:\n")
	fmt.Fprintf(&b, "- Name: %s\n", t.Name)
	fmt.Fprintf(&b, "- Symbol: %s\n", t.Symbol)
	fmt.Fprintf(&b, "- Address: %s\n", t.Address)
	fmt.Fprintf(&b, "- Price (USD): %.8f\n", t.Price)
	fmt.Fprintf(&b, "- 24h Volume: %.2f\n", t.Volume24h)
	fmt.Fprintf(&b, "- 24h Price Change (%%): %.2f\n", t.PriceChange24h)
	fmt.Fprintf(&b, "- Liquidity (USD): %.2f\n", t.Liquidity)
	fmt.Fprintf(&b, "- Holder Count: %d\n", t.HolderCount)
	fmt.Fprintf(&b, "- Age (hours): %.2f\n\n", t.AgeHours)

	b.WriteString("Based on this data, provide:\n")
	b.WriteString("1.  **Analysis Summary:** A paragraph summarizing the token's current state, potential, and risks.\n")
	b.WriteString("2.  **Sentiment:** [Bullish/Neutral/Bearish]\n")
	b.WriteString("3.  **Probability Score:** [0-100] (Higher means higher probability of positive movement)\n")
	b.WriteString("4.  **Risk Assessment:** [Low/Medium/High] (Detail potential rugpull indicators or other risks)\n")
	b.WriteString("5.  **Trading Recommendation:** [Buy/Sell/Hold/Avoid] (Justify your recommendation)\n")
	b.WriteString("6.  **Key Factors:** List 3-5 key factors supporting your analysis.\n\n")
	b.WriteString("Format your response clearly, using markdown for readability. ")
	b.WriteString("Ensure the Sentiment, Probability Score, Risk Assessment, and Trading Recommendation are easily extractable.\n")
	return b.String()
}
