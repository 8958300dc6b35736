// internal/executor/jupiter.go
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	defaultJupiterTimeout = 20 * time.Second
	maxJupiterBody        = 2 << 20
)

// Jupiter talks to the Jupiter v6 quote and swap endpoints.
type Jupiter struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewJupiter(baseURL string, httpClient *http.Client, logger *zap.Logger) *Jupiter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultJupiterTimeout}
	}
	return &Jupiter{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger.Named("jupiter"),
	}
}

// Quote returns the raw quote document for an ExactIn swap.
func (j *Jupiter) Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int64) ([]byte, error) {
	params := url.Values{}
	params.Set("inputMint", inputMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", strconv.FormatUint(amount, 10))
	params.Set("slippageBps", strconv.FormatInt(slippageBps, 10))
	params.Set("swapMode", "ExactIn")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.baseURL+"/quote?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build quote request: %w", err)
	}

	body, err := j.do(req)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	if !gjson.GetBytes(body, "outAmount").Exists() {
		return nil, fmt.Errorf("quote: no route for %s -> %s", inputMint, outputMint)
	}

	j.logger.Debug("Received quote",
		zap.String("input_mint", inputMint),
		zap.String("output_mint", outputMint),
		zap.Uint64("amount", amount),
		zap.String("out_amount", gjson.GetBytes(body, "outAmount").String()))
	return body, nil
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports string          `json:"prioritizationFeeLamports"`
}

// SwapTransaction exchanges a quote for a base64 serialized, unsigned transaction.
func (j *Jupiter) SwapTransaction(ctx context.Context, quote []byte, user solana.PublicKey) (string, error) {
	payload, err := json.Marshal(swapRequest{
		QuoteResponse:             json.RawMessage(quote),
		UserPublicKey:             user.String(),
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		PrioritizationFeeLamports: "auto",
	})
	if err != nil {
		return "", fmt.Errorf("encode swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := j.do(req)
	if err != nil {
		return "", fmt.Errorf("swap: %w", err)
	}
	encoded := gjson.GetBytes(body, "swapTransaction").String()
	if encoded == "" {
		return "", fmt.Errorf("swap: response carries no transaction")
	}
	return encoded, nil
}

func (j *Jupiter) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := j.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJupiterBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(body, "error").String()
		return nil, fmt.Errorf("unexpected status %d %s", resp.StatusCode, msg)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON body")
	}
	return body, nil
}
