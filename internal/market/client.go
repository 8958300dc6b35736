// internal/market/client.go
package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	maxBodyBytes       = 4 << 20
)

// ClientConfig wires the HTTP endpoints of both providers.
type ClientConfig struct {
	DexscreenerURL string
	BirdeyeURL     string
	BirdeyeAPIKey  string
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

// Client merges Dexscreener and Birdeye into one Provider.
type Client struct {
	dexscreenerURL string
	birdeyeURL     string
	birdeyeAPIKey  string
	http           *http.Client
	logger         *zap.Logger
	now            func() time.Time
}

var _ Provider = (*Client)(nil)

// NewClient creates a provider client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		dexscreenerURL: strings.TrimRight(cfg.DexscreenerURL, "/"),
		birdeyeURL:     strings.TrimRight(cfg.BirdeyeURL, "/"),
		birdeyeAPIKey:  cfg.BirdeyeAPIKey,
		http:           httpClient,
		logger:         cfg.Logger.Named("market"),
		now:            time.Now,
	}
}

// ListSnapshots fetches both listings and merges them by address. Birdeye
// wins on fields it actually reports. One failing source is tolerated.
func (c *Client) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	dexBody, dexErr := c.get(ctx, c.dexscreenerURL+"/pairs/solana/trending", nil)
	birdBody, birdErr := c.get(ctx, c.birdeyeURL+"/tokenlist", c.birdeyeHeaders())

	if dexErr != nil && birdErr != nil {
		return nil, fmt.Errorf("all market sources failed: %w", errors.Join(dexErr, birdErr))
	}
	if dexErr != nil {
		c.logger.Warn("Dexscreener listing failed", zap.Error(dexErr))
	}
	if birdErr != nil {
		c.logger.Warn("Birdeye listing failed", zap.Error(birdErr))
	}

	merged := make(map[string]Snapshot)
	var order []string
	add := func(s Snapshot) {
		prev, ok := merged[s.Address]
		if !ok {
			order = append(order, s.Address)
		}
		merged[s.Address] = merge(prev, s)
	}

	if dexErr == nil {
		for _, s := range parseDexscreenerPairs(dexBody, c.now()) {
			add(s)
		}
	}
	if birdErr == nil {
		for _, s := range parseBirdeyeList(birdBody) {
			add(s)
		}
	}

	out := make([]Snapshot, 0, len(order))
	for _, addr := range order {
		out = append(out, merged[addr])
	}
	c.logger.Debug("Fetched market listing", zap.Int("tokens", len(out)))
	return out, nil
}

// GetSnapshot looks the token up on Dexscreener first, then Birdeye.
func (c *Client) GetSnapshot(ctx context.Context, address string) (*Snapshot, error) {
	if address == "" {
		return nil, ErrNotFound
	}

	dexBody, dexErr := c.get(ctx, c.dexscreenerURL+"/tokens/"+url.PathEscape(address), nil)
	if dexErr == nil {
		if snap, ok := deepestPair(parseDexscreenerPairs(dexBody, c.now()), address); ok {
			return &snap, nil
		}
	} else {
		c.logger.Debug("Dexscreener lookup failed", zap.String("token", address), zap.Error(dexErr))
	}

	query := url.Values{"address": []string{address}}
	birdBody, birdErr := c.get(ctx, c.birdeyeURL+"/token_overview?"+query.Encode(), c.birdeyeHeaders())
	if birdErr == nil {
		if snap, ok := parseBirdeyeOverview(birdBody); ok {
			return &snap, nil
		}
	} else {
		c.logger.Debug("Birdeye lookup failed", zap.String("token", address), zap.Error(birdErr))
	}

	if dexErr != nil || birdErr != nil {
		return nil, fmt.Errorf("lookup %s: %w", address, errors.Join(dexErr, birdErr))
	}
	return nil, ErrNotFound
}

func (c *Client) birdeyeHeaders() map[string]string {
	headers := map[string]string{"x-chain": "solana"}
	if c.birdeyeAPIKey != "" {
		headers["X-API-KEY"] = c.birdeyeAPIKey
	}
	return headers
}

func (c *Client) get(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: unexpected status %d", req.URL.Path, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("GET %s: invalid JSON body", req.URL.Path)
	}
	return body, nil
}
