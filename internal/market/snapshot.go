// internal/market/snapshot.go
package market

import (
	"context"
	"errors"
)

// ErrNotFound means no provider indexes the token yet.
var ErrNotFound = errors.New("token not found")

// Snapshot is a point-in-time read of a token's market metrics. It is never
// persisted; every cycle re-fetches it.
type Snapshot struct {
	Address        string  `json:"address"`
	Name           string  `json:"name"`
	Symbol         string  `json:"symbol"`
	Price          float64 `json:"price"`
	MarketCap      float64 `json:"market_cap"`
	Liquidity      float64 `json:"liquidity"`
	Volume24h      float64 `json:"volume_24h"`
	PriceChange24h float64 `json:"price_change_24h"`
	AgeHours       float64 `json:"age_hours"`
	HolderCount    int64   `json:"holder_count"`
	Source         string  `json:"source"`
}

// Label returns the symbol when known, the address otherwise.
func (s Snapshot) Label() string {
	if s.Symbol != "" {
		return s.Symbol
	}
	return s.Address
}

// Provider is the market snapshot boundary used by the control loop and surveillance.
type Provider interface {
	// ListSnapshots returns all currently listed tokens.
	ListSnapshots(ctx context.Context) ([]Snapshot, error)
	// GetSnapshot returns one token or ErrNotFound.
	GetSnapshot(ctx context.Context, address string) (*Snapshot, error)
}

// merge overlays the non-zero fields of top onto base.
func merge(base, top Snapshot) Snapshot {
	out := base
	if top.Address != "" {
		out.Address = top.Address
	}
	if top.Name != "" {
		out.Name = top.Name
	}
	if top.Symbol != "" {
		out.Symbol = top.Symbol
	}
	if top.Price != 0 {
		out.Price = top.Price
	}
	if top.MarketCap != 0 {
		out.MarketCap = top.MarketCap
	}
	if top.Liquidity != 0 {
		out.Liquidity = top.Liquidity
	}
	if top.Volume24h != 0 {
		out.Volume24h = top.Volume24h
	}
	if top.PriceChange24h != 0 {
		out.PriceChange24h = top.PriceChange24h
	}
	if top.AgeHours != 0 {
		out.AgeHours = top.AgeHours
	}
	if top.HolderCount != 0 {
		out.HolderCount = top.HolderCount
	}
	switch {
	case base.Source == "":
		out.Source = top.Source
	case top.Source != "" && top.Source != base.Source:
		out.Source = base.Source + "+" + top.Source
	}
	return out
}
