// internal/market/parse.go
package market

import (
	"time"

	"github.com/tidwall/gjson"
)

const (
	sourceDexscreener = "dexscreener"
	sourceBirdeye     = "birdeye"
)

// parseDexscreenerPairs converts a Dexscreener {pairs:[...]} body.
func parseDexscreenerPairs(body []byte, now time.Time) []Snapshot {
	var out []Snapshot
	gjson.GetBytes(body, "pairs").ForEach(func(_, pair gjson.Result) bool {
		address := pair.Get("baseToken.address").String()
		if address == "" {
			return true
		}
		snap := Snapshot{
			Address:        address,
			Name:           pair.Get("baseToken.name").String(),
			Symbol:         pair.Get("baseToken.symbol").String(),
			Price:          pair.Get("priceUsd").Float(),
			MarketCap:      pair.Get("marketCap").Float(),
			Liquidity:      pair.Get("liquidity.usd").Float(),
			Volume24h:      pair.Get("volume.h24").Float(),
			PriceChange24h: pair.Get("priceChange.h24").Float(),
			Source:         sourceDexscreener,
		}
		if createdMs := pair.Get("pairCreatedAt").Int(); createdMs > 0 {
			age := now.Sub(time.UnixMilli(createdMs)).Hours()
			if age > 0 {
				snap.AgeHours = age
			}
		}
		out = append(out, snap)
		return true
	})
	return out
}

// deepestPair picks the highest-liquidity pair whose base token is address.
func deepestPair(pairs []Snapshot, address string) (Snapshot, bool) {
	var (
		best  Snapshot
		found bool
	)
	for _, p := range pairs {
		if p.Address != address {
			continue
		}
		if !found || p.Liquidity > best.Liquidity {
			best, found = p, true
		}
	}
	return best, found
}

// parseBirdeyeToken converts one Birdeye token object.
func parseBirdeyeToken(token gjson.Result) Snapshot {
	return Snapshot{
		Address:        token.Get("address").String(),
		Name:           token.Get("name").String(),
		Symbol:         token.Get("symbol").String(),
		Price:          token.Get("price").Float(),
		MarketCap:      firstFloat(token, "mc", "marketCap"),
		Liquidity:      token.Get("liquidity").Float(),
		Volume24h:      firstFloat(token, "v24hUSD", "v24h"),
		PriceChange24h: firstFloat(token, "priceChange24hPercent", "priceChange24h", "v24hChangePercent"),
		HolderCount:    firstInt(token, "holder", "holders"),
		Source:         sourceBirdeye,
	}
}

// parseBirdeyeList handles both {data:[...]} and {data:{tokens:[...]}}.
func parseBirdeyeList(body []byte) []Snapshot {
	data := gjson.GetBytes(body, "data")
	if !data.IsArray() {
		data = data.Get("tokens")
	}
	var out []Snapshot
	data.ForEach(func(_, token gjson.Result) bool {
		if snap := parseBirdeyeToken(token); snap.Address != "" {
			out = append(out, snap)
		}
		return true
	})
	return out
}

// parseBirdeyeOverview handles {data:{...}}.
func parseBirdeyeOverview(body []byte) (Snapshot, bool) {
	data := gjson.GetBytes(body, "data")
	if !data.IsObject() {
		return Snapshot{}, false
	}
	snap := parseBirdeyeToken(data)
	return snap, snap.Address != ""
}

func firstFloat(r gjson.Result, keys ...string) float64 {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() {
			return v.Float()
		}
	}
	return 0
}

func firstInt(r gjson.Result, keys ...string) int64 {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() {
			return v.Int()
		}
	}
	return 0
}
