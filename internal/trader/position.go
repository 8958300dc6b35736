// internal/trader/position.go
package trader

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Position is a token held as the result of a confirmed buy. TokenAmount is
// in whole-token units and is zero until the received amount is known.
type Position struct {
	TokenAddress      string          `json:"token_address"`
	Symbol            string          `json:"symbol"`
	EntryPrice        decimal.Decimal `json:"entry_price"`
	AmountSOL         decimal.Decimal `json:"amount_sol"`
	TokenAmount       decimal.Decimal `json:"token_amount"`
	EntryTime         time.Time       `json:"entry_time"`
	LastTransactionID string          `json:"last_transaction_id"`
}

func (p Position) label() string {
	if p.Symbol != "" {
		return p.Symbol
	}
	return p.TokenAddress
}

type slot struct {
	mu     sync.Mutex
	pos    Position
	closed bool
}

// Ledger holds at most one Position per token address. Each position has its
// own lock, held for the whole read-decide-execute-update sequence, so two
// paths can never both sell the same holdings.
type Ledger struct {
	mu    sync.Mutex
	slots map[string]*slot
	views map[string]Position
}

func NewLedger() *Ledger {
	return &Ledger{
		slots: make(map[string]*slot),
		views: make(map[string]Position),
	}
}

// Open records a new position. It returns false if the token is already held.
func (l *Ledger) Open(p Position) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.slots[p.TokenAddress]; ok {
		return false
	}
	l.slots[p.TokenAddress] = &slot{pos: p}
	l.views[p.TokenAddress] = p
	return true
}

func (l *Ledger) Has(address string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.slots[address]
	return ok
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

// Snapshot returns copies of all positions, oldest first. It never waits on
// a position that is in the middle of a sell.
func (l *Ledger) Snapshot() []Position {
	l.mu.Lock()
	out := make([]Position, 0, len(l.views))
	for _, p := range l.views {
		out = append(out, p)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].TokenAddress < out[j].TokenAddress
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

// WithPosition runs fn under the position's lock. fn may modify the position
// in place; returning true removes it. WithPosition reports false, without
// calling fn, when the token is not held or was removed while waiting.
func (l *Ledger) WithPosition(address string, fn func(p *Position) (remove bool)) bool {
	l.mu.Lock()
	s, ok := l.slots[address]
	l.mu.Unlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	remove := fn(&s.pos)

	l.mu.Lock()
	defer l.mu.Unlock()
	if remove {
		s.closed = true
		delete(l.slots, address)
		delete(l.views, address)
		return true
	}
	l.views[address] = s.pos
	return true
}
