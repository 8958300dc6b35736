package trader

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerOpenRejectsDuplicate(t *testing.T) {
	l := NewLedger()
	require.True(t, l.Open(Position{TokenAddress: "A"}))
	assert.False(t, l.Open(Position{TokenAddress: "A"}))
	assert.True(t, l.Has("A"))
	assert.Equal(t, 1, l.Len())
}

func TestLedgerWithPositionUpdatesAndRemoves(t *testing.T) {
	l := NewLedger()
	l.Open(Position{TokenAddress: "A"})

	ok := l.WithPosition("A", func(p *Position) bool {
		p.TokenAmount = decimal.NewFromInt(5)
		return false
	})
	require.True(t, ok)
	assert.True(t, l.Snapshot()[0].TokenAmount.Equal(decimal.NewFromInt(5)))

	require.True(t, l.WithPosition("A", func(*Position) bool { return true }))
	assert.False(t, l.Has("A"))
	assert.False(t, l.WithPosition("A", func(*Position) bool {
		t.Fatal("callback on removed position")
		return false
	}))
}

func TestLedgerSnapshotOrdersByEntryTime(t *testing.T) {
	l := NewLedger()
	now := time.Now()
	l.Open(Position{TokenAddress: "B", EntryTime: now})
	l.Open(Position{TokenAddress: "A", EntryTime: now.Add(-time.Minute)})

	snap := l.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "A", snap[0].TokenAddress)
	assert.Equal(t, "B", snap[1].TokenAddress)
}

func TestLedgerSerializesPerToken(t *testing.T) {
	l := NewLedger()
	l.Open(Position{TokenAddress: "A"})

	var calls int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.WithPosition("A", func(*Position) bool {
				atomic.AddInt32(&calls, 1)
				time.Sleep(time.Millisecond)
				return true
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 0, l.Len())
}

func TestLedgerSnapshotDoesNotWaitOnBusyPosition(t *testing.T) {
	l := NewLedger()
	l.Open(Position{TokenAddress: "A"})

	entered := make(chan struct{})
	release := make(chan struct{})
	go l.WithPosition("A", func(*Position) bool {
		close(entered)
		<-release
		return false
	})
	<-entered
	defer close(release)

	done := make(chan []Position, 1)
	go func() { done <- l.Snapshot() }()
	select {
	case snap := <-done:
		assert.Len(t, snap, 1)
	case <-time.After(time.Second):
		t.Fatal("Snapshot blocked on a busy position")
	}
}
