// internal/storage/recorder.go
package storage

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solsniperx/internal/events"
	"github.com/rovshanmuradov/solsniperx/internal/storage/models"
)

const (
	defaultRecorderBuffer = 256
	writeTimeout          = 5 * time.Second
)

// Recorder copies trade and rugpull events from the bus into a Journal on
// its own goroutine. A full queue drops records instead of stalling the bus.
type Recorder struct {
	journal Journal
	logger  *zap.Logger
	queue   chan interface{}
}

func NewRecorder(journal Journal, buffer int, logger *zap.Logger) *Recorder {
	if buffer <= 0 {
		buffer = defaultRecorderBuffer
	}
	return &Recorder{
		journal: journal,
		logger:  logger.Named("journal"),
		queue:   make(chan interface{}, buffer),
	}
}

// Subscriber is the part of events.Bus the recorder needs.
type Subscriber interface {
	SubscribeFunc(events.EventType, func(context.Context, events.Event) error) events.Subscription
}

// Attach subscribes the recorder to trade and rugpull events.
func (r *Recorder) Attach(bus Subscriber) []events.Subscription {
	return []events.Subscription{
		bus.SubscribeFunc(events.AutoTrade, r.handle),
		bus.SubscribeFunc(events.RugpullAlert, r.handle),
	}
}

func (r *Recorder) handle(_ context.Context, ev events.Event) error {
	var rec interface{}
	switch e := ev.(type) {
	case *events.AutoTradeEvent:
		rec = tradeFromEvent(e)
	case *events.RugpullAlertEvent:
		rec = alertFromEvent(e)
	default:
		return nil
	}

	select {
	case r.queue <- rec:
	default:
		r.logger.Warn("Journal queue full, dropping record", zap.String("event_type", string(ev.Type())))
	}
	return nil
}

// Run writes queued records until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case rec := <-r.queue:
					r.write(context.Background(), rec)
				default:
					return nil
				}
			}
		case rec := <-r.queue:
			r.write(ctx, rec)
		}
	}
}

func (r *Recorder) write(ctx context.Context, rec interface{}) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	var err error
	switch v := rec.(type) {
	case *models.Trade:
		err = r.journal.SaveTrade(ctx, v)
	case *models.Alert:
		err = r.journal.SaveAlert(ctx, v)
	}
	if err != nil {
		r.logger.Error("Failed to write journal record", zap.Error(err))
	}
}

func tradeFromEvent(e *events.AutoTradeEvent) *models.Trade {
	t := &models.Trade{
		Side:          e.Side,
		Token:         e.Token,
		Address:       e.Address,
		AmountSOL:     e.AmountSOL,
		AmountTokens:  e.AmountTokens,
		Price:         e.Price,
		Reason:        e.Reason,
		Status:        e.Status,
		TransactionID: e.TransactionID,
		Error:         e.Error,
	}
	t.CreatedAt = e.Timestamp()
	return t
}

func alertFromEvent(e *events.RugpullAlertEvent) *models.Alert {
	a := &models.Alert{
		Signature:    e.Signature,
		TokenAddress: e.TokenAddress,
		Reason:       e.Reason,
		LogMessage:   e.LogMessage,
	}
	if len(e.Details) > 0 {
		if raw, err := json.Marshal(e.Details); err == nil {
			a.Details = string(raw)
		}
	}
	a.CreatedAt = e.Timestamp()
	return a
}
