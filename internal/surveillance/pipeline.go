// internal/surveillance/pipeline.go
package surveillance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solsniperx/internal/events"
	"github.com/rovshanmuradov/solsniperx/internal/market"
)

// PipelineConfig tunes record classification.
type PipelineConfig struct {
	LargeTransferThreshold uint64
	InspectTimeout         time.Duration
}

// Pipeline classifies activity records into NewToken and RugpullAlert events.
// Records are processed one at a time on the caller's goroutine.
type Pipeline struct {
	inspector Inspector
	lookup    SnapshotLookup
	publisher events.Publisher
	recorder  Recorder
	cfg       PipelineConfig
	logger    *zap.Logger

	mu        sync.RWMutex
	listeners []Listener
}

func NewPipeline(inspector Inspector, lookup SnapshotLookup, publisher events.Publisher, recorder Recorder, cfg PipelineConfig, logger *zap.Logger) *Pipeline {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if cfg.InspectTimeout <= 0 {
		cfg.InspectTimeout = 10 * time.Second
	}
	return &Pipeline{
		inspector: inspector,
		lookup:    lookup,
		publisher: publisher,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger.Named("surveillance"),
	}
}

// OnEvent registers a listener for every classified event.
func (p *Pipeline) OnEvent(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// Process classifies one record. Failures are logged and confined to the record.
func (p *Pipeline) Process(ctx context.Context, rec Record) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Record processing panicked",
				zap.String("signature", rec.Signature), zap.Any("panic", r))
		}
	}()

	details := p.lazyDetails(ctx, rec.Signature)

	if mentionsInitializeMint(rec.Logs) {
		p.detectNewToken(ctx, rec, details)
	}
	p.detectRugpull(rec, details)
}

// lazyDetails fetches the transaction at most once per record, on first use.
func (p *Pipeline) lazyDetails(ctx context.Context, signature string) func() (*TxDetails, error) {
	var (
		once    sync.Once
		details *TxDetails
		err     error
	)
	return func() (*TxDetails, error) {
		once.Do(func() {
			inspectCtx, cancel := context.WithTimeout(ctx, p.cfg.InspectTimeout)
			defer cancel()
			details, err = p.inspector.Inspect(inspectCtx, signature)
		})
		return details, err
	}
}

func (p *Pipeline) detectNewToken(ctx context.Context, rec Record, details func() (*TxDetails, error)) {
	log := p.logger.With(zap.String("signature", rec.Signature))
	log.Debug("Potential new token transaction detected")

	d, err := details()
	if err != nil {
		log.Warn("Could not inspect new token transaction", zap.Error(err))
		return
	}
	mint, ok := d.NewMint()
	if !ok {
		return
	}

	lookupCtx, cancel := context.WithTimeout(ctx, p.cfg.InspectTimeout)
	defer cancel()
	snap, err := p.lookup.GetSnapshot(lookupCtx, mint)
	switch {
	case errors.Is(err, market.ErrNotFound):
		log.Debug("New mint not indexed yet", zap.String("mint", mint))
		return
	case err != nil:
		log.Warn("Could not fetch details for new token mint", zap.String("mint", mint), zap.Error(err))
		return
	}

	log.Info("🆕 New token detected", zap.String("mint", mint), zap.String("symbol", snap.Symbol))
	p.emit(NewToken{Address: mint, Signature: rec.Signature, Snapshot: *snap})
}

// detectRugpull runs the lexical check first; the first keyword hit raises one
// alert and ends inspection of the record. Otherwise the decoded
// instructions are checked and every match raises its own alert.
func (p *Pipeline) detectRugpull(rec Record, details func() (*TxDetails, error)) {
	log := p.logger.With(zap.String("signature", rec.Signature))

	if line, keyword, ok := matchKeyword(rec.Logs); ok {
		alert := RugpullAlert{
			Signature:  rec.Signature,
			Reason:     ReasonKeyword,
			LogMessage: line,
			Evidence:   map[string]string{"keyword": keyword},
		}
		if d, err := details(); err != nil {
			log.Debug("Keyword alert left unattributed", zap.Error(err))
		} else {
			alert.TokenAddress = d.PrimaryMint()
			if len(d.Mints) > 0 {
				alert.Evidence["mints"] = strings.Join(d.Mints, ",")
			}
		}
		log.Warn("⚠️ Potential rugpull indicator in logs",
			zap.String("token", alert.TokenAddress), zap.String("log", line))
		p.emit(alert)
		return
	}

	d, err := details()
	if err != nil {
		log.Debug("Structured rugpull check skipped", zap.Error(err))
		return
	}
	for _, alert := range structuredAlerts(rec.Signature, d, p.cfg.LargeTransferThreshold) {
		log.Warn("⚠️ Rugpull indicator in instructions",
			zap.String("reason", alert.Reason), zap.String("token", alert.TokenAddress))
		p.emit(alert)
	}
}

func (p *Pipeline) emit(ev Event) {
	p.recorder.SurveillanceEvent(string(ev.Kind()))

	var err error
	switch e := ev.(type) {
	case NewToken:
		err = p.publisher.Publish(&events.NewTokenEvent{
			BaseEvent: events.NewBase(events.NewToken),
			Address:   e.Address,
			Symbol:    e.Snapshot.Symbol,
			Signature: e.Signature,
			Snapshot:  e.Snapshot,
		})
	case RugpullAlert:
		err = p.publisher.Publish(&events.RugpullAlertEvent{
			BaseEvent:    events.NewBase(events.RugpullAlert),
			Signature:    e.Signature,
			Reason:       e.Reason,
			TokenAddress: e.TokenAddress,
			LogMessage:   e.LogMessage,
			Details:      copyEvidence(e.Evidence),
		})
	}
	if err != nil {
		p.logger.Debug("Notification dropped", zap.String("kind", string(ev.Kind())), zap.Error(err))
	}

	p.mu.RLock()
	listeners := append([]Listener(nil), p.listeners...)
	p.mu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}

func copyEvidence(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
