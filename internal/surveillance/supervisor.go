// internal/surveillance/supervisor.go
package surveillance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solsniperx/internal/events"
)

var errSessionEnded = errors.New("subscription ended")

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateSubscribed   State = "subscribed"
	StateFailed       State = "failed"
)

// SupervisorConfig bounds reconnection. A session that delivers no record
// and ends before MinUptime counts as a failed attempt.
type SupervisorConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MinUptime      time.Duration
}

// Supervisor keeps a Source subscribed and feeds its records to the Pipeline.
type Supervisor struct {
	source    Source
	pipeline  *Pipeline
	publisher events.Publisher
	recorder  Recorder
	cfg       SupervisorConfig
	logger    *zap.Logger

	mu    sync.RWMutex
	state State
}

func NewSupervisor(source Source, pipeline *Pipeline, publisher events.Publisher, recorder Recorder, cfg SupervisorConfig, logger *zap.Logger) *Supervisor {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.MinUptime <= 0 {
		cfg.MinUptime = 30 * time.Second
	}
	return &Supervisor{
		source:    source,
		pipeline:  pipeline,
		publisher: publisher,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger.Named("surveillance-supervisor"),
		state:     StateDisconnected,
	}
}

// State returns the current subscription state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Run subscribes and processes records until ctx is done, reconnecting with
// exponential backoff. It returns nil on cancellation and ErrPersistentFailure
// once MaxAttempts consecutive attempts have failed. Failed subscribes and
// sessions that drop without becoming healthy both count as attempts; only a
// healthy session resets the counter and the backoff.
func (s *Supervisor) Run(ctx context.Context) error {
	defer func() {
		if s.State() != StateFailed {
			s.setState(StateDisconnected, 0, nil)
		}
	}()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.cfg.InitialBackoff
	exp.MaxInterval = s.cfg.MaxBackoff
	exp.Reset()

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		s.setState(StateConnecting, failures+1, nil)
		stream, err := s.source.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			s.logger.Warn("Subscribe failed",
				zap.Int("attempt", failures), zap.Error(err))
		} else {
			s.setState(StateSubscribed, 0, nil)
			started := time.Now()
			delivered, cerr := s.consume(ctx, stream)
			_ = stream.Close()
			if ctx.Err() != nil {
				return nil
			}

			err = cerr
			if err == nil {
				err = errSessionEnded
			}
			s.recorder.SurveillanceReconnect()
			if delivered > 0 || time.Since(started) >= s.cfg.MinUptime {
				failures = 0
				exp.Reset()
			} else {
				failures++
			}
			s.logger.Warn("Subscription dropped, reconnecting",
				zap.Int("records", delivered),
				zap.Int("failed_attempts", failures),
				zap.Error(err))
		}

		if failures >= s.cfg.MaxAttempts {
			s.setState(StateFailed, failures, err)
			s.logger.Error("❌ Surveillance gave up reconnecting",
				zap.Int("attempts", failures), zap.Error(err))
			return fmt.Errorf("%w: %v", ErrPersistentFailure, err)
		}

		wait := exp.NextBackOff()
		s.setState(StateDisconnected, failures, err)
		if !sleepCtx(ctx, wait) {
			return nil
		}
	}
}

// consume feeds records to the pipeline and reports how many it delivered.
func (s *Supervisor) consume(ctx context.Context, stream Stream) (int, error) {
	delivered := 0
	for {
		rec, err := stream.Recv(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return delivered, nil
			}
			return delivered, err
		}
		delivered++
		s.pipeline.Process(ctx, rec)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Supervisor) setState(state State, attempt int, cause error) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()

	if !changed && cause == nil {
		return
	}
	s.recorder.SurveillanceState(string(state))

	ev := &events.SurveillanceStatusEvent{
		BaseEvent: events.NewBase(events.SurveillanceStatus),
		State:     string(state),
		Attempt:   attempt,
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	_ = s.publisher.Publish(ev)
}
