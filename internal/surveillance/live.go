// internal/surveillance/live.go
package surveillance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	defaultIdleTimeout  = 60 * time.Second
	defaultPingInterval = 20 * time.Second
	writeTimeout       = 5 * time.Second
	subscribeTimeout   = 10 * time.Second
)

// LiveSourceConfig selects the logsSubscribe filter.
type LiveSourceConfig struct {
	URL        string
	Commitment string
	// Mentions restricts the subscription to transactions mentioning any of
	// these accounts. Empty means every transaction.
	Mentions []string
	// PingInterval keeps quiet subscriptions alive; every frame the server
	// sends, pongs included, restarts the IdleTimeout.
	PingInterval time.Duration
	IdleTimeout  time.Duration
}

// LiveSource subscribes to program logs over the RPC WebSocket.
type LiveSource struct {
	cfg    LiveSourceConfig
	dialer ws.Dialer
	logger *zap.Logger
}

var _ Source = (*LiveSource)(nil)

func NewLiveSource(cfg LiveSourceConfig, logger *zap.Logger) *LiveSource {
	if cfg.Commitment == "" {
		cfg.Commitment = "processed"
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.IdleTimeout {
		cfg.PingInterval = min(defaultPingInterval, cfg.IdleTimeout/2)
	}
	return &LiveSource{
		cfg:    cfg,
		dialer: ws.Dialer{Timeout: subscribeTimeout},
		logger: logger.Named("ws-source"),
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// filters returns one logsSubscribe filter per requested subscription.
func (s *LiveSource) filters() []interface{} {
	if len(s.cfg.Mentions) == 0 {
		return []interface{}{"all"}
	}
	out := make([]interface{}, 0, len(s.cfg.Mentions))
	for _, m := range s.cfg.Mentions {
		out = append(out, map[string][]string{"mentions": {m}})
	}
	return out
}

// Subscribe dials, sends the subscriptions and waits for every confirmation.
func (s *LiveSource) Subscribe(ctx context.Context) (Stream, error) {
	conn, br, _, err := s.dialer.Dial(ctx, s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	if br != nil {
		// The server already sent data after the handshake.
		conn = bufferedConn{Conn: conn, r: br}
	}

	stream := &liveStream{conn: conn, idle: s.cfg.IdleTimeout, logger: s.logger, done: make(chan struct{})}
	stream.stop = context.AfterFunc(ctx, func() { _ = stream.Close() })

	pending := make(map[int]struct{})
	for i, filter := range s.filters() {
		id := i + 1
		req := rpcRequest{
			JSONRPC: "2.0",
			ID:      id,
			Method:  "logsSubscribe",
			Params:  []interface{}{filter, map[string]string{"commitment": s.cfg.Commitment}},
		}
		if err := stream.write(req); err != nil {
			_ = stream.Close()
			return nil, fmt.Errorf("send logsSubscribe: %w", err)
		}
		pending[id] = struct{}{}
	}

	deadline := time.Now().Add(subscribeTimeout)
	for len(pending) > 0 {
		msg, err := stream.read(deadline, 0)
		if err != nil {
			_ = stream.Close()
			return nil, fmt.Errorf("await subscription: %w", err)
		}
		id := gjson.GetBytes(msg, "id")
		if !id.Exists() {
			continue
		}
		if e := gjson.GetBytes(msg, "error"); e.Exists() {
			_ = stream.Close()
			return nil, fmt.Errorf("logsSubscribe rejected: %s", e.Get("message").String())
		}
		delete(pending, int(id.Int()))
		s.logger.Info("Subscribed to logs",
			zap.Int64("subscription_id", gjson.GetBytes(msg, "result").Int()))
	}
	go stream.keepalive(s.cfg.PingInterval)
	return stream, nil
}

type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (c bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

type liveStream struct {
	conn   net.Conn
	idle   time.Duration
	logger *zap.Logger
	stop   func() bool
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// streamWriter serializes control replies with our own writes.
type streamWriter struct{ s *liveStream }

func (w streamWriter) Write(p []byte) (int, error) {
	w.s.writeMu.Lock()
	defer w.s.writeMu.Unlock()
	if err := w.s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return 0, err
	}
	return w.s.conn.Write(p)
}

func (s *liveStream) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := wsutil.WriteClientMessage(streamWriter{s}, ws.OpPing, nil); err != nil {
				s.logger.Debug("Ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *liveStream) write(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return wsutil.WriteClientText(s.conn, payload)
}

// read returns the next text frame, or nil for other data frames. Control
// frames are answered in place; when extend is positive each one pushes the
// deadline out by extend.
func (s *liveStream) read(deadline time.Time, extend time.Duration) ([]byte, error) {
	control := wsutil.ControlFrameHandler(streamWriter{s}, ws.StateClientSide)
	rd := wsutil.Reader{
		Source:         s.conn,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}
	for {
		if err := s.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, &rd); err != nil {
				return nil, err
			}
			if extend > 0 {
				deadline = time.Now().Add(extend)
			}
			continue
		}
		if hdr.OpCode != ws.OpText {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return io.ReadAll(&rd)
	}
}

// Recv returns the next successful-transaction notification. Malformed
// frames and notifications for failed transactions are skipped.
func (s *liveStream) Recv(ctx context.Context) (Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Record{}, err
		}
		msg, err := s.read(time.Now().Add(s.idle), s.idle)
		if err != nil {
			return Record{}, err
		}
		if len(msg) == 0 {
			continue
		}
		if !gjson.ValidBytes(msg) {
			s.logger.Debug("Skipping malformed frame", zap.Int("bytes", len(msg)))
			continue
		}
		if gjson.GetBytes(msg, "method").String() != "logsNotification" {
			continue
		}

		result := gjson.GetBytes(msg, "params.result")
		value := result.Get("value")
		if e := value.Get("err"); e.Exists() && e.Type != gjson.Null {
			continue
		}
		sig := value.Get("signature").String()
		if sig == "" {
			s.logger.Debug("Skipping notification without signature")
			continue
		}

		rec := Record{Signature: sig, Slot: result.Get("context.slot").Uint()}
		for _, l := range value.Get("logs").Array() {
			rec.Logs = append(rec.Logs, l.String())
		}
		return rec, nil
	}
}

func (s *liveStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
