package surveillance

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zaptest"
)

type mockWSServer struct {
	server   *httptest.Server
	handler  func(conn net.Conn)
	conns    []net.Conn
	connLock sync.Mutex
}

func newMockWSServer(handler func(conn net.Conn)) *mockWSServer {
	mock := &mockWSServer{handler: handler}
	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		mock.connLock.Lock()
		mock.conns = append(mock.conns, conn)
		mock.connLock.Unlock()
		go mock.handler(conn)
	}))
	return mock
}

func (m *mockWSServer) Close() {
	m.server.Close()
	m.connLock.Lock()
	defer m.connLock.Unlock()
	for _, conn := range m.conns {
		conn.Close()
	}
}

func (m *mockWSServer) URL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http")
}

const notificationTmpl = `{"jsonrpc":"2.0","method":"logsNotification","params":{"result":{"context":{"slot":77},"value":{"signature":"SIG","err":ERR,"logs":["Program log: Instruction: Burn"]}},"subscription":42}}`

func notification(sig, errJSON string) []byte {
	return []byte(strings.NewReplacer("SIG", sig, "ERR", errJSON).Replace(notificationTmpl))
}

func TestLiveSourceSubscribeAndRecv(t *testing.T) {
	requests := make(chan []byte, 1)
	mock := newMockWSServer(func(conn net.Conn) {
		msg, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		requests <- msg
		id := gjson.GetBytes(msg, "id").Raw
		_ = wsutil.WriteServerText(conn, []byte(`{"jsonrpc":"2.0","result":42,"id":`+id+`}`))
		_ = wsutil.WriteServerText(conn, notification("failed-tx", `{"InstructionError":[0,"Custom"]}`))
		_ = wsutil.WriteServerText(conn, []byte(`{not json`))
		_ = wsutil.WriteServerText(conn, notification("good-tx", "null"))
	})
	defer mock.Close()

	src := NewLiveSource(LiveSourceConfig{URL: mock.URL(), Commitment: "processed"}, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	stream, err := src.Subscribe(ctx)
	require.NoError(t, err)
	defer stream.Close()

	req := <-requests
	assert.Equal(t, "logsSubscribe", gjson.GetBytes(req, "method").String())
	assert.Equal(t, "all", gjson.GetBytes(req, "params.0").String())
	assert.Equal(t, "processed", gjson.GetBytes(req, "params.1.commitment").String())

	rec, err := stream.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "good-tx", rec.Signature)
	assert.Equal(t, uint64(77), rec.Slot)
	assert.Equal(t, []string{"Program log: Instruction: Burn"}, rec.Logs)
}

func TestLiveSourceMentionsFilter(t *testing.T) {
	requests := make(chan []byte, 2)
	mock := newMockWSServer(func(conn net.Conn) {
		for i := 0; i < 2; i++ {
			msg, _, err := wsutil.ReadClientData(conn)
			if err != nil {
				return
			}
			requests <- msg
			id := gjson.GetBytes(msg, "id").Raw
			_ = wsutil.WriteServerText(conn, []byte(`{"jsonrpc":"2.0","result":1,"id":`+id+`}`))
		}
	})
	defer mock.Close()

	src := NewLiveSource(LiveSourceConfig{URL: mock.URL(), Mentions: []string{"ProgA", "ProgB"}}, zaptest.NewLogger(t))
	stream, err := src.Subscribe(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	first, second := <-requests, <-requests
	assert.Equal(t, "ProgA", gjson.GetBytes(first, "params.0.mentions.0").String())
	assert.Equal(t, "ProgB", gjson.GetBytes(second, "params.0.mentions.0").String())
}

func TestLiveSourceRejectedSubscription(t *testing.T) {
	mock := newMockWSServer(func(conn net.Conn) {
		msg, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		id := gjson.GetBytes(msg, "id").Raw
		_ = wsutil.WriteServerText(conn, []byte(`{"jsonrpc":"2.0","error":{"code":-32602,"message":"Invalid params"},"id":`+id+`}`))
	})
	defer mock.Close()

	src := NewLiveSource(LiveSourceConfig{URL: mock.URL()}, zaptest.NewLogger(t))
	_, err := src.Subscribe(context.Background())
	assert.ErrorContains(t, err, "Invalid params")
}

func TestLiveSourceRecvFailsWhenServerCloses(t *testing.T) {
	mock := newMockWSServer(func(conn net.Conn) {
		msg, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		id := gjson.GetBytes(msg, "id").Raw
		_ = wsutil.WriteServerText(conn, []byte(`{"jsonrpc":"2.0","result":1,"id":`+id+`}`))
		conn.Close()
	})
	defer mock.Close()

	src := NewLiveSource(LiveSourceConfig{URL: mock.URL()}, zaptest.NewLogger(t))
	stream, err := src.Subscribe(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Recv(context.Background())
	assert.Error(t, err)
}

func TestLiveSourcePingsKeepQuietSubscriptionAlive(t *testing.T) {
	var pings atomic.Int32
	mock := newMockWSServer(func(conn net.Conn) {
		msg, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		id := gjson.GetBytes(msg, "id").Raw
		_ = wsutil.WriteServerText(conn, []byte(`{"jsonrpc":"2.0","result":1,"id":`+id+`}`))

		quietUntil := time.Now().Add(400 * time.Millisecond)
		for time.Now().Before(quietUntil) {
			_ = conn.SetReadDeadline(quietUntil)
			frame, err := ws.ReadFrame(conn)
			if err != nil {
				break
			}
			if frame.Header.OpCode == ws.OpPing {
				pings.Add(1)
				_ = ws.WriteFrame(conn, ws.NewPongFrame(nil))
			}
		}
		_ = conn.SetReadDeadline(time.Time{})
		_ = wsutil.WriteServerText(conn, notification("late-tx", "null"))
	})
	defer mock.Close()

	src := NewLiveSource(LiveSourceConfig{
		URL:          mock.URL(),
		PingInterval: 50 * time.Millisecond,
		IdleTimeout:  150 * time.Millisecond,
	}, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	stream, err := src.Subscribe(ctx)
	require.NoError(t, err)
	defer stream.Close()

	rec, err := stream.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "late-tx", rec.Signature)
	assert.GreaterOrEqual(t, int(pings.Load()), 2)
}

func TestLiveSourceIdleTimeoutWithoutPongs(t *testing.T) {
	mock := newMockWSServer(func(conn net.Conn) {
		msg, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		id := gjson.GetBytes(msg, "id").Raw
		_ = wsutil.WriteServerText(conn, []byte(`{"jsonrpc":"2.0","result":1,"id":`+id+`}`))
		// swallow pings without answering
		for {
			if _, err := ws.ReadFrame(conn); err != nil {
				return
			}
		}
	})
	defer mock.Close()

	src := NewLiveSource(LiveSourceConfig{
		URL:          mock.URL(),
		PingInterval: 20 * time.Millisecond,
		IdleTimeout:  100 * time.Millisecond,
	}, zaptest.NewLogger(t))
	stream, err := src.Subscribe(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Recv(context.Background())
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}
