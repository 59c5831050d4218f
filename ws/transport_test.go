package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/classchat/auth"
	"github.com/mqy/classchat/conn"
)

var upgrader = websocket.Upgrader{}

// ackServer acks every frame asking for it, echoing its data, and pushes a
// `hello` event on connect. The first `drop` connections are closed right
// after the push.
func ackServer(t *testing.T, drop int32) (*httptest.Server, *int32) {
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer u1" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		n := atomic.AddInt32(&conns, 1)
		_ = c.WriteJSON(&conn.Frame{Event: "hello", Data: json.RawMessage(`{"n":1}`)})
		if n <= drop {
			return
		}

		for {
			var f conn.Frame
			if err := c.ReadJSON(&f); err != nil {
				return
			}
			if f.Ack != "" {
				_ = c.WriteJSON(&conn.Frame{Event: conn.AckEvent, Ack: f.Ack, Data: f.Data})
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(url string) Config {
	return Config{
		URL:          url,
		PingPeriod:   50 * time.Millisecond,
		PongWait:     time.Second,
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 50 * time.Millisecond,
	}
}

type statusLog struct {
	sync.Mutex
	states []conn.State
}

func (s *statusLog) record(st conn.State) {
	s.Lock()
	s.states = append(s.states, st)
	s.Unlock()
}

func (s *statusLog) count(status conn.Status) int {
	s.Lock()
	defer s.Unlock()
	n := 0
	for _, st := range s.states {
		if st.Status == status {
			n++
		}
	}
	return n
}

func TestAckRoundTrip(t *testing.T) {
	srv, _ := ackServer(t, 0)
	m := conn.NewManager(NewTransport(testConfig(wsURL(srv)), auth.StaticToken("u1")))

	hello := make(chan json.RawMessage, 1)
	m.Subscribe("hello", func(data json.RawMessage) { hello <- data })

	m.Connect()
	defer m.Close()
	require.Eventually(t, func() bool { return m.State().Status == conn.Connected }, 2*time.Second, 5*time.Millisecond)

	select {
	case data := <-hello:
		assert.JSONEq(t, `{"n":1}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("no hello event")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := m.EmitAck(ctx, "joinClass", map[string]string{"classId": "c1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"classId":"c1"}`, string(data))
}

func TestReconnect(t *testing.T) {
	srv, conns := ackServer(t, 2)
	m := conn.NewManager(NewTransport(testConfig(wsURL(srv)), auth.StaticToken("u1")))
	log := &statusLog{}
	m.WatchState(log.record)

	m.Connect()
	defer m.Close()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(conns) >= 3 && m.State().Status == conn.Connected
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, log.count(conn.Disconnected), 2)
	assert.GreaterOrEqual(t, log.count(conn.Connected), 3)
	assert.Empty(t, m.State().Err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := m.EmitAck(ctx, "ping", nil)
	assert.NoError(t, err)
}

func TestDialRejected(t *testing.T) {
	srv, _ := ackServer(t, 0)
	m := conn.NewManager(NewTransport(testConfig(wsURL(srv)), auth.StaticToken("intruder")))
	m.Connect()
	defer m.Close()

	require.Eventually(t, func() bool { return m.State().Err != "" }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, m.State().Err, "403")
	assert.NotEqual(t, conn.Connected, m.State().Status)
	assert.ErrorIs(t, m.Emit(context.Background(), "x", nil), conn.ErrNotConnected)
}

func TestSendWhileDown(t *testing.T) {
	tr := NewTransport(Config{URL: "ws://127.0.0.1:1/ws"}, auth.StaticToken("u1"))
	assert.ErrorIs(t, tr.Send(context.Background(), &conn.Frame{Event: "x"}), conn.ErrNotConnected)
}

func TestCloseStopsReconnecting(t *testing.T) {
	srv, conns := ackServer(t, 1000)
	m := conn.NewManager(NewTransport(testConfig(wsURL(srv)), auth.StaticToken("u1")))
	m.Connect()
	require.Eventually(t, func() bool { return atomic.LoadInt32(conns) >= 2 }, 2*time.Second, 5*time.Millisecond)

	m.Close()
	n := atomic.LoadInt32(conns)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, atomic.LoadInt32(conns))
	assert.Equal(t, conn.Disconnected, m.State().Status)
}
