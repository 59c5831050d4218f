// Package ws is the websocket transport of the connection manager.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/mqy/classchat/auth"
	"github.com/mqy/classchat/conn"
	"github.com/mqy/classchat/metrics"
)

const (
	// Time allowed to write a message to the peer.
	DefaultWriteWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	DefaultPingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	DefaultPongWait = 25 * time.Second

	// websocket max message size to read.
	DefaultReadLimit = 64 << 10
)

type Config struct {
	URL          string
	WriteWait    time.Duration
	PingPeriod   time.Duration
	PongWait     time.Duration
	ReadLimit    int64
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

func (c *Config) setDefaults() {
	if c.WriteWait <= 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = DefaultPingPeriod
	}
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = DefaultReadLimit
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = BackoffMinInterval
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = BackoffMaxInterval
	}
}

// Transport implements conn.ITransport over one websocket at a time,
// redialing with backoff until its Run context is done.
type Transport struct {
	conf   Config
	tokens auth.ITokenSource
	dialer *websocket.Dialer

	mu    sync.Mutex
	sendC chan *conn.Frame // nil while disconnected
	done  chan struct{}
}

func NewTransport(conf Config, tokens auth.ITokenSource) *Transport {
	conf.setDefaults()
	return &Transport{
		conf:   conf,
		tokens: tokens,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
	}
}

// Run implements conn.ITransport.
func (t *Transport) Run(ctx context.Context, l conn.IListener) {
	defer glog.V(5).Infof("ws: Run() exited, url: %s", t.conf.URL)

	var sleep time.Duration
	for {
		l.OnStatus(conn.Connecting, nil)
		c, err := t.dial(ctx)
		if err == nil {
			metrics.DialAttempts.WithLabelValues("ok").Inc()
			sleep = 0
			err = t.serve(ctx, c, l)
		} else {
			metrics.DialAttempts.WithLabelValues("error").Inc()
		}
		if ctx.Err() != nil {
			return
		}
		l.OnStatus(conn.Disconnected, err)

		backoff(&sleep, t.conf.ReconnectMin, t.conf.ReconnectMax)
		glog.V(5).Infof("ws: reconnect in %s", sleep)
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return
		}
	}
}

// Send implements conn.ITransport.
func (t *Transport) Send(ctx context.Context, f *conn.Frame) error {
	t.mu.Lock()
	sendC, done := t.sendC, t.done
	t.mu.Unlock()
	if sendC == nil {
		return conn.ErrNotConnected
	}

	select {
	case sendC <- f:
		return nil
	case <-done:
		return conn.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if err := auth.SetHeader(header, t.tokens); err != nil {
		return nil, err
	}

	c, resp, err := t.dialer.DialContext(ctx, t.conf.URL, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "ws: dial %s: %s", t.conf.URL, resp.Status)
		}
		return nil, errors.Wrapf(err, "ws: dial %s", t.conf.URL)
	}
	return c, nil
}

// serve runs the recv and send loops of c until either fails or ctx is
// done, and returns the first error.
func (t *Transport) serve(ctx context.Context, c *websocket.Conn, l conn.IListener) error {
	sendC := make(chan *conn.Frame, 16)
	done := make(chan struct{})
	t.mu.Lock()
	t.sendC, t.done = sendC, done
	t.mu.Unlock()

	glog.Infof("ws: connected to %s", t.conf.URL)
	l.OnStatus(conn.Connected, nil)

	errC := make(chan error, 2)
	go func() { errC <- t.recvLoop(c, l) }()
	go func() { errC <- t.sendLoop(ctx, c, sendC, done) }()

	err := <-errC

	t.mu.Lock()
	t.sendC, t.done = nil, nil
	t.mu.Unlock()
	close(done)
	c.Close()
	<-errC

	return err
}

func (t *Transport) recvLoop(c *websocket.Conn, l conn.IListener) error {
	defer glog.V(5).Infof("ws: recvLoop() exited")

	c.SetReadLimit(t.conf.ReadLimit)
	c.SetReadDeadline(time.Now().Add(t.conf.PongWait))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(t.conf.PongWait))
		return nil
	})

	for {
		msgType, msg, err := c.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "ws: read")
		}
		c.SetReadDeadline(time.Now().Add(t.conf.PongWait))

		if msgType != websocket.TextMessage {
			glog.Warningf("ws: recvLoop(): unexpected message type: %d", msgType)
			continue
		}
		glog.V(5).Infof("ws: recvLoop(): incoming frame: %s", msg)

		f := &conn.Frame{}
		if err := json.Unmarshal(msg, f); err != nil {
			glog.Errorf("ws: recvLoop(): bad frame: %s, err: %v", msg, err)
			continue
		}
		l.OnFrame(f)
	}
}

func (t *Transport) sendLoop(ctx context.Context, c *websocket.Conn, sendC <-chan *conn.Frame, done <-chan struct{}) error {
	pingTicker := time.NewTicker(t.conf.PingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("ws: sendLoop() exited")
	}()

	for {
		select {
		case <-ctx.Done():
			c.SetWriteDeadline(time.Now().Add(t.conf.WriteWait))
			_ = c.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case <-done:
			return nil
		case f := <-sendC:
			out, err := json.Marshal(f)
			if err != nil {
				glog.Errorf("ws: sendLoop(): marshal frame `%s`: %v", f.Event, err)
				continue
			}
			c.SetWriteDeadline(time.Now().Add(t.conf.WriteWait))
			if err := c.WriteMessage(websocket.TextMessage, out); err != nil {
				return errors.Wrap(err, "ws: write")
			}
		case <-pingTicker.C:
			c.SetWriteDeadline(time.Now().Add(t.conf.WriteWait))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return errors.Wrap(err, "ws: ping")
			}
		}
	}
}
