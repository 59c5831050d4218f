// Package session wires the connection manager, room controller, timeline
// store and outbound pipeline of one authenticated user into the surface a
// UI consumes.
package session

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/classchat/auth"
	"github.com/mqy/classchat/config"
	"github.com/mqy/classchat/conn"
	"github.com/mqy/classchat/message"
	"github.com/mqy/classchat/outbound"
	"github.com/mqy/classchat/rest"
	"github.com/mqy/classchat/room"
	"github.com/mqy/classchat/timeline"
	"github.com/mqy/classchat/ws"
)

// IChatAPI is the REST capability a session needs. *rest.Client implements it.
type IChatAPI interface {
	room.IRoomAPI
	outbound.ISendAPI
}

type Session struct {
	conn     *conn.Manager
	store    *timeline.Store
	rooms    *room.Controller
	pipeline *outbound.Pipeline
}

// New creates a session over transport and api. Nothing is started until
// Start.
func New(transport conn.ITransport, api IChatAPI, ackTimeout time.Duration) *Session {
	m := conn.NewManager(transport)
	store := timeline.NewStore()
	rooms := room.NewController(api, m, store, ackTimeout)
	return &Session{
		conn:     m,
		store:    store,
		rooms:    rooms,
		pipeline: outbound.NewPipeline(api, rooms, store),
	}
}

// FromConfig creates a session talking to the servers named by c with the
// websocket transport and the REST client.
func FromConfig(c *config.Config, tokens auth.ITokenSource) *Session {
	if tokens == nil {
		tokens = auth.StaticToken(c.AuthToken)
	}
	transport := ws.NewTransport(ws.Config{
		URL:          c.SocketURL,
		WriteWait:    c.WriteWait,
		PingPeriod:   c.PingPeriod,
		PongWait:     c.PongWait,
		ReadLimit:    c.ReadLimit,
		ReconnectMin: c.ReconnectMin,
		ReconnectMax: c.ReconnectMax,
	}, tokens)
	return New(transport, rest.NewClient(c.APIBaseURL, tokens, c.HTTPTimeout), c.HTTPTimeout)
}

// Start connects. It is idempotent.
func (s *Session) Start() {
	s.conn.Connect()
}

// Close leaves the selected scope and closes the connection.
func (s *Session) Close() {
	s.rooms.Close()
	s.conn.Close()
	glog.Infof("session: closed")
}

func (s *Session) ConnectionState() conn.State {
	return s.conn.State()
}

func (s *Session) WatchConnection(fn func(conn.State)) (cancel func()) {
	return s.conn.WatchState(fn)
}

// Messages returns the timeline of the selected scope.
func (s *Session) Messages() []message.Message {
	return s.store.Messages()
}

// WatchMessages calls fn with every new timeline snapshot. fn must not call
// back into the session synchronously.
func (s *Session) WatchMessages(fn func(timeline.Snapshot)) (cancel func()) {
	return s.store.Watch(fn)
}

func (s *Session) Status() room.Status {
	return s.rooms.Status()
}

// WatchStatus calls fn on every status change. fn must not call back into
// the session synchronously.
func (s *Session) WatchStatus(fn func(room.Status)) (cancel func()) {
	return s.rooms.WatchStatus(fn)
}

// SelectScope switches to scope; the empty scope selects nothing.
func (s *Session) SelectScope(scope string) {
	s.rooms.SelectScope(scope)
}

// Reload retries the failed parts of loading the selected scope.
func (s *Session) Reload() {
	s.rooms.Reload()
}

// SendMessage posts d to the selected scope. It fails with
// *outbound.ValidationError, outbound.ErrNoScope or *outbound.SendError.
func (s *Session) SendMessage(ctx context.Context, d outbound.Draft) error {
	_, err := s.pipeline.Send(ctx, s.rooms.Status().Scope, d)
	return err
}
