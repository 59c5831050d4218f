// Package outbound sends composed messages through the cached room of the
// selected scope and merges the server echo into the timeline.
package outbound

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/mqy/classchat/message"
	"github.com/mqy/classchat/metrics"
	"github.com/mqy/classchat/room"
	"github.com/mqy/classchat/timeline"
)

var (
	// ErrSendFailed matches every error of a send that reached the network.
	ErrSendFailed = errors.New("outbound: send failed")

	ErrNoScope = errors.New("outbound: no scope selected")
)

// SendError wraps the cause of a failed send.
type SendError struct {
	Scope string
	Err   error
}

func (e *SendError) Error() string {
	return "outbound: send to " + e.Scope + " failed: " + e.Err.Error()
}

func (e *SendError) Unwrap() error {
	return e.Err
}

func (e *SendError) Is(target error) bool {
	return target == ErrSendFailed
}

// SendRequest is one message to post. An empty RoomID asks the server to
// get or create the room of ScopeID.
type SendRequest struct {
	ScopeID    string
	RoomID     string
	Text       string
	Attachment *Attachment
}

// SendResponse carries the stored message and the room it went to.
type SendResponse struct {
	Message json.RawMessage
	RoomID  string
}

//go:generate mockgen -destination=mock/mock_api.go -package=mock github.com/mqy/classchat/outbound ISendAPI

type ISendAPI interface {
	SendMessage(ctx context.Context, req *SendRequest) (*SendResponse, error)
}

// IRoomCache is the room cache of the selected scope. *room.Controller
// implements it.
type IRoomCache interface {
	Room(scope string) (room.Handle, bool)
	CacheRoom(scope, roomID string) bool
}

// Pipeline sends one message at a time, so a scope without a room gets it
// created by the first send and reused by the next.
type Pipeline struct {
	api   ISendAPI
	rooms IRoomCache
	store *timeline.Store
	sem   chan struct{}
}

func NewPipeline(api ISendAPI, rooms IRoomCache, store *timeline.Store) *Pipeline {
	return &Pipeline{
		api:   api,
		rooms: rooms,
		store: store,
		sem:   make(chan struct{}, 1),
	}
}

// Send validates d, posts it to scope and merges the echo. Nothing is added
// to the timeline unless the server accepted the message.
func (p *Pipeline) Send(ctx context.Context, scope string, d Draft) (message.Message, error) {
	if scope == "" {
		return message.Message{}, ErrNoScope
	}
	if err := Validate(d); err != nil {
		metrics.Sends.WithLabelValues("invalid").Inc()
		return message.Message{}, err
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return message.Message{}, ctx.Err()
	}
	defer func() { <-p.sem }()

	req := &SendRequest{ScopeID: scope, Text: d.Text, Attachment: d.Attachment}
	if h, ok := p.rooms.Room(scope); ok {
		req.RoomID = h.RoomID
	}

	start := time.Now()
	resp, err := p.api.SendMessage(ctx, req)
	metrics.SendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Sends.WithLabelValues("error").Inc()
		glog.Errorf("outbound: send to `%s` room `%s`: %v", scope, req.RoomID, err)
		return message.Message{}, &SendError{Scope: scope, Err: err}
	}

	m, ok := message.Normalize(resp.Message)
	roomID := resp.RoomID
	if roomID == "" {
		roomID = m.RoomID
	}
	if roomID != "" {
		p.rooms.CacheRoom(scope, roomID)
	}
	if !ok {
		metrics.Sends.WithLabelValues("error").Inc()
		return message.Message{}, &SendError{Scope: scope, Err: errors.New("echo without message id")}
	}

	if m.RoomID == "" {
		m.RoomID = roomID
	}
	if m.ScopeID == "" {
		m.ScopeID = scope
	}
	p.store.Merge(scope, m)
	metrics.Sends.WithLabelValues("ok").Inc()
	glog.V(5).Infof("outbound: sent `%s` to `%s` room `%s`", m.ID, scope, m.RoomID)
	return m, nil
}
