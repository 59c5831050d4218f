// Package room keeps one class conversation live: it resolves the room
// handle, loads history into the timeline and holds the live channel
// membership for the selected scope.
package room

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/mqy/classchat/conn"
)

// ErrRoomNotFound is returned by ResolveRoom when the class has no room yet.
// Rooms are created lazily by the first send, so this is not a failure.
var ErrRoomNotFound = errors.New("room: not found")

// Socket events.
const (
	EventJoin       = "joinClass"
	EventLeave      = "leaveClass"
	EventNewMessage = "newMessage"
)

// Handle identifies the server-side thread of a class conversation.
type Handle struct {
	ScopeID string
	RoomID  string
}

//go:generate mockgen -destination=mock/mock_api.go -package=mock github.com/mqy/classchat/room IRoomAPI

// IRoomAPI is the REST surface the controller reads from.
type IRoomAPI interface {
	History(ctx context.Context, scope string) ([]json.RawMessage, error)

	// ResolveRoom looks up the room of scope, failing with ErrRoomNotFound
	// when it has not been created yet.
	ResolveRoom(ctx context.Context, scope string) (Handle, error)
}

// IConn is the part of the connection manager the controller uses.
// *conn.Manager implements it.
type IConn interface {
	State() conn.State
	WatchState(fn func(conn.State)) (cancel func())
	Subscribe(event string, h conn.Handler) (unsubscribe func())
	Emit(ctx context.Context, event string, payload interface{}) error
	EmitAck(ctx context.Context, event string, payload interface{}) (json.RawMessage, error)
}

type Phase int

const (
	Idle Phase = iota
	Loading
	Live
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Live:
		return "live"
	}
	return "unknown"
}

// Status is the observable state of the selected conversation.
type Status struct {
	Scope  string
	Phase  Phase
	RoomID string
	Joined bool

	// Recoverable failures; Reload retries both.
	HistoryErr error
	JoinErr    error
}

type classPayload struct {
	ClassID string `json:"classId"`
}
