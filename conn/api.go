// Package conn supervises the one persistent connection of a session to the
// messaging server. It knows nothing about rooms or messages.
package conn

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

var (
	// ErrNotConnected is returned by operations attempted while no
	// connection is up, and by acks still pending when it drops.
	ErrNotConnected = errors.New("conn: not connected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("conn: manager closed")
)

type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// State is the observable connection state. Err holds the last transport
// error and is cleared once connected.
type State struct {
	Status Status
	Err    string
}

// AckEvent is the event name of acknowledgement frames.
const AckEvent = "ack"

// Frame is the unit exchanged with the messaging server.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   string          `json:"ack,omitempty"`
	Error string          `json:"error,omitempty"`
}

// IListener receives transport lifecycle and inbound frames.
type IListener interface {
	OnStatus(status Status, err error)
	OnFrame(f *Frame)
}

//go:generate mockgen -destination=mock/mock_transport.go -package=mock github.com/mqy/classchat/conn ITransport

// ITransport is the persistent connection capability. Reconnecting is the
// transport's own policy.
type ITransport interface {
	// Run connects and keeps reconnecting until ctx is done, reporting to l.
	Run(ctx context.Context, l IListener)

	// Send writes one frame. It fails with ErrNotConnected when no
	// connection is up.
	Send(ctx context.Context, f *Frame) error
}

// Handler handles the data of one inbound event.
type Handler func(data json.RawMessage)

// AckError is a negative acknowledgement from the server.
type AckError struct {
	Event  string
	Reason string
}

func (e *AckError) Error() string {
	return "conn: " + e.Event + " rejected: " + e.Reason
}
