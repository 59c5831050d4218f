package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotFound     = errors.New("store: not found")
	ErrRoomMismatch = errors.New("store: room does not belong to class")
)

// Room is the message thread of one class. It is created by the first
// message posted to the class.
type Room struct {
	ID        string    `json:"_id"`
	ClassID   string    `json:"classId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is a stored chat message, in the shape served to clients.
type Message struct {
	ID         string    `json:"_id"`
	RoomID     string    `json:"roomId"`
	ClassID    string    `json:"classId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName,omitempty"`
	SenderRole string    `json:"senderRole,omitempty"`
	Type       string    `json:"type"`
	Text       string    `json:"text,omitempty"`
	MediaURL   string    `json:"mediaUrl,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewMessage is a message to post. An empty RoomID means the room of
// ClassID, created if needed.
type NewMessage struct {
	ClassID    string
	RoomID     string
	SenderID   string
	SenderName string
	SenderRole string
	Type       string
	Text       string
	MediaURL   string
}

// File is an uploaded attachment.
type File struct {
	ContentType string `json:"contentType"`
	Name        string `json:"name"`
	Data        []byte `json:"data"`
}

type IChatStore interface {
	// GetRoom gets the room of class, or ErrNotFound.
	GetRoom(ctx context.Context, classID string) (*Room, error)

	// Save appends m to the room of its class, creating the room first.
	// It returns the stored message and whether the room was created.
	Save(ctx context.Context, m *NewMessage) (*Message, bool, error)

	// Messages gets the latest `limit` messages of class, oldest first.
	// A non-positive limit returns all of them.
	Messages(ctx context.Context, classID string, limit int) ([]*Message, error)

	// SaveFile stores f and returns its id.
	SaveFile(ctx context.Context, f *File) (string, error)

	// GetFile gets a file by id, or ErrNotFound.
	GetFile(ctx context.Context, id string) (*File, error)

	Close() error
}
