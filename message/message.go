// Package message defines the canonical chat message and the mapping from
// the inbound shapes (REST history entries, live pushes, send echoes) to it.
package message

import (
	"sort"
	"time"
)

type Kind string

const (
	KindText  Kind = "text"
	KindMedia Kind = "media"
)

// Sender identifies who posted a message.
type Sender struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

// Message is the canonical message. A zero CreatedAt means the inbound
// timestamp was missing or unparsable; such messages sort first. SenderRole
// is for display emphasis only, never for authorization.
type Message struct {
	ID            string    `json:"id"`
	RoomID        string    `json:"roomId,omitempty"`
	ScopeID       string    `json:"classId,omitempty"`
	Sender        *Sender   `json:"sender,omitempty"`
	SenderRole    string    `json:"senderRole,omitempty"`
	Kind          Kind      `json:"kind"`
	Text          string    `json:"text,omitempty"`
	AttachmentURL string    `json:"attachmentUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Compare orders messages by CreatedAt ascending. Messages without a valid
// timestamp sort before all others and compare equal among themselves.
func Compare(a, b Message) int {
	az, bz := a.CreatedAt.IsZero(), b.CreatedAt.IsZero()
	switch {
	case az && bz:
		return 0
	case az:
		return -1
	case bz:
		return 1
	case a.CreatedAt.Before(b.CreatedAt):
		return -1
	case a.CreatedAt.After(b.CreatedAt):
		return 1
	}
	return 0
}

// Sort sorts msgs in place with Compare, keeping the relative order of equal
// elements.
func Sort(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return Compare(msgs[i], msgs[j]) < 0
	})
}

// IsSorted reports whether msgs is ordered per Compare.
func IsSorted(msgs []Message) bool {
	for i := 1; i < len(msgs); i++ {
		if Compare(msgs[i-1], msgs[i]) > 0 {
			return false
		}
	}
	return true
}
