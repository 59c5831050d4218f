package message

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Epoch values at or above this are unix milliseconds, below it unix seconds.
const millisThreshold = 1e12

var null = []byte("null")

// FlexID decodes an identifier given as a string, a number, or an object
// carrying `id` / `_id`. Anything else decodes to "". It never fails.
type FlexID string

func (v *FlexID) UnmarshalJSON(data []byte) error {
	*v = FlexID(decodeID(data))
	return nil
}

func decodeID(data []byte) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, null) {
		return ""
	}
	switch data[0] {
	case '"':
		var s string
		if json.Unmarshal(data, &s) != nil {
			return ""
		}
		return strings.TrimSpace(s)
	case '{':
		var obj struct {
			ID    json.RawMessage `json:"id"`
			UID   json.RawMessage `json:"_id"`
			Inner json.RawMessage `json:"$oid"`
		}
		if json.Unmarshal(data, &obj) != nil {
			return ""
		}
		for _, raw := range []json.RawMessage{obj.ID, obj.UID, obj.Inner} {
			if s := decodeID(raw); s != "" {
				return s
			}
		}
		return ""
	case '[', 't', 'f':
		return ""
	}
	var n json.Number
	if json.Unmarshal(data, &n) != nil {
		return ""
	}
	return n.String()
}

// FlexString decodes strings and numbers; other JSON values decode to "".
type FlexString string

func (v *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*v = ""
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if json.Unmarshal(data, &s) == nil {
			*v = FlexString(s)
		}
	case '{', '[', 'n', 't', 'f':
	default:
		var n json.Number
		if json.Unmarshal(data, &n) == nil {
			*v = FlexString(n.String())
		}
	}
	return nil
}

// Stamp decodes a timestamp given as RFC 3339 text, a numeric string, or an
// epoch number. Anything unparsable decodes to the zero time.
type Stamp time.Time

var stampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func (v *Stamp) UnmarshalJSON(data []byte) error {
	*v = Stamp(parseStamp(bytes.TrimSpace(data)))
	return nil
}

func (v Stamp) Time() time.Time {
	return time.Time(v)
}

func parseStamp(data []byte) time.Time {
	if len(data) == 0 || bytes.Equal(data, null) {
		return time.Time{}
	}
	if data[0] == '"' {
		var s string
		if json.Unmarshal(data, &s) != nil {
			return time.Time{}
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return time.Time{}
		}
		for _, layout := range stampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f)
		}
		return time.Time{}
	}
	var f float64
	if json.Unmarshal(data, &f) != nil {
		return time.Time{}
	}
	return fromEpoch(f)
}

func fromEpoch(f float64) time.Time {
	// NaN fails both comparisons.
	if !(f >= 1 && f < math.MaxInt64) {
		return time.Time{}
	}
	if f >= millisThreshold {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// RawSender is a sender given either as an embedded object or a bare id.
type RawSender struct {
	ID          string
	DisplayName string
	Role        string
}

func (v *RawSender) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*v = RawSender{}
	if len(data) == 0 || data[0] != '{' {
		v.ID = decodeID(data)
		return nil
	}
	var obj struct {
		ID          FlexID     `json:"id"`
		UID         FlexID     `json:"_id"`
		UserID      FlexID     `json:"userId"`
		DisplayName FlexString `json:"displayName"`
		Name        FlexString `json:"name"`
		FullName    FlexString `json:"fullName"`
		Username    FlexString `json:"username"`
		Role        FlexString `json:"role"`
	}
	if json.Unmarshal(data, &obj) != nil {
		return nil
	}
	v.ID = first(string(obj.ID), string(obj.UID), string(obj.UserID))
	v.DisplayName = first(string(obj.DisplayName), string(obj.Name), string(obj.FullName), string(obj.Username))
	v.Role = string(obj.Role)
	return nil
}

// Raw is the union of all known inbound field spellings.
type Raw struct {
	ID        FlexID `json:"id"`
	UID       FlexID `json:"_id"`
	MessageID FlexID `json:"messageId"`

	RoomID     FlexID `json:"roomId"`
	ChatRoomID FlexID `json:"chatRoomId"`
	Room       FlexID `json:"room"`

	ClassID FlexID `json:"classId"`
	ScopeID FlexID `json:"scopeId"`
	Class   FlexID `json:"class"`

	Sender     *RawSender `json:"sender"`
	From       *RawSender `json:"from"`
	User       *RawSender `json:"user"`
	SenderID   FlexID     `json:"senderId"`
	SenderName FlexString `json:"senderName"`

	SenderRole FlexString `json:"senderRole"`
	Role       FlexString `json:"role"`
	SenderType FlexString `json:"senderType"`

	Kind        FlexString `json:"kind"`
	Type        FlexString `json:"type"`
	MessageType FlexString `json:"messageType"`

	Text    FlexString `json:"text"`
	Content FlexString `json:"content"`
	Body    FlexString `json:"body"`
	Msg     FlexString `json:"message"`
	Caption FlexString `json:"caption"`

	AttachmentURL FlexString `json:"attachmentUrl"`
	MediaURL      FlexString `json:"mediaUrl"`
	FileURL       FlexString `json:"fileUrl"`
	URL           FlexString `json:"url"`

	CreatedAt Stamp `json:"createdAt"`
	Timestamp Stamp `json:"timestamp"`
	SentAt    Stamp `json:"sentAt"`
	TS        Stamp `json:"ts"`
}

// Normalize decodes a JSON object and maps it with FromRaw.
func Normalize(data []byte) (Message, bool) {
	var r Raw
	if err := json.Unmarshal(data, &r); err != nil {
		return Message{}, false
	}
	return FromRaw(&r)
}

// FromRaw maps r to the canonical shape. It returns false when no id can be
// derived.
func FromRaw(r *Raw) (Message, bool) {
	id := first(string(r.ID), string(r.UID), string(r.MessageID))
	if id == "" {
		return Message{}, false
	}

	m := Message{
		ID:            id,
		RoomID:        first(string(r.RoomID), string(r.ChatRoomID), string(r.Room)),
		ScopeID:       first(string(r.ClassID), string(r.ScopeID), string(r.Class)),
		SenderRole:    first(string(r.SenderRole), string(r.Role), string(r.SenderType)),
		Text:          firstText(string(r.Text), string(r.Content), string(r.Msg), string(r.Body), string(r.Caption)),
		AttachmentURL: first(string(r.AttachmentURL), string(r.MediaURL), string(r.FileURL), string(r.URL)),
		CreatedAt:     firstTime(r.CreatedAt, r.Timestamp, r.SentAt, r.TS),
	}

	for _, s := range []*RawSender{r.Sender, r.From, r.User} {
		if s != nil && s.ID != "" {
			m.Sender = &Sender{ID: s.ID, DisplayName: s.DisplayName}
			if m.SenderRole == "" {
				m.SenderRole = s.Role
			}
			break
		}
	}
	if m.Sender == nil && r.SenderID != "" {
		m.Sender = &Sender{ID: string(r.SenderID)}
	}
	if m.Sender != nil && m.Sender.DisplayName == "" {
		m.Sender.DisplayName = strings.TrimSpace(string(r.SenderName))
	}

	m.Kind = kindOf(first(string(r.Kind), string(r.Type), string(r.MessageType)), m.AttachmentURL)
	return m, true
}

func kindOf(tag, attachment string) Kind {
	switch strings.ToLower(tag) {
	case "media", "image", "video", "audio", "file", "document":
		return KindMedia
	case "":
		if attachment != "" {
			return KindMedia
		}
	}
	return KindText
}

// DecodeEvent maps a live push payload. The payload is either the message
// itself or an envelope {"message": {...}, "classId": ...}; an envelope's
// scope fills the message's when missing.
func DecodeEvent(data []byte) (Message, bool) {
	var env struct {
		Message json.RawMessage `json:"message"`
		ClassID FlexID          `json:"classId"`
		ScopeID FlexID          `json:"scopeId"`
		RoomID  FlexID          `json:"roomId"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, false
	}
	inner := bytes.TrimSpace(env.Message)
	if len(inner) == 0 || inner[0] != '{' {
		return Normalize(data)
	}
	m, ok := Normalize(inner)
	if !ok {
		return Message{}, false
	}
	if m.ScopeID == "" {
		m.ScopeID = first(string(env.ClassID), string(env.ScopeID))
	}
	if m.RoomID == "" {
		m.RoomID = string(env.RoomID)
	}
	return m, true
}

func first(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// firstText is first without trimming the chosen value.
func firstText(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstTime(values ...Stamp) time.Time {
	for _, v := range values {
		if t := v.Time(); !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}
