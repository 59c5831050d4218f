package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func TestNormalizeHistoryEntry(t *testing.T) {
	data := []byte(`{
		"_id": "m1",
		"chatRoomId": "r1",
		"classId": 42,
		"sender": {"_id": "u7", "fullName": "Ms. Amani", "role": "teacher"},
		"type": "text",
		"content": "Homework is due Friday",
		"createdAt": "2021-03-04T05:06:07Z"
	}`)

	m, ok := Normalize(data)
	require.True(t, ok)
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "r1", m.RoomID)
	assert.Equal(t, "42", m.ScopeID)
	assert.Equal(t, &Sender{ID: "u7", DisplayName: "Ms. Amani"}, m.Sender)
	assert.Equal(t, "teacher", m.SenderRole)
	assert.Equal(t, KindText, m.Kind)
	assert.Equal(t, "Homework is due Friday", m.Text)
	assert.Equal(t, time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC), m.CreatedAt)
}

func TestNormalizeLivePush(t *testing.T) {
	data := []byte(`{
		"id": 9,
		"room": {"_id": "r1"},
		"senderId": "u8",
		"senderName": "Jo",
		"senderRole": "student",
		"mediaUrl": "https://cdn.example/a.png",
		"caption": "look",
		"timestamp": 1614834367000
	}`)

	m, ok := Normalize(data)
	require.True(t, ok)
	assert.Equal(t, "9", m.ID)
	assert.Equal(t, "r1", m.RoomID)
	assert.Equal(t, &Sender{ID: "u8", DisplayName: "Jo"}, m.Sender)
	assert.Equal(t, KindMedia, m.Kind)
	assert.Equal(t, "look", m.Text)
	assert.Equal(t, "https://cdn.example/a.png", m.AttachmentURL)
	assert.Equal(t, time.UnixMilli(1614834367000).UTC(), m.CreatedAt)
}

func TestNormalizeSenderShapes(t *testing.T) {
	embedded, ok := Normalize([]byte(`{"id":"a","sender":{"id":"u1","name":"Ana"}}`))
	require.True(t, ok)
	bare, ok := Normalize([]byte(`{"id":"b","sender":"u1"}`))
	require.True(t, ok)
	number, ok := Normalize([]byte(`{"id":"c","from":1}`))
	require.True(t, ok)

	assert.Equal(t, &Sender{ID: "u1", DisplayName: "Ana"}, embedded.Sender)
	assert.Equal(t, &Sender{ID: "u1"}, bare.Sender)
	assert.Equal(t, &Sender{ID: "1"}, number.Sender)

	none, ok := Normalize([]byte(`{"id":"d","sender":null}`))
	require.True(t, ok)
	assert.Nil(t, none.Sender)
}

func TestNormalizeRejects(t *testing.T) {
	for _, data := range []string{
		`{}`,
		`{"text":"no id"}`,
		`{"id":""}`,
		`{"id":null}`,
		`{"id":{"name":"x"}}`,
		`[1,2]`,
		`not json`,
	} {
		_, ok := Normalize([]byte(data))
		assert.False(t, ok, data)
	}
}

func TestNormalizeTimestamps(t *testing.T) {
	cases := map[string]time.Time{
		`{"id":"a","createdAt":"2021-01-02T03:04:05.123Z"}`:   time.Date(2021, 1, 2, 3, 4, 5, 123e6, time.UTC),
		`{"id":"a","createdAt":"2021-01-02 03:04:05"}`:        time.Date(2021, 1, 2, 3, 4, 5, 0, time.UTC),
		`{"id":"a","ts":20}`:                                  at(20),
		`{"id":"a","sentAt":"1614834367"}`:                    at(1614834367),
		`{"id":"a","timestamp":1614834367000}`:                time.UnixMilli(1614834367000).UTC(),
		`{"id":"a","createdAt":"yesterday"}`:                  {},
		`{"id":"a","createdAt":{"$date":1}}`:                  {},
		`{"id":"a","createdAt":-5}`:                           {},
		`{"id":"a"}`:                                          {},
		`{"id":"a","createdAt":0.5}`:                          {},
		`{"id":"a","createdAt":1e19}`:                         {},
		`{"id":"a","createdAt":1e300}`:                        {},
		`{"id":"a","createdAt":"9.3e18"}`:                     {},
		`{"id":"a","createdAt":"bad","timestamp":1614834367}`: at(1614834367),
	}
	for data, want := range cases {
		m, ok := Normalize([]byte(data))
		require.True(t, ok, data)
		assert.Equal(t, want, m.CreatedAt, data)
	}
}

func TestNormalizeKind(t *testing.T) {
	cases := map[string]Kind{
		`{"id":"a","text":"x"}`:                      KindText,
		`{"id":"a","url":"https://x"}`:               KindMedia,
		`{"id":"a","type":"image","url":"https://x"}`: KindMedia,
		`{"id":"a","messageType":"FILE"}`:            KindMedia,
		`{"id":"a","kind":"text","url":"https://x"}`: KindText,
		`{"id":"a","kind":"sticker"}`:                KindText,
	}
	for data, want := range cases {
		m, ok := Normalize([]byte(data))
		require.True(t, ok, data)
		assert.Equal(t, want, m.Kind, data)
	}
}

func TestNormalizeCanonicalRoundTrip(t *testing.T) {
	m, ok := Normalize([]byte(`{"id":"a","roomId":"r","classId":"c","sender":{"id":"u","displayName":"U"},"senderRole":"principal","kind":"media","text":"t","attachmentUrl":"https://x","createdAt":"2021-01-01T00:00:00Z"}`))
	require.True(t, ok)
	assert.Equal(t, Message{
		ID:            "a",
		RoomID:        "r",
		ScopeID:       "c",
		Sender:        &Sender{ID: "u", DisplayName: "U"},
		SenderRole:    "principal",
		Kind:          KindMedia,
		Text:          "t",
		AttachmentURL: "https://x",
		CreatedAt:     time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
	}, m)
}

func TestDecodeEvent(t *testing.T) {
	m, ok := DecodeEvent([]byte(`{"classId":"c1","roomId":"r1","message":{"id":"m1","text":"hi"}}`))
	require.True(t, ok)
	assert.Equal(t, "c1", m.ScopeID)
	assert.Equal(t, "r1", m.RoomID)
	assert.Equal(t, "hi", m.Text)

	m, ok = DecodeEvent([]byte(`{"classId":"c1","message":{"id":"m1","classId":"c2"}}`))
	require.True(t, ok)
	assert.Equal(t, "c2", m.ScopeID)

	// flat payload whose `message` field is the text itself
	m, ok = DecodeEvent([]byte(`{"id":"m2","classId":"c1","message":"plain"}`))
	require.True(t, ok)
	assert.Equal(t, "plain", m.Text)
	assert.Equal(t, "c1", m.ScopeID)

	_, ok = DecodeEvent([]byte(`{"message":{"text":"no id"}}`))
	assert.False(t, ok)
}

func TestCompare(t *testing.T) {
	none := Message{ID: "n"}
	early := Message{ID: "e", CreatedAt: at(10)}
	late := Message{ID: "l", CreatedAt: at(20)}

	assert.Equal(t, 0, Compare(none, Message{ID: "n2"}))
	assert.Equal(t, -1, Compare(none, early))
	assert.Equal(t, 1, Compare(early, none))
	assert.Equal(t, -1, Compare(early, late))
	assert.Equal(t, 1, Compare(late, early))
	assert.Equal(t, 0, Compare(early, Message{ID: "e2", CreatedAt: at(10)}))
}

func TestSortStable(t *testing.T) {
	msgs := []Message{
		{ID: "c", CreatedAt: at(30)},
		{ID: "x1"},
		{ID: "a", CreatedAt: at(10)},
		{ID: "b1", CreatedAt: at(20)},
		{ID: "x2"},
		{ID: "b2", CreatedAt: at(20)},
	}
	Sort(msgs)

	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"x1", "x2", "a", "b1", "b2", "c"}, ids)
	assert.True(t, IsSorted(msgs))
}
