package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

var (
	roomsBucket    = []byte("rooms")    // class id -> Room
	messagesBucket = []byte("messages") // class id -> (message id -> Message)
	filesBucket    = []byte("files")    // file id -> File
)

// boltStore implements interface `IChatStore`. Message ids are ULIDs, so
// the key order of a class bucket is the posting order.
type boltStore struct {
	*bbolt.DB
}

// OpenBoltStore opens or creates the database file at path.
func OpenBoltStore(path string) (*boltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "store: open %s", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{roomsBucket, messagesBucket, filesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "store: create buckets")
	}
	return &boltStore{db}, nil
}

func (s *boltStore) GetRoom(ctx context.Context, classID string) (*Room, error) {
	var out *Room
	err := s.View(func(tx *bbolt.Tx) error {
		r, err := getRoom(tx, classID)
		out = r
		return err
	})
	return out, err
}

func getRoom(tx *bbolt.Tx, classID string) (*Room, error) {
	v := tx.Bucket(roomsBucket).Get([]byte(classID))
	if v == nil {
		return nil, ErrNotFound
	}
	r := &Room{}
	if err := json.Unmarshal(v, r); err != nil {
		return nil, errors.Wrapf(err, "store: decode room of %s", classID)
	}
	return r, nil
}

func (s *boltStore) Save(ctx context.Context, nm *NewMessage) (*Message, bool, error) {
	var (
		out     *Message
		created bool
	)
	err := s.Update(func(tx *bbolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := time.Now().UTC()

		r, err := getRoom(tx, nm.ClassID)
		switch {
		case err == ErrNotFound:
			r = &Room{ID: ulid.Make().String(), ClassID: nm.ClassID, CreatedAt: now}
			if err := putJSON(tx.Bucket(roomsBucket), []byte(nm.ClassID), r); err != nil {
				return err
			}
			created = true
			glog.V(5).Infof("store: created room `%s` of class `%s`", r.ID, nm.ClassID)
		case err != nil:
			return err
		}
		if nm.RoomID != "" && nm.RoomID != r.ID {
			return ErrRoomMismatch
		}

		b, err := tx.Bucket(messagesBucket).CreateBucketIfNotExists([]byte(nm.ClassID))
		if err != nil {
			return err
		}
		m := &Message{
			ID:         ulid.Make().String(),
			RoomID:     r.ID,
			ClassID:    nm.ClassID,
			SenderID:   nm.SenderID,
			SenderName: nm.SenderName,
			SenderRole: nm.SenderRole,
			Type:       nm.Type,
			Text:       nm.Text,
			MediaURL:   nm.MediaURL,
			CreatedAt:  now,
		}
		if err := putJSON(b, []byte(m.ID), m); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (s *boltStore) Messages(ctx context.Context, classID string, limit int) ([]*Message, error) {
	var out []*Message
	err := s.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(messagesBucket).Bucket([]byte(classID))
		if b == nil {
			return nil
		}

		// Walk backwards from the newest, then reverse.
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			m := &Message{}
			if err := json.Unmarshal(v, m); err != nil {
				return errors.Wrapf(err, "store: decode message %s", k)
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *boltStore) SaveFile(ctx context.Context, f *File) (string, error) {
	id := ulid.Make().String()
	err := s.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(filesBucket), []byte(id), f)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *boltStore) GetFile(ctx context.Context, id string) (*File, error) {
	f := &File{}
	err := s.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(filesBucket).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, f)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func putJSON(b *bbolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}
