// Package timeline keeps the ordered, deduplicated message list of the
// active scope.
package timeline

import (
	"sort"
	"sync"

	"github.com/golang/glog"

	"github.com/mqy/classchat/message"
	"github.com/mqy/classchat/metrics"
	"github.com/mqy/classchat/watch"
)

// Snapshot is an immutable view of the timeline published to watchers.
type Snapshot struct {
	Version  uint64
	Scope    string
	Messages []message.Message
}

// Store holds the timeline of exactly one scope at a time. Every mutation
// names the scope it was computed for; mutations for any other scope are
// dropped, so two scopes' messages are never mixed.
type Store struct {
	sync.Mutex

	scope string
	msgs  []message.Message
	ids   map[string]struct{}
	ver   uint64

	// pubMu orders publication; snapshots older than the last published
	// one are skipped.
	pubMu     sync.Mutex
	pubVer    uint64
	published *watch.Value[Snapshot]
}

func NewStore() *Store {
	return &Store{
		ids:       make(map[string]struct{}),
		published: watch.NewValue(Snapshot{}),
	}
}

// Reset hands the store to scope with an empty timeline.
func (s *Store) Reset(scope string) {
	s.Lock()
	s.scope = scope
	s.msgs = nil
	s.ids = make(map[string]struct{})
	s.unlockAndPublish()
}

// Seed replaces the timeline of scope wholesale. Messages without an id are
// dropped and duplicate ids keep their first occurrence. It returns false
// if scope is not the owner.
func (s *Store) Seed(scope string, msgs []message.Message) bool {
	s.Lock()
	if scope != s.scope {
		s.Unlock()
		glog.V(5).Infof("timeline: drop seed for scope `%s`, owner is `%s`", scope, s.scope)
		return false
	}

	ids := make(map[string]struct{}, len(msgs))
	out := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		if _, ok := ids[m.ID]; ok {
			metrics.DuplicateMessages.Inc()
			continue
		}
		ids[m.ID] = struct{}{}
		out = append(out, m)
	}
	message.Sort(out)

	s.msgs = out
	s.ids = ids
	s.unlockAndPublish()
	return true
}

// Merge inserts m into the timeline of scope. It is a no-op, returning
// false, when m has no id, the id is already present, or scope is not the
// owner. The message lands after all messages that do not sort after it.
func (s *Store) Merge(scope string, m message.Message) bool {
	s.Lock()
	if scope != s.scope || m.ID == "" {
		s.Unlock()
		return false
	}
	if _, ok := s.ids[m.ID]; ok {
		s.Unlock()
		metrics.DuplicateMessages.Inc()
		glog.V(5).Infof("timeline: duplicate message `%s` in scope `%s`", m.ID, scope)
		return false
	}

	i := sort.Search(len(s.msgs), func(i int) bool {
		return message.Compare(s.msgs[i], m) > 0
	})
	s.msgs = append(s.msgs, message.Message{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = m
	s.ids[m.ID] = struct{}{}
	metrics.MergedMessages.Inc()
	s.unlockAndPublish()
	return true
}

func (s *Store) Scope() string {
	s.Lock()
	defer s.Unlock()
	return s.scope
}

func (s *Store) Len() int {
	s.Lock()
	defer s.Unlock()
	return len(s.msgs)
}

// Messages returns a copy of the current timeline.
func (s *Store) Messages() []message.Message {
	s.Lock()
	defer s.Unlock()
	return s.snapshotLocked().Messages
}

// Has reports whether a message with id is in the timeline.
func (s *Store) Has(id string) bool {
	s.Lock()
	defer s.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Watch calls fn with a snapshot after every change, until cancel is called.
// fn must not mutate the store.
func (s *Store) Watch(fn func(Snapshot)) (cancel func()) {
	return s.published.Watch(fn)
}

func (s *Store) unlockAndPublish() {
	s.ver++
	snap := s.snapshotLocked()
	s.Unlock()

	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if snap.Version <= s.pubVer {
		return
	}
	s.pubVer = snap.Version
	s.published.Set(snap)
}

func (s *Store) snapshotLocked() Snapshot {
	out := make([]message.Message, len(s.msgs))
	copy(out, s.msgs)
	return Snapshot{Version: s.ver, Scope: s.scope, Messages: out}
}
