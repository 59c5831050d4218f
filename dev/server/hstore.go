package server

import (
	"sync"
)

// memory handler store for local sessions and their class memberships.
type HandlerStore struct {
	sync.RWMutex
	handlers map[string]*Handler
	classes  map[string]map[string]*Handler // class id -> sid -> handler
}

func newHandlerStore() *HandlerStore {
	return &HandlerStore{
		handlers: make(map[string]*Handler),
		classes:  make(map[string]map[string]*Handler),
	}
}

func (hs *HandlerStore) get(sid string) *Handler {
	hs.RLock()
	h := hs.handlers[sid]
	hs.RUnlock()
	return h
}

func (hs *HandlerStore) del(sid string) bool {
	hs.Lock()
	defer hs.Unlock()
	h, ok := hs.handlers[sid]
	if !ok {
		return false
	}
	delete(hs.handlers, sid)
	for classID := range h.classes {
		hs.leaveLocked(classID, sid)
	}
	return true
}

func (hs *HandlerStore) add(handler *Handler) {
	hs.Lock()
	hs.handlers[handler.sid] = handler
	hs.Unlock()
}

// join adds the session to class. It returns false for unknown sessions.
func (hs *HandlerStore) join(classID string, handler *Handler) bool {
	hs.Lock()
	defer hs.Unlock()
	if _, ok := hs.handlers[handler.sid]; !ok {
		return false
	}
	members, ok := hs.classes[classID]
	if !ok {
		members = make(map[string]*Handler)
		hs.classes[classID] = members
	}
	members[handler.sid] = handler
	handler.classes[classID] = struct{}{}
	return true
}

func (hs *HandlerStore) leave(classID, sid string) {
	hs.Lock()
	hs.leaveLocked(classID, sid)
	hs.Unlock()
}

func (hs *HandlerStore) leaveLocked(classID, sid string) {
	members, ok := hs.classes[classID]
	if !ok {
		return
	}
	if h, ok := members[sid]; ok {
		delete(h.classes, classID)
		delete(members, sid)
	}
	if len(members) == 0 {
		delete(hs.classes, classID)
	}
}

func (hs *HandlerStore) members(classID string) []*Handler {
	hs.RLock()
	defer hs.RUnlock()
	out := make([]*Handler, 0, len(hs.classes[classID]))
	for _, h := range hs.classes[classID] {
		out = append(out, h)
	}
	return out
}

func (hs *HandlerStore) count() int {
	hs.RLock()
	defer hs.RUnlock()
	return len(hs.handlers)
}

func (hs *HandlerStore) close() {
	hs.RLock()
	handlers := make([]*Handler, 0, len(hs.handlers))
	for _, h := range hs.handlers {
		handlers = append(handlers, h)
	}
	hs.RUnlock()

	for _, h := range handlers {
		h.close(ServerStop)
	}
}
