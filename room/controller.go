package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/mqy/classchat/conn"
	"github.com/mqy/classchat/message"
	"github.com/mqy/classchat/metrics"
	"github.com/mqy/classchat/timeline"
	"github.com/mqy/classchat/watch"
)

const DefaultAckTimeout = 10 * time.Second

// Controller keeps the timeline of the selected scope live.
//
// Every scope selection bumps a generation counter. Async completions carry
// the generation they started under and are dropped once it is stale.
//
// Store and status watchers run with the controller locked; they must not
// call SelectScope, Reload, CacheRoom or Close synchronously.
type Controller struct {
	sync.Mutex

	api        IRoomAPI
	conn       IConn
	store      *timeline.Store
	ackTimeout time.Duration

	// life is cancelled by Close, ctx on every scope change.
	life   context.Context
	stop   context.CancelFunc
	ctx    context.Context
	cancel context.CancelFunc

	gen       uint64
	load      uint64
	disposers []func()
	joining   bool
	rejoin    bool
	closed    bool

	// scope -> closed once its in-flight leave is sent
	leaving map[string]chan struct{}

	st     Status
	status *watch.Value[Status]
}

func NewController(api IRoomAPI, c IConn, store *timeline.Store, ackTimeout time.Duration) *Controller {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	life, stop := context.WithCancel(context.Background())
	return &Controller{
		api:        api,
		conn:       c,
		store:      store,
		ackTimeout: ackTimeout,
		life:       life,
		stop:       stop,
		status:     watch.NewValue(Status{}),
		leaving:    make(map[string]chan struct{}),
	}
}

// SelectScope switches the live conversation to scope. The previous scope's
// in-flight work is abandoned and its channel left. The empty scope selects
// nothing. SelectScope never blocks on the network.
func (c *Controller) SelectScope(scope string) {
	c.Lock()
	if c.closed {
		c.Unlock()
		return
	}
	metrics.ScopeChanges.Inc()

	leave := c.endScopeLocked()
	c.gen++
	gen := c.gen
	c.st = Status{Scope: scope}
	c.store.Reset(scope)

	if scope != "" {
		c.st.Phase = Loading
		c.ctx, c.cancel = context.WithCancel(c.life)
		c.disposers = append(c.disposers,
			c.conn.Subscribe(EventNewMessage, func(data json.RawMessage) {
				c.onEvent(gen, data)
			}),
			c.conn.WatchState(func(s conn.State) {
				c.onConnState(gen, s)
			}),
		)
		c.startLocked(gen)
	}
	// Reselecting a joined scope keeps its membership.
	if leave != "" && leave != scope {
		c.leaveAsyncLocked(leave)
	}
	c.publishLocked()
	c.Unlock()

	glog.Infof("room: scope `%s` selected", scope)
}

// Reload retries history, room resolution and joining for the current scope.
func (c *Controller) Reload() {
	c.Lock()
	defer c.Unlock()
	if c.closed || c.st.Scope == "" {
		return
	}
	c.st.Phase = Loading
	c.st.HistoryErr = nil
	c.st.JoinErr = nil
	c.startLocked(c.gen)
	c.publishLocked()
}

// Room returns the cached handle of scope, if scope is selected and its
// room is known.
func (c *Controller) Room(scope string) (Handle, bool) {
	st := c.status.Get()
	if scope == "" || st.Scope != scope || st.RoomID == "" {
		return Handle{}, false
	}
	return Handle{ScopeID: scope, RoomID: st.RoomID}, true
}

// CacheRoom records the room id a send reported for scope. It overrides a
// resolved handle and returns false if scope is no longer selected.
func (c *Controller) CacheRoom(scope, roomID string) bool {
	c.Lock()
	defer c.Unlock()
	if c.closed || scope == "" || scope != c.st.Scope || roomID == "" {
		return false
	}
	if c.st.RoomID != roomID {
		glog.V(5).Infof("room: class `%s` uses room `%s`", scope, roomID)
		c.st.RoomID = roomID
		c.publishLocked()
	}
	return true
}

func (c *Controller) Status() Status {
	return c.status.Get()
}

func (c *Controller) WatchStatus(fn func(Status)) (cancel func()) {
	return c.status.Watch(fn)
}

// Close abandons the current scope and leaves its channel. It is idempotent.
func (c *Controller) Close() {
	c.Lock()
	if c.closed {
		c.Unlock()
		return
	}
	c.closed = true
	leave := c.endScopeLocked()
	c.gen++
	c.st = Status{}
	c.publishLocked()
	c.Unlock()

	c.stop()
	if leave != "" {
		c.leave(leave)
	}
}

// endScopeLocked disposes everything tied to the current scope and returns
// the scope to leave, if it was joined.
func (c *Controller) endScopeLocked() string {
	if c.cancel != nil {
		c.cancel()
		c.ctx, c.cancel = nil, nil
	}
	for _, dispose := range c.disposers {
		dispose()
	}
	c.disposers = nil
	c.joining, c.rejoin = false, false
	if c.st.Joined {
		return c.st.Scope
	}
	return ""
}

func (c *Controller) startLocked(gen uint64) {
	c.load++
	ctx, scope, load := c.ctx, c.st.Scope, c.load

	go c.loadHistory(ctx, gen, load, scope)
	if c.st.RoomID == "" {
		go c.resolve(ctx, gen, scope)
	}
	if !c.st.Joined && c.conn.State().Status == conn.Connected {
		go c.join(gen)
	}
}

func (c *Controller) loadHistory(ctx context.Context, gen, load uint64, scope string) {
	raws, err := c.api.History(ctx, scope)

	c.Lock()
	defer c.Unlock()
	if gen != c.gen || load != c.load {
		metrics.StaleResults.WithLabelValues("history").Inc()
		glog.V(5).Infof("room: discard stale history of `%s`", scope)
		return
	}

	c.st.Phase = Live
	if err != nil {
		c.st.HistoryErr = errors.Wrapf(err, "room: history of %s", scope)
		glog.Errorf("%v", c.st.HistoryErr)
		c.publishLocked()
		return
	}
	c.st.HistoryErr = nil

	// Live events that beat the history response are kept.
	msgs := make([]message.Message, 0, len(raws)+c.store.Len())
	for _, raw := range raws {
		m, ok := message.Normalize(raw)
		if !ok {
			glog.V(5).Infof("room: skip history entry without id: %s", raw)
			continue
		}
		if m.ScopeID == "" {
			m.ScopeID = scope
		}
		msgs = append(msgs, m)
	}
	msgs = append(msgs, c.store.Messages()...)
	c.store.Seed(scope, msgs)
	glog.V(5).Infof("room: seeded `%s` with %d history entries", scope, len(raws))
	c.publishLocked()
}

func (c *Controller) resolve(ctx context.Context, gen uint64, scope string) {
	h, err := c.api.ResolveRoom(ctx, scope)

	c.Lock()
	defer c.Unlock()
	if gen != c.gen {
		metrics.StaleResults.WithLabelValues("resolve").Inc()
		glog.V(5).Infof("room: discard stale room resolution of `%s`", scope)
		return
	}

	switch {
	case errors.Is(err, ErrRoomNotFound):
		glog.V(5).Infof("room: class `%s` has no room yet", scope)
	case err != nil:
		glog.Warningf("room: resolve room of `%s`: %v", scope, err)
	case h.RoomID == "":
		glog.Warningf("room: empty room id resolved for `%s`", scope)
	case c.st.RoomID != "":
		// a send already reported the room
	default:
		c.st.RoomID = h.RoomID
		c.publishLocked()
	}
}

func (c *Controller) onConnState(gen uint64, s conn.State) {
	if s.Status == conn.Connected {
		// The listener runs on the transport; the ack must not be awaited here.
		go c.join(gen)
		return
	}

	c.Lock()
	defer c.Unlock()
	if gen == c.gen && c.st.Joined {
		c.st.Joined = false
		c.publishLocked()
	}
}

func (c *Controller) join(gen uint64) {
	c.Lock()
	if gen != c.gen || c.closed || c.st.Joined {
		c.Unlock()
		return
	}
	if c.joining {
		c.rejoin = true
		c.Unlock()
		return
	}
	c.joining = true
	scope := c.st.Scope
	leaving := c.leaving[scope]
	c.Unlock()

	ctx, cancel := context.WithTimeout(c.life, c.ackTimeout)
	var err error
	if leaving != nil {
		// a leave of the same class must reach the server first
		select {
		case <-leaving:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	if err == nil {
		_, err = c.conn.EmitAck(ctx, EventJoin, classPayload{ClassID: scope})
	}
	cancel()

	c.Lock()
	if gen != c.gen {
		reselected := scope == c.st.Scope
		c.Unlock()
		metrics.StaleResults.WithLabelValues("join").Inc()
		glog.V(5).Infof("room: discard stale join of `%s`", scope)
		if err == nil && !reselected {
			c.leave(scope)
		}
		return
	}
	defer c.Unlock()

	c.joining = false
	switch {
	case err == nil:
		c.st.Joined = true
		c.st.JoinErr = nil
		glog.Infof("room: joined class `%s`", scope)
	case errors.Is(err, conn.ErrNotConnected), errors.Is(err, context.Canceled):
		// retried on the next connect
		glog.V(2).Infof("room: join `%s` interrupted: %v", scope, err)
	default:
		c.st.JoinErr = errors.Wrapf(err, "room: join %s", scope)
		glog.Errorf("%v", c.st.JoinErr)
	}

	// A reconnect happened while the ack was pending.
	if c.rejoin {
		c.rejoin = false
		c.st.Joined = false
		go c.join(gen)
	}
	c.publishLocked()
}

// leaveAsyncLocked leaves scope in the background so the caller never
// waits on the connection.
func (c *Controller) leaveAsyncLocked(scope string) {
	done := make(chan struct{})
	prev := c.leaving[scope]
	c.leaving[scope] = done
	go func() {
		if prev != nil {
			<-prev
		}
		c.leave(scope)
		close(done)

		c.Lock()
		if c.leaving[scope] == done {
			delete(c.leaving, scope)
		}
		c.Unlock()
	}()
}

func (c *Controller) leave(scope string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.ackTimeout)
	defer cancel()
	if err := c.conn.Emit(ctx, EventLeave, classPayload{ClassID: scope}); err != nil {
		glog.Warningf("room: leave class `%s`: %v", scope, err)
		return
	}
	glog.V(5).Infof("room: left class `%s`", scope)
}

func (c *Controller) onEvent(gen uint64, data json.RawMessage) {
	m, ok := message.DecodeEvent(data)
	if !ok {
		metrics.FilteredEvents.WithLabelValues("malformed").Inc()
		glog.V(5).Infof("room: drop malformed event: %s", data)
		return
	}

	c.Lock()
	defer c.Unlock()
	if gen != c.gen {
		metrics.StaleResults.WithLabelValues("event").Inc()
		glog.V(5).Infof("room: discard stale event `%s`", m.ID)
		return
	}

	scope := c.st.Scope
	switch {
	case m.ScopeID == scope:
	case m.ScopeID == "" && m.RoomID != "" && m.RoomID == c.st.RoomID:
		m.ScopeID = scope
	default:
		metrics.FilteredEvents.WithLabelValues("foreign_scope").Inc()
		glog.V(5).Infof("room: drop event `%s` of class `%s` room `%s`", m.ID, m.ScopeID, m.RoomID)
		return
	}
	c.store.Merge(scope, m)
}

func (c *Controller) publishLocked() {
	c.status.Set(c.st)
}
