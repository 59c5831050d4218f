package conn

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/golang/glog"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"

	"github.com/mqy/classchat/metrics"
	"github.com/mqy/classchat/watch"
)

// Manager owns the lifecycle of one transport for a session: it starts
// and stops it, exposes its state, dispatches inbound events to
// subscribers and correlates acknowledgements.
// Create one per authenticated session and inject it where needed.
type Manager struct {
	sync.Mutex

	transport ITransport
	state     *watch.Value[State]

	// event -> subscription id -> handler
	handlers map[string]map[int]Handler
	nextId   int

	// ack id -> reply chan; a nil reply means the connection dropped.
	pending map[string]chan *Frame

	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	closed  bool
}

func NewManager(transport ITransport) *Manager {
	return &Manager{
		transport: transport,
		state:     watch.NewValue(State{Status: Disconnected}),
		handlers:  make(map[string]map[int]Handler),
		pending:   make(map[string]chan *Frame),
	}
}

// Connect starts the transport. It is a no-op while the transport is
// already connecting or connected, and after Close.
func (m *Manager) Connect() {
	m.Lock()
	if m.closed || m.running {
		m.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	done := m.done
	m.Unlock()

	m.setState(State{Status: Connecting})

	go func() {
		defer close(done)
		m.transport.Run(ctx, m)

		m.Lock()
		m.running = false
		m.Unlock()
		m.setState(State{Status: Disconnected, Err: m.State().Err})
		m.failPending()
	}()
}

// Close stops the transport and waits for it to exit. Pending acks fail
// with ErrNotConnected. Close is idempotent.
func (m *Manager) Close() {
	m.Lock()
	if m.closed {
		m.Unlock()
		return
	}
	m.closed = true
	cancel, done := m.cancel, m.done
	m.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	glog.Infof("conn: manager closed")
}

func (m *Manager) State() State {
	return m.state.Get()
}

// WatchState calls fn on every state change until cancel is called.
func (m *Manager) WatchState(fn func(State)) (cancel func()) {
	return m.state.Watch(fn)
}

// Subscribe registers h for event. It is safe to call before Connect; the
// registration survives reconnects. The returned function removes it and
// may be called more than once.
func (m *Manager) Subscribe(event string, h Handler) (unsubscribe func()) {
	m.Lock()
	id := m.nextId
	m.nextId++
	hs, ok := m.handlers[event]
	if !ok {
		hs = make(map[int]Handler)
		m.handlers[event] = hs
	}
	hs[id] = h
	m.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.Lock()
			if hs, ok := m.handlers[event]; ok {
				delete(hs, id)
				if len(hs) == 0 {
					delete(m.handlers, event)
				}
			}
			m.Unlock()
		})
	}
}

// Emit sends event without waiting for an acknowledgement.
func (m *Manager) Emit(ctx context.Context, event string, payload interface{}) error {
	f, err := m.frame(event, payload)
	if err != nil {
		return err
	}
	return m.send(ctx, f)
}

// EmitAck sends event and waits for the server's acknowledgement, returning
// its data. It fails with ErrNotConnected if the connection is not up or
// drops before the ack arrives, and with *AckError on a negative ack.
func (m *Manager) EmitAck(ctx context.Context, event string, payload interface{}) (json.RawMessage, error) {
	f, err := m.frame(event, payload)
	if err != nil {
		return nil, err
	}
	f.Ack = uuid.New()

	replyC := make(chan *Frame, 1)
	m.Lock()
	m.pending[f.Ack] = replyC
	m.Unlock()
	defer func() {
		m.Lock()
		delete(m.pending, f.Ack)
		m.Unlock()
	}()

	if err := m.send(ctx, f); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case reply := <-replyC:
		if reply == nil {
			return nil, ErrNotConnected
		}
		if reply.Error != "" {
			return nil, &AckError{Event: event, Reason: reply.Error}
		}
		return reply.Data, nil
	}
}

func (m *Manager) frame(event string, payload interface{}) (*Frame, error) {
	f := &Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "conn: marshal %s payload", event)
		}
		f.Data = data
	}
	return f, nil
}

func (m *Manager) send(ctx context.Context, f *Frame) error {
	m.Lock()
	closed := m.closed
	m.Unlock()
	if closed {
		return ErrClosed
	}
	if m.State().Status != Connected {
		return ErrNotConnected
	}
	return m.transport.Send(ctx, f)
}

// OnStatus implements IListener.
func (m *Manager) OnStatus(status Status, err error) {
	st := State{Status: status}
	if err != nil {
		st.Err = err.Error()
	} else if status != Connected {
		st.Err = m.State().Err
	}

	if err != nil {
		glog.Errorf("conn: %s: %v", status, err)
	} else {
		glog.Infof("conn: %s", status)
	}

	// Publish first: an ack registered after failPending must see the
	// connection down in send.
	m.setState(st)
	if status != Connected {
		m.failPending()
	}
}

// OnFrame implements IListener.
func (m *Manager) OnFrame(f *Frame) {
	if f.Event == AckEvent {
		m.Lock()
		replyC, ok := m.pending[f.Ack]
		delete(m.pending, f.Ack)
		m.Unlock()
		if ok {
			replyC <- f
		} else {
			glog.V(5).Infof("conn: ack `%s` has no waiter", f.Ack)
		}
		return
	}

	m.Lock()
	hs := make([]Handler, 0, len(m.handlers[f.Event]))
	for _, h := range m.handlers[f.Event] {
		hs = append(hs, h)
	}
	m.Unlock()

	if len(hs) == 0 {
		glog.V(5).Infof("conn: no subscriber for event `%s`", f.Event)
	}
	for _, h := range hs {
		h(f.Data)
	}
}

func (m *Manager) failPending() {
	m.Lock()
	pending := m.pending
	m.pending = make(map[string]chan *Frame)
	m.Unlock()

	for _, replyC := range pending {
		replyC <- nil
	}
}

func (m *Manager) setState(st State) {
	if m.state.Get() == st {
		return
	}
	metrics.ConnectionStatus.WithLabelValues(st.Status.String()).Inc()
	m.state.Set(st)
}
