package conn_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/classchat/conn"
	conn_mock "github.com/mqy/classchat/conn/mock"
)

// startManager connects a manager over a mock transport whose Run blocks
// until the manager is closed, and returns the listener the manager handed
// to it.
func startManager(t *testing.T, transport *conn_mock.MockITransport) (*conn.Manager, conn.IListener) {
	listenerC := make(chan conn.IListener, 1)
	transport.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, l conn.IListener) {
		listenerC <- l
		<-ctx.Done()
	}).Times(1)

	m := conn.NewManager(transport)
	m.Connect()
	select {
	case l := <-listenerC:
		return m, l
	case <-time.After(time.Second):
		t.Fatal("transport not started")
	}
	return nil, nil
}

func TestConnectIdempotent(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	transport := conn_mock.NewMockITransport(mockCtrl)
	m, l := startManager(t, transport)
	defer m.Close()

	assert.Equal(t, conn.Connecting, m.State().Status)
	m.Connect()

	l.OnStatus(conn.Connected, nil)
	assert.Equal(t, conn.State{Status: conn.Connected}, m.State())
	m.Connect() // Run is expected exactly once
}

func TestStateTracksTransport(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	transport := conn_mock.NewMockITransport(mockCtrl)
	m, l := startManager(t, transport)
	defer m.Close()

	var seen []conn.State
	cancel := m.WatchState(func(s conn.State) { seen = append(seen, s) })
	defer cancel()

	l.OnStatus(conn.Connected, nil)
	l.OnStatus(conn.Disconnected, errors.New("read: connection reset"))
	l.OnStatus(conn.Connecting, nil)
	l.OnStatus(conn.Connected, nil)

	assert.Equal(t, []conn.State{
		{Status: conn.Connected},
		{Status: conn.Disconnected, Err: "read: connection reset"},
		{Status: conn.Connecting, Err: "read: connection reset"},
		{Status: conn.Connected},
	}, seen)
}

func TestEmitWhileDisconnected(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	transport := conn_mock.NewMockITransport(mockCtrl)
	m := conn.NewManager(transport)

	err := m.Emit(context.Background(), "joinClass", map[string]string{"classId": "c1"})
	assert.ErrorIs(t, err, conn.ErrNotConnected)

	_, err = m.EmitAck(context.Background(), "joinClass", nil)
	assert.ErrorIs(t, err, conn.ErrNotConnected)
}

func TestSubscribeBeforeConnect(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	transport := conn_mock.NewMockITransport(mockCtrl)
	m := conn.NewManager(transport)

	var got []string
	unsubscribe := m.Subscribe("newMessage", func(data json.RawMessage) {
		got = append(got, string(data))
	})

	listenerC := make(chan conn.IListener, 1)
	transport.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, l conn.IListener) {
		listenerC <- l
		<-ctx.Done()
	})
	m.Connect()
	defer m.Close()
	l := <-listenerC

	l.OnStatus(conn.Connected, nil)
	l.OnFrame(&conn.Frame{Event: "newMessage", Data: json.RawMessage(`{"id":"1"}`)})
	l.OnFrame(&conn.Frame{Event: "other", Data: json.RawMessage(`{}`)})
	unsubscribe()
	unsubscribe()
	l.OnFrame(&conn.Frame{Event: "newMessage", Data: json.RawMessage(`{"id":"2"}`)})

	assert.Equal(t, []string{`{"id":"1"}`}, got)
}

func TestEmitAck(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	transport := conn_mock.NewMockITransport(mockCtrl)
	m, l := startManager(t, transport)
	defer m.Close()
	l.OnStatus(conn.Connected, nil)

	transport.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, f *conn.Frame) error {
		assert.Equal(t, "joinClass", f.Event)
		assert.JSONEq(t, `{"classId":"c1"}`, string(f.Data))
		require.NotEmpty(t, f.Ack)
		go l.OnFrame(&conn.Frame{Event: conn.AckEvent, Ack: f.Ack, Data: json.RawMessage(`{"ok":true}`)})
		return nil
	})

	data, err := m.EmitAck(context.Background(), "joinClass", map[string]string{"classId": "c1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
}

func TestEmitAckRejected(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	transport := conn_mock.NewMockITransport(mockCtrl)
	m, l := startManager(t, transport)
	defer m.Close()
	l.OnStatus(conn.Connected, nil)

	transport.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, f *conn.Frame) error {
		go l.OnFrame(&conn.Frame{Event: conn.AckEvent, Ack: f.Ack, Error: "not a member of class"})
		return nil
	})

	_, err := m.EmitAck(context.Background(), "joinClass", nil)
	var ackErr *conn.AckError
	require.True(t, errors.As(err, &ackErr))
	assert.Equal(t, "not a member of class", ackErr.Reason)
}

func TestEmitAckFailsOnDisconnect(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	transport := conn_mock.NewMockITransport(mockCtrl)
	m, l := startManager(t, transport)
	defer m.Close()
	l.OnStatus(conn.Connected, nil)

	transport.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, *conn.Frame) error {
		go l.OnStatus(conn.Disconnected, errors.New("EOF"))
		return nil
	})

	_, err := m.EmitAck(context.Background(), "joinClass", nil)
	assert.ErrorIs(t, err, conn.ErrNotConnected)
	assert.Equal(t, conn.State{Status: conn.Disconnected, Err: "EOF"}, m.State())
}

func TestRetryAfterDropFailsFast(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	transport := conn_mock.NewMockITransport(mockCtrl)
	m, l := startManager(t, transport)
	defer m.Close()
	l.OnStatus(conn.Connected, nil)

	// only the first ack request reaches the transport
	sent := make(chan struct{})
	transport.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, *conn.Frame) error {
		close(sent)
		return nil
	}).Times(1)

	returned := make(chan struct{})
	retryErr := make(chan error, 1)
	go func() {
		_, err := m.EmitAck(context.Background(), "joinClass", nil)
		close(returned)
		assert.ErrorIs(t, err, conn.ErrNotConnected)

		// retried as soon as the pending ack fails
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		_, err = m.EmitAck(ctx, "joinClass", nil)
		retryErr <- err
	}()
	<-sent

	var failedEarly bool
	cancel := m.WatchState(func(s conn.State) {
		if s.Status != conn.Disconnected {
			return
		}
		select {
		case <-returned:
			failedEarly = true
		default:
		}
	})
	defer cancel()

	l.OnStatus(conn.Disconnected, errors.New("EOF"))
	assert.False(t, failedEarly, "pending ack failed before the state was published")

	select {
	case err := <-retryErr:
		assert.ErrorIs(t, err, conn.ErrNotConnected)
	case <-time.After(time.Second):
		t.Fatal("retry did not return")
	}
}

func TestEmitAckContextDone(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	transport := conn_mock.NewMockITransport(mockCtrl)
	m, l := startManager(t, transport)
	defer m.Close()
	l.OnStatus(conn.Connected, nil)

	transport.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := m.EmitAck(ctx, "joinClass", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClose(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	transport := conn_mock.NewMockITransport(mockCtrl)
	m, l := startManager(t, transport)
	l.OnStatus(conn.Connected, nil)

	m.Close()
	m.Close()
	assert.Equal(t, conn.Disconnected, m.State().Status)
	assert.ErrorIs(t, m.Emit(context.Background(), "x", nil), conn.ErrClosed)

	m.Connect() // no restart after close
}
