package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/mqy/classchat/conn"
)

type SessionError int

const (
	ReadError    SessionError = 1
	WriteError   SessionError = 2
	PingError    SessionError = 3
	BadRequest   SessionError = 4
	ServerStop   SessionError = 5
	SlowConsumer SessionError = 6
)

// Socket events.
const (
	EventJoin       = "joinClass"
	EventLeave      = "leaveClass"
	EventNewMessage = "newMessage"
	EventError      = "error"
)

// Handler managers an active connection to end user.
// Every new websocket connection creates a new session.
type Handler struct {
	sync.Mutex

	hub  *Hub
	uid  string
	sid  string
	conn *websocket.Conn

	// guarded by the hub's handler store
	classes map[string]struct{}

	dataChan chan *SessionData
	closing  bool
}

// SessionData is the data structure for `dataChan`.
type SessionData struct {
	Error SessionError
	Frame *conn.Frame
}

type classReq struct {
	ClassID string `json:"classId"`
}

func (h *Handler) String() string {
	return fmt.Sprintf("{uid: %s, sid: %s}", h.uid, h.sid)
}

func (h *Handler) close(cause SessionError) {
	h.Lock()
	defer h.Unlock()
	if h.closing {
		return
	}

	h.closing = true

	h.conn.SetWriteDeadline(time.Now().Add(h.hub.conf.WriteWait))
	_ = h.conn.WriteMessage(websocket.CloseMessage, []byte{})
	h.conn.Close()

	close(h.dataChan)

	if cause != ServerStop {
		glog.V(5).Infof("session closed, cause: %d, %s", cause, h)
		// Ask for hub to remove this handler.
		h.hub.delHandler(h.sid)
	}
}

// appendDataChan queues v for the send loop. A session that cannot keep up
// is dropped instead of blocking the caller.
func (h *Handler) appendDataChan(v *SessionData) {
	h.Lock()
	defer h.Unlock()
	if h.closing {
		return
	}
	select {
	case h.dataChan <- v:
	default:
		glog.Warningf("session data chan full, dropping session: %s", h)
		go h.close(SlowConsumer)
	}
}

func (h *Handler) reply(req *conn.Frame, data interface{}, errMsg string) {
	if req.Ack == "" {
		if errMsg != "" {
			h.appendDataChan(&SessionData{Frame: &conn.Frame{Event: EventError, Error: errMsg}})
		}
		return
	}
	f := &conn.Frame{Event: conn.AckEvent, Ack: req.Ack, Error: errMsg}
	if data != nil {
		f.Data, _ = json.Marshal(data)
	}
	h.appendDataChan(&SessionData{Frame: f})
}

func sendFrame(c *websocket.Conn, f *conn.Frame, writeWait time.Duration) error {
	out, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteMessage(websocket.TextMessage, out)
}

func (h *Handler) recvLoop() {
	defer func() { glog.V(5).Infof("recvLoop(): exited, session: %s", h) }()

	conf := h.hub.conf
	h.conn.SetReadLimit(conf.ReadLimit)
	h.conn.SetReadDeadline(time.Now().Add(conf.PongWait))
	h.conn.SetPongHandler(func(s string) error {
		h.conn.SetReadDeadline(time.Now().Add(conf.PongWait))
		return nil
	})

	for {
		msgType, msg, err := h.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.Errorf("recvLoop(): read error: %v", err)
			}
			h.appendDataChan(&SessionData{Error: ReadError})
			return
		}
		h.conn.SetReadDeadline(time.Now().Add(conf.PongWait))

		glog.V(5).Infof("recvLoop(): incoming client message: %v", string(msg))

		if msgType != websocket.TextMessage {
			glog.Errorf("recvLoop(): unexpected message type: %d", msgType)
			h.appendDataChan(&SessionData{Frame: &conn.Frame{
				Event: EventError,
				Error: "websocket only supports TextMessage",
			}})
			h.appendDataChan(&SessionData{Error: BadRequest})
			return
		}

		req := &conn.Frame{}
		if err := json.Unmarshal(msg, req); err != nil {
			glog.Errorf("recvLoop(): message error: msg: %s, err: %v", string(msg), err)
			h.appendDataChan(&SessionData{Frame: &conn.Frame{
				Event: EventError,
				Error: fmt.Sprintf("unmarshal error: %v", err),
			}})
			h.appendDataChan(&SessionData{Error: BadRequest})
			return
		}

		switch req.Event {
		case EventJoin, EventLeave:
			var v classReq
			if err := json.Unmarshal(req.Data, &v); err != nil || strings.TrimSpace(v.ClassID) == "" {
				h.reply(req, nil, "classId: is required")
				continue
			}
			if req.Event == EventJoin {
				if !h.hub.hstore.join(v.ClassID, h) {
					h.reply(req, nil, "session is closing")
					continue
				}
				glog.V(5).Infof("session %s joined class `%s`", h, v.ClassID)
			} else {
				h.hub.hstore.leave(v.ClassID, h.sid)
				glog.V(5).Infof("session %s left class `%s`", h, v.ClassID)
			}
			h.reply(req, &v, "")
		default:
			glog.Errorf("recvLoop(): unsupported event: %s", req.Event)
			h.reply(req, nil, "unsupported event: "+req.Event)
		}
	}
}

func (h *Handler) sendLoop() {
	conf := h.hub.conf
	pingTicker := time.NewTicker(conf.PingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("sendLoop(): exited, session: %s", h)
	}()

	for {
		select {
		case v, ok := <-h.dataChan:
			if !ok { // chan was closed
				h.conn.Close()
				glog.V(5).Infof("sendLoop(): data chan closed, session: %s", h)
				return
			}

			if v.Error > 0 {
				h.close(v.Error)
				return
			}

			if glog.V(5) {
				logValue := string(v.Frame.Data)
				if len(logValue) > 100 {
					logValue = logValue[:100] + " ..."
				}
				glog.Infof("sendLoop(), event: %s, data: %s, session: %s", v.Frame.Event, logValue, h)
			}

			if err := sendFrame(h.conn, v.Frame, conf.WriteWait); err != nil {
				glog.Errorf("sendLoop(), error write message. session: %s, event: %s, err: %v",
					h, v.Frame.Event, err)
				h.close(WriteError)
				return
			}
		case <-pingTicker.C:
			h.conn.SetWriteDeadline(time.Now().Add(conf.WriteWait))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("sendLoop(), error write ping message. session: %s, err: %v", h, err)
				h.close(PingError)
				return
			}
		}
	}
}
