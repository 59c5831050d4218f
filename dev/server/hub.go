package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/pborman/uuid"

	"github.com/mqy/classchat/auth"
	"github.com/mqy/classchat/conn"
	"github.com/mqy/classchat/metrics"
	"github.com/mqy/classchat/store"
)

type Config struct {
	// Time allowed to write a message to the peer.
	WriteWait time.Duration

	// Send pings to peer with this period. Must be less than PongWait.
	PingPeriod time.Duration

	// Time allowed to read the next pong message from the peer.
	PongWait time.Duration

	// websocket max message size to read.
	ReadLimit int64

	// Max messages returned by a history request.
	HistoryLimit int

	// Max attachment size accepted by a send.
	MaxUploadBytes int64
}

func DefaultConfig() Config {
	return Config{
		WriteWait:      3 * time.Second,
		PingPeriod:     20 * time.Second,
		PongWait:       25 * time.Second,
		ReadLimit:      4096,
		HistoryLimit:   200,
		MaxUploadBytes: 8 << 20,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// development server, any origin
		return true
	},
}

// Hub works as a hub that manages and serves websocket sessions, and fans
// out new messages to the sessions joined to their class.
type Hub struct {
	conf       Config
	authClient auth.Client
	hstore     *HandlerStore
}

// NewHub creates a `Hub`.
func NewHub(authClient auth.Client, conf Config) *Hub {
	return &Hub{
		conf:       conf,
		authClient: authClient,
		hstore:     newHandlerStore(),
	}
}

// ServeHTTP handles websocket requests from the peer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uid, err := h.authClient.Auth(r)
	if err != nil {
		glog.Errorf("ServeHTTP(): authenticate error: %v", err)
		http.Error(w, "Authenticate error", http.StatusForbidden)
		return
	}

	// If the upgrade fails, then Upgrade replies to the client with an HTTP error response.
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("ServeHTTP(): upgrader.Upgrade error, uid: %s, err: %s", uid, err)
		return
	}

	// NOTE:  after upgrade, `w.WriteHeader(...)`` causes error `response.Write on hijacked connection`.

	handler := &Handler{
		hub:      h,
		uid:      uid,
		sid:      strings.ReplaceAll(uuid.New(), "-", ""),
		conn:     c,
		classes:  make(map[string]struct{}),
		dataChan: make(chan *SessionData, 64),
	}

	c.SetCloseHandler(func(code int, text string) error {
		glog.Infof("session closed by peer, session: %s, code: %d, text: %s", handler, code, text)
		h.delHandler(handler.sid)
		return nil
	})

	h.addHandler(handler)
	glog.V(5).Infof("session opened: %s, ip: %s", handler, getRemoteIP(r))

	go handler.recvLoop()
	go handler.sendLoop()
}

func (h *Hub) addHandler(handler *Handler) {
	h.hstore.add(handler)
	metrics.ServerSessions.Inc()
}

func (h *Hub) delHandler(sid string) {
	if h.hstore.del(sid) {
		metrics.ServerSessions.Dec()
	}
}

// Broadcast pushes m to every session joined to its class.
func (h *Hub) Broadcast(m *store.Message) {
	data, err := json.Marshal(struct {
		Message *store.Message `json:"message"`
		ClassID string         `json:"classId"`
	}{m, m.ClassID})
	if err != nil {
		glog.Errorf("Broadcast(): marshal message %s: %v", m.ID, err)
		return
	}

	members := h.hstore.members(m.ClassID)
	glog.V(5).Infof("Broadcast(): message %s to %d sessions of class `%s`", m.ID, len(members), m.ClassID)
	for _, s := range members {
		s.appendDataChan(&SessionData{Frame: &conn.Frame{Event: EventNewMessage, Data: data}})
	}
}

// Sessions returns the number of open sessions.
func (h *Hub) Sessions() int {
	return h.hstore.count()
}

// Kickoff closes the session sid.
func (h *Hub) Kickoff(sid string) {
	if s := h.hstore.get(sid); s != nil {
		glog.V(5).Infof("Kickoff(): kickoff local session: %s", s)
		s.close(BadRequest)
	}
}

// Close closes all sessions.
func (h *Hub) Close() {
	glog.Infof("close connections ...")
	h.hstore.close()
	glog.Infof("close connections done")
}

func getRemoteIP(r *http.Request) string {
	ip := r.Header.Get("X-REAL-IP")
	if ip == "" {
		if ips := r.Header.Get("X-FORWARDED-FOR"); ips != "" {
			slice := strings.Split(ips, ",")
			for _, x := range slice {
				if x != "" {
					ip = x
				}
			}
		}
	}
	if ip == "" {
		ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	}

	return ip
}
