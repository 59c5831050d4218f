// Package server is a development messaging server implementing the chat
// REST endpoints and the class channel websocket.
package server

import (
	"net/http"
	"strings"

	"github.com/mqy/classchat/auth"
	"github.com/mqy/classchat/store"
)

// Server bundles the hub and the REST api behind one http.Handler.
type Server struct {
	Hub *Hub
	Api *ChatApi
	mux *http.ServeMux
}

// New creates a server whose REST endpoints live under apiPrefix
// (e.g. "/api") and websocket at /ws.
func New(authClient auth.Client, s store.IChatStore, conf Config, apiPrefix string) *Server {
	hub := NewHub(authClient, conf)
	api := NewApi(s, hub, authClient, conf)

	classes := strings.TrimRight(apiPrefix, "/") + "/chat/classes/"
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.Handle(classes, http.StripPrefix(classes, api))
	mux.HandleFunc("/files/", api.ServeFile)

	return &Server{Hub: hub, Api: api, mux: mux}
}

// Handle registers extra handlers, e.g. /metrics.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close closes all websocket sessions.
func (s *Server) Close() {
	s.Hub.Close()
}
