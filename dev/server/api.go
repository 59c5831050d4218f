package server

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/mqy/classchat/auth"
	"github.com/mqy/classchat/metrics"
	"github.com/mqy/classchat/store"
)

const (
	MinHistoryLimit = 1
	MaxTextLength   = 4000
)

// ChatApi serves the chat REST endpoints:
//
//	GET  {prefix}/chat/classes/{class}/messages
//	GET  {prefix}/chat/classes/{class}/room
//	POST {prefix}/chat/classes/{class}/messages
//	GET  /files/{id}
type ChatApi struct {
	store      store.IChatStore
	hub        *Hub
	authClient auth.Client
	conf       Config
}

func NewApi(s store.IChatStore, hub *Hub, authClient auth.Client, conf Config) *ChatApi {
	return &ChatApi{
		store:      s,
		hub:        hub,
		authClient: authClient,
		conf:       conf,
	}
}

// ServeHTTP routes requests below the classes prefix, which must be
// stripped by the caller.
func (s *ChatApi) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uid, err := s.authClient.Auth(r)
	if err != nil {
		glog.Errorf("ChatApi: authenticate error: %v", err)
		writeError(w, http.StatusUnauthorized, "authenticate error")
		return
	}

	// {class}/{leaf}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	classID, leaf := parts[0], parts[1]

	switch {
	case leaf == "messages" && r.Method == http.MethodGet:
		s.history(w, r, classID)
	case leaf == "messages" && r.Method == http.MethodPost:
		s.send(w, r, uid, classID)
	case leaf == "room" && r.Method == http.MethodGet:
		s.room(w, r, classID)
	case leaf == "messages" || leaf == "room":
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *ChatApi) history(w http.ResponseWriter, r *http.Request, classID string) {
	limit := s.conf.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < MinHistoryLimit || n > s.conf.HistoryLimit {
			writeError(w, http.StatusBadRequest, "limit: should be an integer in [1, "+strconv.Itoa(s.conf.HistoryLimit)+"]")
			return
		}
		limit = n
	}

	msgs, err := s.store.Messages(r.Context(), classID, limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (s *ChatApi) room(w http.ResponseWriter, r *http.Request, classID string) {
	room, err := s.store.GetRoom(r.Context(), classID)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "room not found")
		return
	} else if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"roomId": room.ID, "classId": room.ClassID})
}

func (s *ChatApi) send(w http.ResponseWriter, r *http.Request, uid, classID string) {
	nm := &store.NewMessage{
		ClassID:    classID,
		SenderID:   uid,
		SenderName: uid,
		Type:       "text",
	}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		if err := s.readMultipart(w, r, nm); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		var req struct {
			Text   string `json:"text"`
			RoomID string `json:"roomId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed json body")
			return
		}
		nm.Text, nm.RoomID = req.Text, req.RoomID
	}

	var errs []string
	if strings.TrimSpace(nm.Text) == "" && nm.MediaURL == "" {
		errs = append(errs, "text: one of text or file is required")
	}
	if len(nm.Text) > MaxTextLength {
		errs = append(errs, "text: exceeds "+strconv.Itoa(MaxTextLength)+" bytes")
	}
	if len(errs) > 0 {
		writeError(w, http.StatusBadRequest, strings.Join(errs, "; "))
		return
	}

	m, err := s.Post(r.Context(), nm)
	if err == store.ErrRoomMismatch {
		writeError(w, http.StatusBadRequest, "roomId: does not belong to class")
		return
	} else if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"message": m, "roomId": m.RoomID})
}

// Post stores nm and pushes it to the sessions joined to its class.
func (s *ChatApi) Post(ctx context.Context, nm *store.NewMessage) (*store.Message, error) {
	m, created, err := s.store.Save(ctx, nm)
	if err != nil {
		return nil, err
	}
	if created {
		metrics.ServerRoomsCreated.Inc()
	}
	metrics.ServerMessagesPosted.WithLabelValues(m.Type).Inc()

	s.hub.Broadcast(m)
	return m, nil
}

func (s *ChatApi) readMultipart(w http.ResponseWriter, r *http.Request, nm *store.NewMessage) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.conf.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		return errors.Wrap(err, "malformed multipart body")
	}
	nm.Text = r.FormValue("text")
	nm.RoomID = r.FormValue("roomId")

	f, fh, err := r.FormFile("file")
	if err == http.ErrMissingFile {
		return nil
	} else if err != nil {
		return errors.Wrap(err, "file")
	}
	defer f.Close()

	if fh.Size > s.conf.MaxUploadBytes {
		return errors.Errorf("file: exceeds %d bytes", s.conf.MaxUploadBytes)
	}
	data, err := ioutil.ReadAll(f)
	if err != nil {
		return errors.Wrap(err, "file")
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	id, err := s.store.SaveFile(r.Context(), &store.File{ContentType: contentType, Name: fh.Filename, Data: data})
	if err != nil {
		return err
	}
	nm.MediaURL = "/files/" + id
	nm.Type = mediaType(contentType)
	return nil
}

// ServeFile serves GET /files/{id}.
func (s *ChatApi) ServeFile(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authClient.Auth(r); err != nil {
		writeError(w, http.StatusUnauthorized, "authenticate error")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/files/")
	f, err := s.store.GetFile(r.Context(), id)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "file not found")
		return
	} else if err != nil {
		s.internalError(w, err)
		return
	}
	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": f.Name}))
	_, _ = w.Write(f.Data)
}

func (s *ChatApi) internalError(w http.ResponseWriter, err error) {
	glog.Errorf("ChatApi: %+v", err)
	writeError(w, http.StatusInternalServerError, "temp storage error")
}

func mediaType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	case strings.HasPrefix(contentType, "audio/"):
		return "audio"
	}
	return "file"
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
