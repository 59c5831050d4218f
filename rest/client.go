// Package rest is the HTTP client of the chat REST endpoints.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/mqy/classchat/auth"
	"github.com/mqy/classchat/message"
	"github.com/mqy/classchat/outbound"
	"github.com/mqy/classchat/room"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rest: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("rest: %d %s", e.Status, e.Message)
}

// Client implements room.IRoomAPI and outbound.ISendAPI.
type Client struct {
	base   string
	http   *http.Client
	tokens auth.ITokenSource
}

func NewClient(base string, tokens auth.ITokenSource, timeout time.Duration) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: timeout},
		tokens: tokens,
	}
}

func (c *Client) classURL(scope, leaf string) string {
	return c.base + "/chat/classes/" + url.PathEscape(scope) + "/" + leaf
}

// History returns the raw history entries of scope, oldest first or in any
// order; callers sort.
func (c *Client) History(ctx context.Context, scope string) ([]json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, c.classURL(scope, "messages"), "", nil)
	if err != nil {
		return nil, err
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}
	var out []json.RawMessage
	if body[0] == '[' {
		err = json.Unmarshal(body, &out)
	} else {
		var env struct {
			Messages []json.RawMessage `json:"messages"`
		}
		err = json.Unmarshal(body, &env)
		out = env.Messages
	}
	if err != nil {
		return nil, errors.Wrapf(err, "rest: decode history of %s", scope)
	}
	return out, nil
}

// ResolveRoom looks up the room of scope. A 404 is room.ErrRoomNotFound.
func (c *Client) ResolveRoom(ctx context.Context, scope string) (room.Handle, error) {
	body, err := c.do(ctx, http.MethodGet, c.classURL(scope, "room"), "", nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return room.Handle{}, room.ErrRoomNotFound
		}
		return room.Handle{}, err
	}

	var resp struct {
		RoomID  message.FlexID `json:"roomId"`
		MongoID message.FlexID `json:"_id"`
		ID      message.FlexID `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return room.Handle{}, errors.Wrapf(err, "rest: decode room of %s", scope)
	}
	for _, id := range []message.FlexID{resp.RoomID, resp.MongoID, resp.ID} {
		if id != "" {
			return room.Handle{ScopeID: scope, RoomID: string(id)}, nil
		}
	}
	return room.Handle{}, room.ErrRoomNotFound
}

// SendMessage posts req as JSON, or as multipart/form-data when it carries
// an attachment.
func (c *Client) SendMessage(ctx context.Context, req *outbound.SendRequest) (*outbound.SendResponse, error) {
	var (
		contentType string
		payload     []byte
		err         error
	)
	if req.Attachment == nil {
		contentType = "application/json"
		payload, err = json.Marshal(struct {
			Text   string `json:"text"`
			RoomID string `json:"roomId,omitempty"`
		}{req.Text, req.RoomID})
	} else {
		contentType, payload, err = multipartBody(req)
	}
	if err != nil {
		return nil, errors.Wrap(err, "rest: encode message")
	}

	body, err := c.do(ctx, http.MethodPost, c.classURL(req.ScopeID, "messages"), contentType, payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Message json.RawMessage `json:"message"`
		RoomID  message.FlexID  `json:"roomId"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "rest: decode send response")
	}
	out := &outbound.SendResponse{Message: resp.Message, RoomID: string(resp.RoomID)}
	if m := bytes.TrimSpace(resp.Message); len(m) == 0 || m[0] != '{' {
		// the stored message itself
		out.Message = body
	}
	return out, nil
}

func multipartBody(req *outbound.SendRequest) (string, []byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("text", req.Text); err != nil {
		return "", nil, err
	}
	if req.RoomID != "" {
		if err := w.WriteField("roomId", req.RoomID); err != nil {
			return "", nil, err
		}
	}

	a := req.Attachment
	ct := a.ContentType
	if ct == "" {
		ct = http.DetectContentType(a.Data)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, a.Name))
	h.Set("Content-Type", ct)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", nil, err
	}
	if _, err := part.Write(a.Data); err != nil {
		return "", nil, err
	}
	if err := w.Close(); err != nil {
		return "", nil, err
	}
	return w.FormDataContentType(), buf.Bytes(), nil
}

func (c *Client) do(ctx context.Context, method, u, contentType string, payload []byte) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, errors.Wrapf(err, "rest: %s %s", method, u)
	}
	if err := auth.SetHeader(req.Header, c.tokens); err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "rest: %s %s", method, u)
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "rest: read %s %s", method, u)
	}
	glog.V(5).Infof("rest: %s %s -> %d (%d bytes)", method, u, resp.StatusCode, len(body))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

func errorMessage(body []byte) string {
	var v struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &v); err == nil {
		if v.Error != "" {
			return v.Error
		}
		if v.Message != "" {
			return v.Message
		}
	}
	return strings.TrimSpace(string(body))
}
