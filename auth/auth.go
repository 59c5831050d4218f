package auth

import (
	"net/http"

	"github.com/pkg/errors"
)

var ErrNoToken = errors.New("auth: no token")

type Client interface {
	// Auth authenticate current user, return uid.
	Auth(r *http.Request) (string, error)
}

// ITokenSource provides the bearer token of the signed-in user.
type ITokenSource interface {
	Token() (string, error)
}

// StaticToken is a token issued once for the whole session.
type StaticToken string

func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// SetHeader sets the bearer Authorization header of h from ts.
func SetHeader(h http.Header, ts ITokenSource) error {
	token, err := ts.Token()
	if err != nil {
		return err
	}
	h.Set("Authorization", "Bearer "+token)
	return nil
}
