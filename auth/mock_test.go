package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClientAuth(t *testing.T) {
	c := &MockClient{}

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer teacher-7")
	uid, err := c.Auth(r)
	require.NoError(t, err)
	assert.Equal(t, "teacher-7", uid)

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.AddCookie(&http.Cookie{Name: "x-uid", Value: "s1"})
	uid, err = c.Auth(r)
	require.NoError(t, err)
	assert.Equal(t, "s1", uid)

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	_, err = c.Auth(r)
	assert.Error(t, err)

	r.Header.Set("Authorization", "Bearer a/b")
	_, err = c.Auth(r)
	assert.Error(t, err)
}

func TestSetHeader(t *testing.T) {
	h := http.Header{}
	require.NoError(t, SetHeader(h, StaticToken("s1")))
	assert.Equal(t, "Bearer s1", h.Get("Authorization"))

	assert.ErrorIs(t, SetHeader(http.Header{}, StaticToken("")), ErrNoToken)
}
