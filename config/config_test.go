package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v, err := Load("")
	require.NoError(t, err)

	c, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8000/api", c.APIBaseURL)
	assert.Equal(t, "ws://127.0.0.1:8000/ws", c.SocketURL)
	assert.Equal(t, 15*time.Second, c.HTTPTimeout)
	assert.Equal(t, 20*time.Second, c.PingPeriod)
	assert.Equal(t, 25*time.Second, c.PongWait)
	assert.Equal(t, time.Second, c.ReconnectMin)
	assert.Equal(t, 60*time.Second, c.ReconnectMax)
	assert.Equal(t, int64(64<<10), c.ReadLimit)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CLASSCHAT_APIBASEURL", "https://chat.example.com/api")
	t.Setenv("CLASSCHAT_PINGPERIOD", "5s")
	t.Setenv("CLASSCHAT_READLIMIT", "1024")

	v, err := Load("")
	require.NoError(t, err)
	c, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com/api", c.APIBaseURL)
	assert.Equal(t, 5*time.Second, c.PingPeriod)
	assert.Equal(t, int64(1024), c.ReadLimit)
}

func TestDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, ioutil.WriteFile(path, []byte("CLASSCHAT_AUTHTOKEN=u1\nCLASSCHAT_SOCKETURL=wss://chat.example.com/ws\n"), 0600))
	// godotenv does not override variables already set.
	for _, k := range []string{"CLASSCHAT_AUTHTOKEN", "CLASSCHAT_SOCKETURL"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	v, err := Load(path)
	require.NoError(t, err)
	c, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.AuthToken)
	assert.Equal(t, "wss://chat.example.com/ws", c.SocketURL)
}

func TestMissingDotEnvIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			APIBaseURL:   "http://localhost/api",
			SocketURL:    "ws://localhost/ws",
			HTTPTimeout:  time.Second,
			PingPeriod:   time.Second,
			PongWait:     2 * time.Second,
			WriteWait:    time.Second,
			ReconnectMin: time.Second,
			ReconnectMax: time.Minute,
			ReadLimit:    1,
		}
	}
	require.NoError(t, valid().Validate())

	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"no api url", func(c *Config) { c.APIBaseURL = "" }, APIBaseURL},
		{"api url scheme", func(c *Config) { c.APIBaseURL = "ws://localhost" }, APIBaseURL},
		{"socket url scheme", func(c *Config) { c.SocketURL = "http://localhost/ws" }, SocketURL},
		{"socket url host", func(c *Config) { c.SocketURL = "ws:///ws" }, SocketURL},
		{"zero timeout", func(c *Config) { c.HTTPTimeout = 0 }, HTTPTimeout},
		{"ping after pong", func(c *Config) { c.PingPeriod = 3 * time.Second }, PingPeriod},
		{"reconnect range", func(c *Config) { c.ReconnectMin = 2 * time.Minute }, ReconnectMin},
		{"read limit", func(c *Config) { c.ReadLimit = 0 }, ReadLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
