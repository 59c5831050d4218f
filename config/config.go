// Package config loads the client configuration from defaults, an optional
// .env file and CLASSCHAT_* environment variables.
package config

import (
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "CLASSCHAT"

// Keys.
const (
	APIBaseURL   = "apiBaseURL"
	SocketURL    = "socketURL"
	AuthToken    = "authToken"
	HTTPTimeout  = "httpTimeout"
	PingPeriod   = "pingPeriod"
	PongWait     = "pongWait"
	WriteWait    = "writeWait"
	ReconnectMin = "reconnectMin"
	ReconnectMax = "reconnectMax"
	ReadLimit    = "readLimit"
)

type Config struct {
	APIBaseURL   string
	SocketURL    string
	AuthToken    string
	HTTPTimeout  time.Duration
	PingPeriod   time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	ReadLimit    int64
}

// Load creates a viper instance with defaults, loading dotEnvPath first if
// it exists. Environment variables are looked up as CLASSCHAT_<KEY>, e.g.
// CLASSCHAT_APIBASEURL.
func Load(dotEnvPath string) (*viper.Viper, error) {
	v := viper.New()

	v.SetTypeByDefaultValue(true)
	v.SetDefault(APIBaseURL, "http://127.0.0.1:8000/api")
	v.SetDefault(SocketURL, "ws://127.0.0.1:8000/ws")
	v.SetDefault(AuthToken, "")
	v.SetDefault(HTTPTimeout, 15*time.Second)
	v.SetDefault(PingPeriod, 20*time.Second)
	v.SetDefault(PongWait, 25*time.Second)
	v.SetDefault(WriteWait, 3*time.Second)
	v.SetDefault(ReconnectMin, time.Second)
	v.SetDefault(ReconnectMax, 60*time.Second)
	v.SetDefault(ReadLimit, int64(64<<10))

	// load .env if it exists (ignore if it does not)
	if dotEnvPath != "" {
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				return nil, errors.Wrapf(err, "config: load %s", dotEnvPath)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "config: stat %s", dotEnvPath)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v, nil
}

// Decode reads and validates the configuration held by v.
func Decode(v *viper.Viper) (*Config, error) {
	c := &Config{
		APIBaseURL:   v.GetString(APIBaseURL),
		SocketURL:    v.GetString(SocketURL),
		AuthToken:    v.GetString(AuthToken),
		HTTPTimeout:  v.GetDuration(HTTPTimeout),
		PingPeriod:   v.GetDuration(PingPeriod),
		PongWait:     v.GetDuration(PongWait),
		WriteWait:    v.GetDuration(WriteWait),
		ReconnectMin: v.GetDuration(ReconnectMin),
		ReconnectMax: v.GetDuration(ReconnectMax),
		ReadLimit:    v.GetInt64(ReadLimit),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if err := validateURL(c.APIBaseURL, "http", "https"); err != nil {
		return errors.Wrap(err, APIBaseURL)
	}
	if err := validateURL(c.SocketURL, "ws", "wss"); err != nil {
		return errors.Wrap(err, SocketURL)
	}

	for _, d := range []struct {
		key string
		v   time.Duration
	}{
		{HTTPTimeout, c.HTTPTimeout},
		{PingPeriod, c.PingPeriod},
		{PongWait, c.PongWait},
		{WriteWait, c.WriteWait},
		{ReconnectMin, c.ReconnectMin},
		{ReconnectMax, c.ReconnectMax},
	} {
		if d.v <= 0 {
			return errors.Errorf("%s: MUST be positive, got %s", d.key, d.v)
		}
	}
	if c.PingPeriod >= c.PongWait {
		return errors.Errorf("%s MUST be less than %s", PingPeriod, PongWait)
	}
	if c.ReconnectMin > c.ReconnectMax {
		return errors.Errorf("%s MUST not exceed %s", ReconnectMin, ReconnectMax)
	}
	if c.ReadLimit <= 0 {
		return errors.Errorf("%s: MUST be positive", ReadLimit)
	}
	return nil
}

func validateURL(s string, schemes ...string) error {
	if s == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme {
			if u.Host == "" {
				return errors.Errorf("missing host in `%s`", s)
			}
			return nil
		}
	}
	return errors.Errorf("`%s`: scheme MUST be one of %v", s, schemes)
}
