package backend

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Default timeouts applied when Config leaves them zero.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultConnectTimeout = 15 * time.Second
	DefaultSendTimeout    = 10 * time.Second
	DefaultRefreshTimeout = 15 * time.Second

	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// Config selects and parameterizes a backend. Exactly the fields of the
// selected Kind are required; the rest are ignored.
type Config struct {
	Kind Kind

	// api kind
	APIBaseURL   string
	APISocketURL string

	// document kind
	DocumentDSN         string
	DocumentTokenSecret string

	// Timeouts. Zero means the package default.
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	RefreshTimeout time.Duration

	// Token lifetimes minted by the document backend. Zero means the
	// package default. The api backend's lifetimes are the server's.
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Logger receives the SDK's structured logs. Nil disables logging.
	Logger *zerolog.Logger
}

// Validate reports the first missing required parameter for the selected
// kind. Construction fails fast on an invalid Config.
func (c Config) Validate() error {
	switch c.Kind {
	case KindAPI:
		if c.APIBaseURL == "" {
			return errors.New("[Config.Validate] api backend requires APIBaseURL")
		}
		if c.APISocketURL == "" {
			return errors.New("[Config.Validate] api backend requires APISocketURL")
		}
	case KindDocument:
		if c.DocumentDSN == "" {
			return errors.New("[Config.Validate] document backend requires DocumentDSN")
		}
		if c.DocumentTokenSecret == "" {
			return errors.New("[Config.Validate] document backend requires DocumentTokenSecret")
		}
	case "":
		return errors.New("[Config.Validate] backend kind is required")
	default:
		return errors.Errorf("[Config.Validate] unknown backend kind %q", c.Kind)
	}
	return nil
}

// WithDefaults returns a copy with zero timeouts and lifetimes replaced by
// the package defaults.
func (c Config) WithDefaults() Config {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.RefreshTimeout == 0 {
		c.RefreshTimeout = DefaultRefreshTimeout
	}
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	return c
}

// LoggerOrNop returns the configured logger or a disabled one.
func (c Config) LoggerOrNop() zerolog.Logger {
	if c.Logger == nil {
		return zerolog.Nop()
	}
	return *c.Logger
}
