// Package config loads the SDK configuration from the environment.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/parosapp/paros-go/backend"
	"github.com/pkg/errors"
)

const (
	backendVar      = "PAROS_BACKEND"
	apiBaseURLVar   = "PAROS_API_BASE_URL"
	apiSocketURLVar = "PAROS_API_SOCKET_URL"
	docDSNVar       = "PAROS_DOC_DSN"
	docSecretVar    = "PAROS_DOC_TOKEN_SECRET"

	requestTimeoutVar = "PAROS_REQUEST_TIMEOUT"
	connectTimeoutVar = "PAROS_CONNECT_TIMEOUT"
	sendTimeoutVar    = "PAROS_SEND_TIMEOUT"
	refreshTimeoutVar = "PAROS_REFRESH_TIMEOUT"
	accessTTLVar      = "PAROS_ACCESS_TOKEN_TTL"
	refreshTTLVar     = "PAROS_REFRESH_TOKEN_TTL"
)

// Load builds a backend.Config from the environment. A .env file in the
// working directory is honored when present; real environment variables win.
// The returned config has passed backend.Config.Validate.
func Load() (backend.Config, error) {
	_ = godotenv.Load()

	cfg := backend.Config{
		Kind:                backend.Kind(GetEnv(backendVar, string(backend.KindAPI))),
		APIBaseURL:          GetEnv(apiBaseURLVar, ""),
		APISocketURL:        GetEnv(apiSocketURLVar, ""),
		DocumentDSN:         GetEnv(docDSNVar, ""),
		DocumentTokenSecret: GetEnv(docSecretVar, ""),
	}

	var err error
	if cfg.RequestTimeout, err = GetDurationEnv(requestTimeoutVar); err != nil {
		return backend.Config{}, err
	}
	if cfg.ConnectTimeout, err = GetDurationEnv(connectTimeoutVar); err != nil {
		return backend.Config{}, err
	}
	if cfg.SendTimeout, err = GetDurationEnv(sendTimeoutVar); err != nil {
		return backend.Config{}, err
	}
	if cfg.RefreshTimeout, err = GetDurationEnv(refreshTimeoutVar); err != nil {
		return backend.Config{}, err
	}
	if cfg.AccessTokenTTL, err = GetDurationEnv(accessTTLVar); err != nil {
		return backend.Config{}, err
	}
	if cfg.RefreshTokenTTL, err = GetDurationEnv(refreshTTLVar); err != nil {
		return backend.Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return backend.Config{}, errors.Wrap(err, "config.Load")
	}
	return cfg, nil
}

// GetEnv returns the variable's value or defaultValue when unset or empty.
func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetDurationEnv parses the variable as a time.Duration. Unset means zero,
// which backend.Config treats as "use the default".
func GetDurationEnv(envVar string) (time.Duration, error) {
	value := os.Getenv(envVar)
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, "config.GetDurationEnv %s", envVar)
	}
	return d, nil
}
