// Package config loads client and server configuration from the environment,
// an optional .env file and an optional explicit config file using Viper.
// Command-line flags are applied on top by the commands themselves.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Client holds the CLI client's configuration.
type Client struct {
	// ServerURL is the base URL of the secret-tag server.
	ServerURL string `mapstructure:"TAGKEEPER_SERVER_URL"`
	// CertFile, KeyFile and CAFile configure mutual TLS.
	CertFile string `mapstructure:"TAGKEEPER_CLIENT_CERT"`
	KeyFile  string `mapstructure:"TAGKEEPER_CLIENT_KEY"`
	CAFile   string `mapstructure:"TAGKEEPER_CA_CERT"`
	// StorePath is the key-value store file for cache entries and preferences.
	StorePath string `mapstructure:"TAGKEEPER_STORE_PATH"`
	// SecurityMode is used when no mode preference has been stored yet.
	SecurityMode string `mapstructure:"TAGKEEPER_SECURITY_MODE"`
	// SessionTimeoutMinutes overrides the stored preference when non-zero.
	SessionTimeoutMinutes int `mapstructure:"TAGKEEPER_SESSION_TIMEOUT_MINUTES"`
	// RequestTimeout bounds each HTTP call (e.g. "15s").
	RequestTimeout string `mapstructure:"TAGKEEPER_REQUEST_TIMEOUT"`
	LogLevel       string `mapstructure:"TAGKEEPER_LOG_LEVEL"`
}

// Server holds the reference server's configuration.
type Server struct {
	// Addr is the listening address (ip:port).
	Addr string `mapstructure:"TAGKEEPER_ADDR"`
	// DatabaseDSN is the Postgres connection string.
	DatabaseDSN string `mapstructure:"DATABASE_DSN"`
	// OPRFSeed is the hex or base64 master seed for all protocol keys.
	OPRFSeed string `mapstructure:"TAGKEEPER_OPRF_SEED"`
	CertFile string `mapstructure:"TAGKEEPER_SERVER_CERT"`
	KeyFile  string `mapstructure:"TAGKEEPER_SERVER_KEY"`
	CAFile   string `mapstructure:"TAGKEEPER_CA_CERT"`
	// CAKeyFile signs the client certificates issued at enrollment.
	CAKeyFile string `mapstructure:"TAGKEEPER_CA_KEY"`
	// LoginRate is the sustained number of login starts per second per owner.
	LoginRate float64 `mapstructure:"TAGKEEPER_LOGIN_RATE"`
	// LoginBurst is the number of login starts an owner may make at once.
	LoginBurst int `mapstructure:"TAGKEEPER_LOGIN_BURST"`
	// PendingTTL bounds how long a started exchange waits for its finish call.
	PendingTTL string `mapstructure:"TAGKEEPER_PENDING_TTL"`
	// CleanupInterval and Retention drive the soft-delete cleaner.
	CleanupInterval string `mapstructure:"TAGKEEPER_CLEANUP_INTERVAL"`
	Retention       string `mapstructure:"TAGKEEPER_RETENTION"`
	LogLevel        string `mapstructure:"TAGKEEPER_LOG_LEVEL"`
}

// newViper reads configFile if given, otherwise an optional .env in the
// working directory. Environment variables override file values.
func newViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	} else {
		v.SetConfigFile(".env")
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("config: read .env: %w", err)
		}
	}
	v.AutomaticEnv()
	return v, nil
}

// isNotFound reports whether a config read failed only because the file is
// absent.
func isNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, fs.ErrNotExist)
}

// LoadClient builds and validates the client configuration.
func LoadClient(configFile string) (*Client, error) {
	v, err := newViper(configFile)
	if err != nil {
		return nil, err
	}
	v.SetDefault("TAGKEEPER_SERVER_URL", "https://localhost:8080")
	v.SetDefault("TAGKEEPER_CLIENT_CERT", "client.crt")
	v.SetDefault("TAGKEEPER_CLIENT_KEY", "client.key")
	v.SetDefault("TAGKEEPER_CA_CERT", "certs/ca.crt")
	v.SetDefault("TAGKEEPER_STORE_PATH", "tagkeeper-store.json")
	v.SetDefault("TAGKEEPER_SECURITY_MODE", "online")
	v.SetDefault("TAGKEEPER_SESSION_TIMEOUT_MINUTES", 0)
	v.SetDefault("TAGKEEPER_REQUEST_TIMEOUT", "15s")
	v.SetDefault("TAGKEEPER_LOG_LEVEL", "warn")

	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the client configuration after flags were applied.
func (c *Client) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return fmt.Errorf("config: TAGKEEPER_SERVER_URL %q is not an http(s) URL", c.ServerURL)
	}
	if c.StorePath == "" {
		return errors.New("config: TAGKEEPER_STORE_PATH must be set")
	}
	if c.SessionTimeoutMinutes < 0 || c.SessionTimeoutMinutes > 24*60 {
		return errors.New("config: TAGKEEPER_SESSION_TIMEOUT_MINUTES must be between 0 and 1440")
	}
	return nil
}

// Timeout parses RequestTimeout. Returns 15s if unset or invalid.
func (c *Client) Timeout() time.Duration {
	return parseDuration(c.RequestTimeout, 15*time.Second)
}

// LoadServer builds and validates the server configuration.
func LoadServer(configFile string) (*Server, error) {
	v, err := newViper(configFile)
	if err != nil {
		return nil, err
	}
	v.SetDefault("TAGKEEPER_ADDR", "localhost:8080")
	v.SetDefault("DATABASE_DSN", "")
	v.SetDefault("TAGKEEPER_OPRF_SEED", "")
	v.SetDefault("TAGKEEPER_SERVER_CERT", "certs/server.crt")
	v.SetDefault("TAGKEEPER_SERVER_KEY", "certs/server.key")
	v.SetDefault("TAGKEEPER_CA_CERT", "certs/ca.crt")
	v.SetDefault("TAGKEEPER_CA_KEY", "certs/ca.key")
	v.SetDefault("TAGKEEPER_LOGIN_RATE", 0.2)
	v.SetDefault("TAGKEEPER_LOGIN_BURST", 5)
	v.SetDefault("TAGKEEPER_PENDING_TTL", "2m")
	v.SetDefault("TAGKEEPER_CLEANUP_INTERVAL", "1h")
	v.SetDefault("TAGKEEPER_RETENTION", "720h") // 30 days
	v.SetDefault("TAGKEEPER_LOG_LEVEL", "info")

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Addr == "" {
		return nil, errors.New("config: TAGKEEPER_ADDR must be set")
	}
	if cfg.DatabaseDSN == "" {
		return nil, errors.New("config: DATABASE_DSN must be set")
	}
	if _, err := cfg.Seed(); err != nil {
		return nil, err
	}
	if cfg.LoginRate <= 0 || cfg.LoginBurst < 1 {
		return nil, errors.New("config: TAGKEEPER_LOGIN_RATE and TAGKEEPER_LOGIN_BURST must be positive")
	}
	return &cfg, nil
}

// Seed decodes OPRFSeed from hex or standard base64. It must be at least
// 32 bytes.
func (c *Server) Seed() ([]byte, error) {
	s := strings.TrimSpace(c.OPRFSeed)
	if s == "" {
		return nil, errors.New("config: TAGKEEPER_OPRF_SEED must be set")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		b, err = base64.StdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, errors.New("config: TAGKEEPER_OPRF_SEED must be hex or base64")
	}
	if len(b) < 32 {
		return nil, errors.New("config: TAGKEEPER_OPRF_SEED must be at least 32 bytes")
	}
	return b, nil
}

// PendingTimeout parses PendingTTL. Returns 2m if unset or invalid.
func (c *Server) PendingTimeout() time.Duration {
	return parseDuration(c.PendingTTL, 2*time.Minute)
}

// CleanerInterval parses CleanupInterval. Returns 1h if unset or invalid.
func (c *Server) CleanerInterval() time.Duration {
	return parseDuration(c.CleanupInterval, time.Hour)
}

// RetentionPeriod parses Retention. Returns 30 days if unset or invalid.
func (c *Server) RetentionPeriod() time.Duration {
	return parseDuration(c.Retention, 30*24*time.Hour)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
