// Package config loads the client configuration from a YAML file, a .env
// file and PUSHER_* environment variables, applies defaults and validates
// the result once.
package config

import (
	"fmt"
	"time"

	"github.com/Guliveer/pusher-go/internal/constants"
	"github.com/Guliveer/pusher-go/internal/model"
)

// Config is the full client configuration. After Validate it is treated as
// immutable.
type Config struct {
	AppID   string `yaml:"app_id"`
	Key     string `yaml:"key"`
	Secret  string `yaml:"secret"`
	Cluster string `yaml:"cluster"`

	// UseTLS selects wss/https. Nil means true.
	UseTLS *bool `yaml:"use_tls,omitempty"`
	// Host overrides the socket host derived from Cluster.
	Host string `yaml:"host"`
	// APIHost overrides the HTTP API host derived from Cluster.
	APIHost string `yaml:"api_host"`

	// EncryptionMasterKey replaces Secret as the key-derivation secret for
	// private-encrypted channels.
	EncryptionMasterKey string `yaml:"encryption_master_key"`

	AuthEndpoint string              `yaml:"auth_endpoint"`
	AuthHeaders  map[string]string   `yaml:"auth_headers"`
	Presence     *model.PresenceUser `yaml:"presence,omitempty"`

	Reconnect ReconnectConfig `yaml:"reconnect"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ActivityTimeout  time.Duration `yaml:"activity_timeout"`
	PongTimeout      time.Duration `yaml:"pong_timeout"`
	HTTPTimeout      time.Duration `yaml:"http_timeout"`

	// RequestsPerSecond limits trigger calls when positive.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Channels are subscribed by the listen command.
	Channels []string `yaml:"channels"`

	LogLevel   string `yaml:"log_level"`
	HealthAddr string `yaml:"health_addr"`
}

// ReconnectConfig holds the backoff policy. MaxRetries 0 retries forever.
type ReconnectConfig struct {
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	MaxRetries int           `yaml:"max_retries"`
}

// TLS reports whether secure transports are used.
func (c *Config) TLS() bool {
	return c.UseTLS == nil || *c.UseTLS
}

// SocketHost returns the WebSocket host.
func (c *Config) SocketHost() string {
	if c.Host != "" {
		return c.Host
	}
	return fmt.Sprintf(constants.SocketHostFormat, c.Cluster)
}

// APIHostname returns the HTTP API host.
func (c *Config) APIHostname() string {
	if c.APIHost != "" {
		return c.APIHost
	}
	return fmt.Sprintf(constants.APIHostFormat, c.Cluster)
}

// SocketURL returns the URL the engine dials.
func (c *Config) SocketURL() string {
	scheme := "ws"
	if c.TLS() {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/app/%s?protocol=%d&client=%s&version=%s",
		scheme, c.SocketHost(), c.Key, constants.ProtocolVersion, constants.ClientName, constants.ClientVersion)
}

// APIBaseURL returns the origin of the HTTP API.
func (c *Config) APIBaseURL() string {
	scheme := "http"
	if c.TLS() {
		scheme = "https"
	}
	return scheme + "://" + c.APIHostname()
}

// EncryptionSecret returns the secret used to derive channel keys.
func (c *Config) EncryptionSecret() string {
	if c.EncryptionMasterKey != "" {
		return c.EncryptionMasterKey
	}
	return c.Secret
}
