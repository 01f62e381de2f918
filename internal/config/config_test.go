package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/pusher-go/internal/errs"
	"github.com/Guliveer/pusher-go/internal/model"
)

const sampleYAML = `
app_id: "3"
key: 278d425bdf160c739803
secret: 7ad3773142a6692b25b8
cluster: eu
auth_headers:
  X-Token: abc
presence:
  user_id: u1
  user_info:
    name: Ada
reconnect:
  base_delay: 2s
  max_delay: 1m
  max_retries: 5
activity_timeout: 60s
channels:
  - orders
  - private-billing
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validConfig() *Config {
	cfg := &Config{AppID: "3", Key: "key", Secret: "secret"}
	applyDefaults(cfg)
	return cfg
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "pusher.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "3", cfg.AppID)
	assert.Equal(t, "eu", cfg.Cluster)
	assert.Equal(t, "abc", cfg.AuthHeaders["X-Token"])
	require.NotNil(t, cfg.Presence)
	assert.Equal(t, "u1", cfg.Presence.UserID)
	assert.Equal(t, "Ada", cfg.Presence.UserInfo["name"])
	assert.Equal(t, 2*time.Second, cfg.Reconnect.BaseDelay)
	assert.Equal(t, time.Minute, cfg.Reconnect.MaxDelay)
	assert.Equal(t, 5, cfg.Reconnect.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.ActivityTimeout)
	assert.Equal(t, []string{"orders", "private-billing"}, cfg.Channels)
	assert.NoError(t, Validate(cfg))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "mt1", cfg.Cluster)
	assert.Equal(t, time.Second, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Reconnect.MaxDelay)
	assert.Zero(t, cfg.Reconnect.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
	assert.True(t, cfg.TLS())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, errs.Is(err, errs.KindConfig))
}

func TestLoadBadYAML(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "app_id: [unterminated"))
	assert.True(t, errs.Is(err, errs.KindConfig))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PUSHER_APP_ID", "99")
	t.Setenv("PUSHER_SECRET", "from-env")
	t.Setenv("PUSHER_USE_TLS", "false")
	t.Setenv("PUSHER_CHANNELS", "a, b ,,c")
	t.Setenv("PUSHER_MAX_RETRIES", "3")
	t.Setenv("PUSHER_USER_ID", "u9")

	cfg, err := Load(writeFile(t, "pusher.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "99", cfg.AppID)
	assert.Equal(t, "from-env", cfg.Secret)
	assert.False(t, cfg.TLS())
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Channels)
	assert.Equal(t, 3, cfg.Reconnect.MaxRetries)
	assert.Equal(t, "u9", cfg.Presence.UserID)
	assert.Equal(t, "Ada", cfg.Presence.UserInfo["name"])
}

func TestEnvOverrideBadBool(t *testing.T) {
	t.Setenv("PUSHER_USE_TLS", "sometimes")
	_, err := Load("")
	assert.True(t, errs.Is(err, errs.KindConfig))
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "PUSHER_KEY=dotenv-key\n")
	t.Setenv("PUSHER_KEY", "")
	os.Unsetenv("PUSHER_KEY")

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	t.Cleanup(func() { os.Unsetenv("PUSHER_KEY") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dotenv-key", cfg.Key)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing app id", func(c *Config) { c.AppID = "" }},
		{"missing key", func(c *Config) { c.Key = "" }},
		{"missing secret", func(c *Config) { c.Secret = "" }},
		{"padded secret", func(c *Config) { c.Secret = " secret " }},
		{"padded master key", func(c *Config) { c.EncryptionMasterKey = "key\n" }},
		{"base over max", func(c *Config) { c.Reconnect.BaseDelay = time.Hour }},
		{"negative retries", func(c *Config) { c.Reconnect.MaxRetries = -1 }},
		{"negative timeout", func(c *Config) { c.PongTimeout = -time.Second }},
		{"negative rate", func(c *Config) { c.RequestsPerSecond = -1 }},
		{"bad auth endpoint", func(c *Config) { c.AuthEndpoint = "ftp://example.com/auth" }},
		{"presence without id", func(c *Config) { c.Presence = &model.PresenceUser{} }},
		{"bad channel", func(c *Config) { c.Channels = []string{"no spaces allowed"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.KindConfig), "got %v", err)
		})
	}

	assert.NoError(t, Validate(validConfig()))
}

func TestURLs(t *testing.T) {
	cfg := validConfig()
	cfg.Cluster = "eu"

	assert.Equal(t, "wss://ws-eu.pusher.com/app/key?protocol=7&client=pusher-go&version=0.4.0", cfg.SocketURL())
	assert.Equal(t, "https://api-eu.pusher.com", cfg.APIBaseURL())

	off := false
	cfg.UseTLS = &off
	cfg.Host = "localhost:6001"
	cfg.APIHost = "localhost:6002"
	assert.Equal(t, "ws://localhost:6001/app/key?protocol=7&client=pusher-go&version=0.4.0", cfg.SocketURL())
	assert.Equal(t, "http://localhost:6002", cfg.APIBaseURL())
}

func TestEncryptionSecret(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "secret", cfg.EncryptionSecret())

	cfg.EncryptionMasterKey = "master"
	assert.Equal(t, "master", cfg.EncryptionSecret())
}
