package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Guliveer/pusher-go/internal/constants"
	"github.com/Guliveer/pusher-go/internal/errs"
	"github.com/Guliveer/pusher-go/internal/model"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PUSHER_"

// Load reads the YAML file at path (skipped when path is empty), overlays
// PUSHER_* environment variables and applies defaults. The result is not
// validated.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.E(errs.KindConfig, "load", fmt.Errorf("reading config file %s: %w", path, err))
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errs.E(errs.KindConfig, "load", fmt.Errorf("parsing config file %s: %w", path, err))
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDotEnv loads variables from .env files into the process environment
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return errs.E(errs.KindConfig, "load", fmt.Errorf("loading %s: %w", f, err))
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Cluster == "" {
		cfg.Cluster = constants.DefaultCluster
	}
	if cfg.Reconnect.BaseDelay == 0 {
		cfg.Reconnect.BaseDelay = constants.DefaultReconnectBaseDelay
	}
	if cfg.Reconnect.MaxDelay == 0 {
		cfg.Reconnect.MaxDelay = constants.DefaultReconnectMaxDelay
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = constants.DefaultHandshakeTimeout
	}
	if cfg.ActivityTimeout == 0 {
		cfg.ActivityTimeout = constants.DefaultActivityTimeout
	}
	if cfg.PongTimeout == 0 {
		cfg.PongTimeout = constants.DefaultPongTimeout
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = constants.DefaultHTTPTimeout
	}
}

func getEnv(name string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + name))
}

// applyEnvOverrides overlays PUSHER_<FIELD> variables. Secrets are usually
// supplied this way rather than in the YAML file.
func applyEnvOverrides(cfg *Config) error {
	strs := []struct {
		name string
		dst  *string
	}{
		{"APP_ID", &cfg.AppID},
		{"KEY", &cfg.Key},
		{"CLUSTER", &cfg.Cluster},
		{"HOST", &cfg.Host},
		{"API_HOST", &cfg.APIHost},
		{"AUTH_ENDPOINT", &cfg.AuthEndpoint},
		{"LOG_LEVEL", &cfg.LogLevel},
		{"HEALTH_ADDR", &cfg.HealthAddr},
	}
	for _, s := range strs {
		if v := getEnv(s.name); v != "" {
			*s.dst = v
		}
	}

	// Secrets are taken verbatim so Validate can reject stray whitespace.
	if v := os.Getenv(EnvPrefix + "SECRET"); v != "" {
		cfg.Secret = v
	}
	if v := os.Getenv(EnvPrefix + "ENCRYPTION_MASTER_KEY"); v != "" {
		cfg.EncryptionMasterKey = v
	}

	if v := getEnv("USE_TLS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errs.E(errs.KindConfig, "load", fmt.Errorf("%sUSE_TLS: %w", EnvPrefix, err))
		}
		cfg.UseTLS = &b
	}
	if v := getEnv("MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errs.E(errs.KindConfig, "load", fmt.Errorf("%sMAX_RETRIES: %w", EnvPrefix, err))
		}
		cfg.Reconnect.MaxRetries = n
	}
	if v := getEnv("CHANNELS"); v != "" {
		cfg.Channels = nil
		for _, ch := range strings.Split(v, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				cfg.Channels = append(cfg.Channels, ch)
			}
		}
	}
	if v := getEnv("USER_ID"); v != "" {
		if cfg.Presence == nil {
			cfg.Presence = &model.PresenceUser{}
		}
		cfg.Presence.UserID = v
	}
	return nil
}

// Validate checks required fields and ranges, returning a ConfigError.
func Validate(cfg *Config) error {
	const op = "validate"

	switch {
	case cfg.AppID == "":
		return errs.Errorf(errs.KindConfig, op, "app_id is required (or set %sAPP_ID)", EnvPrefix)
	case cfg.Key == "":
		return errs.Errorf(errs.KindConfig, op, "key is required (or set %sKEY)", EnvPrefix)
	case cfg.Secret == "":
		return errs.Errorf(errs.KindConfig, op, "secret is required (or set %sSECRET)", EnvPrefix)
	case strings.TrimSpace(cfg.Secret) != cfg.Secret:
		return errs.Errorf(errs.KindConfig, op, "secret has leading or trailing whitespace")
	case strings.TrimSpace(cfg.EncryptionMasterKey) != cfg.EncryptionMasterKey:
		return errs.Errorf(errs.KindConfig, op, "encryption_master_key has leading or trailing whitespace")
	case cfg.Host == "" && cfg.Cluster == "":
		return errs.Errorf(errs.KindConfig, op, "cluster or host is required")
	}

	if cfg.Reconnect.BaseDelay < 0 || cfg.Reconnect.MaxDelay < 0 {
		return errs.Errorf(errs.KindConfig, op, "reconnect delays must not be negative")
	}
	if cfg.Reconnect.BaseDelay > cfg.Reconnect.MaxDelay {
		return errs.Errorf(errs.KindConfig, op, "reconnect base_delay %s exceeds max_delay %s",
			cfg.Reconnect.BaseDelay, cfg.Reconnect.MaxDelay)
	}
	if cfg.Reconnect.MaxRetries < 0 {
		return errs.Errorf(errs.KindConfig, op, "reconnect max_retries must not be negative")
	}

	for name, d := range map[string]time.Duration{
		"handshake_timeout": cfg.HandshakeTimeout,
		"activity_timeout":  cfg.ActivityTimeout,
		"pong_timeout":      cfg.PongTimeout,
		"http_timeout":      cfg.HTTPTimeout,
	} {
		if d < 0 {
			return errs.Errorf(errs.KindConfig, op, "%s must not be negative", name)
		}
	}
	if cfg.RequestsPerSecond < 0 {
		return errs.Errorf(errs.KindConfig, op, "requests_per_second must not be negative")
	}

	if cfg.AuthEndpoint != "" {
		u, err := url.Parse(cfg.AuthEndpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errs.Errorf(errs.KindConfig, op, "auth_endpoint %q is not an http(s) URL", cfg.AuthEndpoint)
		}
	}
	if cfg.Presence != nil && cfg.Presence.UserID == "" {
		return errs.Errorf(errs.KindConfig, op, "presence.user_id is required when presence is set")
	}

	for _, ch := range cfg.Channels {
		if err := model.ValidateChannelName(ch); err != nil {
			return errs.E(errs.KindConfig, op, err)
		}
	}
	return nil
}
