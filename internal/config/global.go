// Package config loads xboxauth settings from ~/.xboxauth/config.yaml and
// XBOXAUTH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Default Xbox Live client settings.
const (
	DefaultClientID = "000000004C12AE6F"
	DefaultScope    = "service::user.auth.xboxlive.com::MBI_SSL"
	DefaultSandbox  = "RETAIL"
)

// Default endpoints.
const (
	DefaultConnectURL       = "https://login.live.com/oauth20_connect.srf"
	DefaultTokenURL         = "https://login.live.com/oauth20_token.srf"
	DefaultRemoteConnectURL = "https://login.live.com/oauth20_remoteconnect.srf?otc="
	DefaultDeviceAuthURL    = "https://device.auth.xboxlive.com/device/authenticate"
	DefaultSisuURL          = "https://sisu.xboxlive.com/authorize"
)

// Refresh failure policies.
const (
	RefreshFailureFail        = "fail"
	RefreshFailureInteractive = "interactive"
)

// GlobalConfig holds global settings.
type GlobalConfig struct {
	Auth  AuthConfig  `yaml:"auth"`
	Store StoreConfig `yaml:"store"`
	Debug DebugConfig `yaml:"debug"`
}

// AuthConfig configures the authentication flow.
type AuthConfig struct {
	ClientID string `yaml:"client_id"`
	Scope    string `yaml:"scope"`
	Sandbox  string `yaml:"sandbox"`
	// RefreshFailure decides what happens when a cached refresh token is
	// rejected: "fail" ends the flow, "interactive" falls back to the
	// device-code prompt.
	RefreshFailure string    `yaml:"refresh_failure"`
	NoBrowser      bool      `yaml:"no_browser"`
	Endpoints      Endpoints `yaml:"endpoints"`
}

// Endpoints lists the service URLs. Overridden in tests.
type Endpoints struct {
	Connect       string `yaml:"connect"`
	Token         string `yaml:"token"`
	RemoteConnect string `yaml:"remote_connect"`
	DeviceAuth    string `yaml:"device_auth"`
	Sisu          string `yaml:"sisu"`
}

// StoreConfig selects the credential store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // file, sqlite or memory
	Dir     string `yaml:"dir"`
}

// DebugConfig holds debug logging settings.
type DebugConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// DefaultGlobalConfig returns the default global configuration.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Auth: AuthConfig{
			ClientID:       DefaultClientID,
			Scope:          DefaultScope,
			Sandbox:        DefaultSandbox,
			RefreshFailure: RefreshFailureFail,
			Endpoints: Endpoints{
				Connect:       DefaultConnectURL,
				Token:         DefaultTokenURL,
				RemoteConnect: DefaultRemoteConnectURL,
				DeviceAuth:    DefaultDeviceAuthURL,
				Sisu:          DefaultSisuURL,
			},
		},
		Store: StoreConfig{
			Backend: "file",
			Dir:     filepath.Join(GlobalConfigDir(), "credentials"),
		},
		Debug: DebugConfig{
			RetentionDays: 14,
		},
	}
}

// LoadGlobal reads ~/.xboxauth/config.yaml and applies environment overrides.
// A missing file yields the defaults.
func LoadGlobal() (*GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	configPath := filepath.Join(GlobalConfigDir(), "config.yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("reading %s: %w", configPath, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *GlobalConfig) error {
	if v := os.Getenv("XBOXAUTH_CLIENT_ID"); v != "" {
		cfg.Auth.ClientID = v
	}
	if v := os.Getenv("XBOXAUTH_SCOPE"); v != "" {
		cfg.Auth.Scope = v
	}
	if v := os.Getenv("XBOXAUTH_REFRESH_FAILURE"); v != "" {
		cfg.Auth.RefreshFailure = v
	}
	if v := os.Getenv("XBOXAUTH_NO_BROWSER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("XBOXAUTH_NO_BROWSER=%q: want a boolean", v)
		}
		cfg.Auth.NoBrowser = b
	}
	if v := os.Getenv("XBOXAUTH_STORE"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("XBOXAUTH_STORE_DIR"); v != "" {
		cfg.Store.Dir = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *GlobalConfig) Validate() error {
	if c.Auth.ClientID == "" {
		return fmt.Errorf("auth.client_id must be set")
	}
	if c.Auth.Scope == "" {
		return fmt.Errorf("auth.scope must be set")
	}
	switch c.Auth.RefreshFailure {
	case RefreshFailureFail, RefreshFailureInteractive:
	default:
		return fmt.Errorf("auth.refresh_failure %q: want %q or %q",
			c.Auth.RefreshFailure, RefreshFailureFail, RefreshFailureInteractive)
	}
	switch c.Store.Backend {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("store.backend %q: want file, sqlite or memory", c.Store.Backend)
	}

	endpoints := map[string]string{
		"connect":        c.Auth.Endpoints.Connect,
		"token":          c.Auth.Endpoints.Token,
		"remote_connect": c.Auth.Endpoints.RemoteConnect,
		"device_auth":    c.Auth.Endpoints.DeviceAuth,
		"sisu":           c.Auth.Endpoints.Sisu,
	}
	for name, raw := range endpoints {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("auth.endpoints.%s %q is not an absolute URL", name, raw)
		}
	}
	return nil
}

// GlobalConfigDir returns the path to ~/.xboxauth.
func GlobalConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".xboxauth")
	}
	return filepath.Join(homeDir, ".xboxauth")
}
