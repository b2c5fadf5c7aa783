// Package auth acquires an Xbox Live identity in three stages: an OAuth user
// token from login.live.com, a proof-of-possession device token, and the Sisu
// identity exchange that combines them.
//
// An Authenticator runs the whole pipeline, either on its own goroutine
// (Start, Authenticate) or on the caller's (Run). A Gate serves the cached
// identity and refreshes it in place once it is no longer fresh.
package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/majorcontext/xboxauth/internal/browser"
	"github.com/majorcontext/xboxauth/internal/config"
	"github.com/majorcontext/xboxauth/internal/credential"
	"github.com/majorcontext/xboxauth/internal/device"
	"github.com/majorcontext/xboxauth/internal/log"
	"github.com/majorcontext/xboxauth/internal/transport"
)

// HTTPClient performs blocking requests. *transport.Client implements it.
type HTTPClient interface {
	PostForm(ctx context.Context, endpoint string, form url.Values) (*transport.Response, error)
	PostJSON(ctx context.Context, endpoint string, body []byte, header http.Header) (*transport.Response, error)
	Get(ctx context.Context, endpoint string, header http.Header, query url.Values) (*transport.Response, error)
}

// Signer signs device and Sisu requests. device.Signer implements it.
type Signer interface {
	Sign(key *device.KeyPair, endpoint, authorization string, body []byte) ([]byte, error)
	ProofKey(key *device.KeyPair) (json.RawMessage, error)
}

// Browser opens the verification URL. browser.Launcher implements it.
type Browser interface {
	OpenURL(url string) error
}

// RefreshFailurePolicy decides what happens when a cached refresh token is
// rejected.
type RefreshFailurePolicy string

const (
	// RefreshFail ends the flow with the refresh error.
	RefreshFail RefreshFailurePolicy = config.RefreshFailureFail
	// RefreshInteractive falls back to the device-code prompt.
	RefreshInteractive RefreshFailurePolicy = config.RefreshFailureInteractive
)

// Config holds the client identity and service endpoints.
type Config struct {
	ClientID string
	Scope    string
	Sandbox  string

	ConnectURL       string
	TokenURL         string
	RemoteConnectURL string // user_code is appended verbatim
	DeviceAuthURL    string
	SisuURL          string

	RefreshFailure RefreshFailurePolicy
	// NoBrowser hands the verification URL to Prompt only.
	NoBrowser bool
}

// ConfigFrom maps the loaded configuration onto a Config.
func ConfigFrom(g *config.GlobalConfig) Config {
	return Config{
		ClientID:         g.Auth.ClientID,
		Scope:            g.Auth.Scope,
		Sandbox:          g.Auth.Sandbox,
		ConnectURL:       g.Auth.Endpoints.Connect,
		TokenURL:         g.Auth.Endpoints.Token,
		RemoteConnectURL: g.Auth.Endpoints.RemoteConnect,
		DeviceAuthURL:    g.Auth.Endpoints.DeviceAuth,
		SisuURL:          g.Auth.Endpoints.Sisu,
		RefreshFailure:   RefreshFailurePolicy(g.Auth.RefreshFailure),
		NoBrowser:        g.Auth.NoBrowser,
	}
}

// DefaultConfig returns the production Xbox Live settings.
func DefaultConfig() Config {
	return ConfigFrom(config.DefaultGlobalConfig())
}

// Verification is what the user needs to approve a device-code sign-in.
type Verification struct {
	URL       string
	UserCode  string
	ExpiresIn time.Duration
}

// Result is the outcome of one authentication run.
type Result struct {
	Identity *credential.Identity
	Err      error
}

// Authenticator runs the authentication pipeline against a Store.
// Fields left nil fall back to the production implementations.
type Authenticator struct {
	Config  Config
	Store   credential.Store
	HTTP    HTTPClient
	Signer  Signer
	Browser Browser

	// Prompt, if set, is called with the verification URL before the browser
	// is opened.
	Prompt func(Verification)

	// Now and Sleep drive the poll loop. Overridden in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	// Logger defaults to the package logger tagged with the flow id.
	Logger *slog.Logger
}

// New returns an Authenticator with production collaborators.
func New(cfg Config, store credential.Store) *Authenticator {
	return &Authenticator{
		Config:  cfg,
		Store:   store,
		HTTP:    transport.New(),
		Signer:  device.Signer{},
		Browser: browser.Launcher{},
	}
}

func (a *Authenticator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *Authenticator) sleep(ctx context.Context, d time.Duration) error {
	if a.Sleep != nil {
		return a.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (a *Authenticator) httpClient() HTTPClient {
	if a.HTTP != nil {
		return a.HTTP
	}
	return transport.New()
}

func (a *Authenticator) signer() Signer {
	if a.Signer != nil {
		return a.Signer
	}
	return device.Signer{Now: a.Now}
}

func (a *Authenticator) browser() Browser {
	if a.Browser != nil {
		return a.Browser
	}
	return browser.Launcher{}
}

func (a *Authenticator) logger(flowID string) *slog.Logger {
	if a.Logger != nil {
		return a.Logger.With("flow_id", flowID)
	}
	return log.WithFlow(flowID)
}
