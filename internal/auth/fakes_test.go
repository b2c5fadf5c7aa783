package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/majorcontext/xboxauth/internal/credential"
	"github.com/majorcontext/xboxauth/internal/device"
	"github.com/majorcontext/xboxauth/internal/transport"
)

const (
	testConnectURL = "https://login.test/oauth20_connect.srf"
	testTokenURL   = "https://login.test/oauth20_token.srf"
	testRemoteURL  = "https://login.test/remoteconnect?otc="
	testDeviceURL  = "https://device.test/device/authenticate"
	testSisuURL    = "https://sisu.test/authorize"
)

var testStart = time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		ClientID:         "client-1",
		Scope:            "service::user.auth.xboxlive.com::MBI_SSL",
		Sandbox:          "RETAIL",
		ConnectURL:       testConnectURL,
		TokenURL:         testTokenURL,
		RemoteConnectURL: testRemoteURL,
		DeviceAuthURL:    testDeviceURL,
		SisuURL:          testSisuURL,
		RefreshFailure:   RefreshFail,
	}
}

// fakeClock advances only when Sleep is called.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// request is one call recorded by fakeHTTP.
type request struct {
	Method   string
	Endpoint string
	Form     url.Values
	Query    url.Values
	Header   http.Header
	Body     []byte
	At       time.Time
}

type handler func(req request) (*transport.Response, error)

// fakeHTTP routes requests by endpoint and records every call.
type fakeHTTP struct {
	clock *fakeClock

	mu       sync.Mutex
	handlers map[string]handler
	requests []request
}

func newFakeHTTP(clock *fakeClock) *fakeHTTP {
	return &fakeHTTP{clock: clock, handlers: map[string]handler{}}
}

func (h *fakeHTTP) Handle(endpoint string, fn handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[endpoint] = fn
}

func (h *fakeHTTP) Requests(endpoint string) []request {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []request
	for _, r := range h.requests {
		if r.Endpoint == endpoint {
			out = append(out, r)
		}
	}
	return out
}

func (h *fakeHTTP) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.requests)
}

func (h *fakeHTTP) serve(req request) (*transport.Response, error) {
	req.At = h.clock.Now()
	h.mu.Lock()
	h.requests = append(h.requests, req)
	fn := h.handlers[req.Endpoint]
	h.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("no handler for %s", req.Endpoint)
	}
	return fn(req)
}

func (h *fakeHTTP) PostForm(_ context.Context, endpoint string, form url.Values) (*transport.Response, error) {
	return h.serve(request{Method: http.MethodPost, Endpoint: endpoint, Form: form, Body: []byte(form.Encode())})
}

func (h *fakeHTTP) PostJSON(_ context.Context, endpoint string, body []byte, header http.Header) (*transport.Response, error) {
	return h.serve(request{Method: http.MethodPost, Endpoint: endpoint, Header: header, Body: body})
}

func (h *fakeHTTP) Get(_ context.Context, endpoint string, header http.Header, query url.Values) (*transport.Response, error) {
	return h.serve(request{Method: http.MethodGet, Endpoint: endpoint, Header: header, Query: query})
}

func respond(status int, body string) handler {
	return func(request) (*transport.Response, error) {
		return &transport.Response{Status: status, Header: http.Header{}, Body: []byte(body)}, nil
	}
}

// sequence answers with each handler in turn, repeating the last.
func sequence(hs ...handler) handler {
	var mu sync.Mutex
	i := 0
	return func(req request) (*transport.Response, error) {
		mu.Lock()
		h := hs[i]
		if i < len(hs)-1 {
			i++
		}
		mu.Unlock()
		return h(req)
	}
}

type fakeBrowser struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (b *fakeBrowser) OpenURL(u string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.urls = append(b.urls, u)
	return b.err
}

// recordingStore counts identity writes.
type recordingStore struct {
	*credential.TokenStore
	mu           sync.Mutex
	setIdentity  int
	setUserToken int
}

func (s *recordingStore) SetIdentity(id credential.Identity) error {
	s.mu.Lock()
	s.setIdentity++
	s.mu.Unlock()
	return s.TokenStore.SetIdentity(id)
}

func (s *recordingStore) SetUserToken(code string, user, refresh credential.Token) error {
	s.mu.Lock()
	s.setUserToken++
	s.mu.Unlock()
	return s.TokenStore.SetUserToken(code, user, refresh)
}

type harness struct {
	t       *testing.T
	clock   *fakeClock
	http    *fakeHTTP
	browser *fakeBrowser
	store   *recordingStore
	device  *device.Identity
	auth    *Authenticator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &fakeClock{now: testStart}
	store := &recordingStore{TokenStore: credential.NewEphemeralStore()}
	dev, err := store.EnsureDevice()
	require.NoError(t, err)

	h := &harness{
		t:       t,
		clock:   clock,
		http:    newFakeHTTP(clock),
		browser: &fakeBrowser{},
		store:   store,
		device:  dev,
	}
	h.auth = &Authenticator{
		Config:  testConfig(),
		Store:   store,
		HTTP:    h.http,
		Signer:  device.Signer{Now: clock.Now},
		Browser: h.browser,
		Now:     clock.Now,
		Sleep:   clock.Sleep,
	}
	return h
}

func (h *harness) seedUserToken(value string, expires time.Time) {
	h.t.Helper()
	require.NoError(h.t, h.store.TokenStore.SetUserToken("D0",
		credential.Token{Value: value, Expires: expires},
		credential.Token{Value: "refresh-0"}))
}

func (h *harness) seedDeviceToken(value string, expires time.Time) {
	h.t.Helper()
	require.NoError(h.t, h.store.SetDeviceToken(credential.Token{Value: value, Expires: expires}))
}

// serveXbox installs healthy device and Sisu endpoints.
func (h *harness) serveXbox() {
	h.http.Handle(testDeviceURL, respond(http.StatusOK, deviceResponse("device-token-1", h.clock.Now().Add(24*time.Hour))))
	h.http.Handle(testSisuURL, respond(http.StatusOK, sisuResponse("sisu-token-1", h.clock.Now().Add(16*time.Hour))))
}

func notAfter(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.0000000Z")
}

func deviceResponse(token string, expires time.Time) string {
	return fmt.Sprintf(`{"IssueInstant":"2026-10-16T10:00:00.0000000Z","NotAfter":%q,"Token":%q,"DisplayClaims":{"xdi":{"did":"F000"}}}`,
		notAfter(expires), token)
}

func sisuResponse(token string, expires time.Time) string {
	return fmt.Sprintf(`{"DeviceToken":"x","AuthorizationToken":{"DisplayClaims":{"xui":[{"gtg":"Player One","xid":"2535400000000001","uhs":"1234567890"}]},"IssueInstant":"2026-10-16T10:00:00.0000000Z","NotAfter":%q,"Token":%q}}`,
		notAfter(expires), token)
}

func oauthResponse(access, refresh string, expiresIn int64) string {
	return fmt.Sprintf(`{"token_type":"bearer","expires_in":%d,"scope":"service::user.auth.xboxlive.com::MBI_SSL","access_token":%q,"refresh_token":%q,"user_id":"u"}`,
		expiresIn, access, refresh)
}
