package auth

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/majorcontext/xboxauth/internal/credential"
	"github.com/majorcontext/xboxauth/internal/transport"
)

func seedIdentity(t *testing.T, h *harness, expires time.Time) credential.Identity {
	t.Helper()
	id := credential.Identity{
		Gamertag: "Player One",
		UserID:   "2535400000000001",
		UserHash: "1234567890",
		Token:    credential.Token{Value: "sisu-old", Expires: expires},
	}
	require.NoError(t, h.store.TokenStore.SetIdentity(id))
	return id
}

func TestGate_NoIdentity(t *testing.T) {
	h := newHarness(t)
	id, ok := NewGate(h.auth).Identity(context.Background())
	assert.False(t, ok)
	assert.Nil(t, id)
	assert.Zero(t, h.http.Total())
}

func TestGate_FreshIdentityNoIO(t *testing.T) {
	h := newHarness(t)
	want := seedIdentity(t, h, testStart.Add(time.Hour))

	got, ok := NewGate(h.auth).Identity(context.Background())
	require.True(t, ok)
	assert.Equal(t, want, *got)
	assert.Zero(t, h.http.Total())
}

func TestGate_ExpiredIdentityRefreshes(t *testing.T) {
	h := newHarness(t)
	seedIdentity(t, h, testStart.Add(15*time.Minute)) // exactly at the margin
	h.seedUserToken("user-old", testStart.Add(-time.Hour))
	h.seedDeviceToken("device-cached", testStart.Add(20*time.Hour))
	h.http.Handle(testTokenURL, respond(http.StatusOK, oauthResponse("user-2", "refresh-2", 3600)))
	h.serveXbox()

	got, ok := NewGate(h.auth).Identity(context.Background())
	require.True(t, ok)
	assert.Equal(t, "sisu-token-1", got.Token.Value)

	assert.Len(t, h.http.Requests(testTokenURL), 1)
	assert.Empty(t, h.http.Requests(testDeviceURL), "cached device token is reused")
	assert.Len(t, h.http.Requests(testSisuURL), 1)
	assert.Empty(t, h.http.Requests(testConnectURL))
	assert.Empty(t, h.browser.urls)

	stored, err := h.store.Identity()
	require.NoError(t, err)
	assert.Equal(t, "sisu-token-1", stored.Token.Value)
}

func TestGate_RefreshFailure(t *testing.T) {
	t.Run("rejected refresh", func(t *testing.T) {
		h := newHarness(t)
		seedIdentity(t, h, testStart.Add(-time.Hour))
		h.seedUserToken("user-old", testStart.Add(-time.Hour))
		h.http.Handle(testTokenURL, respond(http.StatusBadRequest, `{"error":"invalid_grant"}`))

		id, ok := NewGate(h.auth).Identity(context.Background())
		assert.False(t, ok)
		assert.Nil(t, id)
		assert.Empty(t, h.http.Requests(testConnectURL), "the gate never prompts")
	})

	t.Run("no refresh token", func(t *testing.T) {
		h := newHarness(t)
		seedIdentity(t, h, testStart.Add(-time.Hour))

		_, ok := NewGate(h.auth).Identity(context.Background())
		assert.False(t, ok)
		assert.Zero(t, h.http.Total())
	})

	t.Run("interactive policy still does not prompt", func(t *testing.T) {
		h := newHarness(t)
		h.auth.Config.RefreshFailure = RefreshInteractive
		seedIdentity(t, h, testStart.Add(-time.Hour))
		h.seedUserToken("user-old", testStart.Add(-time.Hour))
		h.http.Handle(testTokenURL, respond(http.StatusBadRequest, `{"error":"invalid_grant"}`))

		_, ok := NewGate(h.auth).Identity(context.Background())
		assert.False(t, ok)
		assert.Empty(t, h.http.Requests(testConnectURL))
	})
}

func TestGate_ConcurrentCallersShareRefresh(t *testing.T) {
	h := newHarness(t)
	seedIdentity(t, h, testStart.Add(-time.Hour))
	h.seedUserToken("user-old", testStart.Add(-time.Hour))
	h.seedDeviceToken("device-cached", testStart.Add(20*time.Hour))
	h.serveXbox()

	release := make(chan struct{})
	h.http.Handle(testTokenURL, func(req request) (*transport.Response, error) {
		<-release
		return respond(http.StatusOK, oauthResponse("user-2", "refresh-2", 3600))(req)
	})

	gate := NewGate(h.auth)
	const callers = 8
	var wg sync.WaitGroup
	results := make(chan bool, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := gate.Identity(context.Background())
			results <- ok
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for ok := range results {
		assert.True(t, ok)
	}
	assert.Len(t, h.http.Requests(testTokenURL), 1)
}

func TestGate_CanceledCallerDoesNotFailOthers(t *testing.T) {
	h := newHarness(t)
	seedIdentity(t, h, testStart.Add(-time.Hour))
	h.seedUserToken("user-old", testStart.Add(-time.Hour))
	h.seedDeviceToken("device-cached", testStart.Add(20*time.Hour))
	h.serveXbox()

	entered := make(chan struct{})
	release := make(chan struct{})
	h.http.Handle(testTokenURL, func(req request) (*transport.Response, error) {
		close(entered)
		<-release
		return respond(http.StatusOK, oauthResponse("user-2", "refresh-2", 3600))(req)
	})

	gate := NewGate(h.auth)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	resultA := make(chan bool, 1)
	go func() {
		_, ok := gate.Identity(ctxA)
		resultA <- ok
	}()
	<-entered

	resultB := make(chan *credential.Identity, 1)
	go func() {
		id, _ := gate.Identity(context.Background())
		resultB <- id
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	assert.False(t, <-resultA)

	close(release)
	idB := <-resultB
	require.NotNil(t, idB, "the refresh outlives the first caller's context")
	assert.Equal(t, "sisu-token-1", idB.Token.Value)
	assert.Len(t, h.http.Requests(testTokenURL), 1)
}

func TestGate_NilStore(t *testing.T) {
	id, ok := NewGate(&Authenticator{}).Identity(context.Background())
	assert.False(t, ok)
	assert.Nil(t, id)

	id, ok = NewGate(nil).Identity(context.Background())
	assert.False(t, ok)
	assert.Nil(t, id)
}

func TestTokenSource(t *testing.T) {
	h := newHarness(t)
	seedIdentity(t, h, testStart.Add(2*time.Hour))

	tok, err := TokenSource(context.Background(), NewGate(h.auth)).Token()
	require.NoError(t, err)
	assert.Equal(t, "XBL3.0", tok.Type())
	assert.Equal(t, "x=1234567890;sisu-old", tok.AccessToken)
	assert.True(t, tok.Expiry.Equal(testStart.Add(2*time.Hour-15*time.Minute)))

	req, _ := http.NewRequest(http.MethodGet, "https://profile.xboxlive.com/users/me/profile/settings", nil)
	tok.SetAuthHeader(req)
	assert.Equal(t, "XBL3.0 x=1234567890;sisu-old", req.Header.Get("Authorization"))

	var _ oauth2.TokenSource = TokenSource(context.Background(), NewGate(h.auth))
}

func TestTokenSource_Unauthenticated(t *testing.T) {
	h := newHarness(t)
	_, err := TokenSource(context.Background(), NewGate(h.auth)).Token()
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
