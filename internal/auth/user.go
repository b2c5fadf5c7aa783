package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/majorcontext/xboxauth/internal/credential"
)

const (
	deviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"

	// defaultPollInterval applies when the connect response asks for a
	// non-positive interval.
	defaultPollInterval = 5 * time.Second
)

// resolveUserToken picks, in order: a fresh cached user token, a refresh of
// the cached refresh token, or the interactive device-code flow.
func (f *flow) resolveUserToken(ctx context.Context) error {
	store := f.a.Store

	tok, err := store.UserToken()
	switch {
	case err == nil && tok.Usable(f.now()):
		f.log.Debug("using cached user token", "expires", tok.Expires)
		f.userToken = *tok
		return nil
	case err != nil && !errors.Is(err, credential.ErrNotFound):
		f.log.Warn("reading cached user token", "error", err)
	}

	rt, err := store.UserRefreshToken()
	switch {
	case err == nil && rt.Value != "":
		rerr := f.refreshUserToken(ctx, rt.Value)
		if rerr == nil {
			return nil
		}
		if f.a.Config.RefreshFailure != RefreshInteractive || errors.Is(rerr, ErrCanceled) {
			return rerr
		}
		f.log.Warn("refresh failed, falling back to device code sign-in", "error", rerr)
	case err != nil && !errors.Is(err, credential.ErrNotFound):
		f.log.Warn("reading cached refresh token", "error", err)
	}

	return f.deviceCodeSignIn(ctx)
}

// refreshUserToken exchanges a refresh token for a new token pair.
func (f *flow) refreshUserToken(ctx context.Context, refreshToken string) error {
	cfg := f.a.Config
	form := url.Values{}
	form.Set("client_id", cfg.ClientID)
	form.Set("refresh_token", refreshToken)
	form.Set("scope", cfg.Scope)
	form.Set("grant_type", "refresh_token")

	f.log.Debug("refreshing user token")
	resp, err := f.a.httpClient().PostForm(ctx, cfg.TokenURL, form)
	if err != nil {
		if cerr := f.canceled(ctx); cerr != nil {
			return cerr
		}
		return f.fail(ErrTransport, err, "refreshing user token")
	}
	if !resp.OK() {
		return f.fail(ErrProtocol, nil, "token endpoint returned status %d%s",
			resp.Status, oauthErrorSuffix(resp.Body))
	}

	user, refresh, err := parseUserTokens(resp.Body, time.Second, f.now())
	if err != nil {
		return f.fail(ErrParse, err, "reading refresh response")
	}

	deviceCode, err := f.a.Store.DeviceCode()
	if err != nil && !errors.Is(err, credential.ErrNotFound) {
		f.log.Warn("reading cached device code", "error", err)
	}
	if err := f.a.Store.SetUserToken(deviceCode, user, refresh); err != nil {
		return f.fail(ErrStore, err, "saving user token")
	}

	f.log.Debug("user token refreshed", "expires", user.Expires)
	f.userToken = user
	return nil
}

// deviceCodeSignIn requests a user code, sends the user to approve it, and
// polls until a token is issued or the code expires.
func (f *flow) deviceCodeSignIn(ctx context.Context) error {
	cfg := f.a.Config
	form := url.Values{}
	form.Set("client_id", cfg.ClientID)
	form.Set("scope", cfg.Scope)

	resp, err := f.a.httpClient().PostForm(ctx, cfg.ConnectURL, form)
	if err != nil {
		if cerr := f.canceled(ctx); cerr != nil {
			return cerr
		}
		return f.fail(ErrTransport, err, "requesting device code")
	}
	if !resp.OK() {
		return f.fail(ErrProtocol, nil, "connect endpoint returned status %d%s",
			resp.Status, oauthErrorSuffix(resp.Body))
	}

	r, err := parseBody(resp.Body)
	if err != nil {
		return f.fail(ErrParse, err, "reading device code response")
	}
	codes, err := stringFields(r, "user_code", "device_code")
	if err != nil {
		return f.fail(ErrParse, err, "reading device code response")
	}
	interval, err := intField(r, "interval")
	if err != nil {
		return f.fail(ErrParse, err, "reading device code response")
	}
	expiresIn, err := intField(r, "expires_in")
	if err != nil {
		return f.fail(ErrParse, err, "reading device code response")
	}
	userCode, deviceCode := codes[0], codes[1]

	v := Verification{
		URL:       cfg.RemoteConnectURL + userCode,
		UserCode:  userCode,
		ExpiresIn: time.Duration(expiresIn) * time.Second,
	}
	if f.a.Prompt != nil {
		f.a.Prompt(v)
	}
	if !cfg.NoBrowser {
		if err := f.a.browser().OpenURL(v.URL); err != nil {
			return f.fail(ErrBrowser, err, "opening verification URL")
		}
	}

	wait := time.Duration(interval) * time.Second
	if wait <= 0 {
		wait = defaultPollInterval
	}
	return f.pollUserToken(ctx, deviceCode, wait, v.ExpiresIn)
}

// pollUserToken waits for the user to approve deviceCode. Non-200 answers
// and transport failures mean "not yet"; a 200 that cannot be read ends the
// flow. The loop stops once window has elapsed since the first sleep began.
func (f *flow) pollUserToken(ctx context.Context, deviceCode string, wait, window time.Duration) error {
	cfg := f.a.Config
	query := url.Values{}
	query.Set("client_id", cfg.ClientID)
	query.Set("device_code", deviceCode)
	query.Set("grant_type", deviceCodeGrantType)

	start := f.now()
	for attempt := 1; ; attempt++ {
		if err := f.a.sleep(ctx, wait); err != nil {
			return f.fail(ErrCanceled, err, "waiting for authorization")
		}

		resp, err := f.a.httpClient().Get(ctx, cfg.TokenURL, nil, query)
		switch {
		case err != nil:
			if cerr := f.canceled(ctx); cerr != nil {
				return cerr
			}
			f.log.Debug("token poll failed", "attempt", attempt, "error", err)
		case resp.Status != http.StatusOK:
			f.log.Debug("authorization pending", "attempt", attempt, "status", resp.Status,
				"oauth_error", gjson.GetBytes(resp.Body, "error").String())
		default:
			user, refresh, err := parseUserTokens(resp.Body, time.Millisecond, f.now())
			if err != nil {
				return f.fail(ErrParse, err, "reading token response")
			}
			if err := f.a.Store.SetUserToken(deviceCode, user, refresh); err != nil {
				return f.fail(ErrStore, err, "saving user token")
			}
			f.log.Info("device code authorized", "attempt", attempt, "expires", user.Expires)
			f.userToken = user
			return nil
		}

		if elapsed := f.now().Sub(start); elapsed >= window {
			return f.fail(ErrTimeout, nil, "no authorization after %s", elapsed)
		}
	}
}

// oauthErrorSuffix renders the OAuth error code of a rejection, if any.
func oauthErrorSuffix(body []byte) string {
	if code := gjson.GetBytes(body, "error").String(); code != "" {
		return " (" + code + ")"
	}
	return ""
}
