package auth

import (
	"context"
	"net/http"

	"github.com/majorcontext/xboxauth/internal/credential"
	"github.com/majorcontext/xboxauth/internal/device"
	"github.com/majorcontext/xboxauth/internal/transport"
)

// Fixed request values for device authentication and Sisu.
const (
	deviceType      = "Win32"
	deviceVersion   = "10.0.19041"
	relyingParty    = "http://auth.xboxlive.com"
	userSiteName    = "user.auth.xboxlive.com"
	tokenTypeJWT    = "JWT"
	authMethodPoP   = "ProofOfPossession"
	contractVersion = "1"
)

// resolveDeviceToken reuses a fresh cached device token when allowed, and
// otherwise authenticates the device with a signed request.
func (f *flow) resolveDeviceToken(ctx context.Context) error {
	if f.allowCache {
		if tok, err := f.a.Store.DeviceToken(); err == nil && tok.Usable(f.now()) {
			f.log.Debug("using cached device token", "expires", tok.Expires)
			f.deviceToken = *tok
			return nil
		}
	}

	proofKey, err := f.a.signer().ProofKey(f.device.Key)
	if err != nil {
		return f.fail(ErrSigning, err, "exporting proof key")
	}
	body, err := newJSONBuilder().
		set("Properties.AuthMethod", authMethodPoP).
		set("Properties.Id", f.device.BracedUUID()).
		set("Properties.DeviceType", deviceType).
		set("Properties.SerialNumber", f.device.BracedSerial()).
		set("Properties.Version", deviceVersion).
		setRaw("Properties.ProofKey", proofKey).
		set("RelyingParty", relyingParty).
		set("TokenType", tokenTypeJWT).
		bytes()
	if err != nil {
		return f.fail(ErrParse, err, "encoding device request")
	}

	resp, err := f.signedPost(ctx, f.a.Config.DeviceAuthURL, body)
	if err != nil {
		return err
	}

	r, err := parseBody(resp.Body)
	if err != nil {
		return f.fail(ErrParse, err, "reading device token response")
	}
	vals, err := stringFields(r, "Token", "NotAfter")
	if err != nil {
		return f.fail(ErrParse, err, "reading device token response")
	}
	expires, err := parseNotAfter(vals[1])
	if err != nil {
		return f.fail(ErrParse, err, "reading device token response")
	}

	tok := credential.Token{Value: vals[0], Expires: expires}
	if err := f.a.Store.SetDeviceToken(tok); err != nil {
		return f.fail(ErrStore, err, "saving device token")
	}
	f.log.Debug("device authenticated", "expires", expires)
	f.deviceToken = tok
	return nil
}

// exchangeIdentity trades the user and device tokens for the final
// authorization token and the player's claims.
func (f *flow) exchangeIdentity(ctx context.Context) error {
	cfg := f.a.Config
	proofKey, err := f.a.signer().ProofKey(f.device.Key)
	if err != nil {
		return f.fail(ErrSigning, err, "exporting proof key")
	}
	body, err := newJSONBuilder().
		set("AccessToken", "t="+f.userToken.Value).
		set("AppId", cfg.ClientID).
		set("DeviceToken", f.deviceToken.Value).
		set("Sandbox", cfg.Sandbox).
		set("SiteName", userSiteName).
		set("UseModernGamertag", true).
		setRaw("ProofKey", proofKey).
		bytes()
	if err != nil {
		return f.fail(ErrParse, err, "encoding identity request")
	}

	resp, err := f.signedPost(ctx, cfg.SisuURL, body)
	if err != nil {
		return err
	}

	r, err := parseBody(resp.Body)
	if err != nil {
		return f.fail(ErrParse, err, "reading identity response")
	}
	vals, err := stringFields(r,
		"AuthorizationToken.Token",
		"AuthorizationToken.DisplayClaims.xui.0.xid",
		"AuthorizationToken.DisplayClaims.xui.0.uhs",
		"AuthorizationToken.DisplayClaims.xui.0.gtg",
		"AuthorizationToken.NotAfter",
	)
	if err != nil {
		return f.fail(ErrParse, err, "reading identity response")
	}
	expires, err := parseNotAfter(vals[4])
	if err != nil {
		return f.fail(ErrParse, err, "reading identity response")
	}

	id := credential.Identity{
		Gamertag: vals[3],
		UserID:   vals[1],
		UserHash: vals[2],
		Token:    credential.Token{Value: vals[0], Expires: expires},
	}
	if err := f.a.Store.SetIdentity(id); err != nil {
		return f.fail(ErrStore, err, "saving identity")
	}
	f.identity = &id
	return nil
}

// signedPost signs body with the device key and posts it with the headers
// Xbox Live expects. Non-2xx responses are returned as ErrProtocol.
func (f *flow) signedPost(ctx context.Context, endpoint string, body []byte) (*transport.Response, error) {
	sig, err := f.a.signer().Sign(f.device.Key, endpoint, "", body)
	if err != nil {
		return nil, f.fail(ErrSigning, err, "signing request")
	}

	h := http.Header{}
	h.Set("signature", device.EncodeSignature(sig))
	h.Set("Cache-Control", "no-store, must-revalidate, no-cache")
	h.Set("Content-Type", "application/json")
	h.Set("x-xbl-contract-version", contractVersion)

	resp, err := f.a.httpClient().PostJSON(ctx, endpoint, body, h)
	if err != nil {
		if cerr := f.canceled(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, f.fail(ErrTransport, err, "posting to %s", endpoint)
	}
	if !resp.OK() {
		msg := "status %d"
		args := []any{resp.Status}
		if xerr := xboxError(resp.Header, resp.Body); xerr != "" {
			msg += " (XErr %s)"
			args = append(args, xerr)
		}
		return nil, f.fail(ErrProtocol, nil, msg, args...)
	}
	return resp, nil
}
