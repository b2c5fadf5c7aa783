// Package credential provides persistence for the device identity and the
// tokens produced by each authentication stage.
package credential

import (
	"errors"
	"time"
)

// FreshnessMargin is subtracted from every token's expiry before it is
// considered usable.
const FreshnessMargin = 15 * time.Minute

// ErrNotFound is returned when a record has never been stored.
var ErrNotFound = errors.New("credential not found")

// Kind identifies a persisted record.
type Kind string

const (
	KindDevice       Kind = "device"
	KindUserToken    Kind = "user_token"
	KindRefreshToken Kind = "refresh_token"
	KindDeviceCode   Kind = "device_code"
	KindDeviceToken  Kind = "device_token"
	KindIdentity     Kind = "identity"
)

// TokenKinds lists every record derived from the device identity. Clearing
// them logs the user out but keeps the device.
func TokenKinds() []Kind {
	return []Kind{KindUserToken, KindRefreshToken, KindDeviceCode, KindDeviceToken, KindIdentity}
}

// Token is an opaque bearer value with an absolute expiry.
// A zero Expires means the token carries no expiry of its own (refresh tokens).
type Token struct {
	Value   string    `json:"value"`
	Expires time.Time `json:"expires,omitempty"`
}

// Usable reports whether t can still be presented at now, keeping
// FreshnessMargin in reserve. now == Expires-FreshnessMargin is not usable.
func (t Token) Usable(now time.Time) bool {
	if t.Value == "" || t.Expires.IsZero() {
		return false
	}
	return now.Before(t.Expires.Add(-FreshnessMargin))
}

// Identity is the final Xbox Live identity produced by the Sisu exchange.
type Identity struct {
	Gamertag string `json:"gamertag"`
	UserID   string `json:"user_id"`
	UserHash string `json:"user_hash"`
	Token    Token  `json:"token"`
}

// Usable reports whether the embedded authorization token is still fresh.
func (i *Identity) Usable(now time.Time) bool {
	return i != nil && i.Token.Usable(now)
}

// AuthorizationHeader renders the value for the Authorization header of Xbox
// Live service calls.
func (i *Identity) AuthorizationHeader() string {
	return "XBL3.0 x=" + i.UserHash + ";" + i.Token.Value
}
