package auth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/majorcontext/xboxauth/internal/credential"
)

// refreshTimeout bounds a shared refresh, which outlives the context of
// the caller that started it.
const refreshTimeout = 2 * time.Minute

// Gate serves the persisted identity, refreshing it once it is no longer
// fresh. It never prompts the user.
//
// Identity may block for up to three network round trips. Concurrent
// callers share a single refresh; a caller whose context ends stops
// waiting without failing the others.
type Gate struct {
	auth  *Authenticator
	group singleflight.Group
}

// NewGate returns a Gate backed by a.
func NewGate(a *Authenticator) *Gate {
	return &Gate{auth: a}
}

// Identity returns the current identity, or false if there is none or it
// could not be refreshed. Failure details are logged, not returned.
func (g *Gate) Identity(ctx context.Context) (*credential.Identity, bool) {
	if g.auth == nil || g.auth.Store == nil {
		return nil, false
	}
	logger := g.auth.logger("gate")

	id, err := g.auth.Store.Identity()
	if err != nil {
		if !errors.Is(err, credential.ErrNotFound) {
			logger.Warn("reading identity", "error", err)
		}
		return nil, false
	}
	if id.Usable(g.auth.now()) {
		return id, true
	}

	ch := g.group.DoChan("identity", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return g.refresh(fctx)
	})
	select {
	case <-ctx.Done():
		logger.Warn("identity refresh abandoned", "error", ctx.Err())
		return nil, false
	case r := <-ch:
		if r.Err != nil {
			logger.Warn("identity refresh failed", "error", r.Err)
			return nil, false
		}
		logger.Debug("identity refreshed", "shared", r.Shared)
		return r.Val.(*credential.Identity), true
	}
}

// refresh re-runs the non-interactive stages: refresh grant, device token
// (cache allowed) and Sisu.
func (g *Gate) refresh(ctx context.Context) (*credential.Identity, error) {
	// A caller that lost the race to an earlier refresh finds it here.
	if id, err := g.auth.Store.Identity(); err == nil && id.Usable(g.auth.now()) {
		return id, nil
	}

	f, err := g.auth.prepare(true)
	if err != nil {
		return nil, err
	}
	rt, err := g.auth.Store.UserRefreshToken()
	if err != nil || rt.Value == "" {
		return nil, &StageError{Stage: StateUserToken, Kind: ErrState, Msg: "no refresh token", Cause: err}
	}

	err = f.pipeline(ctx,
		stage{StateUserToken, func(ctx context.Context) error { return f.refreshUserToken(ctx, rt.Value) }},
		stage{StateDeviceToken, f.resolveDeviceToken},
		stage{StateIdentityExchange, f.exchangeIdentity},
	)
	if err != nil {
		return nil, err
	}
	return f.identity, nil
}
