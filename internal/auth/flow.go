package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/majorcontext/xboxauth/internal/credential"
	"github.com/majorcontext/xboxauth/internal/device"
)

// flow is the state of a single authentication run. It is owned by the
// goroutine executing the run and discarded when the run ends.
type flow struct {
	a          *Authenticator
	log        *slog.Logger
	device     *device.Identity
	allowCache bool
	state      State

	userToken   credential.Token
	deviceToken credential.Token
	identity    *credential.Identity
}

type stage struct {
	state State
	run   func(ctx context.Context) error
}

func (a *Authenticator) newFlow(dev *device.Identity, allowCache bool) *flow {
	return &flow{
		a:          a,
		log:        a.logger(uuid.NewString()),
		device:     dev,
		allowCache: allowCache,
		state:      StateStart,
	}
}

// prepare loads the device identity a run signs with.
func (a *Authenticator) prepare(allowCache bool) (*flow, error) {
	if a.Store == nil {
		return nil, &StageError{Stage: StateStart, Kind: ErrState, Msg: "no credential store configured"}
	}
	dev, err := a.Store.Device()
	if err != nil {
		return nil, &StageError{Stage: StateStart, Kind: ErrState, Msg: "loading device identity", Cause: err}
	}
	if dev.Key == nil || dev.Key.Private == nil {
		return nil, &StageError{Stage: StateStart, Kind: ErrState, Msg: "device identity has no private key"}
	}
	return a.newFlow(dev, allowCache), nil
}

// Start runs the pipeline on a new goroutine and calls done with the result
// exactly once, on that goroutine. It returns false without calling done if
// done is nil or the device identity cannot be loaded.
func (a *Authenticator) Start(ctx context.Context, allowCache bool, done func(Result)) bool {
	if done == nil {
		return false
	}
	f, err := a.prepare(allowCache)
	if err != nil {
		a.logger("setup").Error("authentication not started", "error", err)
		return false
	}
	go func() {
		done(f.authenticate(ctx))
	}()
	return true
}

// Authenticate runs the pipeline in the background. The returned channel
// yields one Result and is then closed.
func (a *Authenticator) Authenticate(ctx context.Context, allowCache bool) <-chan Result {
	ch := make(chan Result, 1)
	f, err := a.prepare(allowCache)
	if err != nil {
		ch <- Result{Err: err}
		close(ch)
		return ch
	}
	go func() {
		ch <- f.authenticate(ctx)
		close(ch)
	}()
	return ch
}

// Run executes the pipeline on the calling goroutine.
func (a *Authenticator) Run(ctx context.Context, allowCache bool) (*credential.Identity, error) {
	f, err := a.prepare(allowCache)
	if err != nil {
		return nil, err
	}
	r := f.authenticate(ctx)
	return r.Identity, r.Err
}

func (f *flow) authenticate(ctx context.Context) Result {
	start := f.a.now()
	f.log.Debug("authentication started", "device_id", f.device.UUID, "allow_cache", f.allowCache)

	err := f.pipeline(ctx,
		stage{StateUserToken, f.resolveUserToken},
		stage{StateDeviceToken, f.resolveDeviceToken},
		stage{StateIdentityExchange, f.exchangeIdentity},
	)
	if err != nil {
		f.log.Error("authentication failed", "stage", f.failedStage(err), "error", err)
		return Result{Err: err}
	}
	f.log.Info("authentication complete",
		"gamertag", f.identity.Gamertag,
		"duration", f.a.now().Sub(start))
	return Result{Identity: f.identity}
}

// pipeline runs stages in order and stops at the first error.
func (f *flow) pipeline(ctx context.Context, stages ...stage) error {
	for _, s := range stages {
		f.state = s.state
		if err := ctx.Err(); err != nil {
			f.state = StateError
			return &StageError{Stage: s.state, Kind: ErrCanceled, Msg: "context done", Cause: err}
		}
		if err := s.run(ctx); err != nil {
			f.state = StateError
			return err
		}
	}
	f.state = StateComplete
	return nil
}

func (f *flow) failedStage(err error) State {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return StateError
}

// fail builds the StageError for the current stage.
func (f *flow) fail(kind, cause error, format string, args ...any) error {
	return &StageError{Stage: f.state, Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// canceled reports ctx's error as a cancellation if ctx is done.
func (f *flow) canceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return f.fail(ErrCanceled, err, "context done")
	}
	return nil
}

func (f *flow) now() time.Time {
	return f.a.now()
}
