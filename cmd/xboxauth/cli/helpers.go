package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/majorcontext/xboxauth/internal/auth"
	"github.com/majorcontext/xboxauth/internal/browser"
	"github.com/majorcontext/xboxauth/internal/credential"
	"github.com/majorcontext/xboxauth/internal/ui"
)

func openStore() (*credential.TokenStore, error) {
	store, err := credential.Open(globalCfg.Store.Backend, globalCfg.Store.Dir)
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}
	return store, nil
}

// newAuthenticator wires the configured flow to the terminal.
func newAuthenticator(store credential.Store) *auth.Authenticator {
	a := auth.New(auth.ConfigFrom(globalCfg), store)
	if !a.Config.NoBrowser && !browser.IsAvailable() {
		a.Config.NoBrowser = true
	}
	a.Prompt = func(v auth.Verification) {
		ui.SignInPrompt(v.URL, v.UserCode, v.ExpiresIn, !a.Config.NoBrowser)
	}
	return a
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
