package cli

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/majorcontext/xboxauth/internal/credential"
	"github.com/majorcontext/xboxauth/internal/log"
	"github.com/majorcontext/xboxauth/internal/ui"
)

var (
	loginFresh   bool
	loginNoCache bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to Xbox Live",
	Long: `Sign in to Xbox Live, reusing cached tokens where they are still fresh.

A browser window opens for the Microsoft account sign-in only when no
usable user token or refresh token is cached.

Examples:
  xboxauth login
  xboxauth login --no-browser     # print the URL and code instead
  xboxauth login --fresh          # forget cached tokens and sign in again`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().BoolVar(&loginFresh, "fresh", false, "discard cached tokens before signing in")
	loginCmd.Flags().BoolVar(&loginNoCache, "no-cache", false, "request a new device token even if one is cached")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := store.EnsureDevice(); err != nil {
		return fmt.Errorf("loading device identity: %w", err)
	}
	if loginFresh {
		if err := store.Clear(credential.TokenKinds()...); err != nil {
			return fmt.Errorf("clearing cached tokens: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	res := <-newAuthenticator(store).Authenticate(ctx, !loginNoCache)
	if res.Err != nil {
		return res.Err
	}
	id := res.Identity
	log.Debug("signed in", "gamertag", id.Gamertag, "xuid", id.UserID)

	if jsonOut {
		return printJSON(newIdentityReport(id))
	}
	ui.Infof("Signed in as %s %s", ui.Bold(id.Gamertag), ui.Dim("(XUID "+id.UserID+")"))
	return nil
}
