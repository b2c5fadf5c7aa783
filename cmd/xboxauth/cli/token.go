package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/majorcontext/xboxauth/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the Authorization header for Xbox Live requests",
	Long: `Print the XBL3.0 Authorization header value, refreshing the identity
first if it is close to expiry. Never prompts; run "xboxauth login" first.

Examples:
  curl -H "Authorization: $(xboxauth token)" -H "x-xbl-contract-version: 2" \
    https://profile.xboxlive.com/users/me/profile/settings?settings=Gamertag`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	id, ok := auth.NewGate(newAuthenticator(store)).Identity(cmd.Context())
	if !ok {
		return errors.New(`not signed in to Xbox Live; run "xboxauth login"`)
	}

	if jsonOut {
		return printJSON(map[string]any{
			"authorization": id.AuthorizationHeader(),
			"gamertag":      id.Gamertag,
			"xuid":          id.UserID,
			"expires":       id.Token.Expires,
		})
	}
	// No trailing newline when captured by a script.
	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println(id.AuthorizationHeader())
	} else {
		fmt.Print(id.AuthorizationHeader())
	}
	return nil
}
