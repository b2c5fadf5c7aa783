package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majorcontext/xboxauth/internal/credential"
	"github.com/majorcontext/xboxauth/internal/credential/keyring"
	"github.com/majorcontext/xboxauth/internal/log"
	"github.com/majorcontext/xboxauth/internal/ui"
)

var logoutAll bool

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove cached tokens",
	Long: `Remove cached user, device and identity tokens. The device identity is
kept so the next sign-in presents the same device to Xbox Live.

With --all the device identity and the store encryption key are removed too.`,
	Args: cobra.NoArgs,
	RunE: runLogout,
}

func init() {
	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "also delete the device identity and encryption key")
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	kinds := credential.TokenKinds()
	if logoutAll {
		kinds = append(kinds, credential.KindDevice)
	}
	if err := store.Clear(kinds...); err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}

	if logoutAll && globalCfg.Store.Backend == credential.BackendFile {
		if err := keyring.DeleteKey(); err != nil {
			ui.Warnf("could not delete store key: %v", err)
		}
	}

	log.Info("credentials cleared", "all", logoutAll)
	ui.Info("Signed out of Xbox Live")
	return nil
}
