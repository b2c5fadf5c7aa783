// Package cli implements the xboxauth command-line interface using Cobra.
package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/majorcontext/xboxauth/internal/config"
	"github.com/majorcontext/xboxauth/internal/credential"
	"github.com/majorcontext/xboxauth/internal/log"
)

var (
	verbose      bool
	jsonOut      bool
	noBrowser    bool
	ephemeral    bool
	storeBackend string

	globalCfg *config.GlobalConfig
)

var rootCmd = &cobra.Command{
	Use:   "xboxauth",
	Short: "Sign in to Xbox Live and keep the identity fresh",
	Long: `xboxauth signs a device into Xbox Live and caches the resulting identity.

Sign-in runs in three steps: a Microsoft account device-code login, a
proof-of-possession device token, and the Sisu exchange that yields the
gamertag, XUID and the XBL3.0 authorization token. Tokens are cached and
refreshed automatically; the browser prompt only appears when no refresh
token is available.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadGlobal()
		if err != nil {
			return err
		}
		if storeBackend != "" {
			cfg.Store.Backend = storeBackend
		}
		if ephemeral {
			cfg.Store.Backend = credential.BackendMemory
		}
		if noBrowser {
			cfg.Auth.NoBrowser = true
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		globalCfg = cfg

		if err := log.Init(log.Options{
			Verbose:       verbose,
			JSONFormat:    jsonOut,
			DebugDir:      filepath.Join(config.GlobalConfigDir(), "debug"),
			RetentionDays: cfg.Debug.RetentionDays,
		}); err != nil {
			// Non-fatal: the default logger stays in place.
			cmd.PrintErrf("Warning: failed to initialize debug logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noBrowser, "no-browser", false, "print the sign-in URL instead of opening a browser (env: XBOXAUTH_NO_BROWSER)")
	rootCmd.PersistentFlags().BoolVar(&ephemeral, "ephemeral", false, "keep credentials in memory only")
	rootCmd.PersistentFlags().StringVar(&storeBackend, "store", "", "credential store backend: file, sqlite or memory (env: XBOXAUTH_STORE)")
}
