package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/majorcontext/xboxauth/internal/credential"
	"github.com/majorcontext/xboxauth/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cached device, tokens and identity",
	Long: `Show what is cached, without contacting Xbox Live.

A token is reported usable only while more than 15 minutes remain before it
expires.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type tokenReport struct {
	Present bool       `json:"present"`
	Usable  bool       `json:"usable"`
	Expires *time.Time `json:"expires,omitempty"`
}

type identityReport struct {
	Gamertag string    `json:"gamertag"`
	XUID     string    `json:"xuid"`
	UserHash string    `json:"user_hash"`
	Expires  time.Time `json:"expires"`
}

type statusReport struct {
	DeviceID     string          `json:"device_id,omitempty"`
	UserToken    tokenReport     `json:"user_token"`
	RefreshToken tokenReport     `json:"refresh_token"`
	DeviceToken  tokenReport     `json:"device_token"`
	Identity     *identityReport `json:"identity,omitempty"`
	SignedIn     bool            `json:"signed_in"`
}

func newIdentityReport(id *credential.Identity) *identityReport {
	return &identityReport{
		Gamertag: id.Gamertag,
		XUID:     id.UserID,
		UserHash: id.UserHash,
		Expires:  id.Token.Expires,
	}
}

func reportToken(tok *credential.Token, err error, now time.Time) tokenReport {
	if err != nil {
		return tokenReport{}
	}
	r := tokenReport{Present: tok.Value != "", Usable: tok.Usable(now)}
	if !tok.Expires.IsZero() {
		exp := tok.Expires
		r.Expires = &exp
	}
	return r
}

// buildStatus summarizes store at now. Missing records are reported as
// absent; any other read error is returned.
func buildStatus(store credential.Store, now time.Time) (*statusReport, error) {
	var r statusReport

	dev, err := store.Device()
	switch {
	case err == nil:
		r.DeviceID = dev.UUID
	case !errors.Is(err, credential.ErrNotFound):
		return nil, err
	}

	user, err := store.UserToken()
	r.UserToken = reportToken(user, err, now)
	refresh, err := store.UserRefreshToken()
	r.RefreshToken = reportToken(refresh, err, now)
	// Refresh tokens carry no expiry; presence is what matters.
	r.RefreshToken.Usable = r.RefreshToken.Present
	devTok, err := store.DeviceToken()
	r.DeviceToken = reportToken(devTok, err, now)

	id, err := store.Identity()
	switch {
	case err == nil:
		r.Identity = newIdentityReport(id)
		r.SignedIn = id.Usable(now) || r.RefreshToken.Present
	case !errors.Is(err, credential.ErrNotFound):
		return nil, err
	}
	return &r, nil
}

func describeToken(t tokenReport, now time.Time) string {
	switch {
	case !t.Present:
		return ui.Dim("none")
	case t.Expires == nil:
		return ui.Green("present")
	case t.Usable:
		return ui.Green("valid") + ui.Dim(fmt.Sprintf(" (expires in %s)", t.Expires.Sub(now).Round(time.Minute)))
	default:
		return "expired " + ui.Dim(t.Expires.Local().Format(time.DateTime))
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	now := time.Now()
	r, err := buildStatus(store, now)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(r)
	}

	device := r.DeviceID
	if device == "" {
		device = ui.Dim("not created (run xboxauth login)")
	}
	rows := [][2]string{
		{"Device", device},
		{"User token", describeToken(r.UserToken, now)},
		{"Refresh token", describeToken(r.RefreshToken, now)},
		{"Device token", describeToken(r.DeviceToken, now)},
	}
	if r.Identity != nil {
		rows = append(rows,
			[2]string{"Gamertag", r.Identity.Gamertag},
			[2]string{"XUID", r.Identity.XUID},
			[2]string{"Identity", describeToken(tokenReport{
				Present: true,
				Usable:  now.Before(r.Identity.Expires.Add(-credential.FreshnessMargin)),
				Expires: &r.Identity.Expires,
			}, now)},
		)
	} else {
		rows = append(rows, [2]string{"Identity", ui.Dim("not signed in")})
	}
	ui.Fields(os.Stdout, rows)
	return nil
}
