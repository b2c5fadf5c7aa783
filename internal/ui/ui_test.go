package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetWriter(&buf)
	SetColorEnabled(false)
	t.Cleanup(func() { SetWriter(nil) })
	return &buf
}

func TestWarn(t *testing.T) {
	buf := capture(t)
	Warnf("cache %s unreadable", "file")

	if got := buf.String(); got != "Warning: cache file unreadable\n" {
		t.Errorf("Warnf output = %q", got)
	}
}

func TestError(t *testing.T) {
	buf := capture(t)
	Error("sign-in failed")

	if got := buf.String(); got != "Error: sign-in failed\n" {
		t.Errorf("Error output = %q", got)
	}
}

func TestColor(t *testing.T) {
	SetColorEnabled(true)
	defer SetColorEnabled(false)

	if got := Bold("x"); got != "\033[1mx\033[0m" {
		t.Errorf("Bold = %q", got)
	}
	SetColorEnabled(false)
	if got := Bold("x"); got != "x" {
		t.Errorf("Bold without color = %q", got)
	}
}

func TestSignInPrompt(t *testing.T) {
	tests := []struct {
		name    string
		browser bool
		want    string
	}{
		{"browser", true, "Opening your browser"},
		{"manual", false, "Open this URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := capture(t)
			SignInPrompt("https://login.live.com/oauth20_remoteconnect.srf?otc=ABCD", "ABCD", 15*time.Minute, tt.browser)

			out := buf.String()
			for _, s := range []string{tt.want, "otc=ABCD", "Code: ABCD", "15m0s"} {
				if !strings.Contains(out, s) {
					t.Errorf("output missing %q:\n%s", s, out)
				}
			}
		})
	}
}

func TestFields(t *testing.T) {
	SetColorEnabled(false)
	var buf bytes.Buffer
	Fields(&buf, [][2]string{{"Gamertag", "Player One"}, {"XUID", "2535"}})

	want := "Gamertag: Player One\nXUID:     2535\n"
	if got := buf.String(); got != want {
		t.Errorf("Fields = %q, want %q", got, want)
	}
}
