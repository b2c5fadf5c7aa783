// Package browser opens verification URLs in the user's default browser.
package browser

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"

	pkgbrowser "github.com/pkg/browser"
)

func init() {
	// pkg/browser forwards the launcher's output to our stdout by default.
	pkgbrowser.Stdout = io.Discard
	pkgbrowser.Stderr = io.Discard
}

// Launcher opens URLs with the operating system's default handler.
type Launcher struct{}

// OpenURL opens url, failing if no browser can be launched.
func (Launcher) OpenURL(url string) error {
	if !IsAvailable() {
		return fmt.Errorf("no browser available to open %s", url)
	}
	if err := pkgbrowser.OpenURL(url); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}
	return nil
}

// launchers are the commands pkg/browser tries on Linux and the BSDs, in
// order.
var launchers = []string{"xdg-open", "x-www-browser", "www-browser"}

var lookPath = exec.LookPath

// IsAvailable reports whether a browser launch is likely to succeed. On Linux
// and the BSDs this needs a graphical session and one of the launchers.
func IsAvailable() bool {
	switch runtime.GOOS {
	case "darwin", "windows":
		return true
	}
	if os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
		return false
	}
	for _, name := range launchers {
		if _, err := lookPath(name); err == nil {
			return true
		}
	}
	return false
}
