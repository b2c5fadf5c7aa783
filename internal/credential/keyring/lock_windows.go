//go:build windows

package keyring

import "os"

// lockFile is a no-op on Windows, where Credential Manager normally holds the
// key and the file fallback is rarely raced.
func lockFile(_ *os.File) (unlock func(), err error) {
	return func() {}, nil
}
