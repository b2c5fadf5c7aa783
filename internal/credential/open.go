package credential

import (
	"fmt"
	"os"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open creates the TokenStore for the named backend rooted at dir.
func Open(backend, dir string) (*TokenStore, error) {
	switch backend {
	case "", BackendFile:
		key, err := DefaultEncryptionKey()
		if err != nil {
			return nil, fmt.Errorf("getting encryption key: %w", err)
		}
		fs, err := NewFileStore(dir, key)
		if err != nil {
			return nil, err
		}
		return NewTokenStore(fs), nil
	case BackendSQLite:
		db, err := OpenSQLiteStore(filepath.Join(dir, "tokens.db"))
		if err != nil {
			return nil, err
		}
		return NewTokenStore(db), nil
	case BackendMemory:
		return NewEphemeralStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (want %s, %s or %s)",
			backend, BackendFile, BackendSQLite, BackendMemory)
	}
}

// DefaultStoreDir returns the default credential directory.
func DefaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fall back to current directory if home is unavailable
		return filepath.Join(".", ".xboxauth", "credentials")
	}
	return filepath.Join(home, ".xboxauth", "credentials")
}
