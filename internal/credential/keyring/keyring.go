// Package keyring stores the key that encrypts the on-disk credential store.
//
// The system keychain (macOS Keychain, Secret Service, Windows Credential
// Manager) is tried first. Where it is unavailable, such as on headless hosts
// and in containers, the key lives in ~/.xboxauth/store.key with 0600
// permissions. Key creation runs under a file lock so two processes logging in
// at once agree on a single key.
package keyring

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// ServiceName is the default keyring service identifier.
	ServiceName = "xboxauth"
	// AccountName is the keyring account holding the store key.
	AccountName = "store-key"
	// KeySize is the required key size in bytes (AES-256).
	KeySize = 32

	// serviceEnv overrides ServiceName so tests do not touch the real entry.
	serviceEnv = "XBOXAUTH_KEYRING_SERVICE"
)

var (
	// ErrInsecurePermissions is returned when the key file is readable by others.
	ErrInsecurePermissions = errors.New("key file has insecure permissions")
	// ErrNoHomeDirectory is returned when no home directory can hold the key file.
	ErrNoHomeDirectory = errors.New("could not determine home directory for key storage")
)

func serviceName() string {
	if name := os.Getenv(serviceEnv); name != "" {
		return name
	}
	return ServiceName
}

func encodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid key encoding: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length: expected %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// Backend is a place the store key can live.
type Backend interface {
	Get() ([]byte, error)
	// Set stores key unless a key already exists.
	Set(key []byte) error
	Delete() error
	Name() string
}

type keychainBackend struct{}

func (keychainBackend) Get() ([]byte, error) {
	encoded, err := keyring.Get(serviceName(), AccountName)
	if err != nil {
		return nil, fmt.Errorf("keychain get: %w", err)
	}
	return decodeKey(encoded)
}

func (keychainBackend) Set(key []byte) error {
	if _, err := keyring.Get(serviceName(), AccountName); err == nil {
		return nil
	}
	if err := keyring.Set(serviceName(), AccountName, encodeKey(key)); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

func (keychainBackend) Delete() error {
	if err := keyring.Delete(serviceName(), AccountName); err != nil {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}

func (keychainBackend) Name() string { return "system keychain" }

type fileBackend struct {
	path string
}

func (f *fileBackend) Get() ([]byte, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return nil, fmt.Errorf("%w: %s has permissions %04o (expected 0600).\n"+
			"  Run: chmod 600 %s\n"+
			"  then sign in again with: xboxauth logout && xboxauth login",
			ErrInsecurePermissions, f.path, perm, f.path)
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	return decodeKey(strings.TrimSpace(string(data)))
}

func (f *fileBackend) Set(key []byte) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	if _, err := os.Stat(f.path); err == nil {
		return nil
	}
	if err := os.WriteFile(f.path, []byte(encodeKey(key)), 0600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}

func (f *fileBackend) Delete() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting key file: %w", err)
	}
	return nil
}

func (f *fileBackend) Name() string { return "file (" + f.path + ")" }

func baseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		if env := os.Getenv("HOME"); env != "" {
			return filepath.Join(env, ".xboxauth"), nil
		}
		return "", fmt.Errorf("%w: set $HOME", ErrNoHomeDirectory)
	}
	return filepath.Join(home, ".xboxauth"), nil
}

// DefaultKeyFilePath returns the fallback key file path. When the service
// name is overridden the file is named after it.
func DefaultKeyFilePath() (string, error) {
	dir, err := baseDir()
	if err != nil {
		return "", err
	}
	name := "store.key"
	if s := os.Getenv(serviceEnv); s != "" {
		name = s + ".key"
	}
	return filepath.Join(dir, name), nil
}

func generateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating random key: %w", err)
	}
	return key, nil
}

// withLock runs fn holding an exclusive lock on lockPath.
func withLock(lockPath string, fn func() ([]byte, error)) ([]byte, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0700); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating key lock file: %w", err)
	}
	defer lf.Close()

	unlock, err := lockFile(lf)
	if err != nil {
		return nil, fmt.Errorf("acquiring key lock: %w", err)
	}
	defer unlock()

	return fn()
}

// getOrCreate returns the key from primary or fallback, creating it in the
// first backend that accepts it. The stored key is always re-read so that a
// key written by a concurrent process wins over the one generated here.
func getOrCreate(primary, fallback Backend) ([]byte, error) {
	if key, err := primary.Get(); err == nil {
		return key, nil
	}
	if key, err := fallback.Get(); err == nil {
		return key, nil
	}

	key, err := generateKey()
	if err != nil {
		return nil, err
	}

	store := primary
	primaryErr := primary.Set(key)
	if primaryErr != nil {
		slog.Info("system keychain unavailable, using file-based key storage",
			"fallback", fallback.Name(), "error", primaryErr)
		if err := fallback.Set(key); err != nil {
			return nil, fmt.Errorf("storing store key failed.\n"+
				"  Keychain (%s): %v\n"+
				"  File (%s): %v",
				primary.Name(), primaryErr, fallback.Name(), err)
		}
		store = fallback
	}

	stored, err := store.Get()
	if err != nil {
		return nil, fmt.Errorf("verifying stored key in %s: %w", store.Name(), err)
	}
	return stored, nil
}

// GetOrCreateKey returns the store key, generating it on first use.
func GetOrCreateKey() ([]byte, error) {
	path, err := DefaultKeyFilePath()
	if err != nil {
		return nil, err
	}
	return withLock(path+".lock", func() ([]byte, error) {
		return getOrCreate(keychainBackend{}, &fileBackend{path: path})
	})
}

// DeleteKey removes the store key from both backends. It succeeds if either
// deletion succeeds.
func DeleteKey() error {
	var fallback Backend = &fileBackend{}
	if path, err := DefaultKeyFilePath(); err == nil {
		fallback = &fileBackend{path: path}
	}

	kerr := keychainBackend{}.Delete()
	ferr := fallback.Delete()
	if kerr != nil && ferr != nil {
		return fmt.Errorf("deleting store key: %w", errors.Join(
			fmt.Errorf("keychain: %w", kerr),
			fmt.Errorf("file: %w", ferr),
		))
	}
	return nil
}
