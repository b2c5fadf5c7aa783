package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/majorcontext/xboxauth/internal/credential/keyring"
)

// Backend persists opaque records by kind. Get returns ErrNotFound for
// records that were never written or have been deleted.
type Backend interface {
	Put(kind Kind, data []byte) error
	Get(kind Kind) ([]byte, error)
	Delete(kind Kind) error
	Close() error
}

// FileStore implements Backend using AES-GCM encrypted files, one per kind.
type FileStore struct {
	dir    string
	cipher cipher.AEAD
}

// NewFileStore creates a file-based backend.
// key must be 32 bytes for AES-256.
func NewFileStore(dir string, key []byte) (*FileStore, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating credential dir: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &FileStore{dir: dir, cipher: gcm}, nil
}

func (s *FileStore) path(kind Kind) string {
	return filepath.Join(s.dir, string(kind)+".enc")
}

// Put encrypts data and writes it atomically.
func (s *FileStore) Put(kind Kind, data []byte) error {
	nonce := make([]byte, s.cipher.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}

	// The kind is bound as additional data so records cannot be swapped
	// between files.
	encrypted := s.cipher.Seal(nonce, nonce, data, []byte(kind))

	tmp := s.path(kind) + ".tmp"
	if err := os.WriteFile(tmp, encrypted, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", kind, err)
	}
	if err := os.Rename(tmp, s.path(kind)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", kind, err)
	}
	return nil
}

// Get reads and decrypts the record for kind.
func (s *FileStore) Get(kind Kind) ([]byte, error) {
	encrypted, err := os.ReadFile(s.path(kind))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, kind)
		}
		return nil, fmt.Errorf("reading %s: %w", kind, err)
	}

	nonceSize := s.cipher.NonceSize()
	if len(encrypted) < nonceSize {
		return nil, fmt.Errorf("invalid %s file", kind)
	}

	nonce, ciphertext := encrypted[:nonceSize], encrypted[nonceSize:]
	data, err := s.cipher.Open(nil, nonce, ciphertext, []byte(kind))
	if err != nil {
		return nil, fmt.Errorf("decrypting %s: %w\n"+
			"  This may indicate the encryption key has changed.\n"+
			"  To start over: xboxauth logout && xboxauth login", kind, err)
	}
	return data, nil
}

// Delete removes the record for kind. Missing records are not an error.
func (s *FileStore) Delete(kind Kind) error {
	if err := os.Remove(s.path(kind)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting %s: %w", kind, err)
	}
	return nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }

// DefaultEncryptionKey retrieves the file store key from secure storage.
// Uses system keychain when available, falls back to file-based storage.
func DefaultEncryptionKey() ([]byte, error) {
	return keyring.GetOrCreateKey()
}
