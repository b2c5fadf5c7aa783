package credential

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/majorcontext/xboxauth/internal/device"
)

// Store is the view of persisted state the authentication flow reads and
// writes. Getters return an error wrapping ErrNotFound for absent records.
type Store interface {
	Device() (*device.Identity, error)
	UserToken() (*Token, error)
	UserRefreshToken() (*Token, error)
	SetUserToken(deviceCode string, user, refresh Token) error
	DeviceToken() (*Token, error)
	SetDeviceToken(token Token) error
	Identity() (*Identity, error)
	SetIdentity(identity Identity) error
	DeviceCode() (string, error)
}

// TokenStore implements Store on top of a Backend.
type TokenStore struct {
	backend Backend
}

// NewTokenStore wraps backend.
func NewTokenStore(backend Backend) *TokenStore {
	return &TokenStore{backend: backend}
}

// NewEphemeralStore returns a TokenStore backed by memory.
func NewEphemeralStore() *TokenStore {
	return NewTokenStore(NewMemoryStore())
}

func (s *TokenStore) put(kind Kind, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", kind, err)
	}
	return s.backend.Put(kind, data)
}

func (s *TokenStore) get(kind Kind, v any) error {
	data, err := s.backend.Get(kind)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshaling %s: %w", kind, err)
	}
	return nil
}

func (s *TokenStore) Device() (*device.Identity, error) {
	var d device.Identity
	if err := s.get(KindDevice, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// SetDevice replaces the device identity. Tokens issued for a previous
// device are cleared since they are bound to its key.
func (s *TokenStore) SetDevice(d *device.Identity) error {
	if err := s.put(KindDevice, d); err != nil {
		return err
	}
	return s.Clear(KindDeviceToken, KindIdentity)
}

// EnsureDevice loads the device identity, generating and persisting one on
// first use.
func (s *TokenStore) EnsureDevice() (*device.Identity, error) {
	d, err := s.Device()
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	d, err = device.New()
	if err != nil {
		return nil, err
	}
	if err := s.put(KindDevice, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *TokenStore) token(kind Kind) (*Token, error) {
	var t Token
	if err := s.get(kind, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *TokenStore) UserToken() (*Token, error)        { return s.token(KindUserToken) }
func (s *TokenStore) UserRefreshToken() (*Token, error) { return s.token(KindRefreshToken) }
func (s *TokenStore) DeviceToken() (*Token, error)      { return s.token(KindDeviceToken) }

// SetUserToken stores the OAuth token pair together with the device code
// they were issued for. The refresh token is written first; a failure
// part way leaves a valid refresh token next to a stale user token, which
// the next refresh replaces.
func (s *TokenStore) SetUserToken(deviceCode string, user, refresh Token) error {
	if err := s.put(KindRefreshToken, refresh); err != nil {
		return err
	}
	if err := s.put(KindUserToken, user); err != nil {
		return err
	}
	return s.put(KindDeviceCode, deviceCode)
}

func (s *TokenStore) SetDeviceToken(token Token) error {
	return s.put(KindDeviceToken, token)
}

func (s *TokenStore) Identity() (*Identity, error) {
	var id Identity
	if err := s.get(KindIdentity, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *TokenStore) SetIdentity(identity Identity) error {
	return s.put(KindIdentity, identity)
}

func (s *TokenStore) DeviceCode() (string, error) {
	var code string
	if err := s.get(KindDeviceCode, &code); err != nil {
		return "", err
	}
	return code, nil
}

// Clear deletes the given records. With no kinds it clears every token
// record but keeps the device identity.
func (s *TokenStore) Clear(kinds ...Kind) error {
	if len(kinds) == 0 {
		kinds = TokenKinds()
	}
	var errs []error
	for _, k := range kinds {
		if err := s.backend.Delete(k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases the backend.
func (s *TokenStore) Close() error {
	return s.backend.Close()
}
