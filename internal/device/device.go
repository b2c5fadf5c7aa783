// Package device manages the console-style device identity used for Xbox Live
// proof-of-possession requests.
//
// A device identity is an ECDSA P-256 key pair plus a UUID and serial number.
// It is generated once and persisted by the credential store. Every device
// and identity token issued by Xbox Live is bound to the key that signed the
// request, so rotating the key invalidates them.
package device

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNoPrivateKey is returned when a signing operation needs the private half
// of a key pair that was loaded public-only.
var ErrNoPrivateKey = errors.New("key pair has no private key")

// KeyPair is an ECDSA P-256 key pair. Public is always set; Private is nil for
// key pairs deserialized without the private half.
type KeyPair struct {
	Private *ecdsa.PrivateKey
	Public  *ecdsa.PublicKey
}

// GenerateKeyPair creates a new P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating device key: %w", err)
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// Identity is the persisted device identity. It is never mutated after New.
type Identity struct {
	UUID         string
	SerialNumber string
	Key          *KeyPair
	CreatedAt    time.Time
}

// New generates a fresh device identity.
func New() (*Identity, error) {
	key, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Identity{
		UUID:         uuid.NewString(),
		SerialNumber: uuid.NewString(),
		Key:          key,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// BracedUUID returns the UUID in the "{...}" form Xbox Live expects.
func (d *Identity) BracedUUID() string {
	return "{" + d.UUID + "}"
}

// BracedSerial returns the serial number in "{...}" form.
func (d *Identity) BracedSerial() string {
	return "{" + d.SerialNumber + "}"
}

const (
	pemPrivateType = "PRIVATE KEY"
	pemPublicType  = "PUBLIC KEY"
)

// MarshalKeyPair encodes k as PEM. With includePrivate the PKCS#8 private key
// is emitted, otherwise only the PKIX public key.
func MarshalKeyPair(k *KeyPair, includePrivate bool) (string, error) {
	if k == nil || k.Public == nil {
		return "", fmt.Errorf("marshaling key pair: missing public key")
	}
	if includePrivate {
		if k.Private == nil {
			return "", ErrNoPrivateKey
		}
		der, err := x509.MarshalPKCS8PrivateKey(k.Private)
		if err != nil {
			return "", fmt.Errorf("marshaling private key: %w", err)
		}
		return string(pem.EncodeToMemory(&pem.Block{Type: pemPrivateType, Bytes: der})), nil
	}
	der, err := x509.MarshalPKIXPublicKey(k.Public)
	if err != nil {
		return "", fmt.Errorf("marshaling public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemPublicType, Bytes: der})), nil
}

// UnmarshalKeyPair is the inverse of MarshalKeyPair.
func UnmarshalKeyPair(s string, includePrivate bool) (*KeyPair, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(s)))
	if block == nil {
		return nil, fmt.Errorf("decoding key pair: no PEM block")
	}

	if includePrivate {
		if block.Type != pemPrivateType {
			return nil, fmt.Errorf("decoding key pair: expected %s, got %s", pemPrivateType, block.Type)
		}
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		priv, ok := parsed.(*ecdsa.PrivateKey)
		if !ok || priv.Curve != elliptic.P256() {
			return nil, fmt.Errorf("parsing private key: not a P-256 ECDSA key")
		}
		return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
	}

	if block.Type != pemPublicType {
		return nil, fmt.Errorf("decoding key pair: expected %s, got %s", pemPublicType, block.Type)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("parsing public key: not a P-256 ECDSA key")
	}
	return &KeyPair{Public: pub}, nil
}

type identityJSON struct {
	UUID         string    `json:"uuid"`
	SerialNumber string    `json:"serial_number"`
	PrivateKey   string    `json:"private_key"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// MarshalJSON stores the identity including its private key.
func (d Identity) MarshalJSON() ([]byte, error) {
	key, err := MarshalKeyPair(d.Key, true)
	if err != nil {
		return nil, err
	}
	return json.Marshal(identityJSON{
		UUID:         d.UUID,
		SerialNumber: d.SerialNumber,
		PrivateKey:   key,
		CreatedAt:    d.CreatedAt,
	})
}

// UnmarshalJSON restores an identity written by MarshalJSON.
func (d *Identity) UnmarshalJSON(data []byte) error {
	var raw identityJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.UUID == "" || raw.SerialNumber == "" {
		return fmt.Errorf("device identity: missing uuid or serial number")
	}
	key, err := UnmarshalKeyPair(raw.PrivateKey, true)
	if err != nil {
		return err
	}
	*d = Identity{
		UUID:         raw.UUID,
		SerialNumber: raw.SerialNumber,
		Key:          key,
		CreatedAt:    raw.CreatedAt,
	}
	return nil
}
