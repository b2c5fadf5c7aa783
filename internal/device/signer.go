package device

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"time"
)

const (
	// signaturePolicyVersion is the only signing policy Xbox Live accepts for
	// device and Sisu requests.
	signaturePolicyVersion uint32 = 1

	// signedMethod is fixed: every signed request we issue is a POST.
	signedMethod = "POST"

	// windowsEpochOffset is the number of seconds between 1601-01-01 and the
	// unix epoch.
	windowsEpochOffset = 11644473600

	coordinateSize = 32
	signatureSize  = 4 + 8 + 2*coordinateSize
)

// ErrBadSignature is returned by Verify when a signature does not match.
var ErrBadSignature = errors.New("signature verification failed")

// Signer produces Xbox Live request signatures with a device key.
type Signer struct {
	// Now returns the signing timestamp. Defaults to time.Now.
	Now func() time.Time
}

func (s Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Sign signs a request to endpoint. authorization is the value of the
// Authorization header that accompanies the request, empty for device
// authentication and Sisu. The returned bytes are the raw signature header
// payload: policy version, FILETIME, then r||s.
func (s Signer) Sign(key *KeyPair, endpoint, authorization string, body []byte) ([]byte, error) {
	if key == nil || key.Private == nil {
		return nil, ErrNoPrivateKey
	}
	filetime := toFiletime(s.now())

	digest, err := signingDigest(filetime, endpoint, authorization, body)
	if err != nil {
		return nil, err
	}

	r, sv, err := ecdsa.Sign(rand.Reader, key.Private, digest)
	if err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}

	out := make([]byte, signatureSize)
	binary.BigEndian.PutUint32(out[0:4], signaturePolicyVersion)
	binary.BigEndian.PutUint64(out[4:12], filetime)
	r.FillBytes(out[12 : 12+coordinateSize])
	sv.FillBytes(out[12+coordinateSize:])
	return out, nil
}

// Verify checks a signature produced by Sign against the public key.
func Verify(pub *KeyPair, endpoint, authorization string, body, sig []byte) error {
	if pub == nil || pub.Public == nil {
		return fmt.Errorf("verify: missing public key")
	}
	if len(sig) != signatureSize {
		return fmt.Errorf("%w: length %d", ErrBadSignature, len(sig))
	}
	if v := binary.BigEndian.Uint32(sig[0:4]); v != signaturePolicyVersion {
		return fmt.Errorf("%w: policy version %d", ErrBadSignature, v)
	}
	filetime := binary.BigEndian.Uint64(sig[4:12])

	digest, err := signingDigest(filetime, endpoint, authorization, body)
	if err != nil {
		return err
	}
	r := new(big.Int).SetBytes(sig[12 : 12+coordinateSize])
	sv := new(big.Int).SetBytes(sig[12+coordinateSize:])
	if !ecdsa.Verify(pub.Public, digest, r, sv) {
		return ErrBadSignature
	}
	return nil
}

// EncodeSignature renders a signature for the "signature" request header.
func EncodeSignature(sig []byte) string {
	return base64.StdEncoding.EncodeToString(sig)
}

// DecodeSignature parses a "signature" header value.
func DecodeSignature(header string) ([]byte, error) {
	sig, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("decoding signature header: %w", err)
	}
	return sig, nil
}

func signingDigest(filetime uint64, endpoint, authorization string, body []byte) ([]byte, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing signed endpoint: %w", err)
	}
	pathAndQuery := u.EscapedPath()
	if u.RawQuery != "" {
		pathAndQuery += "?" + u.RawQuery
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, signaturePolicyVersion)
	buf.WriteByte(0)
	_ = binary.Write(&buf, binary.BigEndian, filetime)
	buf.WriteByte(0)
	buf.WriteString(signedMethod)
	buf.WriteByte(0)
	buf.WriteString(pathAndQuery)
	buf.WriteByte(0)
	buf.WriteString(authorization)
	buf.WriteByte(0)
	buf.Write(body)
	buf.WriteByte(0)

	sum := sha256.Sum256(buf.Bytes())
	return sum[:], nil
}

// toFiletime converts t to a Windows FILETIME (100ns ticks since 1601).
func toFiletime(t time.Time) uint64 {
	return uint64(t.Unix()+windowsEpochOffset)*10_000_000 + uint64(t.Nanosecond()/100)
}

// proofKey is the JWK form of the device public key.
type proofKey struct {
	Crv string `json:"crv"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	Kty string `json:"kty"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// ProofKey exports the public half of key as the JWK fragment embedded in
// signed request bodies.
func (Signer) ProofKey(key *KeyPair) (json.RawMessage, error) {
	if key == nil || key.Public == nil {
		return nil, fmt.Errorf("proof key: missing public key")
	}
	x := make([]byte, coordinateSize)
	y := make([]byte, coordinateSize)
	key.Public.X.FillBytes(x)
	key.Public.Y.FillBytes(y)

	data, err := json.Marshal(proofKey{
		Crv: "P-256",
		Alg: "ES256",
		Use: "sig",
		Kty: "EC",
		X:   base64.RawURLEncoding.EncodeToString(x),
		Y:   base64.RawURLEncoding.EncodeToString(y),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling proof key: %w", err)
	}
	return data, nil
}

// ParseProofKey reads a JWK produced by ProofKey back into a public-only key pair.
func ParseProofKey(raw []byte) (*KeyPair, error) {
	var jwk proofKey
	if err := json.Unmarshal(raw, &jwk); err != nil {
		return nil, fmt.Errorf("parsing proof key: %w", err)
	}
	if jwk.Kty != "EC" || jwk.Crv != "P-256" {
		return nil, fmt.Errorf("parsing proof key: unsupported key %s/%s", jwk.Kty, jwk.Crv)
	}
	x, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("parsing proof key x: %w", err)
	}
	y, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("parsing proof key y: %w", err)
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}
	if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
		return nil, fmt.Errorf("parsing proof key: point not on curve")
	}
	return &KeyPair{Public: pub}, nil
}
