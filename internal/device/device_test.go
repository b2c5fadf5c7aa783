package device

import (
	"encoding/binary"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	id, err := New()
	require.NoError(t, err)

	assert.NotEmpty(t, id.UUID)
	assert.NotEmpty(t, id.SerialNumber)
	assert.NotEqual(t, id.UUID, id.SerialNumber)
	require.NotNil(t, id.Key)
	assert.NotNil(t, id.Key.Private)
	assert.True(t, strings.HasPrefix(id.BracedUUID(), "{"))
	assert.True(t, strings.HasSuffix(id.BracedSerial(), "}"))
}

func TestKeyPairRoundTrip(t *testing.T) {
	key, err := GenerateKeyPair()
	require.NoError(t, err)

	t.Run("private", func(t *testing.T) {
		s, err := MarshalKeyPair(key, true)
		require.NoError(t, err)
		assert.Contains(t, s, "BEGIN PRIVATE KEY")

		got, err := UnmarshalKeyPair(s, true)
		require.NoError(t, err)
		require.NotNil(t, got.Private)
		assert.True(t, key.Private.Equal(got.Private))
		assert.True(t, key.Public.Equal(got.Public))
	})

	t.Run("public only", func(t *testing.T) {
		s, err := MarshalKeyPair(key, false)
		require.NoError(t, err)
		assert.Contains(t, s, "BEGIN PUBLIC KEY")

		got, err := UnmarshalKeyPair(s, false)
		require.NoError(t, err)
		assert.Nil(t, got.Private)
		assert.True(t, key.Public.Equal(got.Public))
	})

	t.Run("type mismatch", func(t *testing.T) {
		s, err := MarshalKeyPair(key, false)
		require.NoError(t, err)
		_, err = UnmarshalKeyPair(s, true)
		assert.Error(t, err)
	})

	t.Run("public only cannot emit private", func(t *testing.T) {
		_, err := MarshalKeyPair(&KeyPair{Public: key.Public}, true)
		assert.ErrorIs(t, err, ErrNoPrivateKey)
	})
}

func TestIdentityJSON(t *testing.T) {
	id, err := New()
	require.NoError(t, err)

	data, err := json.Marshal(id)
	require.NoError(t, err)

	var got Identity
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, id.UUID, got.UUID)
	assert.Equal(t, id.SerialNumber, got.SerialNumber)
	assert.True(t, id.Key.Private.Equal(got.Key.Private))
}

func TestIdentityJSON_MissingFields(t *testing.T) {
	var got Identity
	err := json.Unmarshal([]byte(`{"uuid":"","serial_number":"x"}`), &got)
	assert.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	key, err := GenerateKeyPair()
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	signer := Signer{Now: func() time.Time { return now }}
	endpoint := "https://device.auth.xboxlive.com/device/authenticate"
	body := []byte(`{"hello":"world"}`)

	sig, err := signer.Sign(key, endpoint, "", body)
	require.NoError(t, err)
	require.Len(t, sig, signatureSize)

	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(sig[0:4]))
	assert.Equal(t, toFiletime(now), binary.BigEndian.Uint64(sig[4:12]))

	pub := &KeyPair{Public: key.Public}
	assert.NoError(t, Verify(pub, endpoint, "", body, sig))

	t.Run("tampered body", func(t *testing.T) {
		assert.ErrorIs(t, Verify(pub, endpoint, "", []byte(`{"hello":"moon"}`), sig), ErrBadSignature)
	})
	t.Run("different path", func(t *testing.T) {
		assert.ErrorIs(t, Verify(pub, "https://sisu.xboxlive.com/authorize", "", body, sig), ErrBadSignature)
	})
	t.Run("different authorization", func(t *testing.T) {
		assert.ErrorIs(t, Verify(pub, endpoint, "XBL3.0 x=1;t", body, sig), ErrBadSignature)
	})
	t.Run("header round trip", func(t *testing.T) {
		decoded, err := DecodeSignature(EncodeSignature(sig))
		require.NoError(t, err)
		assert.Equal(t, sig, decoded)
	})
}

func TestSign_RequiresPrivateKey(t *testing.T) {
	key, err := GenerateKeyPair()
	require.NoError(t, err)

	_, err = Signer{}.Sign(&KeyPair{Public: key.Public}, "https://example.com/", "", nil)
	assert.ErrorIs(t, err, ErrNoPrivateKey)
}

func TestToFiletime(t *testing.T) {
	// 1970-01-01 in FILETIME ticks.
	assert.Equal(t, uint64(116444736000000000), toFiletime(time.Unix(0, 0)))
	assert.Equal(t, uint64(116444736000000001), toFiletime(time.Unix(0, 100)))
}

func TestProofKey(t *testing.T) {
	key, err := GenerateKeyPair()
	require.NoError(t, err)

	raw, err := Signer{}.ProofKey(key)
	require.NoError(t, err)

	var jwk map[string]string
	require.NoError(t, json.Unmarshal(raw, &jwk))
	assert.Equal(t, "P-256", jwk["crv"])
	assert.Equal(t, "ES256", jwk["alg"])
	assert.Equal(t, "sig", jwk["use"])
	assert.Equal(t, "EC", jwk["kty"])
	assert.Len(t, jwk["x"], 43)
	assert.Len(t, jwk["y"], 43)

	parsed, err := ParseProofKey(raw)
	require.NoError(t, err)
	assert.True(t, key.Public.Equal(parsed.Public))
}

func TestParseProofKey_Invalid(t *testing.T) {
	_, err := ParseProofKey([]byte(`{"kty":"RSA","crv":"P-256"}`))
	assert.Error(t, err)

	_, err = ParseProofKey([]byte(`not json`))
	assert.Error(t, err)
}
