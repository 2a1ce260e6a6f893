package algorithm

import (
	"crypto/sha256"
	"crypto/sha512"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCurveTable(t *testing.T) {
	tests := []struct {
		name         string
		id           uint8
		digest       string
		digestLen    int
		maxSignature int
	}{
		{"secp256r1", 0x03, "sha256", 32, 70},
		{"secp384r1", 0x04, "sha384", 48, 102},
		{"secp521r1", 0x05, "sha512", 64, 138},
		{"brainpoolp256r1", 0x13, "sha256", 32, 70},
		{"brainpoolp384r1", 0x15, "sha384", 48, 102},
		{"brainpoolp512r1", 0x16, "sha512", 64, 134},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ResolveCurve(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.name, c.Name)
			assert.Equal(t, tt.id, c.ID)
			assert.Equal(t, tt.digest, c.Hash.Name)
			assert.Equal(t, tt.digestLen, c.DigestLen())
			assert.Equal(t, tt.maxSignature, c.MaxSignatureLen)

			again, err := ResolveCurve(tt.name)
			require.NoError(t, err)
			assert.Equal(t, c, again, "lookup must be deterministic")

			byID, ok := CurveByID(tt.id)
			require.True(t, ok)
			assert.Equal(t, c, byID)
		})
	}
	assert.Len(t, Curves(), len(tests))
}

func TestResolveCurveUnsupported(t *testing.T) {
	for _, name := range []string{"", "P-256", "secp256k1", "SECP256R1", "ed25519", "brainpoolp224r1"} {
		_, err := ResolveCurve(name)
		assert.ErrorIs(t, err, ErrUnsupportedCurve, "curve %q", name)
	}

	_, ok := CurveByID(0x42)
	assert.False(t, ok)
}

func TestCurvesReturnsCopy(t *testing.T) {
	cs := Curves()
	cs[0].Name = "mutated"

	c, err := ResolveCurve(DefaultCurve)
	require.NoError(t, err)
	assert.Equal(t, DefaultCurve, c.Name)
}

func TestResolveRSA(t *testing.T) {
	r, err := ResolveRSA(1024)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x41), r.TypeCode)
	assert.Equal(t, []byte{0x30, 0x81, 0x9f, 0x30, 0x0d, 0x06, 0x09, 0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x01, 0x01, 0x05, 0x00}, r.Header())
	assert.Equal(t, 128, r.KeyBytes())

	r, err = ResolveRSA(2048)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x42), r.TypeCode)
	assert.Equal(t, []byte{0x30, 0x82, 0x01, 0x22, 0x30, 0x0d, 0x06, 0x09, 0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x01, 0x01, 0x05, 0x00}, r.Header())

	byCode, ok := RSAByTypeCode(0x42)
	require.True(t, ok)
	assert.Equal(t, 2048, byCode.KeySize)
}

func TestResolveRSAUnsupported(t *testing.T) {
	for _, size := range []int{0, 512, 1023, 3072, 4096} {
		_, err := ResolveRSA(size)
		assert.ErrorIs(t, err, ErrUnsupportedKeySize, "size %d", size)
	}
}

func TestRSAHeaderIsCopy(t *testing.T) {
	r, err := ResolveRSA(2048)
	require.NoError(t, err)

	h := r.Header()
	h[0] = 0xff
	assert.Equal(t, byte(0x30), r.Header()[0])
}

func TestResolveRSAHash(t *testing.T) {
	h, err := ResolveRSAHash("sha256")
	require.NoError(t, err)
	assert.Equal(t, SchemeRSAPKCS1SHA256, h.Scheme)
	assert.Equal(t, 32, h.Size())

	h, err = ResolveRSAHash("sha384")
	require.NoError(t, err)
	assert.Equal(t, SchemeRSAPKCS1SHA384, h.Scheme)
	assert.Equal(t, 48, h.Size())

	for _, name := range []string{"sha512", "sha1", "md5", ""} {
		_, err := ResolveRSAHash(name)
		assert.ErrorIs(t, err, ErrUnsupportedHashAlgorithm, "hash %q", name)
	}

	back, ok := RSAHashByScheme(SchemeRSAPKCS1SHA384)
	require.True(t, ok)
	assert.Equal(t, "sha384", back.Name)
	_, ok = RSAHashByScheme(SchemeECDSA)
	assert.False(t, ok)
}

func TestHashDigest(t *testing.T) {
	data := []byte("abc")

	want256 := sha256.Sum256(data)
	assert.Equal(t, want256[:], SHA256.Digest(data))

	want384 := sha512.Sum384(data)
	assert.Equal(t, want384[:], SHA384.Digest(data))

	want512 := sha512.Sum512(data)
	assert.Equal(t, want512[:], SHA512.Digest(data))
}

func TestSchemeString(t *testing.T) {
	assert.Equal(t, "ecdsa", SchemeECDSA.String())
	assert.Equal(t, "rsa", SchemeRSAPKCS1SHA256.String())
	assert.Equal(t, "rsa", SchemeRSAPKCS1SHA384.String())
	assert.Equal(t, "unknown", Scheme(0x7f).String())
}
