package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHMAC256_IsDeterministicAndKeyed(t *testing.T) {
	a := ComputeHMAC256([]byte("payload"), "secret1")
	b := ComputeHMAC256([]byte("payload"), "secret1")
	c := ComputeHMAC256([]byte("payload"), "secret2")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestVerifyHMAC_AcceptsMatchingSignatureOnly(t *testing.T) {
	sig := ComputeHMAC256([]byte("body"), "secret")
	assert.True(t, VerifyHMAC("secret", []byte("body"), sig))
	assert.False(t, VerifyHMAC("secret", []byte("body"), sig+"x"))
	assert.False(t, VerifyHMAC("wrong", []byte("body"), sig))
}

func TestSha256HashHex_MatchesRawDigestHexEncoded(t *testing.T) {
	raw := Sha256Hash("es_live_abc")
	assert.Equal(t, Sha256HashHex("es_live_abc"), hexEncode(raw))
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}

// Key.one-time-plaintext depends on hashing being one-way and stable: the
// same plaintext always hashes identically, so validate() can compare by
// hash without ever storing the plaintext.
func TestSha256HashHex_IsStablePerInput(t *testing.T) {
	assert.Equal(t, Sha256HashHex("same"), Sha256HashHex("same"))
	assert.NotEqual(t, Sha256HashHex("same"), Sha256HashHex("different"))
}

func TestHashPasswordAndCheck_RoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("correct horse battery staple", hash))
	assert.False(t, CheckPasswordHash("wrong", hash))
}

func TestRandomHex_ProducesDistinctFixedLengthOutput(t *testing.T) {
	a, err := RandomHex(24)
	require.NoError(t, err)
	b, err := RandomHex(24)
	require.NoError(t, err)
	assert.Len(t, a, 48)
	assert.NotEqual(t, a, b)
}
