package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr_magiclink/internal/errs"
)

func TestValid(t *testing.T) {
	cases := []struct {
		title string
		input string
		want  bool
	}{
		{"lowercase", strings.Repeat("ab", 32), true},
		{"uppercase", strings.Repeat("AB", 32), true},
		{"digits", strings.Repeat("0", 64), true},
		{"mixed case", strings.Repeat("aF", 32), true},
		{"empty", "", false},
		{"short", strings.Repeat("a", 63), false},
		{"long", strings.Repeat("a", 65), false},
		{"non hex", strings.Repeat("g", 64), false},
		{"npub", "npub1" + strings.Repeat("a", 59), false},
		{"multibyte", strings.Repeat("é", 32), false},
	}

	for _, c := range cases {
		t.Run(c.title, func(t *testing.T) {
			assert.Equal(t, c.want, Valid(c.input))
		})
	}
}

func TestNormalize(t *testing.T) {
	got, err := Normalize(strings.Repeat("AB", 32))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ab", 32), got)

	_, err = Normalize("nope")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Validation))
}

func TestCleanPrivateKey(t *testing.T) {
	key := strings.Repeat("1f", 32)

	for _, input := range []string{key, "  " + key + "\n", "0x" + key, "0X" + strings.ToUpper(key)} {
		got, err := CleanPrivateKey(input)
		require.NoError(t, err, input)
		assert.Equal(t, key, got)
	}

	_, err := CleanPrivateKey("   ")
	assert.True(t, errs.Is(err, errs.Configuration))

	_, err = CleanPrivateKey("0x1234")
	assert.True(t, errs.Is(err, errs.Validation))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "abcdef01…", Redact("abcdef0123456789"))
	assert.Equal(t, "…", Redact("short"))
	assert.NotContains(t, Redact(strings.Repeat("9", 64)), strings.Repeat("9", 9))
}

func TestGenerateKey(t *testing.T) {
	kp, err := GenerateKey()
	require.NoError(t, err)
	assert.True(t, Valid(kp.PrivateKey))
	assert.True(t, Valid(kp.PublicKey))

	pub, err := PublicKey("0x" + kp.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, pub)
}

func TestPublicKeyRejectsZeroKey(t *testing.T) {
	_, err := PublicKey(strings.Repeat("0", 64))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Validation))
}
