package logincode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code, err := Generate()
		require.NoError(t, err)
		assert.True(t, Valid(code), code)
		seen[code] = struct{}{}
	}
	// 31^6 possibilities; 200 draws colliding more than once would mean a broken source.
	assert.Greater(t, len(seen), 198)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "AB3C4D", Normalize("  ab3-c4d "))
	assert.Equal(t, "AB3C4D", Normalize("ab3 c4d"))
}

func TestValid(t *testing.T) {
	assert.False(t, Valid("ABC"))
	assert.False(t, Valid("ABCDE0"))
	assert.False(t, Valid("abcdef"))
	assert.True(t, Valid("ABCDEF"))
}
