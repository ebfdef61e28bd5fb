package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewResumeCode(t *testing.T) {
	t.Run("length and alphabet", func(t *testing.T) {
		for range 1000 {
			code, err := NewResumeCode()
			require.NoError(t, err)
			require.Len(t, code, CodeLength)
			for _, c := range code {
				require.Contains(t, CodeAlphabet, string(c))
			}
		}
	})

	t.Run("excludes ambiguous glyphs", func(t *testing.T) {
		for range 1000 {
			code, err := NewResumeCode()
			require.NoError(t, err)
			require.NotContainsf(t, code, "0", "code %s", code)
			require.NotContainsf(t, code, "O", "code %s", code)
			require.NotContainsf(t, code, "1", "code %s", code)
			require.NotContainsf(t, code, "I", "code %s", code)
		}
	})
}

func TestNewResumeToken(t *testing.T) {
	t.Run("unique under repeated sampling", func(t *testing.T) {
		seen := make(map[string]bool)
		for range 1000 {
			tok, err := NewResumeToken()
			require.NoError(t, err)
			require.False(t, seen[tok], "duplicate token issued")
			seen[tok] = true
		}
	})

	t.Run("url safe", func(t *testing.T) {
		for range 100 {
			tok, err := NewResumeToken()
			require.NoError(t, err)
			require.NotEmpty(t, tok)
			// base58 output never needs percent-encoding
			require.NotContains(t, tok, "/")
			require.NotContains(t, tok, "+")
			require.NotContains(t, tok, "=")
			require.Equal(t, tok, strings.TrimSpace(tok))
		}
	})
}
