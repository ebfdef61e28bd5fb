// Package token generates resume tokens and resume codes for partial survey
// sessions.
package token

import (
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
)

// CodeAlphabet is the 32-symbol alphabet used for resume codes. Ambiguous
// glyphs (0/O, 1/I) are excluded so codes survive handwriting and phone
// calls.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the fixed length of a resume code.
const CodeLength = 6

// resumeTokenBytes gives 160 bits of entropy, comfortably past the 128-bit
// floor for collision resistance over the lifetime of the system.
const resumeTokenBytes = 20

// NewResumeToken returns a globally unique, URL-safe resume token. The only
// failure mode is the entropy source, which is fatal and propagated.
func NewResumeToken() (string, error) {
	buf := make([]byte, resumeTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read entropy for resume token: %w", err)
	}
	return base58.Encode(buf), nil
}

// NewResumeCode returns a 6-character resume code drawn uniformly from
// CodeAlphabet. The alphabet has 32 symbols, so reducing a random byte
// modulo 32 introduces no bias. Uniqueness among active sessions is the
// caller's responsibility.
func NewResumeCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read entropy for resume code: %w", err)
	}

	out := make([]byte, CodeLength)
	for i, b := range buf {
		out[i] = CodeAlphabet[int(b)%len(CodeAlphabet)]
	}
	return string(out), nil
}
