// Package logincode generates and normalizes technician login codes.
package logincode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Alphabet omits characters that are easy to confuse when read aloud or
// typed on a phone: 0/O, 1/I/L.
const Alphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const Length = 6

// Generate returns a random code of Length characters drawn from Alphabet.
func Generate() (string, error) {
	var sb strings.Builder
	sb.Grow(Length)
	max := big.NewInt(int64(len(Alphabet)))
	for i := 0; i < Length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate login code: %w", err)
		}
		sb.WriteByte(Alphabet[n.Int64()])
	}
	return sb.String(), nil
}

// Normalize trims whitespace and dashes and upper-cases user input.
func Normalize(code string) string {
	code = strings.TrimSpace(code)
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return strings.ToUpper(code)
}

// Valid reports whether a normalized code has the expected shape.
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(Alphabet, r) {
			return false
		}
	}
	return true
}
