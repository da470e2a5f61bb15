package code

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

const (
	// Alphabet is A-Z and 2-9 without I and O.
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	// DisplayLength is the length of a session display code.
	DisplayLength = 6

	// FullLength is a display code plus one suffix character.
	FullLength = DisplayLength + 1

	// maxAttempts bounds collision retries. With 32^6 codes this is only
	// reachable when the live set is nearly full or randomness is broken.
	maxAttempts = 64
)

var (
	ErrExhausted = errors.New("no free display code after retries")
	ErrRandom    = errors.New("random source failed")
)

var alphabetSize = big.NewInt(int64(len(Alphabet)))

// Generate returns a fresh display code for which inUse reports false.
// inUse is consulted for every candidate; a nil inUse accepts the first one.
func Generate(inUse func(string) bool) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate, err := random(DisplayLength)
		if err != nil {
			return "", err
		}
		if inUse == nil || !inUse(candidate) {
			return candidate, nil
		}
	}
	return "", ErrExhausted
}

func random(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", errors.Join(ErrRandom, err)
		}
		b.WriteByte(Alphabet[idx.Int64()])
	}
	return b.String(), nil
}

// Normalize trims whitespace and upper-cases s.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ValidChar reports whether c belongs to the alphabet.
func ValidChar(c byte) bool {
	return strings.IndexByte(Alphabet, c) >= 0
}

func validChars(s string) bool {
	for i := 0; i < len(s); i++ {
		if !ValidChar(s[i]) {
			return false
		}
	}
	return true
}

// ValidDisplayCode reports whether s is a well-formed display code.
func ValidDisplayCode(s string) bool {
	return len(s) == DisplayLength && validChars(s)
}

// ValidFullCode reports whether s is a well-formed full code.
func ValidFullCode(s string) bool {
	return len(s) == FullLength && validChars(s)
}

// ValidSuffix reports whether s is a single alphabet character.
func ValidSuffix(s string) bool {
	return len(s) == 1 && ValidChar(s[0])
}

// Split breaks a full code into its display code and suffix.
func Split(full string) (display, suffix string, ok bool) {
	if !ValidFullCode(full) {
		return "", "", false
	}
	return full[:DisplayLength], full[DisplayLength:], true
}

// Join appends suffix to display.
func Join(display, suffix string) string {
	return display + suffix
}
