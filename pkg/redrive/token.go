package redrive

import (
	"io"

	"github.com/google/uuid"
)

// TokenGenerator returns a fresh identifier each time it's called. Tokens are
// used to tell the entries of a batch apart, so they must never repeat.
type TokenGenerator func() (string, error)

// RandomTokens generates version 4 UUIDs from crypto/rand.
func RandomTokens() TokenGenerator {
	return func() (string, error) {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", err
		}
		return id.String(), nil
	}
}

// ReaderTokens generates version 4 UUIDs from the random source. Seeded
// sources yield the same sequence of tokens every time.
func ReaderTokens(r io.Reader) TokenGenerator {
	return func() (string, error) {
		id, err := uuid.NewRandomFromReader(r)
		if err != nil {
			return "", err
		}
		return id.String(), nil
	}
}
