package service

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// TokenSource returns a fresh confirmation token.
type TokenSource func() (int64, error)

// maxTokenAttempts bounds how many tokens are tried when inserts collide.
const maxTokenAttempts = 5

// RandomToken draws a token uniformly from [0, 2^63).
func RandomToken() (int64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random token: %w", err)
	}
	return int64(binary.BigEndian.Uint64(b[:]) >> 1), nil
}
