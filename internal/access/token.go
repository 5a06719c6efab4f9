package access

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// tokenBytes yields 256-bit tokens, encoded as 64 hex characters.
const tokenBytes = 32

// tokenRetries bounds retry-on-collision when inserting a fresh token.
const tokenRetries = 3

// NewToken returns a cryptographically random token.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// insertWithToken generates a token, hands it to insert, and retries a
// bounded number of times when the store reports a uniqueness conflict.
// Any other error surfaces immediately.
func insertWithToken(ctx context.Context, insert func(ctx context.Context, token string) error) (string, error) {
	for attempt := 0; attempt < tokenRetries; attempt++ {
		token, err := NewToken()
		if err != nil {
			return "", err
		}
		err = insert(ctx, token)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrConflict) {
			return "", err
		}
	}
	return "", fmt.Errorf("token collision persisted after %d attempts", tokenRetries)
}
