package portal

import (
	"crypto/rand"
	"fmt"
)

const tokenLength = 32

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewToken returns a random alphanumeric portal token. The raw token is
// handed to the client once; only its hash is persisted.
func NewToken() (string, error) {
	raw := make([]byte, tokenLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate portal token: %w", err)
	}
	token := make([]byte, tokenLength)
	for i, b := range raw {
		token[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(token), nil
}
