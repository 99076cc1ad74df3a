// Package ruttoken derives stable display tokens for RUT values.
//
// A token is base64url(HMAC-SHA256(key, rut)) without padding: 43 URL-safe
// characters that are identical for the same key and RUT across calls and
// restarts, and reveal nothing about the RUT without the key. Rotating the
// key changes every token.
package ruttoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// TokenLength is the length of every token produced by Tokenizer.
const TokenLength = 43

// ErrEmptyKey is returned when the tokenization key is blank.
var ErrEmptyKey = errors.New("rut token key is empty")

// Tokenizer maps raw RUT values to display tokens. It is safe for concurrent use.
type Tokenizer struct {
	key []byte
}

func New(key string) (*Tokenizer, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	return &Tokenizer{key: []byte(key)}, nil
}

// Token returns the display token for raw.
func (t *Tokenizer) Token(raw string) string {
	m := hmac.New(sha256.New, t.key)
	_, _ = m.Write([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil))
}
