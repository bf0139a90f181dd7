// Package id generates compact, URL-safe unique identifiers.
//
// An ID is a random uuid-v4 payload encoded as lowercase base32 without
// padding, yielding a fixed 26-character string that sorts and copies
// cleanly in logs, URLs, and storage keys.
package id

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a new 26-character identifier.
func NewID() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	// Stamp uuid version 4 and RFC 4122 variant bits so the payload remains
	// a valid uuid when decoded.
	raw[6] = (raw[6] & 0x0f) | 0x40
	raw[8] = (raw[8] & 0x3f) | 0x80

	return strings.ToLower(encoding.EncodeToString(raw[:])), nil
}

// MustNewID returns a new identifier and panics when entropy is unavailable.
// Reserved for process bootstrap paths where failure is unrecoverable.
func MustNewID() string {
	generated, err := NewID()
	if err != nil {
		panic(fmt.Sprintf("id: %v", err))
	}
	return generated
}
