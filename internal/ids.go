package internal

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// NewInstanceID returns an opaque client-side tag for one flow instance.
// Responses are matched against the tag of the instance that produced
// them; a response tagged with a retired instance is discarded.
func NewInstanceID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("internal: instance id entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}
