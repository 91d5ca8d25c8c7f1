package rsvp

import (
	"crypto/rand"
	"encoding/hex"
)

// tokenBytes gives 256 bits of entropy; the hex encoding makes the token
// safe to embed in a URL query parameter.
const tokenBytes = 32

// newConfirmationToken generates the unguessable token mailed to the
// requester. The token is persisted on the reservation row so that
// confirmation survives process restarts and works behind multiple
// server instances.
func newConfirmationToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
