package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewPeerToken returns a fresh instance token for this process. Tokens are
// regenerated on every start so a restarted node is a new peer.
func NewPeerToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GenerateID generates a random ID with prefix
func GenerateID(prefix string) string {
	return prefix + "_" + NewPeerToken()[:16]
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return GenerateID("req")
}
