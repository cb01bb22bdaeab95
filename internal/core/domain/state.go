package domain

import "fmt"

type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateNotConnected ConnectionState = "not_connected"
)

func (s ConnectionState) String() string {
	return string(s)
}

// LinkID numbers one connection attempt within a transport. Ids are never
// reused, so a report naming an old link can be told apart from the current one.
type LinkID uint64

// Reliability selects the delivery class of a send.
type Reliability string

const (
	// BestEffort may drop or reorder. Used for frames.
	BestEffort Reliability = "best_effort"
	// Reliable delivers in order while the peer stays connected. Used for commands.
	Reliable Reliability = "reliable"
)

type EncryptionLevel string

const (
	EncryptionNone     EncryptionLevel = "none"
	EncryptionOptional EncryptionLevel = "optional"
	EncryptionRequired EncryptionLevel = "required"
)

func ParseEncryptionLevel(s string) (EncryptionLevel, error) {
	switch EncryptionLevel(s) {
	case EncryptionNone, EncryptionOptional, EncryptionRequired:
		return EncryptionLevel(s), nil
	case "":
		return EncryptionOptional, nil
	}
	return "", fmt.Errorf("unknown encryption level %q", s)
}

// UsesTLS reports whether the handshake endpoint is served over TLS.
func (e EncryptionLevel) UsesTLS() bool {
	return e != EncryptionNone
}

// Compatible reports whether two nodes with these levels can connect.
// Only none against required fails.
func Compatible(a, b EncryptionLevel) bool {
	if a == EncryptionNone && b == EncryptionRequired {
		return false
	}
	if a == EncryptionRequired && b == EncryptionNone {
		return false
	}
	return true
}
