package domain

import (
	"fmt"
	"strings"
	"time"

	"studiolink/pkg/utils"
	"studiolink/pkg/validation"
)

// PeerIdentity names one node for the lifetime of its process. Two nodes may
// share a display name; the token keeps them apart.
type PeerIdentity struct {
	DisplayName string
	Token       string
}

func NewPeerIdentity(displayName string) (PeerIdentity, error) {
	if err := validation.ValidateDisplayName(displayName); err != nil {
		return PeerIdentity{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return PeerIdentity{DisplayName: displayName, Token: utils.NewPeerToken()}, nil
}

// Key is the map key used for a peer everywhere in the core.
func (p PeerIdentity) Key() string {
	return p.DisplayName + "#" + p.Token
}

// SlotID identifies the frame slot of this peer.
func (p PeerIdentity) SlotID() string {
	return p.DisplayName + "@" + p.Token
}

func (p PeerIdentity) IsZero() bool {
	return p.Token == ""
}

func (p PeerIdentity) String() string {
	return p.Key()
}

// ParsePeerKey reverses Key. Display names cannot contain '#', so the first
// separator is the boundary.
func ParsePeerKey(key string) (PeerIdentity, error) {
	name, token, ok := strings.Cut(key, "#")
	if !ok {
		return PeerIdentity{}, fmt.Errorf("%w: missing token in %q", ErrInvalidIdentity, key)
	}
	id := PeerIdentity{DisplayName: name, Token: token}
	if err := id.Validate(); err != nil {
		return PeerIdentity{}, err
	}
	return id, nil
}

func (p PeerIdentity) Validate() error {
	if err := validation.ValidateDisplayName(p.DisplayName); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if err := validation.ValidatePeerToken(p.Token); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return nil
}

// DiscoveredPeer is another identity seen by the browser.
type DiscoveredPeer struct {
	Identity   PeerIdentity
	Addr       string // host:port of the handshake endpoint
	Encryption EncryptionLevel
	TLS        bool
	Metadata   map[string]string
	LastSeen   time.Time
}

// Advertisement is what a node publishes about itself.
type Advertisement struct {
	Identity   PeerIdentity
	Service    string
	Port       int
	Encryption EncryptionLevel
	TLS        bool
}

// Hello is the first message of an inbound handshake.
type Hello struct {
	Identity       PeerIdentity
	Service        string
	Encryption     EncryptionLevel
	TLS            bool
	AdmissionToken string
	Version        int
}

// ProtocolVersion is carried in hellos and TXT records.
const ProtocolVersion = 1

// PeerInfo is a read-only view of one connected peer.
type PeerInfo struct {
	Identity    PeerIdentity
	State       ConnectionState
	ConnectedAt time.Time
}
