package domain

type DiscoveryEventType string

const (
	PeerFound DiscoveryEventType = "peer_found"
	PeerLost  DiscoveryEventType = "peer_lost"
)

// DiscoveryEvent is delivered by the browser. A PeerFound for a peer that is
// already tracked is a refresh.
type DiscoveryEvent struct {
	Type DiscoveryEventType
	Peer DiscoveredPeer
}
