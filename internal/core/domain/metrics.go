package domain

import "time"

// PeerStats counts traffic exchanged with one peer.
type PeerStats struct {
	Peer          PeerIdentity
	FramesIn      uint64
	FramesOut     uint64
	CommandsIn    uint64
	CommandsOut   uint64
	BytesIn       uint64
	Dropped       uint64
	LastFrameAt   time.Time
	ConnectedAt   time.Time
	Reconnections int
}

// StudioStats summarizes the local node.
type StudioStats struct {
	ConnectedPeers int
	Slots          int
	Recording      bool
	Uptime         time.Duration
	Peers          []PeerStats
}
