package ports

import (
	"context"
	"time"

	"studiolink/internal/core/domain"
)

// DiscoveryHandler receives browse results. Per peer, OnPeerLost is never
// delivered before OnPeerFound.
type DiscoveryHandler interface {
	OnPeerFound(peer domain.DiscoveredPeer)
	OnPeerLost(peer domain.DiscoveredPeer)
}

// Discovery advertises this node and browses for others of the same service.
// Advertise and browse are independent toggles. Stop calls are idempotent and
// no handler call happens after they return.
type Discovery interface {
	Advertise(ctx context.Context, ad domain.Advertisement) error
	StopAdvertise()
	Browse(ctx context.Context, handler DiscoveryHandler) error
	StopBrowse()
	Advertising() bool
	Browsing() bool
}

// TransportHandler is implemented by the session. Calls may arrive on any
// goroutine. For each link, OnStateChange(Connected) returns before the first
// OnReceive, and NotConnected is reported at most once. Every report names the
// link it concerns; a link that replaces an abandoned dial keeps the dial's id.
type TransportHandler interface {
	AcceptIncoming(peer domain.PeerIdentity, hello domain.Hello) bool
	OnStateChange(peer domain.PeerIdentity, link domain.LinkID, state domain.ConnectionState)
	OnReceive(peer domain.PeerIdentity, payload []byte)
}

// Endpoint is where a transport accepts handshakes.
type Endpoint struct {
	Host string
	Port int
	TLS  bool
}

// Transport moves opaque payloads between peers.
type Transport interface {
	Start(ctx context.Context, handler TransportHandler) error
	// Connect starts a handshake and returns immediately. The outcome is
	// reported through OnStateChange.
	Connect(peer domain.DiscoveredPeer, timeout time.Duration)
	// Send delivers payload to every listed peer. An empty list is a no-op.
	Send(peers []domain.PeerIdentity, payload []byte, reliability domain.Reliability) error
	Disconnect(peer domain.PeerIdentity)
	Endpoint() Endpoint
	Close() error
}

// AdmissionService issues and checks handshake admission tokens.
type AdmissionService interface {
	Enabled() bool
	IssueToken(self domain.PeerIdentity) (string, error)
	Verify(token string, claimed domain.PeerIdentity) error
}

// MetricsCollector records studio metrics.
type MetricsCollector interface {
	PeerDiscovered()
	PeerLost()
	InvitationSent()
	InvitationExpired()
	StateChanged(state domain.ConnectionState)
	SetConnectedPeers(n int)
	SetSlots(n int)
	PayloadReceived(kind string, bytes int)
	PayloadDropped(reason string)
	PayloadSent(reliability domain.Reliability, peers int, bytes int)
	SendFailed(reliability domain.Reliability)
	CommandDispatched(command string)
	HandshakeCompleted(direction string, success bool, d time.Duration)
	SetRecording(recording bool)
}

// StudioService is the surface the HTTP layer and external collaborators use.
type StudioService interface {
	Identity() domain.PeerIdentity
	ConnectedPeers() []domain.PeerInfo
	IsConnected() bool
	Slots() []domain.SlotView
	SlotFrame(slotID string) (domain.Frame, error)
	SendFrame(payload []byte) error
	SendCommand(text string) error
	Stats() domain.StudioStats
}
