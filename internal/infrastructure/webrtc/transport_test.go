package webrtc

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studiolink/internal/core/domain"
	"studiolink/pkg/logger"
	"studiolink/pkg/tracing"
)

type handlerLog struct {
	mu       sync.Mutex
	accept   bool
	states   []domain.ConnectionState
	links    []domain.LinkID
	payloads []string
}

func (h *handlerLog) AcceptIncoming(domain.PeerIdentity, domain.Hello) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.accept
}

func (h *handlerLog) OnStateChange(_ domain.PeerIdentity, link domain.LinkID, s domain.ConnectionState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, s)
	h.links = append(h.links, link)
}

func (h *handlerLog) reports() ([]domain.ConnectionState, []domain.LinkID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.ConnectionState(nil), h.states...), append([]domain.LinkID(nil), h.links...)
}

func (h *handlerLog) OnReceive(_ domain.PeerIdentity, p []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payloads = append(h.payloads, string(p))
}

func (h *handlerLog) count(s domain.ConnectionState) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, st := range h.states {
		if st == s {
			n++
		}
	}
	return n
}

func (h *handlerLog) received() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.payloads...)
}

func identity(t *testing.T, name string) domain.PeerIdentity {
	t.Helper()
	id, err := domain.NewPeerIdentity(name)
	require.NoError(t, err)
	return id
}

func hello(id domain.PeerIdentity) domain.Hello {
	return domain.Hello{Identity: id, Service: "studio", Encryption: domain.EncryptionOptional, Version: domain.ProtocolVersion}
}

// unstarted builds a transport with a handler but no listener, enough for
// the checks Accept makes before touching pion.
func unstarted(t *testing.T, self domain.PeerIdentity, h *handlerLog) *Transport {
	t.Helper()
	tr := NewTransport(self, DefaultConfig("studio"), logger.Nop())
	tr.handler = h
	return tr
}

func TestAccept_RejectsSelf(t *testing.T) {
	self := identity(t, "Cam")
	tr := unstarted(t, self, &handlerLog{accept: true})

	_, err := tr.Accept(context.Background(), hello(self), "v=0")
	assert.ErrorIs(t, err, domain.ErrSelfConnect)
}

func TestAccept_RejectsConnectedPeer(t *testing.T) {
	self, remote := identity(t, "Cam"), identity(t, "Monitor")
	tr := unstarted(t, self, &handlerLog{accept: true})
	tr.links[remote.Key()] = &peerLink{remote: remote}

	_, err := tr.Accept(context.Background(), hello(remote), "v=0")
	assert.ErrorIs(t, err, domain.ErrDuplicateSession)
}

func TestAccept_TieBreak(t *testing.T) {
	a := domain.PeerIdentity{DisplayName: "Cam", Token: "aaaaaaaaaaaa"}
	b := domain.PeerIdentity{DisplayName: "Cam", Token: "bbbbbbbbbbbb"}
	require.Less(t, a.Key(), b.Key())

	// a is dialing b and b's hello arrives: b sorts higher, so a refuses
	// and keeps its own attempt
	h := &handlerLog{accept: true}
	tr := unstarted(t, a, h)
	attempt := &dialAttempt{}
	tr.dialing[b.Key()] = attempt

	_, err := tr.Accept(context.Background(), hello(b), "v=0")
	assert.ErrorIs(t, err, domain.ErrDuplicateSession)
	assert.False(t, attempt.isAbandoned())
	assert.Contains(t, tr.dialing, b.Key())
}

func TestAccept_WinningOfferSettlesAbandonedDial(t *testing.T) {
	a := domain.PeerIdentity{DisplayName: "Cam", Token: "aaaaaaaaaaaa"}
	b := domain.PeerIdentity{DisplayName: "Cam", Token: "bbbbbbbbbbbb"}

	// b is dialing a and a's hello wins; the inbound link then fails before
	// opening, so b's Connecting must still be answered
	h := &handlerLog{accept: true}
	tr := unstarted(t, b, h)
	attempt := &dialAttempt{link: tr.newLinkID()}
	tr.dialing[a.Key()] = attempt
	attempt.reportConnecting(h, a)

	_, err := tr.Accept(context.Background(), hello(a), "v=0")
	require.Error(t, err)
	assert.True(t, attempt.isAbandoned())
	assert.NotContains(t, tr.dialing, a.Key())
	assert.Empty(t, tr.links)

	states, links := h.reports()
	assert.Equal(t, []domain.ConnectionState{domain.StateConnecting, domain.StateNotConnected}, states)
	assert.Equal(t, []domain.LinkID{attempt.link, attempt.link}, links)
}

func TestDialAttempt_SettlesOnce(t *testing.T) {
	remote := identity(t, "Monitor")

	t.Run("after connecting", func(t *testing.T) {
		h := &handlerLog{}
		attempt := &dialAttempt{link: 3}
		attempt.reportConnecting(h, remote)
		attempt.settle(h, remote)
		attempt.settle(h, remote)

		states, links := h.reports()
		assert.Equal(t, []domain.ConnectionState{domain.StateConnecting, domain.StateNotConnected}, states)
		assert.Equal(t, []domain.LinkID{3, 3}, links)
	})

	t.Run("before connecting", func(t *testing.T) {
		h := &handlerLog{}
		attempt := &dialAttempt{link: 4}
		attempt.settle(h, remote)
		attempt.reportConnecting(h, remote)

		states, _ := h.reports()
		assert.Empty(t, states)
	})
}

func TestLink_InheritedAttemptSettledOnClose(t *testing.T) {
	self, remote := identity(t, "Cam"), identity(t, "Monitor")
	h := &handlerLog{}
	tr := unstarted(t, self, h)

	attempt := &dialAttempt{link: tr.newLinkID()}
	attempt.reportConnecting(h, remote)

	link, err := tr.newLink(remote, attempt.link, tracing.DirectionInbound)
	require.NoError(t, err)
	link.inherit(attempt)
	link.close()
	link.close()

	assert.Equal(t, 1, h.count(domain.StateNotConnected))
	_, links := h.reports()
	assert.Equal(t, []domain.LinkID{attempt.link, attempt.link}, links)
}

func TestAccept_PolicyRefusal(t *testing.T) {
	self, remote := identity(t, "Cam"), identity(t, "Monitor")
	tr := unstarted(t, self, &handlerLog{accept: false})

	_, err := tr.Accept(context.Background(), hello(remote), "v=0")
	assert.ErrorIs(t, err, domain.ErrAdmissionDenied)
	assert.Empty(t, tr.links)
}

func TestAccept_NotStarted(t *testing.T) {
	tr := NewTransport(identity(t, "Cam"), DefaultConfig("studio"), logger.Nop())
	_, err := tr.Accept(context.Background(), hello(identity(t, "Monitor")), "v=0")
	assert.ErrorIs(t, err, domain.ErrNotStarted)
}

func TestSend_UnknownPeer(t *testing.T) {
	tr := unstarted(t, identity(t, "Cam"), &handlerLog{})
	remote := identity(t, "Monitor")

	err := tr.Send([]domain.PeerIdentity{remote}, []byte("x"), domain.Reliable)
	assert.ErrorIs(t, err, domain.ErrPeerNotConnected)
	assert.NoError(t, tr.Send(nil, []byte("x"), domain.Reliable))
}

func TestConnect_AfterCloseIsNoop(t *testing.T) {
	h := &handlerLog{accept: true}
	tr := unstarted(t, identity(t, "Cam"), h)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	tr.Connect(domain.DiscoveredPeer{Identity: identity(t, "Monitor"), Addr: "127.0.0.1:1"}, time.Second)
	assert.Empty(t, tr.dialing)
	assert.Zero(t, h.count(domain.StateConnecting))
}

// The tests below open real peer connections on the loopback interface.
func requireNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("STUDIO_WEBRTC_IT") == "" {
		t.Skip("set STUDIO_WEBRTC_IT=1 to run WebRTC integration tests")
	}
}

func startTransport(t *testing.T, name string, enc domain.EncryptionLevel) (*Transport, *handlerLog) {
	t.Helper()
	cfg := DefaultConfig("studio")
	cfg.SignalAddress = "127.0.0.1:0"
	cfg.IncludeLoopback = true
	cfg.Encryption = enc
	cfg.HandshakeTimeout = 5 * time.Second

	h := &handlerLog{accept: true}
	tr := NewTransport(identity(t, name), cfg, logger.Nop())
	require.NoError(t, tr.Start(context.Background(), h))
	t.Cleanup(func() { _ = tr.Close() })
	return tr, h
}

func peerOf(tr *Transport) domain.DiscoveredPeer {
	ep := tr.Endpoint()
	return domain.DiscoveredPeer{
		Identity: tr.self,
		Addr:     fmt.Sprintf("127.0.0.1:%d", ep.Port),
		TLS:      ep.TLS,
	}
}

func TestIntegration_ConnectSendDisconnect(t *testing.T) {
	requireNetwork(t)

	for _, enc := range []domain.EncryptionLevel{domain.EncryptionNone, domain.EncryptionRequired} {
		t.Run(string(enc), func(t *testing.T) {
			monitor, hm := startTransport(t, "Monitor", enc)
			cam, hc := startTransport(t, "Cam", enc)

			monitor.Connect(peerOf(cam), 10*time.Second)
			require.Eventually(t, func() bool {
				return hm.count(domain.StateConnected) == 1 && hc.count(domain.StateConnected) == 1
			}, 15*time.Second, 20*time.Millisecond)

			for i := 0; i < 20; i++ {
				require.NoError(t, cam.Send([]domain.PeerIdentity{monitor.self}, []byte(fmt.Sprintf("cmd-%02d", i)), domain.Reliable))
			}
			require.Eventually(t, func() bool { return len(hm.received()) == 20 }, 5*time.Second, 10*time.Millisecond)
			for i, p := range hm.received() {
				assert.Equal(t, fmt.Sprintf("cmd-%02d", i), p)
			}

			require.NoError(t, monitor.Send([]domain.PeerIdentity{cam.self}, []byte("frame"), domain.BestEffort))
			require.Eventually(t, func() bool { return len(hc.received()) == 1 }, 5*time.Second, 10*time.Millisecond)

			monitor.Disconnect(cam.self)
			require.Eventually(t, func() bool {
				return hm.count(domain.StateNotConnected) == 1 && hc.count(domain.StateNotConnected) == 1
			}, 15*time.Second, 20*time.Millisecond)
		})
	}
}

func TestIntegration_RejectedHello(t *testing.T) {
	requireNetwork(t)

	monitor, hm := startTransport(t, "Monitor", domain.EncryptionOptional)
	cam, hc := startTransport(t, "Cam", domain.EncryptionOptional)
	hc.mu.Lock()
	hc.accept = false
	hc.mu.Unlock()

	monitor.Connect(peerOf(cam), 10*time.Second)
	require.Eventually(t, func() bool { return hm.count(domain.StateNotConnected) == 1 }, 15*time.Second, 20*time.Millisecond)
	assert.Zero(t, hm.count(domain.StateConnected))
	assert.Zero(t, hc.count(domain.StateConnected))
}

func TestIntegration_MutualConnectCollapses(t *testing.T) {
	requireNetwork(t)

	a, ha := startTransport(t, "A", domain.EncryptionNone)
	b, hb := startTransport(t, "B", domain.EncryptionNone)

	a.Connect(peerOf(b), 10*time.Second)
	b.Connect(peerOf(a), 10*time.Second)

	require.Eventually(t, func() bool {
		return ha.count(domain.StateConnected) == 1 && hb.count(domain.StateConnected) == 1
	}, 15*time.Second, 20*time.Millisecond)

	a.mu.Lock()
	assert.Len(t, a.links, 1)
	a.mu.Unlock()
	b.mu.Lock()
	assert.Len(t, b.links, 1)
	b.mu.Unlock()
}
