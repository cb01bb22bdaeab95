package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"studiolink/internal/core/domain"
)

// Negotiated channel ids; both sides create the channels up front.
const (
	framesChannelID   uint16 = 0
	commandsChannelID uint16 = 1
)

// peerLink is one PeerConnection with its two data channels.
type peerLink struct {
	t         *Transport
	id        domain.LinkID
	remote    domain.PeerIdentity
	direction string
	created   time.Time

	pc       *webrtc.PeerConnection
	frames   *webrtc.DataChannel
	commands *webrtc.DataChannel

	// mu fences OnReceive against the NotConnected report.
	mu        sync.Mutex
	openCount int
	isOpen    bool
	inherited *dialAttempt
	closed    bool
	opened    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (t *Transport) newLink(remote domain.PeerIdentity, id domain.LinkID, direction string) (*peerLink, error) {
	pc, err := t.api.NewPeerConnection(webrtc.Configuration{ICEServers: t.config.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	l := &peerLink{
		t:         t,
		id:        id,
		remote:    remote,
		direction: direction,
		created:   time.Now(),
		pc:        pc,
		opened:    make(chan struct{}),
		done:      make(chan struct{}),
	}

	negotiated := true
	unordered := false
	noRetransmits := uint16(0)
	framesID, commandsID := framesChannelID, commandsChannelID

	l.frames, err = pc.CreateDataChannel(framesLabel, &webrtc.DataChannelInit{
		Ordered:        &unordered,
		MaxRetransmits: &noRetransmits,
		Negotiated:     &negotiated,
		ID:             &framesID,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create %s channel: %w", framesLabel, err)
	}
	l.commands, err = pc.CreateDataChannel(commandsLabel, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &commandsID,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create %s channel: %w", commandsLabel, err)
	}

	for _, dc := range []*webrtc.DataChannel{l.frames, l.commands} {
		dc.OnOpen(l.channelOpen)
		dc.OnClose(func() { go l.close() })
		dc.OnMessage(func(msg webrtc.DataChannelMessage) { l.hand(msg.Data) })
	}
	pc.OnConnectionStateChange(l.handleConnectionState)
	return l, nil
}

// localDescription sets desc and waits for ICE gathering, since candidates
// travel inside the single handshake message.
func (l *peerLink) localDescription(ctx context.Context, desc webrtc.SessionDescription) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", fmt.Errorf("ice gathering: %w", ctx.Err())
	}
	return l.pc.LocalDescription().SDP, nil
}

func (l *peerLink) handleConnectionState(state webrtc.PeerConnectionState) {
	l.t.logger.Debugw("Peer connection state changed",
		"peer", l.remote.Key(),
		"direction", l.direction,
		"state", state.String(),
	)
	switch state {
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		go l.close()
	}
}

// channelOpen reports Connected once both channels are open.
func (l *peerLink) channelOpen() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.isOpen {
		return
	}
	l.openCount++
	if l.openCount < 2 {
		return
	}

	l.isOpen = true
	if h := l.t.currentHandler(); h != nil {
		h.OnStateChange(l.remote, l.id, domain.StateConnected)
	}
	close(l.opened)

	l.t.recordHandshake(l.direction, true, l.created)
	l.t.logger.Infow("Peer link open", "peer", l.remote.Key(), "direction", l.direction)
}

// inherit makes l answer for an abandoned dial to the same peer.
func (l *peerLink) inherit(attempt *dialAttempt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inherited = attempt
}

func (l *peerLink) wasOpened() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isOpen
}

// hand delivers one message. Messages that race ahead of the second channel
// opening wait for it.
func (l *peerLink) hand(payload []byte) {
	select {
	case <-l.opened:
	case <-l.done:
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if h := l.t.currentHandler(); h != nil {
		h.OnReceive(l.remote, payload)
	}
}

// close tears the link down. NotConnected is reported once, and only for
// a link that was reported Connected.
func (l *peerLink) close() {
	first, wasOpen := false, false
	var inherited *dialAttempt
	l.closeOnce.Do(func() {
		first = true
		l.mu.Lock()
		l.closed = true
		wasOpen = l.isOpen
		inherited = l.inherited
		close(l.done)
		l.mu.Unlock()
	})
	if !first {
		return
	}

	l.t.removeLink(l)
	if err := l.pc.Close(); err != nil {
		l.t.logger.Debugw("Peer connection close", "peer", l.remote.Key(), "error", err)
	}

	if !wasOpen {
		// the abandoned dial already reported Connecting for this id
		if inherited != nil {
			inherited.settle(l.t.currentHandler(), l.remote)
		}
		return
	}
	if h := l.t.currentHandler(); h != nil {
		h.OnStateChange(l.remote, l.id, domain.StateNotConnected)
	}
	l.t.logger.Infow("Peer link closed", "peer", l.remote.Key(), "direction", l.direction)
}
