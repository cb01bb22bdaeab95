// Package webrtc implements the session transport on pion data channels.
// Each peer link carries two negotiated channels: "frames" is unordered with
// no retransmits, "commands" is ordered and reliable.
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"studiolink/internal/core/domain"
	"studiolink/internal/core/ports"
	"studiolink/internal/infrastructure/signal"
	apperrors "studiolink/pkg/errors"
	"studiolink/pkg/tracing"
)

const (
	framesLabel   = "frames"
	commandsLabel = "commands"
)

// WebRTCConfig WebRTC configuration
type WebRTCConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	IncludeLoopback  bool
	SignalAddress    string
	HandshakeTimeout time.Duration
	Service          string
	Encryption       domain.EncryptionLevel
	// BestEffortBacklog is the buffered byte count above which frames are
	// dropped instead of queued.
	BestEffortBacklog uint64
}

func DefaultConfig(service string) WebRTCConfig {
	return WebRTCConfig{
		SignalAddress:     ":0",
		HandshakeTimeout:  10 * time.Second,
		Service:           service,
		Encryption:        domain.EncryptionOptional,
		BestEffortBacklog: 1 << 20,
	}
}

type Option func(*Transport)

func WithAdmission(a ports.AdmissionService) Option {
	return func(t *Transport) { t.admission = a }
}

func WithMetrics(m ports.MetricsCollector) Option {
	return func(t *Transport) { t.metrics = m }
}

// Transport implements ports.Transport. Handshakes run over the signal
// package; media never touches the websocket.
type Transport struct {
	self      domain.PeerIdentity
	config    WebRTCConfig
	api       *webrtc.API
	server    *signal.WebSocketServer
	admission ports.AdmissionService
	metrics   ports.MetricsCollector
	logger    *zap.SugaredLogger
	nextLink  atomic.Uint64

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	handler ports.TransportHandler
	links   map[string]*peerLink
	dialing map[string]*dialAttempt
	closed  bool
	wg      sync.WaitGroup
}

// dialAttempt is an outgoing handshake still waiting for its answer. When
// the peer's own offer wins the tie-break, the inbound link takes over the
// attempt's link id along with the duty to settle its Connecting report.
type dialAttempt struct {
	link domain.LinkID

	mu        sync.Mutex
	abandoned bool

	// reportMu orders the Connecting report against settle.
	reportMu   sync.Mutex
	connecting bool
	settled    bool
}

func (a *dialAttempt) reportConnecting(h ports.TransportHandler, remote domain.PeerIdentity) {
	a.reportMu.Lock()
	defer a.reportMu.Unlock()
	if a.settled {
		return
	}
	h.OnStateChange(remote, a.link, domain.StateConnecting)
	a.connecting = true
}

// settle reports NotConnected for an attempt that never produced an open
// link. It reports at most once, and only after a Connecting.
func (a *dialAttempt) settle(h ports.TransportHandler, remote domain.PeerIdentity) {
	a.reportMu.Lock()
	defer a.reportMu.Unlock()
	if a.settled {
		return
	}
	a.settled = true
	if a.connecting && h != nil {
		h.OnStateChange(remote, a.link, domain.StateNotConnected)
	}
}

func (a *dialAttempt) abandon() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.abandoned = true
}

func (a *dialAttempt) isAbandoned() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.abandoned
}

func NewTransport(self domain.PeerIdentity, config WebRTCConfig, logger *zap.SugaredLogger, opts ...Option) *Transport {
	t := &Transport{
		self:    self,
		config:  config,
		logger:  logger,
		links:   make(map[string]*peerLink),
		dialing: make(map[string]*dialAttempt),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.api = newAPI(config)
	t.server = signal.NewWebSocketServer(t, logger)
	t.server.SetTimeouts(config.HandshakeTimeout, config.HandshakeTimeout)
	return t
}

func newAPI(config WebRTCConfig) *webrtc.API {
	settingEngine := webrtc.SettingEngine{}
	if config.PortRange.Min > 0 && config.PortRange.Max > 0 {
		settingEngine.SetEphemeralUDPPortRange(config.PortRange.Min, config.PortRange.Max)
	}
	settingEngine.SetIncludeLoopbackCandidate(config.IncludeLoopback)
	return webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
}

// Start serves the handshake endpoint, over TLS unless encryption is none.
func (t *Transport) Start(ctx context.Context, handler ports.TransportHandler) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return domain.ErrTransportClosed
	}
	t.handler = handler
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.mu.Unlock()

	var err error
	if t.config.Encryption.UsesTLS() {
		tlsConfig, cerr := signal.SelfSignedTLS(t.self.SlotID(), 24*time.Hour)
		if cerr != nil {
			return fmt.Errorf("handshake certificate: %w", cerr)
		}
		err = t.server.Listen(t.config.SignalAddress, tlsConfig)
	} else {
		err = t.server.Listen(t.config.SignalAddress, nil)
	}
	if err != nil {
		return err
	}

	t.logger.Infow("WebRTC transport started",
		"port", t.server.Port(),
		"encryption", t.config.Encryption,
		"tls", t.server.TLS(),
	)
	return nil
}

func (t *Transport) Endpoint() ports.Endpoint {
	return ports.Endpoint{Port: t.server.Port(), TLS: t.server.TLS()}
}

func (t *Transport) newLinkID() domain.LinkID {
	return domain.LinkID(t.nextLink.Add(1))
}

func (t *Transport) currentHandler() ports.TransportHandler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler
}

// track registers a background goroutine unless the transport is closed.
func (t *Transport) track() (context.Context, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.ctx == nil {
		return nil, false
	}
	t.wg.Add(1)
	return t.ctx, true
}

// Connect dials peer in the background. A peer that already has a link or
// an attempt in flight is left alone.
func (t *Transport) Connect(peer domain.DiscoveredPeer, timeout time.Duration) {
	key := peer.Identity.Key()

	t.mu.Lock()
	if _, ok := t.links[key]; ok {
		t.mu.Unlock()
		return
	}
	if _, ok := t.dialing[key]; ok {
		t.mu.Unlock()
		return
	}
	attempt := &dialAttempt{link: t.newLinkID()}
	t.dialing[key] = attempt
	t.mu.Unlock()

	ctx, ok := t.track()
	if !ok {
		t.clearAttempt(key, attempt)
		return
	}
	go func() {
		defer t.wg.Done()
		t.dial(ctx, peer, attempt, timeout)
	}()
}

func (t *Transport) clearAttempt(key string, attempt *dialAttempt) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dialing[key] == attempt {
		delete(t.dialing, key)
	}
}

func (t *Transport) dial(ctx context.Context, peer domain.DiscoveredPeer, attempt *dialAttempt, timeout time.Duration) {
	remote := peer.Identity
	key := remote.Key()
	handler := t.currentHandler()
	attempt.reportConnecting(handler, remote)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx, span := tracing.TraceHandshake(ctx, tracing.DirectionOutbound, key, string(t.config.Encryption))
	defer span.End()
	start := time.Now()

	link, err := t.dialLink(ctx, peer, attempt)
	if err == nil {
		select {
		case <-link.opened:
		case <-link.done:
			err = domain.ErrTransportClosed
		case <-ctx.Done():
			err = domain.ErrHandshakeTimeout
		}
	}
	tracing.MeasureDuration(ctx, start)
	if err == nil {
		return
	}
	t.clearAttempt(key, attempt)

	if link != nil {
		link.close()
	}
	if errors.Is(err, errAbandoned) {
		// the peer's own offer won the tie-break and owns the link
		t.logger.Debugw("Dial abandoned", "peer", key, "link", attempt.link)
		return
	}

	span.RecordError(err)
	t.recordHandshake(tracing.DirectionOutbound, false, start)
	t.logger.Infow("Connection attempt failed", "peer", key, "addr", peer.Addr, "error", err)
	// a link that opened reports its own NotConnected on close
	if link == nil || !link.wasOpened() {
		attempt.settle(handler, remote)
	}
}

var errAbandoned = errors.New("dial abandoned")

// dialLink runs offer, handshake and answer. On success the link is
// registered and waiting for its channels to open.
func (t *Transport) dialLink(ctx context.Context, peer domain.DiscoveredPeer, attempt *dialAttempt) (*peerLink, error) {
	link, err := t.newLink(peer.Identity, attempt.link, tracing.DirectionOutbound)
	if err != nil {
		return nil, err
	}

	offer, err := link.pc.CreateOffer(nil)
	if err != nil {
		return link, fmt.Errorf("create offer: %w", err)
	}
	sdp, err := link.localDescription(ctx, offer)
	if err != nil {
		return link, err
	}

	token, err := t.admissionToken()
	if err != nil {
		return link, err
	}
	hello := domain.Hello{
		Identity:       t.self,
		Service:        t.config.Service,
		Encryption:     t.config.Encryption,
		TLS:            t.server.TLS(),
		AdmissionToken: token,
		Version:        domain.ProtocolVersion,
	}

	answer, err := signal.Dial(ctx, signal.DialRequest{
		Addr:      peer.Addr,
		RemoteKey: peer.Identity.Key(),
		TLS:       peer.TLS,
		Hello:     signal.NewHelloPayload(hello, sdp),
		Timeout:   t.config.HandshakeTimeout,
	})
	if err != nil {
		if attempt.isAbandoned() {
			return link, errAbandoned
		}
		if apperrors.HasCode(err, apperrors.ErrCodeRejected) {
			return link, err
		}
		return link, apperrors.NewHandshakeError(err, peer.Identity.Key())
	}

	key := peer.Identity.Key()
	t.mu.Lock()
	_, exists := t.links[key]
	if attempt.isAbandoned() || exists || t.closed {
		t.mu.Unlock()
		return link, errAbandoned
	}
	t.links[key] = link
	delete(t.dialing, key)
	t.mu.Unlock()

	if err := link.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return link, fmt.Errorf("set answer: %w", err)
	}
	return link, nil
}

func (t *Transport) admissionToken() (string, error) {
	if t.admission == nil || !t.admission.Enabled() {
		return "", nil
	}
	return t.admission.IssueToken(t.self)
}

// Accept implements signal.Acceptor. A hello from a peer we are dialing
// wins only if its key sorts below ours.
func (t *Transport) Accept(ctx context.Context, hello domain.Hello, offerSDP string) (string, error) {
	remote := hello.Identity
	key := remote.Key()
	if remote == t.self {
		return "", domain.ErrSelfConnect
	}

	ctx, cancel := context.WithTimeout(ctx, t.config.HandshakeTimeout)
	defer cancel()
	ctx, span := tracing.TraceHandshake(ctx, tracing.DirectionInbound, key, string(hello.Encryption))
	defer span.End()
	start := time.Now()

	handler := t.currentHandler()
	if handler == nil {
		return "", domain.ErrNotStarted
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return "", domain.ErrTransportClosed
	}
	if _, ok := t.links[key]; ok {
		t.mu.Unlock()
		return "", domain.ErrDuplicateSession
	}
	attempt, dialing := t.dialing[key]
	if dialing && key >= t.self.Key() {
		t.mu.Unlock()
		return "", domain.ErrDuplicateSession
	}
	t.mu.Unlock()

	if !handler.AcceptIncoming(remote, hello) {
		return "", domain.ErrAdmissionDenied
	}

	id := t.newLinkID()
	if dialing {
		id = attempt.link
	}
	link, err := t.newLink(remote, id, tracing.DirectionInbound)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	if _, ok := t.links[key]; ok || t.closed {
		t.mu.Unlock()
		link.close()
		return "", domain.ErrDuplicateSession
	}
	if dialing {
		attempt.abandon()
		if t.dialing[key] == attempt {
			delete(t.dialing, key)
		}
		link.inherit(attempt)
	}
	t.links[key] = link
	t.mu.Unlock()

	answerSDP, err := t.answer(ctx, link, offerSDP)
	if err != nil {
		span.RecordError(err)
		link.close()
		t.recordHandshake(tracing.DirectionInbound, false, start)
		return "", err
	}
	tracing.MeasureDuration(ctx, start)

	// an accepted link that never opens is dropped silently
	if bg, ok := t.track(); ok {
		go func() {
			defer t.wg.Done()
			timer := time.NewTimer(t.config.HandshakeTimeout)
			defer timer.Stop()
			select {
			case <-link.opened:
			case <-link.done:
			case <-bg.Done():
			case <-timer.C:
				t.logger.Infow("Accepted link never opened", "peer", key)
				t.recordHandshake(tracing.DirectionInbound, false, start)
				link.close()
			}
		}()
	}
	return answerSDP, nil
}

func (t *Transport) answer(ctx context.Context, link *peerLink, offerSDP string) (string, error) {
	if err := link.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		return "", fmt.Errorf("set offer: %w", err)
	}
	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	return link.localDescription(ctx, answer)
}

// Send writes payload on the channel matching reliability. Best-effort
// frames are dropped when a link's backlog is too large.
func (t *Transport) Send(peers []domain.PeerIdentity, payload []byte, reliability domain.Reliability) error {
	var errs []error
	for _, id := range peers {
		t.mu.Lock()
		link, ok := t.links[id.Key()]
		t.mu.Unlock()
		if !ok || !link.wasOpened() {
			errs = append(errs, fmt.Errorf("%s: %w", id.Key(), domain.ErrPeerNotConnected))
			continue
		}

		dc := link.commands
		if reliability == domain.BestEffort {
			dc = link.frames
			if dc.BufferedAmount() > t.config.BestEffortBacklog {
				if t.metrics != nil {
					t.metrics.PayloadDropped("backlog")
				}
				continue
			}
		}
		if err := dc.Send(payload); err != nil {
			errs = append(errs, apperrors.NewSendError(err, id.Key()))
		}
	}
	return errors.Join(errs...)
}

func (t *Transport) Disconnect(id domain.PeerIdentity) {
	t.mu.Lock()
	link, ok := t.links[id.Key()]
	t.mu.Unlock()
	if !ok {
		return
	}
	if _, ok := t.track(); !ok {
		return
	}
	go func() {
		defer t.wg.Done()
		link.close()
	}()
}

func (t *Transport) removeLink(l *peerLink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.links[l.remote.Key()]; ok && cur == l {
		delete(t.links, l.remote.Key())
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
	links := make([]*peerLink, 0, len(t.links))
	for _, l := range t.links {
		links = append(links, l)
	}
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.config.HandshakeTimeout)
	defer cancel()
	err := t.server.Close(ctx)

	for _, l := range links {
		l.close()
	}
	t.wg.Wait()
	t.logger.Infow("WebRTC transport closed", "links", len(links))
	return err
}

func (t *Transport) recordHandshake(direction string, success bool, start time.Time) {
	if t.metrics != nil {
		t.metrics.HandshakeCompleted(direction, success, time.Since(start))
	}
}
