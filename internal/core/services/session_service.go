package services

import (
	"context"
	"net/http"
	"sync"
	"time"

	"studiolink/internal/core/domain"
	"studiolink/internal/core/ports"
	apperrors "studiolink/pkg/errors"
	"studiolink/pkg/retry"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SessionConfig tunes the session loop.
type SessionConfig struct {
	Service         string
	Encryption      domain.EncryptionLevel
	InviteTimeout   time.Duration
	Backoff         retry.Config
	DiscoveryRetry  retry.Config
	MaxFrameRate    float64
	FrameBurst      int
	MaxPayloadBytes int
	MaxFramePixels  int
	EventBuffer     int
	ExpireInterval  time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Service:         "studio",
		Encryption:      domain.EncryptionOptional,
		InviteTimeout:   15 * time.Second,
		Backoff:         retry.Config{Enabled: true, InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2},
		DiscoveryRetry:  retry.DefaultConfig(),
		MaxFrameRate:    12,
		FrameBurst:      2,
		MaxPayloadBytes: 4 * 1024 * 1024,
		MaxFramePixels:  4096 * 4096,
		EventBuffer:     256,
		ExpireInterval:  time.Second,
	}
}

// AcceptPolicy decides whether an incoming hello that already passed
// service, encryption and admission checks may proceed.
type AcceptPolicy func(peer domain.PeerIdentity, hello domain.Hello) bool

type SessionOption func(*SessionService)

func WithMetrics(m ports.MetricsCollector) SessionOption {
	return func(s *SessionService) { s.metrics = m }
}

func WithAdmission(a ports.AdmissionService) SessionOption {
	return func(s *SessionService) { s.admission = a }
}

func WithCommandListener(l CommandListener) SessionOption {
	return func(s *SessionService) { s.listeners = append(s.listeners, l) }
}

func WithRecordingController(rc *RecordingController) SessionOption {
	return func(s *SessionService) {
		s.recording = rc
		s.listeners = append(s.listeners, rc.HandleCommand)
	}
}

func WithAcceptPolicy(p AcceptPolicy) SessionOption {
	return func(s *SessionService) { s.accept = p }
}

// WithErrorSink replaces the default sink, which only logs and counts.
func WithErrorSink(sink func(error)) SessionOption {
	return func(s *SessionService) { s.sink = sink }
}

func WithClock(now func() time.Time) SessionOption {
	return func(s *SessionService) { s.now = now }
}

type eventKind int

const (
	evPeerFound eventKind = iota
	evPeerLost
	evState
	evCommand
	evSync
)

type sessionEvent struct {
	kind  eventKind
	peer  domain.DiscoveredPeer
	id    domain.PeerIdentity
	state domain.ConnectionState
	text  string
	fn    func()
	done  chan struct{}
}

// SessionService owns the connected set. Discovery events, state changes and
// inbound commands are queued onto one goroutine that alone mutates the
// invitation tracker, the per-peer state map and the connected set. Frames go
// straight to the mux, which is admitted and retired synchronously from
// OnStateChange so transport ordering carries over.
type SessionService struct {
	self      domain.PeerIdentity
	cfg       SessionConfig
	transport ports.Transport
	discovery ports.Discovery
	admission ports.AdmissionService
	metrics   ports.MetricsCollector
	logger    *zap.SugaredLogger

	mux       *FrameMux
	stats     *MetricsService
	commands  *CommandChannel
	recording *RecordingController
	listeners []CommandListener
	accept    AcceptPolicy
	sink      func(error)
	limiter   *rate.Limiter
	now       func() time.Time

	events chan sessionEvent

	// current link per peer, updated synchronously from OnStateChange
	linkMu sync.Mutex
	links  map[string]linkRef

	// loop-owned
	tracker    *InvitationTracker
	states     map[string]domain.ConnectionState
	discovered map[string]domain.DiscoveredPeer

	mu        sync.RWMutex
	connected map[string]domain.PeerInfo
	order     []string

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
}

func NewSessionService(
	self domain.PeerIdentity,
	cfg SessionConfig,
	transport ports.Transport,
	discovery ports.Discovery,
	logger *zap.SugaredLogger,
	opts ...SessionOption,
) *SessionService {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.ExpireInterval <= 0 {
		cfg.ExpireInterval = time.Second
	}
	if cfg.FrameBurst <= 0 {
		cfg.FrameBurst = 1
	}
	if cfg.MaxFramePixels <= 0 {
		cfg.MaxFramePixels = DefaultSessionConfig().MaxFramePixels
	}

	s := &SessionService{
		self:       self,
		cfg:        cfg,
		transport:  transport,
		discovery:  discovery,
		admission:  NewAdmissionService("", cfg.Service, 0),
		metrics:    NoopMetrics{},
		logger:     logger,
		mux:        NewFrameMux(),
		stats:      NewMetricsService(),
		limiter:    rate.NewLimiter(rate.Limit(cfg.MaxFrameRate), cfg.FrameBurst),
		now:        time.Now,
		events:     make(chan sessionEvent, cfg.EventBuffer),
		links:      make(map[string]linkRef),
		tracker:    NewInvitationTracker(cfg.InviteTimeout, cfg.Backoff),
		states:     make(map[string]domain.ConnectionState),
		discovered: make(map[string]domain.DiscoveredPeer),
		connected:  make(map[string]domain.PeerInfo),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sink == nil {
		s.sink = s.logError
	}
	s.commands = NewCommandChannel(s, s.metrics, logger, s.listeners...)
	return s
}

// Start starts the transport and the event loop. Discovery roles are started
// separately.
func (s *SessionService) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.done != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.startedAt = s.now()
	go s.loop(loopCtx)

	if err := s.transport.Start(ctx, s); err != nil {
		cancel()
		<-s.done
		s.done = nil
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "transport start failed", http.StatusInternalServerError)
	}

	ep := s.transport.Endpoint()
	s.logger.Infow("Session started",
		"identity", s.self.Key(),
		"service", s.cfg.Service,
		"encryption", s.cfg.Encryption,
		"port", ep.Port,
		"tls", ep.TLS,
	)
	return nil
}

// StartBrowsing begins browsing, retrying transient failures.
func (s *SessionService) StartBrowsing(ctx context.Context) error {
	err := retry.Retry(ctx, s.discoveryRetry("browse"), func() error {
		return s.discovery.Browse(ctx, s)
	})
	if err != nil {
		err = apperrors.NewDiscoveryError(err, "browse failed to start")
		s.sink(err)
	}
	return err
}

// StartAdvertising publishes this node on the transport's endpoint.
func (s *SessionService) StartAdvertising(ctx context.Context) error {
	ep := s.transport.Endpoint()
	ad := domain.Advertisement{
		Identity:   s.self,
		Service:    s.cfg.Service,
		Port:       ep.Port,
		Encryption: s.cfg.Encryption,
		TLS:        ep.TLS,
	}

	err := retry.Retry(ctx, s.discoveryRetry("advertise"), func() error {
		return s.discovery.Advertise(ctx, ad)
	})
	if err != nil {
		err = apperrors.NewDiscoveryError(err, "advertise failed to start")
		s.sink(err)
	}
	return err
}

func (s *SessionService) discoveryRetry(op string) retry.Config {
	cfg := s.cfg.DiscoveryRetry
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.logger.Warnw("Discovery failed to start, retrying",
			"operation", op,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}
	return cfg
}

func (s *SessionService) StopBrowsing()    { s.discovery.StopBrowse() }
func (s *SessionService) StopAdvertising() { s.discovery.StopAdvertise() }

// Close stops discovery, the loop and the transport.
func (s *SessionService) Close() error {
	s.discovery.StopBrowse()
	s.discovery.StopAdvertise()

	s.lifecycle.Lock()
	cancel, done := s.cancel, s.done
	s.lifecycle.Unlock()

	err := s.transport.Close()
	if cancel != nil {
		cancel()
		<-done
	}
	return err
}

// OnPeerFound implements ports.DiscoveryHandler.
func (s *SessionService) OnPeerFound(peer domain.DiscoveredPeer) {
	if peer.Identity == s.self {
		return
	}
	s.enqueue(sessionEvent{kind: evPeerFound, peer: peer, id: peer.Identity})
}

// OnPeerLost implements ports.DiscoveryHandler.
func (s *SessionService) OnPeerLost(peer domain.DiscoveredPeer) {
	if peer.Identity == s.self {
		return
	}
	s.enqueue(sessionEvent{kind: evPeerLost, peer: peer, id: peer.Identity})
}

// AcceptIncoming implements ports.TransportHandler.
func (s *SessionService) AcceptIncoming(peer domain.PeerIdentity, hello domain.Hello) bool {
	reject := func(reason string) bool {
		s.logger.Infow("Rejecting incoming peer", "peer", peer.Key(), "reason", reason)
		return false
	}

	if peer == s.self {
		return reject(domain.ErrSelfConnect.Error())
	}
	if hello.Service != s.cfg.Service {
		return reject(domain.ErrServiceMismatch.Error())
	}
	if !domain.Compatible(s.cfg.Encryption, hello.Encryption) {
		return reject(domain.ErrEncryptionMismatch.Error())
	}
	if s.cfg.Encryption == domain.EncryptionRequired && !hello.TLS {
		return reject(domain.ErrEncryptionMismatch.Error())
	}
	if err := s.admission.Verify(hello.AdmissionToken, peer); err != nil {
		return reject(err.Error())
	}
	if s.accept != nil && !s.accept(peer, hello) {
		return reject("policy")
	}
	return true
}

type linkRef struct {
	id        domain.LinkID
	connected bool
}

// OnStateChange implements ports.TransportHandler.
func (s *SessionService) OnStateChange(peer domain.PeerIdentity, link domain.LinkID, state domain.ConnectionState) {
	if current, ok := s.claimLink(peer, link, state); !ok {
		if state == domain.StateNotConnected && !current {
			s.logger.Debugw("Ignoring repeated disconnect", "peer", peer.Key(), "link", link)
		} else {
			s.logger.Debugw("Ignoring stale link report", "peer", peer.Key(), "link", link, "state", state)
		}
		return
	}

	switch state {
	case domain.StateConnected:
		s.mux.Admit(peer)
	case domain.StateNotConnected:
		if s.mux.Retire(peer) {
			s.metrics.SetSlots(s.mux.Len())
		}
	}
	s.metrics.StateChanged(state)
	s.enqueue(sessionEvent{kind: evState, id: peer, state: state})
}

// claimLink records link as the one speaking for peer. It rejects a
// Connecting while another link is up, and a NotConnected for anything but
// the current link. current reports whether peer had a current link at all.
func (s *SessionService) claimLink(peer domain.PeerIdentity, link domain.LinkID, state domain.ConnectionState) (current, ok bool) {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	key := peer.Key()
	ref, current := s.links[key]
	switch state {
	case domain.StateConnecting:
		if current && ref.connected {
			return current, false
		}
		s.links[key] = linkRef{id: link}
	case domain.StateConnected:
		s.links[key] = linkRef{id: link, connected: true}
	case domain.StateNotConnected:
		if !current || ref.id != link {
			return current, false
		}
		delete(s.links, key)
	}
	return current, true
}

// forgetPendingLink drops peer's link unless it is connected.
func (s *SessionService) forgetPendingLink(peer domain.PeerIdentity) bool {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	key := peer.Key()
	if ref, ok := s.links[key]; ok && ref.connected {
		return false
	}
	delete(s.links, key)
	return true
}

// OnReceive implements ports.TransportHandler.
func (s *SessionService) OnReceive(peer domain.PeerIdentity, payload []byte) {
	if len(payload) > s.cfg.MaxPayloadBytes {
		s.drop(peer, "too_large")
		return
	}

	decoded := ClassifyPayload(payload, s.cfg.MaxFramePixels)
	switch decoded.Kind {
	case PayloadImage:
		at := s.now()
		created, err := s.mux.Upsert(peer, decoded.Frame, decoded.Image, at)
		if err != nil {
			s.drop(peer, "not_connected")
			return
		}
		s.metrics.PayloadReceived(decoded.Kind.String(), len(payload))
		s.stats.RecordFrameIn(peer, len(payload), at)
		if created {
			s.metrics.SetSlots(s.mux.Len())
			s.logger.Infow("Slot created", "peer", peer.Key(), "slot", peer.SlotID())
		}
	case PayloadText:
		s.metrics.PayloadReceived(decoded.Kind.String(), len(payload))
		s.enqueue(sessionEvent{kind: evCommand, id: peer, text: decoded.Text})
	case PayloadOversized:
		s.logger.Debugw("Dropping oversized frame",
			"peer", peer.Key(),
			"width", decoded.Frame.Width,
			"height", decoded.Frame.Height,
		)
		s.drop(peer, "too_large")
	default:
		s.drop(peer, "unrecognized")
	}
}

func (s *SessionService) drop(peer domain.PeerIdentity, reason string) {
	s.metrics.PayloadDropped(reason)
	s.stats.RecordDropped(peer)
}

// enqueue blocks until the loop has room or the session is closed.
func (s *SessionService) enqueue(ev sessionEvent) {
	s.lifecycle.Lock()
	done := s.done
	s.lifecycle.Unlock()
	if done == nil {
		return
	}

	select {
	case s.events <- ev:
	case <-done:
	}
}

func (s *SessionService) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.ExpireInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.handle(ev)
		case <-ticker.C:
			s.expireInvitations()
		}
	}
}

func (s *SessionService) handle(ev sessionEvent) {
	switch ev.kind {
	case evPeerFound:
		s.handlePeerFound(ev.peer)
	case evPeerLost:
		s.handlePeerLost(ev.peer)
	case evState:
		s.handleState(ev.id, ev.state)
	case evCommand:
		s.handleCommand(ev.id, ev.text)
	case evSync:
		if ev.fn != nil {
			ev.fn()
		}
		close(ev.done)
	}
}

func (s *SessionService) handlePeerFound(peer domain.DiscoveredPeer) {
	key := peer.Identity.Key()
	if s.states[key] == domain.StateConnected {
		return
	}
	if _, known := s.discovered[key]; !known {
		s.metrics.PeerDiscovered()
		s.logger.Infow("Peer found", "peer", key, "addr", peer.Addr)
	}
	s.discovered[key] = peer

	if !domain.Compatible(s.cfg.Encryption, peer.Encryption) ||
		(s.cfg.Encryption == domain.EncryptionRequired && !peer.TLS) {
		s.logger.Debugw("Skipping peer with incompatible encryption",
			"peer", key,
			"local", s.cfg.Encryption,
			"remote", peer.Encryption,
		)
		return
	}

	state := s.states[key]
	busy := state == domain.StateConnecting || state == domain.StateConnected
	if !s.tracker.OnPeerFound(peer, busy, s.now()) {
		return
	}

	s.metrics.InvitationSent()
	s.logger.Infow("Inviting peer", "peer", key, "timeout", s.cfg.InviteTimeout)
	s.transport.Connect(peer, s.cfg.InviteTimeout)
}

func (s *SessionService) handlePeerLost(peer domain.DiscoveredPeer) {
	key := peer.Identity.Key()
	if _, known := s.discovered[key]; !known {
		return
	}
	delete(s.discovered, key)
	s.tracker.OnPeerLost(peer.Identity)
	s.metrics.PeerLost()
	s.logger.Infow("Peer lost", "peer", key)
}

func (s *SessionService) handleState(id domain.PeerIdentity, state domain.ConnectionState) {
	key := id.Key()
	prev, tracked := s.states[key]
	now := s.now()

	switch state {
	case domain.StateConnecting:
		if prev == domain.StateConnected {
			return
		}
		s.states[key] = domain.StateConnecting

	case domain.StateConnected:
		if prev == domain.StateConnected {
			return
		}
		s.states[key] = domain.StateConnected
		delete(s.discovered, key)
		s.tracker.OnStateChange(id, domain.StateConnected, now)
		s.stats.PeerConnected(id, now)
		n := s.addConnected(domain.PeerInfo{Identity: id, State: domain.StateConnected, ConnectedAt: now})
		s.metrics.SetConnectedPeers(n)
		s.logger.Infow("Peer connected", "peer", key, "connected_peers", n)

	case domain.StateNotConnected:
		// Cleanup runs once per link: a repeated report finds no entry.
		if !tracked {
			s.logger.Debugw("Ignoring repeated disconnect", "peer", key)
			return
		}
		delete(s.states, key)
		s.tracker.OnStateChange(id, domain.StateNotConnected, now)
		s.mux.Retire(id)
		s.stats.PeerDisconnected(id)
		n := s.removeConnected(key)
		s.metrics.SetConnectedPeers(n)
		s.metrics.SetSlots(s.mux.Len())
		s.logger.Infow("Peer disconnected", "peer", key, "previous", prev, "connected_peers", n)
	}
}

func (s *SessionService) handleCommand(id domain.PeerIdentity, text string) {
	if s.states[id.Key()] != domain.StateConnected {
		s.metrics.PayloadDropped("not_connected")
		return
	}
	s.stats.RecordCommandIn(id, len(text))
	s.commands.Dispatch(domain.NewCommand(text, id, s.now()))
}

func (s *SessionService) expireInvitations() {
	for _, id := range s.tracker.Expire(s.now()) {
		key := id.Key()
		s.metrics.InvitationExpired()
		s.logger.Warnw("Invitation expired", "peer", key, "attempts", s.tracker.Attempts(id))
		if s.states[key] == domain.StateConnected || !s.forgetPendingLink(id) {
			continue
		}
		// back to Unknown whether or not the transport reports the attempt
		delete(s.states, key)
		s.transport.Disconnect(id)
	}
}

// do runs fn on the loop after every event queued before the call.
func (s *SessionService) do(ctx context.Context, fn func()) error {
	s.lifecycle.Lock()
	loopDone := s.done
	s.lifecycle.Unlock()
	if loopDone == nil {
		return domain.ErrNotStarted
	}

	done := make(chan struct{})
	select {
	case s.events <- sessionEvent{kind: evSync, fn: fn, done: done}:
	case <-loopDone:
		return domain.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-loopDone:
		return domain.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SessionService) addConnected(info domain.PeerInfo) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := info.Identity.Key()
	if _, ok := s.connected[key]; !ok {
		s.order = append(s.order, key)
	}
	s.connected[key] = info
	return len(s.connected)
}

func (s *SessionService) removeConnected(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connected[key]; ok {
		delete(s.connected, key)
		for i, k := range s.order {
			if k == key {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	return len(s.connected)
}

func (s *SessionService) connectedIdentities() []domain.PeerIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PeerIdentity, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.connected[k].Identity)
	}
	return out
}

// Broadcast sends payload to every connected peer. With no peers it does
// nothing. Transport failures go to the error sink, never to the caller.
func (s *SessionService) Broadcast(payload []byte, reliability domain.Reliability) error {
	peers := s.connectedIdentities()
	if len(peers) == 0 {
		return nil
	}

	if err := s.transport.Send(peers, payload, reliability); err != nil {
		s.metrics.SendFailed(reliability)
		s.sink(err)
		return nil
	}
	s.metrics.PayloadSent(reliability, len(peers), len(payload))
	s.stats.RecordSent(peers, reliability)
	return nil
}

// SendFrame sends an encoded frame BestEffort. Frames beyond the configured
// rate are dropped.
func (s *SessionService) SendFrame(payload []byte) error {
	if len(payload) == 0 {
		return apperrors.NewInvalidInputError("empty frame")
	}
	if len(payload) > s.cfg.MaxPayloadBytes {
		return apperrors.NewPayloadTooLargeError(s.cfg.MaxPayloadBytes)
	}
	if !s.limiter.Allow() {
		s.metrics.PayloadDropped("rate_limited")
		return nil
	}
	return s.Broadcast(payload, domain.BestEffort)
}

// SendCommand sends text Reliable to all connected peers.
func (s *SessionService) SendCommand(text string) error {
	if err := s.commands.SendCommand(text); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	return nil
}

func (s *SessionService) Identity() domain.PeerIdentity {
	return s.self
}

// ConnectedPeers returns a snapshot in connection order.
func (s *SessionService) ConnectedPeers() []domain.PeerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PeerInfo, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.connected[k])
	}
	return out
}

func (s *SessionService) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connected) > 0
}

func (s *SessionService) Slots() []domain.SlotView {
	return s.mux.Snapshot()
}

func (s *SessionService) SlotFrame(slotID string) (domain.Frame, error) {
	slot, ok := s.mux.Slot(slotID)
	if !ok {
		return domain.Frame{}, domain.ErrSlotNotFound
	}
	return slot.Frame(), nil
}

// Mux exposes the slot collection for subscriptions.
func (s *SessionService) Mux() *FrameMux {
	return s.mux
}

func (s *SessionService) Stats() domain.StudioStats {
	st := domain.StudioStats{
		ConnectedPeers: len(s.ConnectedPeers()),
		Slots:          s.mux.Len(),
		Peers:          s.stats.Snapshot(),
	}
	if s.recording != nil {
		st.Recording = s.recording.Recording()
	}

	s.lifecycle.Lock()
	if !s.startedAt.IsZero() {
		st.Uptime = s.now().Sub(s.startedAt)
	}
	s.lifecycle.Unlock()
	return st
}

// Ready reports whether the loop runs and discovery is active in some role.
func (s *SessionService) Ready() bool {
	s.lifecycle.Lock()
	running := s.done != nil
	s.lifecycle.Unlock()
	return running && (s.discovery.Browsing() || s.discovery.Advertising())
}

func (s *SessionService) logError(err error) {
	s.logger.Errorw("Session error", "error", err)
}

// Invited returns peers with an outstanding invitation.
func (s *SessionService) Invited(ctx context.Context) ([]domain.PeerIdentity, error) {
	var out []domain.PeerIdentity
	if err := s.do(ctx, func() { out = s.tracker.Invited() }); err != nil {
		return nil, err
	}
	return out, nil
}
