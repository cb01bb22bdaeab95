package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"studiolink/internal/core/domain"
	"studiolink/internal/core/ports"
)

const defaultQueueSize = 8

type Option func(*Transport)

// WithQueueSize bounds the best-effort queue of each link.
func WithQueueSize(n int) Option {
	return func(t *Transport) { t.queueSize = n }
}

// WithEncryption sets the level reported in hellos and the endpoint.
func WithEncryption(level domain.EncryptionLevel) Option {
	return func(t *Transport) { t.encryption = level }
}

// WithAdmissionToken sets the token presented in outgoing hellos.
func WithAdmissionToken(token string) Option {
	return func(t *Transport) { t.token = token }
}

// WithAdmission mints a fresh token for every outgoing hello.
func WithAdmission(a ports.AdmissionService) Option {
	return func(t *Transport) { t.admission = a }
}

// WithService sets the service carried in outgoing hellos.
func WithService(service string) Option {
	return func(t *Transport) { t.service = service }
}

// Transport implements ports.Transport on a Hub. Best-effort payloads are
// dropped when the receiving link's queue is full; reliable payloads queue
// without bound and arrive in order.
type Transport struct {
	hub        *Hub
	self       domain.PeerIdentity
	service    string
	encryption domain.EncryptionLevel
	token      string
	admission  ports.AdmissionService
	queueSize  int
	port       int
	nextLink   atomic.Uint64

	mu      sync.Mutex
	handler ports.TransportHandler
	links   map[string]*link
	closed  bool
	wg      sync.WaitGroup
}

func NewTransport(hub *Hub, self domain.PeerIdentity, opts ...Option) *Transport {
	t := &Transport{
		hub:        hub,
		self:       self,
		service:    "studio",
		encryption: domain.EncryptionOptional,
		queueSize:  defaultQueueSize,
		links:      make(map[string]*link),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.port = hub.allocPort()
	return t
}

func (t *Transport) Start(_ context.Context, handler ports.TransportHandler) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return domain.ErrTransportClosed
	}
	t.handler = handler
	t.mu.Unlock()

	t.hub.register(t)
	return nil
}

func (t *Transport) Endpoint() ports.Endpoint {
	return ports.Endpoint{Host: "loopback", Port: t.port, TLS: t.encryption.UsesTLS()}
}

func (t *Transport) hello() domain.Hello {
	token := t.token
	if t.admission != nil {
		if issued, err := t.admission.IssueToken(t.self); err == nil {
			token = issued
		}
	}
	return domain.Hello{
		Identity:       t.self,
		Service:        t.service,
		Encryption:     t.encryption,
		TLS:            t.encryption.UsesTLS(),
		AdmissionToken: token,
		Version:        domain.ProtocolVersion,
	}
}

func (t *Transport) newLinkID() domain.LinkID {
	return domain.LinkID(t.nextLink.Add(1))
}

func (t *Transport) currentHandler() ports.TransportHandler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler
}

func (t *Transport) hasLink(id domain.PeerIdentity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.links[id.Key()]
	return ok
}

func (t *Transport) addLink(l *link) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.links[l.remote.Key()] = l
	return true
}

func (t *Transport) removeLink(id domain.PeerIdentity, l *link) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.links[id.Key()]; ok && cur == l {
		delete(t.links, id.Key())
		return true
	}
	return false
}

// Connect dials asynchronously. A dial that collapses into a link the other
// side already established reports nothing further.
func (t *Transport) Connect(peer domain.DiscoveredPeer, timeout time.Duration) {
	if !t.track() {
		return
	}
	go func() {
		defer t.wg.Done()
		t.dial(peer.Identity, timeout)
	}()
}

func (t *Transport) dial(remote domain.PeerIdentity, timeout time.Duration) {
	handler := t.currentHandler()
	if handler == nil || t.hasLink(remote) {
		return
	}
	id := t.newLinkID()
	handler.OnStateChange(remote, id, domain.StateConnecting)

	type result struct {
		dl, al *link
		err    error
	}
	resCh := make(chan result, 1)
	go func() {
		dl, al, err := t.hub.handshake(t, remote, id)
		resCh <- result{dl, al, err}
	}()

	var res result
	select {
	case res = <-resCh:
	case <-time.After(timeout):
		res.err = domain.ErrHandshakeTimeout
		go func() {
			if late := <-resCh; late.err == nil {
				late.dl.close(true)
			}
		}()
	}

	if res.err != nil {
		if errors.Is(res.err, domain.ErrDuplicateSession) && t.hasLink(remote) {
			return
		}
		handler.OnStateChange(remote, id, domain.StateNotConnected)
		return
	}

	// acceptor first, so its receiver is live before the dialer can send
	res.al.open()
	res.dl.open()
}

// Send enqueues payload on every listed link. Missing links are reported in
// the returned error; other peers still receive the payload.
func (t *Transport) Send(peers []domain.PeerIdentity, payload []byte, reliability domain.Reliability) error {
	var errs []error
	for _, id := range peers {
		t.mu.Lock()
		l, ok := t.links[id.Key()]
		t.mu.Unlock()
		if !ok {
			errs = append(errs, fmt.Errorf("%s: %w", id.Key(), domain.ErrPeerNotConnected))
			continue
		}

		buf := make([]byte, len(payload))
		copy(buf, payload)
		l.peer.deliver(buf, reliability)
	}
	return errors.Join(errs...)
}

// Disconnect tears the link down on both sides. State reports happen on
// another goroutine.
func (t *Transport) Disconnect(id domain.PeerIdentity) {
	t.mu.Lock()
	l, ok := t.links[id.Key()]
	t.mu.Unlock()
	if !ok {
		return
	}

	if !t.track() {
		return
	}
	go func() {
		defer t.wg.Done()
		l.close(true)
	}()
}

// track registers a background goroutine unless the transport is closed.
func (t *Transport) track() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	return true
}

// InjectState reports state for id's link straight to the handler. Tests use
// it to replay transport quirks such as a doubled disconnect.
func (t *Transport) InjectState(id domain.PeerIdentity, link domain.LinkID, state domain.ConnectionState) {
	if h := t.currentHandler(); h != nil {
		h.OnStateChange(id, link, state)
	}
}

// LinkID returns the id of the current link to peer, or zero.
func (t *Transport) LinkID(peer domain.PeerIdentity) domain.LinkID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.links[peer.Key()]; ok {
		return l.id
	}
	return 0
}

// InjectPayload delivers payload as if id had sent it.
func (t *Transport) InjectPayload(id domain.PeerIdentity, payload []byte) {
	if h := t.currentHandler(); h != nil {
		h.OnReceive(id, payload)
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	links := make([]*link, 0, len(t.links))
	for _, l := range t.links {
		links = append(links, l)
	}
	t.mu.Unlock()

	t.hub.unregister(t)
	for _, l := range links {
		l.close(true)
	}
	t.wg.Wait()
	return nil
}

// link is one side of a connection.
type link struct {
	owner  *Transport
	id     domain.LinkID
	remote domain.PeerIdentity
	peer   *link

	bestEffort chan []byte

	qmu      sync.Mutex
	reliable [][]byte
	signal   chan struct{}

	// deliverMu fences OnReceive against the NotConnected report.
	deliverMu sync.Mutex
	closed    bool
	opened    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newLink(owner *Transport, id domain.LinkID, remote domain.PeerIdentity, queueSize int) *link {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &link{
		owner:      owner,
		id:         id,
		remote:     remote,
		bestEffort: make(chan []byte, queueSize),
		signal:     make(chan struct{}, 1),
		opened:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// open reports Connected and then starts the receiver. A link closed before
// it opened stays silent.
func (l *link) open() {
	l.deliverMu.Lock()
	if l.closed {
		l.deliverMu.Unlock()
		return
	}
	if h := l.owner.currentHandler(); h != nil {
		h.OnStateChange(l.remote, l.id, domain.StateConnected)
	}
	close(l.opened)
	l.deliverMu.Unlock()

	l.owner.wg.Add(1)
	go func() {
		defer l.owner.wg.Done()
		l.receive()
	}()
}

func (l *link) deliver(payload []byte, reliability domain.Reliability) {
	select {
	case <-l.done:
		return
	default:
	}

	if reliability == domain.Reliable {
		l.qmu.Lock()
		l.reliable = append(l.reliable, payload)
		l.qmu.Unlock()
		select {
		case l.signal <- struct{}{}:
		default:
		}
		return
	}

	select {
	case l.bestEffort <- payload:
	default:
		// queue full: best-effort payload dropped
	}
}

func (l *link) receive() {
	for {
		select {
		case <-l.done:
			return
		case <-l.signal:
			for {
				l.qmu.Lock()
				if len(l.reliable) == 0 {
					l.qmu.Unlock()
					break
				}
				next := l.reliable[0]
				l.reliable = l.reliable[1:]
				l.qmu.Unlock()
				if !l.hand(next) {
					return
				}
			}
		case payload := <-l.bestEffort:
			if !l.hand(payload) {
				return
			}
		}
	}
}

func (l *link) hand(payload []byte) bool {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()
	if l.closed {
		return false
	}
	if h := l.owner.currentHandler(); h != nil {
		h.OnReceive(l.remote, payload)
	}
	return true
}

// close shuts this side and, if both, the peer side. Each side reports
// NotConnected once.
func (l *link) close(both bool) {
	l.closeOnce.Do(func() {
		l.deliverMu.Lock()
		l.closed = true
		close(l.done)
		l.deliverMu.Unlock()

		l.owner.removeLink(l.remote, l)

		// a link that never opened was never reported Connected
		select {
		case <-l.opened:
		default:
			return
		}
		if h := l.owner.currentHandler(); h != nil {
			h.OnStateChange(l.remote, l.id, domain.StateNotConnected)
		}
	})
	if both && l.peer != nil {
		l.peer.close(false)
	}
}
