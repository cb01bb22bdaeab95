// Package loopback connects nodes inside one process. It backs the session
// tests and the local demo with the same contracts as the network stack.
package loopback

import (
	"fmt"
	"sync"

	"studiolink/internal/core/domain"
)

// Hub is a shared medium for in-process discovery and transport.
type Hub struct {
	mu         sync.Mutex
	transports map[string]*Transport
	adverts    map[string]domain.Advertisement
	browsers   map[*Discovery]struct{}
	nextPort   int
}

func NewHub() *Hub {
	return &Hub{
		transports: make(map[string]*Transport),
		adverts:    make(map[string]domain.Advertisement),
		browsers:   make(map[*Discovery]struct{}),
		nextPort:   40000,
	}
}

func (h *Hub) allocPort() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextPort++
	return h.nextPort
}

func (h *Hub) register(t *Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transports[t.self.Key()] = t
}

func (h *Hub) unregister(t *Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.transports[t.self.Key()] == t {
		delete(h.transports, t.self.Key())
	}
}

// handshake links dialer and acceptor. Handshakes are serialized, so of two
// concurrent mutual dials the first wins and the second sees a duplicate.
func (h *Hub) handshake(dialer *Transport, remote domain.PeerIdentity, id domain.LinkID) (*link, *link, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	acceptor, ok := h.transports[remote.Key()]
	if !ok {
		return nil, nil, fmt.Errorf("%s unreachable", remote.Key())
	}
	if acceptor == dialer {
		return nil, nil, domain.ErrSelfConnect
	}
	if dialer.hasLink(remote) || acceptor.hasLink(dialer.self) {
		return nil, nil, domain.ErrDuplicateSession
	}

	handler := acceptor.currentHandler()
	if handler == nil {
		return nil, nil, domain.ErrNotStarted
	}
	if !handler.AcceptIncoming(dialer.self, dialer.hello()) {
		return nil, nil, domain.ErrAdmissionDenied
	}

	dl := newLink(dialer, id, remote, dialer.queueSize)
	al := newLink(acceptor, acceptor.newLinkID(), dialer.self, acceptor.queueSize)
	dl.peer, al.peer = al, dl

	if !dialer.addLink(dl) || !acceptor.addLink(al) {
		dialer.removeLink(remote, dl)
		acceptor.removeLink(dialer.self, al)
		return nil, nil, domain.ErrTransportClosed
	}
	return dl, al, nil
}

// Advertise publishes ad to current and future browsers of the same service.
func (h *Hub) advertise(ad domain.Advertisement) {
	h.mu.Lock()
	h.adverts[ad.Identity.Key()] = ad
	browsers := h.browsersLocked()
	h.mu.Unlock()

	for _, b := range browsers {
		b.observe(ad, true)
	}
}

func (h *Hub) withdraw(id domain.PeerIdentity) {
	h.mu.Lock()
	ad, ok := h.adverts[id.Key()]
	delete(h.adverts, id.Key())
	browsers := h.browsersLocked()
	h.mu.Unlock()

	if !ok {
		return
	}
	for _, b := range browsers {
		b.observe(ad, false)
	}
}

func (h *Hub) addBrowser(d *Discovery) []domain.Advertisement {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.browsers[d] = struct{}{}

	ads := make([]domain.Advertisement, 0, len(h.adverts))
	for _, ad := range h.adverts {
		ads = append(ads, ad)
	}
	return ads
}

func (h *Hub) removeBrowser(d *Discovery) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.browsers, d)
}

func (h *Hub) browsersLocked() []*Discovery {
	out := make([]*Discovery, 0, len(h.browsers))
	for b := range h.browsers {
		out = append(out, b)
	}
	return out
}

// Refresh re-announces every advertisement, like a periodic query round.
func (h *Hub) Refresh() {
	h.mu.Lock()
	ads := make([]domain.Advertisement, 0, len(h.adverts))
	for _, ad := range h.adverts {
		ads = append(ads, ad)
	}
	browsers := h.browsersLocked()
	h.mu.Unlock()

	for _, b := range browsers {
		for _, ad := range ads {
			b.observe(ad, true)
		}
	}
}

func discoveredFrom(ad domain.Advertisement) domain.DiscoveredPeer {
	return domain.DiscoveredPeer{
		Identity:   ad.Identity,
		Addr:       fmt.Sprintf("loopback:%d", ad.Port),
		Encryption: ad.Encryption,
		TLS:        ad.TLS,
		Metadata: map[string]string{
			"name": ad.Identity.DisplayName,
			"id":   ad.Identity.Token,
			"enc":  string(ad.Encryption),
		},
	}
}
