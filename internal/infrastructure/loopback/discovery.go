package loopback

import (
	"context"
	"sync"
	"time"

	"studiolink/internal/core/domain"
	"studiolink/internal/core/ports"
)

// Discovery implements ports.Discovery on a Hub.
type Discovery struct {
	hub     *Hub
	self    domain.PeerIdentity
	service string

	mu          sync.Mutex
	handler     ports.DiscoveryHandler
	browsing    bool
	advertising bool
	seen        map[string]bool
}

func NewDiscovery(hub *Hub, self domain.PeerIdentity, service string) *Discovery {
	return &Discovery{
		hub:     hub,
		self:    self,
		service: service,
		seen:    make(map[string]bool),
	}
}

func (d *Discovery) Advertise(_ context.Context, ad domain.Advertisement) error {
	d.mu.Lock()
	if d.advertising {
		d.mu.Unlock()
		return nil
	}
	d.advertising = true
	d.mu.Unlock()

	d.hub.advertise(ad)
	return nil
}

func (d *Discovery) StopAdvertise() {
	d.mu.Lock()
	was := d.advertising
	d.advertising = false
	d.mu.Unlock()

	if was {
		d.hub.withdraw(d.self)
	}
}

func (d *Discovery) Browse(_ context.Context, handler ports.DiscoveryHandler) error {
	d.mu.Lock()
	if d.browsing {
		d.mu.Unlock()
		return nil
	}
	d.browsing = true
	d.handler = handler
	d.mu.Unlock()

	for _, ad := range d.hub.addBrowser(d) {
		d.observe(ad, true)
	}
	return nil
}

// StopBrowse returns after any in-flight handler call, and no call follows.
func (d *Discovery) StopBrowse() {
	d.hub.removeBrowser(d)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.browsing = false
	d.handler = nil
	d.seen = make(map[string]bool)
}

func (d *Discovery) Advertising() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.advertising
}

func (d *Discovery) Browsing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.browsing
}

// observe delivers one sighting while holding d.mu so StopBrowse can fence
// off later calls.
func (d *Discovery) observe(ad domain.Advertisement, present bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.browsing || d.handler == nil {
		return
	}
	if ad.Service != d.service || ad.Identity == d.self {
		return
	}

	key := ad.Identity.Key()
	peer := discoveredFrom(ad)
	peer.LastSeen = time.Now()

	if present {
		d.seen[key] = true
		d.handler.OnPeerFound(peer)
		return
	}
	if d.seen[key] {
		delete(d.seen, key)
		d.handler.OnPeerLost(peer)
	}
}
