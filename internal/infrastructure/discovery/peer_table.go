package discovery

import (
	"sort"
	"sync"
	"time"

	"studiolink/internal/core/domain"
)

// PeerTable remembers when each browsed peer was last seen. A peer is lost
// once it has been silent for longer than lostAfter.
type PeerTable struct {
	mu        sync.Mutex
	lostAfter time.Duration
	peers     map[string]domain.DiscoveredPeer
}

func NewPeerTable(lostAfter time.Duration) *PeerTable {
	return &PeerTable{
		lostAfter: lostAfter,
		peers:     make(map[string]domain.DiscoveredPeer),
	}
}

// Observe records a sighting and reports whether the peer is new.
func (t *PeerTable) Observe(peer domain.DiscoveredPeer, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := peer.Identity.Key()
	_, known := t.peers[key]
	peer.LastSeen = now
	t.peers[key] = peer
	return !known
}

// Sweep removes and returns peers silent past lostAfter, ordered by key.
func (t *PeerTable) Sweep(now time.Time) []domain.DiscoveredPeer {
	t.mu.Lock()
	defer t.mu.Unlock()

	var lost []domain.DiscoveredPeer
	for key, peer := range t.peers {
		if now.Sub(peer.LastSeen) > t.lostAfter {
			lost = append(lost, peer)
			delete(t.peers, key)
		}
	}
	sort.Slice(lost, func(i, j int) bool {
		return lost[i].Identity.Key() < lost[j].Identity.Key()
	})
	return lost
}

func (t *PeerTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

func (t *PeerTable) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers = make(map[string]domain.DiscoveredPeer)
}
