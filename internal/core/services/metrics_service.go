package services

import (
	"sort"
	"sync"
	"time"

	"studiolink/internal/core/domain"
)

// MetricsService keeps per-peer traffic counters for the status API.
type MetricsService struct {
	mu sync.RWMutex

	peers         map[string]*domain.PeerStats
	reconnections map[string]int
}

func NewMetricsService() *MetricsService {
	return &MetricsService{
		peers:         make(map[string]*domain.PeerStats),
		reconnections: make(map[string]int),
	}
}

func (m *MetricsService) PeerConnected(peer domain.PeerIdentity, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := peer.Key()
	if _, seen := m.reconnections[key]; seen {
		m.reconnections[key]++
	} else {
		m.reconnections[key] = 0
	}
	m.peers[key] = &domain.PeerStats{
		Peer:          peer,
		ConnectedAt:   at,
		Reconnections: m.reconnections[key],
	}
}

func (m *MetricsService) PeerDisconnected(peer domain.PeerIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, peer.Key())
}

func (m *MetricsService) RecordFrameIn(peer domain.PeerIdentity, bytes int, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.peers[peer.Key()]; ok {
		s.FramesIn++
		s.BytesIn += uint64(bytes)
		s.LastFrameAt = at
	}
}

func (m *MetricsService) RecordCommandIn(peer domain.PeerIdentity, bytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.peers[peer.Key()]; ok {
		s.CommandsIn++
		s.BytesIn += uint64(bytes)
	}
}

func (m *MetricsService) RecordDropped(peer domain.PeerIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.peers[peer.Key()]; ok {
		s.Dropped++
	}
}

// RecordSent counts one outbound payload per listed peer.
func (m *MetricsService) RecordSent(peers []domain.PeerIdentity, reliability domain.Reliability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range peers {
		s, ok := m.peers[p.Key()]
		if !ok {
			continue
		}
		if reliability == domain.Reliable {
			s.CommandsOut++
		} else {
			s.FramesOut++
		}
	}
}

func (m *MetricsService) GetPeerStats(peer domain.PeerIdentity) (domain.PeerStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.peers[peer.Key()]
	if !ok {
		return domain.PeerStats{}, false
	}
	return *s, true
}

// Snapshot returns stats for connected peers sorted by key.
func (m *MetricsService) Snapshot() []domain.PeerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.PeerStats, 0, len(m.peers))
	for _, s := range m.peers {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer.Key() < out[j].Peer.Key() })
	return out
}
