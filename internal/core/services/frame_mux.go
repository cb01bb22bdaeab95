package services

import (
	"image"
	"sync"
	"time"

	"studiolink/internal/core/domain"
)

// FrameSlot holds the latest frame of one connected peer. Updates lock only
// the slot and wake only the slot's own watchers.
type FrameSlot struct {
	id    string
	label string
	peer  domain.PeerIdentity

	mu        sync.RWMutex
	frame     domain.Frame
	img       image.Image
	seq       uint64
	updatedAt time.Time

	watchers *watcherSet
}

func newFrameSlot(peer domain.PeerIdentity) *FrameSlot {
	return &FrameSlot{
		id:       peer.SlotID(),
		label:    peer.DisplayName,
		peer:     peer,
		watchers: newWatcherSet(),
	}
}

func (s *FrameSlot) ID() string                { return s.id }
func (s *FrameSlot) Label() string             { return s.label }
func (s *FrameSlot) Peer() domain.PeerIdentity { return s.peer }

func (s *FrameSlot) update(frame domain.Frame, img image.Image, at time.Time) {
	s.mu.Lock()
	s.frame = frame
	s.img = img
	s.seq++
	s.updatedAt = at
	s.mu.Unlock()

	s.watchers.notify()
}

// Image returns the latest decoded image.
func (s *FrameSlot) Image() image.Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.img
}

// Frame returns the latest raw frame.
func (s *FrameSlot) Frame() domain.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame
}

func (s *FrameSlot) View() domain.SlotView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.SlotView{
		ID:        s.id,
		Label:     s.label,
		Peer:      s.peer,
		Format:    s.frame.Format,
		Width:     s.frame.Width,
		Height:    s.frame.Height,
		Seq:       s.seq,
		UpdatedAt: s.updatedAt,
	}
}

// Watch returns a channel that receives a signal after each update. Signals
// coalesce. The channel is closed when the slot is removed.
func (s *FrameSlot) Watch() (<-chan struct{}, func()) {
	return s.watchers.add()
}

// FrameMux owns the slot collection. Slots exist only for admitted peers, so
// a frame that arrives after its peer was retired is dropped.
type FrameMux struct {
	mu       sync.Mutex
	slots    map[string]*FrameSlot
	order    []string
	admitted map[string]domain.PeerIdentity

	watchers *watcherSet
}

func NewFrameMux() *FrameMux {
	return &FrameMux{
		slots:    make(map[string]*FrameSlot),
		admitted: make(map[string]domain.PeerIdentity),
		watchers: newWatcherSet(),
	}
}

// Admit allows frames from peer.
func (m *FrameMux) Admit(peer domain.PeerIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admitted[peer.SlotID()] = peer
}

// Retire removes the peer's slot (exact match on slot ID) and its admission.
// It reports whether a slot was removed. Safe to call repeatedly.
func (m *FrameMux) Retire(peer domain.PeerIdentity) bool {
	id := peer.SlotID()

	m.mu.Lock()
	delete(m.admitted, id)
	slot, ok := m.slots[id]
	if ok {
		delete(m.slots, id)
		for i, sid := range m.order {
			if sid == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	if ok {
		slot.watchers.closeAll()
		m.watchers.notify()
	}
	return ok
}

// Upsert stores a frame for peer. The first frame creates the slot and
// appends it to the collection; later frames update the same slot in place.
func (m *FrameMux) Upsert(peer domain.PeerIdentity, frame domain.Frame, img image.Image, at time.Time) (created bool, err error) {
	id := peer.SlotID()

	m.mu.Lock()
	if _, ok := m.admitted[id]; !ok {
		m.mu.Unlock()
		return false, domain.ErrPeerNotConnected
	}
	slot, ok := m.slots[id]
	if !ok {
		slot = newFrameSlot(peer)
		m.slots[id] = slot
		m.order = append(m.order, id)
		created = true
	}
	m.mu.Unlock()

	slot.update(frame, img, at)
	if created {
		m.watchers.notify()
	}
	return created, nil
}

func (m *FrameMux) Slot(id string) (*FrameSlot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[id]
	return slot, ok
}

// Snapshot returns slot views in insertion order.
func (m *FrameMux) Snapshot() []domain.SlotView {
	m.mu.Lock()
	slots := make([]*FrameSlot, 0, len(m.order))
	for _, id := range m.order {
		slots = append(slots, m.slots[id])
	}
	m.mu.Unlock()

	views := make([]domain.SlotView, 0, len(slots))
	for _, s := range slots {
		views = append(views, s.View())
	}
	return views
}

func (m *FrameMux) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// Subscribe signals when slots are added or removed. Frame updates inside an
// existing slot do not signal here; use FrameSlot.Watch for those.
func (m *FrameMux) Subscribe() (<-chan struct{}, func()) {
	return m.watchers.add()
}

type watcherSet struct {
	mu     sync.Mutex
	next   uint64
	chans  map[uint64]chan struct{}
	closed bool
}

func newWatcherSet() *watcherSet {
	return &watcherSet{chans: make(map[uint64]chan struct{})}
}

func (w *watcherSet) add() (<-chan struct{}, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := make(chan struct{}, 1)
	if w.closed {
		close(ch)
		return ch, func() {}
	}

	id := w.next
	w.next++
	w.chans[id] = ch

	return ch, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if c, ok := w.chans[id]; ok {
			delete(w.chans, id)
			close(c)
		}
	}
}

func (w *watcherSet) notify() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.chans {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (w *watcherSet) closeAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	for id, ch := range w.chans {
		delete(w.chans, id)
		close(ch)
	}
}
