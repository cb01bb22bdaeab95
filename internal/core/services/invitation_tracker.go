package services

import (
	"sort"
	"time"

	"studiolink/internal/core/domain"
	"studiolink/pkg/retry"
)

type invitation struct {
	peer   domain.DiscoveredPeer
	sentAt time.Time
}

type cooldown struct {
	attempts int
	until    time.Time
}

// InvitationTracker decides when a discovered peer gets an outbound
// invitation. It is not safe for concurrent use; the session loop owns it.
//
// A peer is Unknown when it has no entry in invited. After a failed or
// expired invitation it stays Unknown but is skipped until its cooldown ends.
type InvitationTracker struct {
	inviteTimeout time.Duration
	backoff       retry.Config

	invited   map[string]invitation
	cooldowns map[string]cooldown
}

func NewInvitationTracker(inviteTimeout time.Duration, backoff retry.Config) *InvitationTracker {
	backoff.Jitter = false
	return &InvitationTracker{
		inviteTimeout: inviteTimeout,
		backoff:       backoff,
		invited:       make(map[string]invitation),
		cooldowns:     make(map[string]cooldown),
	}
}

// OnPeerFound reports whether an invitation should be sent now, and if so
// marks the peer Invited. busy means the peer is already Connecting or
// Connected through some other path.
func (t *InvitationTracker) OnPeerFound(peer domain.DiscoveredPeer, busy bool, now time.Time) bool {
	key := peer.Identity.Key()

	if busy {
		return false
	}
	if _, ok := t.invited[key]; ok {
		return false
	}
	if cd, ok := t.cooldowns[key]; ok && now.Before(cd.until) {
		return false
	}

	t.invited[key] = invitation{peer: peer, sentAt: now}
	return true
}

// OnStateChange resolves an invitation. Connected forgets past failures.
// NotConnected for an outstanding invitation starts or extends the cooldown;
// a drop of an established link does not.
func (t *InvitationTracker) OnStateChange(id domain.PeerIdentity, state domain.ConnectionState, now time.Time) {
	key := id.Key()

	switch state {
	case domain.StateConnected:
		delete(t.invited, key)
		delete(t.cooldowns, key)
	case domain.StateNotConnected:
		if _, ok := t.invited[key]; ok {
			delete(t.invited, key)
			t.fail(key, now)
		}
	}
}

// OnPeerLost returns the peer to Unknown with a clean slate.
func (t *InvitationTracker) OnPeerLost(id domain.PeerIdentity) {
	key := id.Key()
	delete(t.invited, key)
	delete(t.cooldowns, key)
}

// Expire abandons invitations older than the invite timeout and returns the
// affected peers.
func (t *InvitationTracker) Expire(now time.Time) []domain.PeerIdentity {
	var expired []domain.PeerIdentity
	for key, inv := range t.invited {
		if now.Sub(inv.sentAt) < t.inviteTimeout {
			continue
		}
		delete(t.invited, key)
		t.fail(key, now)
		expired = append(expired, inv.peer.Identity)
	}

	sort.Slice(expired, func(i, j int) bool { return expired[i].Key() < expired[j].Key() })
	return expired
}

func (t *InvitationTracker) fail(key string, now time.Time) {
	cd := t.cooldowns[key]
	cd.until = now.Add(retry.Delay(t.backoff, cd.attempts))
	cd.attempts++
	t.cooldowns[key] = cd
}

func (t *InvitationTracker) IsInvited(id domain.PeerIdentity) bool {
	_, ok := t.invited[id.Key()]
	return ok
}

// Attempts is the number of consecutive failed invitations for id.
func (t *InvitationTracker) Attempts(id domain.PeerIdentity) int {
	return t.cooldowns[id.Key()].attempts
}

func (t *InvitationTracker) Invited() []domain.PeerIdentity {
	out := make([]domain.PeerIdentity, 0, len(t.invited))
	for _, inv := range t.invited {
		out = append(out, inv.peer.Identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
