package services

import (
	"time"

	"studiolink/internal/core/domain"
)

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) PeerDiscovered()                                       {}
func (NoopMetrics) PeerLost()                                             {}
func (NoopMetrics) InvitationSent()                                       {}
func (NoopMetrics) InvitationExpired()                                    {}
func (NoopMetrics) StateChanged(domain.ConnectionState)                   {}
func (NoopMetrics) SetConnectedPeers(int)                                 {}
func (NoopMetrics) SetSlots(int)                                          {}
func (NoopMetrics) PayloadReceived(string, int)                           {}
func (NoopMetrics) PayloadDropped(string)                                 {}
func (NoopMetrics) PayloadSent(domain.Reliability, int, int)              {}
func (NoopMetrics) SendFailed(domain.Reliability)                         {}
func (NoopMetrics) CommandDispatched(string)                              {}
func (NoopMetrics) HandshakeCompleted(string, bool, time.Duration)        {}
func (NoopMetrics) SetRecording(bool)                                     {}
