package domain

import "errors"

var (
	ErrInvalidIdentity    = errors.New("invalid peer identity")
	ErrInvalidCommand     = errors.New("invalid command")
	ErrSlotNotFound       = errors.New("slot not found")
	ErrPeerNotConnected   = errors.New("peer not connected")
	ErrPayloadTooLarge    = errors.New("payload too large")
	ErrServiceMismatch    = errors.New("service mismatch")
	ErrEncryptionMismatch = errors.New("encryption level incompatible")
	ErrAdmissionDenied    = errors.New("admission denied")
	ErrDuplicateSession   = errors.New("duplicate session")
	ErrSelfConnect        = errors.New("refusing to connect to self")
	ErrHandshakeTimeout   = errors.New("handshake timed out")
	ErrTransportClosed    = errors.New("transport closed")
	ErrNotStarted         = errors.New("not started")
)
