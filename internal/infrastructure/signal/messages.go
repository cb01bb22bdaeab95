package signal

import (
	"encoding/json"
	"fmt"
	"strings"

	"studiolink/internal/core/domain"
)

// Handshake message types.
const (
	TypeHello  = "hello"
	TypeAnswer = "answer"
	TypeReject = "reject"
)

// Path the handshake endpoint is served on.
const Path = "/signal"

type SignalMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type HelloPayload struct {
	DisplayName    string `json:"display_name"`
	Token          string `json:"token"`
	Service        string `json:"service"`
	Encryption     string `json:"encryption"`
	TLS            bool   `json:"tls"`
	AdmissionToken string `json:"admission_token,omitempty"`
	Version        int    `json:"version"`
	SDP            string `json:"sdp"`
}

type AnswerPayload struct {
	SDP string `json:"sdp"`
}

type RejectPayload struct {
	Reason string `json:"reason"`
}

// NewHelloPayload fills a hello from the domain form plus the offer.
func NewHelloPayload(h domain.Hello, sdp string) HelloPayload {
	return HelloPayload{
		DisplayName:    h.Identity.DisplayName,
		Token:          h.Identity.Token,
		Service:        h.Service,
		Encryption:     string(h.Encryption),
		TLS:            h.TLS,
		AdmissionToken: h.AdmissionToken,
		Version:        h.Version,
		SDP:            sdp,
	}
}

// Hello converts the payload back to its domain form, validating identity
// and encryption level.
func (p HelloPayload) Hello() (domain.Hello, error) {
	id := domain.PeerIdentity{DisplayName: p.DisplayName, Token: p.Token}
	if err := id.Validate(); err != nil {
		return domain.Hello{}, err
	}
	enc, err := domain.ParseEncryptionLevel(p.Encryption)
	if err != nil {
		return domain.Hello{}, err
	}
	return domain.Hello{
		Identity:       id,
		Service:        p.Service,
		Encryption:     enc,
		TLS:            p.TLS,
		AdmissionToken: p.AdmissionToken,
		Version:        p.Version,
	}, nil
}

func encode(msgType string, payload interface{}) (SignalMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return SignalMessage{}, fmt.Errorf("encode %s: %w", msgType, err)
	}
	return SignalMessage{Type: msgType, Payload: raw}, nil
}

// validateSDP checks the minimal shape of a session description.
func validateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("SDP cannot be empty")
	}
	if len(sdp) < 2 || sdp[:2] != "v=" {
		return fmt.Errorf("invalid SDP format: must start with 'v='")
	}

	requiredFields := []string{"v=", "o=", "s=", "t="}
	for _, field := range requiredFields {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("invalid SDP format: missing required field '%s'", field)
		}
	}
	return nil
}
