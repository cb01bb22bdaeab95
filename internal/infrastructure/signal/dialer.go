package signal

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	apperrors "studiolink/pkg/errors"
)

// DialRequest describes one outgoing handshake.
type DialRequest struct {
	Addr      string // host:port of the remote endpoint
	RemoteKey string
	TLS       bool
	Hello     HelloPayload
	Timeout   time.Duration
}

// Dial runs the dialer side of the handshake and returns the answer SDP. A
// reject comes back as a REJECTED AppError.
func Dial(ctx context.Context, req DialRequest) (string, error) {
	scheme := "ws"
	if req.TLS {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: req.Addr, Path: Path}
	timeout := req.Timeout

	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		// certificates are self-signed per process; admission tokens
		// authenticate the peer
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12},
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", u.String(), err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)

	msg, err := encode(TypeHello, req.Hello)
	if err != nil {
		return "", err
	}
	if err := conn.WriteJSON(msg); err != nil {
		return "", fmt.Errorf("send hello: %w", err)
	}

	var reply SignalMessage
	if err := conn.ReadJSON(&reply); err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}

	switch reply.Type {
	case TypeAnswer:
		var answer AnswerPayload
		if err := json.Unmarshal(reply.Payload, &answer); err != nil {
			return "", fmt.Errorf("invalid answer payload: %w", err)
		}
		if err := validateSDP(answer.SDP); err != nil {
			return "", fmt.Errorf("invalid SDP in answer: %w", err)
		}
		return answer.SDP, nil
	case TypeReject:
		var rej RejectPayload
		_ = json.Unmarshal(reply.Payload, &rej)
		return "", apperrors.NewRejectedError(req.RemoteKey, rej.Reason)
	default:
		return "", fmt.Errorf("unexpected message type: %s", reply.Type)
	}
}
