// Package signal carries the one-shot connection handshake: the dialer sends
// a hello with its offer and receives an answer or a reject.
package signal

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"studiolink/internal/core/domain"
)

var upgrader = websocket.Upgrader{
	// Handshakes come from LAN peers, not browsers.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
}

// Acceptor decides on an incoming hello. A nil error means the returned SDP
// is sent as the answer; any error is sent back as the reject reason.
type Acceptor interface {
	Accept(ctx context.Context, hello domain.Hello, offerSDP string) (answerSDP string, err error)
}

type WebSocketServer struct {
	acceptor Acceptor

	readTimeout  time.Duration
	writeTimeout time.Duration
	maxMessage   int64

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	tls      bool
	wg       sync.WaitGroup

	logger *zap.SugaredLogger
}

func NewWebSocketServer(acceptor Acceptor, logger *zap.SugaredLogger) *WebSocketServer {
	return &WebSocketServer{
		acceptor:     acceptor,
		readTimeout:  10 * time.Second,
		writeTimeout: 10 * time.Second,
		maxMessage:   256 * 1024,
		logger:       logger,
	}
}

// SetTimeouts bounds how long one handshake may wait on the dialer.
func (s *WebSocketServer) SetTimeouts(read, write time.Duration) {
	s.readTimeout = read
	s.writeTimeout = write
}

// Listen binds addr and serves the handshake endpoint in the background.
// A non-nil tlsConfig serves wss.
func (s *WebSocketServer) Listen(addr string, tlsConfig *tls.Config) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}

	srv := &http.Server{
		Handler:           s.mux(),
		ReadHeaderTimeout: s.readTimeout,
	}

	s.mu.Lock()
	s.server, s.listener, s.tls = srv, ln, tlsConfig != nil
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("Handshake server stopped", "error", err)
		}
	}()

	s.logger.Infow("Handshake endpoint listening", "addr", ln.Addr().String(), "tls", tlsConfig != nil)
	return nil
}

func (s *WebSocketServer) mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.HandleWebSocket)
	return mux
}

// Port is the bound TCP port, or 0 before Listen.
func (s *WebSocketServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return 0
	}
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func (s *WebSocketServer) TLS() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tls
}

func (s *WebSocketServer) Close(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server, s.listener = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	s.wg.Wait()
	return err
}

// HandleWebSocket runs one handshake: hello in, answer or reject out.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(s.maxMessage)
	conn.SetReadDeadline(time.Now().Add(s.readTimeout))

	var msg SignalMessage
	if err := conn.ReadJSON(&msg); err != nil {
		s.logger.Infow("Failed to read hello", "remote", r.RemoteAddr, "error", err)
		return
	}

	reply, peerKey := s.handleMessage(r.Context(), msg)
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := conn.WriteJSON(reply); err != nil {
		s.logger.Infow("Failed to send handshake reply", "peer", peerKey, "error", err)
		return
	}

	// let the dialer read the reply before the close frame
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(s.writeTimeout))
}

func (s *WebSocketServer) handleMessage(ctx context.Context, msg SignalMessage) (SignalMessage, string) {
	if msg.Type != TypeHello {
		return s.reject("", fmt.Sprintf("unexpected message type: %s", msg.Type))
	}

	var payload HelloPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return s.reject("", "invalid hello payload")
	}
	hello, err := payload.Hello()
	if err != nil {
		return s.reject("", err.Error())
	}
	peerKey := hello.Identity.Key()

	if err := validateSDP(payload.SDP); err != nil {
		return s.reject(peerKey, fmt.Sprintf("invalid SDP in offer: %v", err))
	}

	answer, err := s.acceptor.Accept(ctx, hello, payload.SDP)
	if err != nil {
		return s.reject(peerKey, err.Error())
	}

	reply, err := encode(TypeAnswer, AnswerPayload{SDP: answer})
	if err != nil {
		return s.reject(peerKey, "internal error")
	}
	s.logger.Debugw("Handshake answered", "peer", peerKey)
	return reply, peerKey
}

func (s *WebSocketServer) reject(peerKey, reason string) (SignalMessage, string) {
	s.logger.Infow("Handshake rejected", "peer", peerKey, "reason", reason)
	raw, _ := json.Marshal(RejectPayload{Reason: reason})
	return SignalMessage{Type: TypeReject, Payload: raw}, peerKey
}
