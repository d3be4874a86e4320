package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Juancal1728/multichat-relay/internal/model"
	"github.com/Juancal1728/multichat-relay/internal/relay"
)

// Config holds the WebSocket server settings.
type Config struct {
	Port         int
	WriteTimeout time.Duration
}

// Server is the WebSocket signaling and audio transport. Clients
// connect to /ws/<identity>; text frames carry the pipe-delimited
// signaling sub-protocol and binary frames carry audio.
type Server struct {
	cfg    Config
	relay  relay.Relay
	logger *slog.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu    sync.RWMutex
	conns map[string]*clientConn
}

// clientConn wraps a connection with its write lock. gorilla permits
// one concurrent writer per connection.
type clientConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewServer creates the WebSocket transport.
func NewServer(cfg Config, rel relay.Relay, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Server{
		cfg:    cfg,
		relay:  rel,
		logger: logger.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]*clientConn),
	}
}

// Serve accepts connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", s.handleUpgrade)

	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()
	s.logger.Info("websocket server listening", "port", s.cfg.Port)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
		s.closeAll()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("websocket server: %w", err)
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	identity := identityFromPath(r.URL.Path)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	if identity == "" {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "identity required"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	cc := &clientConn{conn: conn}
	s.mu.Lock()
	s.conns[identity] = cc
	s.mu.Unlock()
	s.logger.Info("client connected", "identity", identity, "remote", r.RemoteAddr)

	s.readLoop(identity, cc)
}

// identityFromPath extracts and unescapes the identity from /ws/<identity>.
func identityFromPath(path string) string {
	raw := strings.TrimPrefix(path, "/ws/")
	if raw == "" || strings.Contains(raw, "/") {
		return ""
	}
	identity, err := url.PathUnescape(raw)
	if err != nil {
		return ""
	}
	identity, _ = model.NormalizeIdentity(identity)
	return identity
}

func (s *Server) readLoop(identity string, cc *clientConn) {
	defer s.dropConn(identity, cc)

	for {
		msgType, data, err := cc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read error", "identity", identity, "error", err)
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			s.handleText(identity, cc, string(data))
		case websocket.BinaryMessage:
			s.relay.Forward(identity, data)
		}
	}
}

// handleText dispatches one signaling frame.
func (s *Server) handleText(identity string, cc *clientConn, frame string) {
	parts := strings.SplitN(frame, "|", 4)

	switch parts[0] {
	case "SIGNAL":
		// SIGNAL|target|type|payload -> relayed with the sender
		// substituted for the target field.
		if len(parts) < 3 {
			return
		}
		target := parts[1]
		payload := ""
		if len(parts) > 3 {
			payload = parts[3]
		}
		out := "SIGNAL|" + identity + "|" + parts[2] + "|" + payload
		if !s.sendText(target, out) {
			s.replyText(cc, "ERROR|Target offline")
		}

	case "START_STREAM":
		// START_STREAM|target|format=pcm
		if len(parts) < 2 || parts[1] == "" {
			s.replyText(cc, "ERROR|Invalid target user")
			return
		}
		format := "unknown"
		if len(parts) > 2 && strings.HasPrefix(parts[2], "format=") {
			format = strings.TrimPrefix(parts[2], "format=")
		}
		s.relay.SetBinding(identity, parts[1], format)

	case "STOP_STREAM":
		s.relay.ClearBinding(identity)

	default:
		s.logger.Debug("unknown frame", "identity", identity, "frame", parts[0])
	}
}

// TrySend pushes an event to the identity's connection, encoded in the
// signaling sub-protocol. It reports whether a live connection took it.
func (s *Server) TrySend(identity string, ev model.Event) bool {
	return s.sendText(identity, encodeEvent(ev))
}

// SendBinary forwards one audio frame to the identity's connection.
func (s *Server) SendBinary(identity string, data []byte) bool {
	s.mu.RLock()
	cc, ok := s.conns[identity]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	cc.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := cc.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		s.logger.Debug("binary write failed", "identity", identity, "error", err)
		return false
	}
	return true
}

// Connected reports whether the identity has a live connection.
func (s *Server) Connected(identity string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conns[identity]
	return ok
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// encodeEvent renders a push event in the pipe-delimited wire format
// clients of the signaling channel understand.
func encodeEvent(ev model.Event) string {
	switch ev.Type {
	case model.EventIncomingCall:
		return "SIGNAL|" + ev.From + "|CALL_REQUEST|" + ev.CallID
	case model.EventCallAccepted:
		return "SIGNAL|" + ev.From + "|CALL_ACCEPT|format=" + ev.Format
	case model.EventCallEnded:
		return "SIGNAL|" + ev.From + "|CALL_END|" + ev.CallID
	case model.EventMessage, model.EventGroupMessage, model.EventSystem:
		return "MSG|" + ev.From + "|MSG|" + url.QueryEscape(ev.Content)
	default:
		return "SIGNAL|" + ev.From + "|" + strings.ToUpper(string(ev.Type)) + "|" + url.QueryEscape(ev.Content)
	}
}

func (s *Server) sendText(identity, frame string) bool {
	s.mu.RLock()
	cc, ok := s.conns[identity]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	cc.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := cc.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		s.logger.Debug("text write failed", "identity", identity, "error", err)
		return false
	}
	return true
}

func (s *Server) replyText(cc *clientConn, frame string) {
	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	cc.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	cc.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// dropConn removes the identity's table entry if it still points at
// this connection, then clears any stream binding it left behind.
func (s *Server) dropConn(identity string, cc *clientConn) {
	cc.conn.Close()

	s.mu.Lock()
	if cur, ok := s.conns[identity]; ok && cur == cc {
		delete(s.conns, identity)
	}
	s.mu.Unlock()

	s.relay.ClearBinding(identity)
	s.logger.Info("client disconnected", "identity", identity)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := make([]*clientConn, 0, len(s.conns))
	for _, cc := range s.conns {
		conns = append(conns, cc)
	}
	s.conns = make(map[string]*clientConn)
	s.mu.Unlock()

	for _, cc := range conns {
		cc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		cc.conn.Close()
	}
}
