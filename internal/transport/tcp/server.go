package tcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Juancal1728/multichat-relay/internal/call"
	"github.com/Juancal1728/multichat-relay/internal/group"
	"github.com/Juancal1728/multichat-relay/internal/model"
	"github.com/Juancal1728/multichat-relay/internal/pending"
	"github.com/Juancal1728/multichat-relay/internal/presence"
	"github.com/Juancal1728/multichat-relay/internal/router"
	"github.com/Juancal1728/multichat-relay/internal/subscriber"
)

// Deps are the collaborators the TCP transport drives.
type Deps struct {
	Presence    presence.Registry
	Groups      *group.Registry
	Pending     *pending.Queue
	Subscribers *subscriber.Table
	Router      router.Router
	Calls       call.Coordinator
}

// Server is the line-oriented TCP transport. Each line is a JSON
// Request; each reply a JSON Response on its own line. A connection
// may issue many requests; SUBSCRIBE additionally registers it as a
// push callback and pushes arrive as Event JSON lines.
type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// NewServer creates the TCP transport.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "tcp"),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("tcp listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.logger.Info("tcp server listening", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		listener.Close()
		s.closeAll()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Addr returns the bound listener address, for tests that use port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
}

func (s *Server) handleConn(conn net.Conn) {
	session := &connSession{srv: s, conn: conn}
	defer session.close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for {
		// A connection that registered as a push channel via LOGIN or
		// SUBSCRIBE idles between events, so the read deadline only
		// applies while it is anonymous.
		if session.pushChannel() {
			conn.SetReadDeadline(time.Time{})
		} else {
			conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		if !scanner.Scan() {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			session.write(errResponse("malformed request: " + err.Error()))
			continue
		}
		session.write(s.dispatch(session, req))
	}
}

// connSession ties a connection to the identity it authenticated as
// and serializes writes, since pushes and replies share the stream.
type connSession struct {
	srv  *Server
	conn net.Conn

	mu       sync.Mutex
	identity string
}

func (cs *connSession) setIdentity(identity string) {
	cs.mu.Lock()
	cs.identity = identity
	cs.mu.Unlock()
}

func (cs *connSession) pushChannel() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.identity != ""
}

func (cs *connSession) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.conn.SetWriteDeadline(time.Now().Add(cs.srv.cfg.WriteTimeout))
	if _, err := cs.conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	return nil
}

// Push delivers an event as one JSON line. It makes a logged-in or
// subscribed connection a live transport handle.
func (cs *connSession) Push(ev model.Event) error {
	return cs.write(ev)
}

func (cs *connSession) close() {
	cs.conn.Close()
	cs.srv.mu.Lock()
	delete(cs.srv.conns, cs.conn)
	cs.srv.mu.Unlock()

	cs.mu.Lock()
	identity := cs.identity
	cs.mu.Unlock()
	if identity != "" {
		cs.srv.deps.Subscribers.Unsubscribe(identity)
	}
}
