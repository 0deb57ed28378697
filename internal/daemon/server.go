// Package daemon implements weave's local operator surface: a
// loopback-only, Unix-socket HTTP API giving read-only visibility into
// session/address/routing/policy state and recent structured events,
// plus the handful of mutating commands the service loop itself
// accepts (connect/disconnect/seed/unseed/follow), per SPEC_FULL.md
// §4.7. Modeled on the teacher's internal/daemon package: a Unix socket
// bound with a restrictive umask, a random bearer cookie written only
// after the socket is secured, and a small net/http mux.
package daemon

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/weavenet/weave/internal/address"
	"github.com/weavenet/weave/internal/metrics"
	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/policy"
	"github.com/weavenet/weave/internal/routing"
	"github.com/weavenet/weave/internal/service"
)

// Runtime gives the daemon server a read-only view of the running node
// plus the single way to submit operator commands, without coupling
// this package to the concrete transport.Node/service.Service types
// (mirrors the teacher's RuntimeInfo's decoupling from its cmd/peerup
// runtime struct).
type Runtime interface {
	Self() nodeid.NodeId
	Version() string
	StartTime() time.Time

	Sessions() map[nodeid.NodeId]service.Session
	KnownPeers() ([]address.Entry, error)
	Routes() ([]routing.Entry, error)
	Seeded() ([]policy.SeedingPolicy, error)
	Followed() ([]policy.FollowedPeer, error)
	BlockedPeers() ([]policy.BlockedPeer, error)

	// Submit enqueues cmd onto the service loop's single-threaded event
	// channel; it must never be called from within Step itself.
	Submit(cmd service.Command)
}

// Server is the daemon's Unix socket HTTP API server.
type Server struct {
	runtime    Runtime
	httpServer *http.Server
	listener   net.Listener
	socketPath string
	cookiePath string
	authToken  string

	metrics *metrics.Metrics
	events  *EventLog
}

// NewServer creates a new daemon API server. events may be nil to
// disable the /v1/events endpoint's backing buffer (it still answers
// with an empty list).
func NewServer(runtime Runtime, socketPath, cookiePath string, m *metrics.Metrics, events *EventLog) *Server {
	if events == nil {
		events = NewEventLog(0)
	}
	return &Server{
		runtime:    runtime,
		socketPath: socketPath,
		cookiePath: cookiePath,
		metrics:    m,
		events:     events,
	}
}

// Start creates the Unix socket, writes the cookie file, and starts
// serving. It returns immediately; the server runs in a background
// goroutine.
func (s *Server) Start() error {
	token, err := generateCookie()
	if err != nil {
		return fmt.Errorf("daemon: generating auth cookie: %w", err)
	}
	s.authToken = token

	if err := s.checkStaleSocket(); err != nil {
		return err
	}

	// Umask(0077) + Listen is atomic with respect to permissions: there
	// is no window between bind and chmod during which another local
	// user could connect.
	oldUmask := syscall.Umask(0077)
	listener, err := net.Listen("unix", s.socketPath)
	syscall.Umask(oldUmask)
	if err != nil {
		return fmt.Errorf("daemon: listening on %s: %w", s.socketPath, err)
	}

	if err := os.WriteFile(s.cookiePath, []byte(token), 0600); err != nil {
		listener.Close()
		os.Remove(s.socketPath)
		return fmt.Errorf("daemon: writing cookie file: %w", err)
	}

	s.listener = listener

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Handler:      InstrumentHandler(s.authMiddleware(mux), s.metrics),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("daemon server error", "error", err)
		}
	}()

	slog.Info("daemon API listening", "socket", s.socketPath)
	return nil
}

// Stop gracefully shuts down the HTTP server and cleans up the socket
// and cookie files.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if s.httpServer != nil {
		s.httpServer.Shutdown(ctx)
	}
	os.Remove(s.socketPath)
	os.Remove(s.cookiePath)
	slog.Info("daemon server stopped")
}

// checkStaleSocket removes the socket file if it exists but nothing is
// listening on it, and fails if another daemon instance is alive.
func (s *Server) checkStaleSocket() error {
	if _, err := os.Stat(s.socketPath); os.IsNotExist(err) {
		return nil
	}
	conn, err := net.DialTimeout("unix", s.socketPath, 2*time.Second)
	if err != nil {
		slog.Info("removing stale daemon socket", "path", s.socketPath)
		os.Remove(s.socketPath)
		return nil
	}
	conn.Close()
	return fmt.Errorf("%w: socket %s is already in use", ErrDaemonAlreadyRunning, s.socketPath)
}

func generateCookie() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// authMiddleware checks the Authorization: Bearer <token> header on
// every request.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.authToken {
			respondError(w, http.StatusUnauthorized, ErrUnauthorized.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SocketPath returns the path to the Unix socket.
func (s *Server) SocketPath() string { return s.socketPath }

// Listener returns the underlying net.Listener, for health checks.
func (s *Server) Listener() net.Listener { return s.listener }
