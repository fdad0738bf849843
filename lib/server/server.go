package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/go-sshd/go-sshd/lib/factory"
	"github.com/go-sshd/go-sshd/lib/session"
)

// Server accepts TCP connections and runs a server-side SSH transport
// session over each.
type Server struct {
	config   *Config
	manager  *factory.Manager
	registry *session.Registry
	services []session.ServiceFactory
	throttle *Throttle
	log      *logrus.Entry

	mu       sync.Mutex
	listener net.Listener
	conns    map[*Conn]struct{}
	closed   atomic.Bool
	done     chan struct{}
}

// NewServer creates a server. The manager supplies algorithm factories and
// configuration properties; the registry receives every accepted session.
func NewServer(config *Config, manager *factory.Manager, registry *session.Registry,
	services []session.ServiceFactory, logger *logrus.Logger) (*Server, error) {

	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		config:   config,
		manager:  manager,
		registry: registry,
		services: services,
		throttle: NewThrottle(config.ThrottleSize, config.ThrottleThreshold),
		log:      logger.WithField("component", "server"),
		conns:    make(map[*Conn]struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Registry returns the session registry.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// ListenAndServe listens on the configured address and serves until Close.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections on the listener and runs the timeout sweeper.
// It blocks until the server is closed or the listener fails.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	// Close may have run before the listener was registered.
	if s.closed.Load() {
		listener.Close()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.acceptLoop(listener)
	})
	g.Go(func() error {
		return s.sweepLoop(ctx)
	})
	return g.Wait()
}

func (s *Server) acceptLoop(listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return err
		}

		if !s.canAccept(conn) {
			conn.Close()
			continue
		}

		go s.handleConnection(conn)
	}
}

// canAccept enforces the connection cap and the pre-auth failure throttle.
func (s *Server) canAccept(conn net.Conn) bool {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	if s.throttle.Blocked(host) {
		s.log.WithField("remote", host).Debug("Refusing throttled address")
		return false
	}

	if s.config.MaxConnections == 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns) < s.config.MaxConnections
}

// handleConnection runs one session: identification, key exchange, dispatch
// loop, teardown.
func (s *Server) handleConnection(netConn net.Conn) {
	c := NewConn(netConn, s.config.WriteQueueSize)

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	sess := session.New(session.Config{
		Role:     session.RoleServer,
		Manager:  s.manager,
		Software: s.config.Software,
		Comments: s.config.Comments,
		Services: s.services,
	}, c)
	s.registry.Register(sess)

	defer func() {
		// Sessions that never authenticated count against the remote
		// address's throttle budget.
		if !sess.IsAuthenticated() {
			s.throttle.RecordFailure(c.RemoteIP())
		} else {
			s.throttle.Forgive(c.RemoteIP())
		}
		s.registry.Unregister(sess.ID())
		_ = sess.Close()

		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()

	s.log.WithField("remote", c.RemoteAddr()).Debug("Connection accepted")

	if err := sess.Start(); err != nil {
		s.log.WithError(err).Debug("Failed to start session")
		return
	}

	buf := make([]byte, s.config.ReadBufferSize)
	for {
		if s.closed.Load() || sess.IsClosing() {
			return
		}
		n, err := netConn.Read(buf)
		if n > 0 {
			if merr := sess.MessageReceived(buf[:n]); merr != nil {
				sess.ExceptionCaught(merr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !sess.IsClosing() {
				s.log.WithError(err).Debug("Read error")
			}
			return
		}
	}
}

// sweepLoop checks session timeouts on the configured cadence.
func (s *Server) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, sess := range s.registry.All() {
				if err := sess.CheckTimeouts(); err != nil {
					s.log.WithError(err).Warn("Timeout check failed")
				}
			}
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		}
	}
}

// Close gracefully shuts the server down: the listener stops accepting and
// every connection is closed.
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.mu.Lock()
	listener := s.listener
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Addr returns the listener address, or "" when not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Done returns a channel closed when the server shuts down.
func (s *Server) Done() <-chan struct{} {
	return s.done
}
