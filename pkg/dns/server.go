package dns

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"blackhole/pkg/config"
	"blackhole/pkg/logging"

	"github.com/miekg/dns"
)

// ErrServerRunning is returned by Start on a server that is already running.
var ErrServerRunning = errors.New("server already running")

// Server runs the UDP and TCP listeners for a Handler.
type Server struct {
	cfg     *config.ServerConfig
	handler dns.Handler
	logger  *logging.Logger

	mu        sync.RWMutex
	running   bool
	udpServer *dns.Server
	tcpServer *dns.Server
	ready     chan struct{}
}

// NewServer creates a server for handler on cfg.ListenAddress.
func NewServer(cfg *config.ServerConfig, handler dns.Handler, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Global()
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once every enabled listener is accepting queries.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Start listens until ctx is cancelled or a listener fails. On cancellation
// the listeners are shut down and Start returns nil.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrServerRunning
	}
	if !s.cfg.UDPEnabled && !s.cfg.TCPEnabled {
		s.mu.Unlock()
		return errors.New("no DNS listener enabled")
	}
	s.running = true

	var (
		servers []*dns.Server
		started sync.WaitGroup
	)
	newServer := func(network string) *dns.Server {
		started.Add(1)
		srv := &dns.Server{
			Addr:              s.cfg.ListenAddress,
			Net:               network,
			Handler:           s.handler,
			NotifyStartedFunc: started.Done,
		}
		servers = append(servers, srv)
		return srv
	}
	if s.cfg.UDPEnabled {
		s.udpServer = newServer("udp")
	}
	if s.cfg.TCPEnabled {
		s.tcpServer = newServer("tcp")
	}
	s.mu.Unlock()

	errChan := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *dns.Server) {
			s.logger.Info("Starting DNS listener", "network", srv.Net, "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil {
				errChan <- fmt.Errorf("%s server failed: %w", srv.Net, err)
			}
		}(srv)
	}

	go func() {
		started.Wait()
		close(s.ready)
		s.logger.Info("DNS server started",
			"address", s.cfg.ListenAddress,
			"udp", s.cfg.UDPEnabled,
			"tcp", s.cfg.TCPEnabled,
		)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.logger.Error("DNS server error", "error", err)
		_ = s.Shutdown(context.Background())
		return err
	}
}

// Shutdown stops both listeners. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	var errs []error
	if s.udpServer != nil {
		if err := s.udpServer.ShutdownContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("UDP shutdown: %w", err))
		}
	}
	if s.tcpServer != nil {
		if err := s.tcpServer.ShutdownContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("TCP shutdown: %w", err))
		}
	}
	s.running = false

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Info("DNS server shut down")
	return nil
}

// IsRunning reports whether Start is active.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
