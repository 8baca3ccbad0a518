package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dsa110/taskq/pkg/logger"
)

type serverConfig struct {
	addr            string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
	listener        net.Listener
	logger          *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

func WithAddr(addr string) ServerOption {
	return func(c *serverConfig) {
		if addr != "" {
			c.addr = addr
		}
	}
}

func WithReadTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.readTimeout = d }
}

// WithWriteTimeout bounds ordinary responses. Websocket streams set their own
// per-message deadlines after the upgrade.
func WithWriteTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.writeTimeout = d }
}

func WithIdleTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.idleTimeout = d }
}

func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) {
		if d > 0 {
			c.shutdownTimeout = d
		}
	}
}

// WithListener serves on an existing listener instead of binding addr.
func WithListener(l net.Listener) ServerOption {
	return func(c *serverConfig) { c.listener = l }
}

func WithServerLogger(l *slog.Logger) ServerOption {
	return func(c *serverConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Server wraps http.Server with context-driven graceful shutdown.
type Server struct {
	cfg  serverConfig
	mu   sync.Mutex
	srv  *http.Server
	once sync.Once
}

func NewServer(opts ...ServerOption) *Server {
	cfg := serverConfig{
		addr:            ":8080",
		shutdownTimeout: 5 * time.Second,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.logger = cfg.logger.With(logger.Component("api"))
	return &Server{cfg: cfg}
}

// Run serves handler until ctx is cancelled or the listener fails. A
// cancelled ctx triggers a graceful shutdown and Run returns nil.
func (s *Server) Run(ctx context.Context, handler http.Handler) error {
	if handler == nil {
		handler = http.NotFoundHandler()
	}

	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	srv := &http.Server{
		Addr:         s.cfg.addr,
		Handler:      handler,
		ReadTimeout:  s.cfg.readTimeout,
		WriteTimeout: s.cfg.writeTimeout,
		IdleTimeout:  s.cfg.idleTimeout,
	}
	s.srv = srv
	s.mu.Unlock()

	ln := s.cfg.listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", srv.Addr); err != nil {
			return errors.Join(ErrStart, err)
		}
	}
	s.cfg.logger.InfoContext(ctx, "api server listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	var runErr error
	select {
	case <-ctx.Done():
		if err := s.Shutdown(context.WithoutCancel(ctx)); err != nil {
			s.cfg.logger.ErrorContext(ctx, "api shutdown failed", logger.Error(err))
		}
		runErr = <-errCh
	case runErr = <-errCh:
	}

	if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
		return errors.Join(ErrStart, runErr)
	}
	s.cfg.logger.InfoContext(ctx, "api server stopped")
	return nil
}

// Shutdown stops the server gracefully. Repeated calls are no-ops.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		srv := s.srv
		s.mu.Unlock()
		if srv == nil {
			return
		}
		ctx, cancel := context.WithTimeout(ctx, s.cfg.shutdownTimeout)
		defer cancel()
		err = srv.Shutdown(ctx)
	})
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Join(ErrShutdown, err)
	}
	return nil
}
