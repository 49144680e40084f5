package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/apievaluator/resultsapi/pkg/api/store"
	"github.com/apievaluator/resultsapi/pkg/config"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log          logrus.FieldLogger
	cfg          *config.Config
	store        store.Store
	maxBodyBytes int64
	httpServer   *http.Server
	wg           sync.WaitGroup
	done         chan struct{}
	stopOnce     sync.Once
	stopErr      error
	now          func() time.Time
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
) Server {
	return &server{
		log:  log.WithField("component", "api"),
		cfg:  cfg,
		done: make(chan struct{}),
		now:  time.Now,
	}
}

// Start connects the store and starts the HTTP server. A store that cannot
// be reached does not prevent the server from starting; it is retried in
// the background and requests fail individually until it is up.
func (s *server) Start(ctx context.Context) error {
	maxBody, err := s.cfg.Server.MaxBodyBytes()
	if err != nil {
		return err
	}

	s.maxBodyBytes = maxBody

	s.store = store.NewStore(s.log, &s.cfg.Database)

	if err := s.startStore(ctx); err != nil {
		s.wg.Add(1)

		go func() {
			defer s.wg.Done()

			s.superviseStore(ctx)
		}()
	}

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithFields(logrus.Fields{
			"listen":      s.cfg.Server.Listen,
			"environment": s.cfg.Server.Environment,
		}).Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server, waits for in-flight requests
// and closes the store. Calls after the first return its result.
func (s *server) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop()
	})

	return s.stopErr
}

func (s *server) stop() error {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}

// startStore makes one bounded connection attempt.
func (s *server) startStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.connectTimeout())
	defer cancel()

	if err := s.store.Start(ctx); err != nil {
		s.log.WithError(err).
			WithField("driver", s.cfg.Database.Driver).
			Error("Database connection failed")

		return err
	}

	return nil
}

// connectTimeout bounds a single connection attempt, which includes index
// creation and migrations.
func (s *server) connectTimeout() time.Duration {
	return 2 * s.cfg.Database.Timeout
}

// superviseStore retries the store connection a fixed number of times
// after the configured delay.
func (s *server) superviseStore(ctx context.Context) {
	retries := s.cfg.Database.ConnectRetries
	delay := s.cfg.Database.ConnectRetryDelay

	for attempt := 1; attempt <= retries; attempt++ {
		s.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Info("Retrying database connection")

		timer := time.NewTimer(delay)

		select {
		case <-timer.C:
		case <-s.done:
			timer.Stop()

			return
		case <-ctx.Done():
			timer.Stop()

			return
		}

		if err := s.startStore(ctx); err == nil {
			s.log.WithField("attempt", attempt).
				Info("Database connected on retry")

			return
		}
	}

	s.log.WithField("retries", retries).
		Error("Database still unavailable, serving degraded")
}

// storeContext bounds a single store call.
func (s *server) storeContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.Database.Timeout)
}
