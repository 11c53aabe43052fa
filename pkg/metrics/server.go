package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const serverShutdownTimeout = 5 * time.Second

// Server exposes /metrics for the background processes. The API serves
// metrics on its own router instead.
type Server struct {
	srv  *http.Server
	logg *logger.Logger
}

// NewServer listens on addr. An empty addr yields a server whose Run only
// waits for cancellation.
func NewServer(addr string, gatherer prometheus.Gatherer, logg *logger.Logger) *Server {
	addr = strings.TrimSpace(addr)
	if addr == "" || gatherer == nil {
		return &Server{logg: logg}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logg: logg,
	}
}

// Run serves until ctx is canceled, then shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	if s.srv == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithField(ctx, "addr", s.srv.Addr), "metrics listener started")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return ctx.Err()
		}
		return fmt.Errorf("metrics listener: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics shutdown: %w", err)
	}
	return ctx.Err()
}

// RunAlongside runs fn with the listener beside it. The listener stops when
// fn returns; a listener failure cancels fn.
func (s *Server) RunAlongside(ctx context.Context, fn func(context.Context) error) error {
	group, groupCtx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(groupCtx)
	group.Go(func() error {
		defer stopServer()
		return fn(groupCtx)
	})
	group.Go(func() error {
		if err := s.Run(serverCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return group.Wait()
}
