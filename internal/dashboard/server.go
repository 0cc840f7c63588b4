// Package dashboard serves the read-only admin API: health, the cost
// breakdown, the block list and per-user trailing spend.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// StartOpts holds configuration for the admin server.
type StartOpts struct {
	Queries Queries
	Port    int
	Out     io.Writer
	// SpendWindow is the default window of the spend endpoint.
	SpendWindow time.Duration
	// PollInterval paces the cost event stream. Defaults to 5s.
	PollInterval time.Duration
}

// Start launches the admin HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Queries == nil {
		return fmt.Errorf("dashboard: queries are required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := NewRouter(opts)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("dashboard: shutdown")
		}
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Admin API running at http://localhost:%d\n", opts.Port)
	}
	log.Info().Int("port", opts.Port).Msg("dashboard: listening")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine with every admin route registered.
func NewRouter(opts StartOpts) *gin.Engine {
	if opts.SpendWindow <= 0 {
		opts.SpendWindow = 24 * time.Hour
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router
}
