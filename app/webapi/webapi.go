// Package webapi exposes an optional http status endpoint with the same
// snapshot the stats socket serves, for setups where a local socket is
// inconvenient to poll.
package webapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"

	"github.com/tg-lounge/tg-lounge/app/stats"
)

// Server is the status endpoint server
type Server struct {
	ListenAddr string
	Version    string
	Registry   *stats.Registry
}

// Run starts the server until ctx is canceled
func (s *Server) Run(ctx context.Context) error {
	router := routegroup.New(http.NewServeMux())
	router.Use(rest.Recoverer(lgr.Default()))
	router.Use(rest.AppInfo("tg-lounge", "tg-lounge", s.Version), rest.Ping)
	router.Use(tollbooth.HTTPMiddleware(tollbooth.NewLimiter(10, nil)))
	router.HandleFunc("GET /status", s.statusHandler)

	srv := &http.Server{Addr: s.ListenAddr, Handler: router,
		ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Printf("[WARN] failed to shutdown status server: %v", err)
		} else {
			log.Printf("[INFO] status server stopped")
		}
	}()

	log.Printf("[INFO] status server on %s", s.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to run status server: %w", err)
	}
	return nil
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	rest.RenderJSON(w, s.Registry.Snapshot())
}
