// Package server exposes the daemon's management surface over HTTP: display
// info and state control, an ownership event stream, health, and daemon
// status. Buffer traffic never crosses this surface; producers hold the
// display in-process.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/evs-hal/displayd/internal/arbiter"
	"github.com/evs-hal/displayd/internal/health"
	"github.com/evs-hal/displayd/internal/logging"
)

var log = logging.L("server")

// Server is the management-plane HTTP server.
type Server struct {
	addr    string
	arbiter *arbiter.Arbiter
	monitor *health.Monitor
	hub     *eventHub
	engine  *gin.Engine
	started time.Time
}

// New builds the server and its routes.
func New(addr string, arb *arbiter.Arbiter, monitor *health.Monitor) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		addr:    addr,
		arbiter: arb,
		monitor: monitor,
		hub:     newEventHub(arb),
		engine:  engine,
		started: time.Now(),
	}

	engine.GET("/healthz", s.handleHealth)
	v1 := engine.Group("/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/display", s.handleDisplayInfo)
		v1.POST("/display/state", s.handleSetState)
		v1.POST("/display/open", s.handleOpen)
		v1.POST("/display/close", s.handleClose)
		v1.GET("/display/events", s.hub.handleEvents)
	}

	return s
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("management server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.close()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}
