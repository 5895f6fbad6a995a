// shared/api/server.go
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type BaseServer struct {
	Router *mux.Router
	Server *http.Server
	Logger zerolog.Logger
}

func NewBaseServer(addr string, logger zerolog.Logger) *BaseServer {
	logger = logger.With().Str("component", "http").Logger()
	router := mux.NewRouter()

	// Apply common middleware
	router.Use(LoggingMiddleware(logger))
	router.Use(CORSMiddleware)

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &BaseServer{
		Router: router,
		Server: server,
		Logger: logger,
	}
}

func (bs *BaseServer) Start() error {
	bs.Logger.Info().Str("addr", bs.Server.Addr).Msg("Starting HTTP server")
	// ListenAndServe returns http.ErrServerClosed on graceful shutdown
	if err := bs.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

func (bs *BaseServer) Shutdown(ctx context.Context) error {
	bs.Logger.Info().Msg("Shutting down HTTP server")
	return bs.Server.Shutdown(ctx)
}
