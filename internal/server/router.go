/*
Copyright 2024 The EdnaJob Controller Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
)

const shutdownTimeout = 10 * time.Second

// Routes groups the handlers mounted by NewRouter. Nil handlers are skipped.
type Routes struct {
	Health  *HealthChecker
	Metrics *MetricsServer
	Status  *StatusHandler
}

// NewRouter builds a gin engine serving the configured routes.
func NewRouter(routes Routes, log logr.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(log))

	if routes.Health != nil {
		engine.GET("/healthz", routes.Health.HealthzHandler)
		engine.GET("/readyz", routes.Health.ReadyzHandler)
	}
	if routes.Metrics != nil {
		engine.GET("/metrics", routes.Metrics.MetricsHandler)
		engine.GET("/metrics/health", routes.Metrics.HealthMetricsHandler)
	}
	if routes.Status != nil {
		engine.GET("/status", routes.Status.Handle)
	}
	return engine
}

// requestLogger logs non-probe requests at V(1).
func requestLogger(log logr.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		switch c.FullPath() {
		case "/healthz", "/readyz":
			return
		}
		log.V(1).Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String())
	}
}

// Server runs a gin engine on an address until its context ends.
type Server struct {
	name    string
	httpSrv *http.Server
	log     logr.Logger
}

// NewServer creates a named HTTP server for handler on addr.
func NewServer(name, addr string, handler http.Handler, log logr.Logger) *Server {
	return &Server{
		name: name,
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log.WithName(name),
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpSrv.Addr
}

// Run listens and serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("%s server: failed to listen on %s: %w", s.name, s.httpSrv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", "address", ln.Addr().String())
		errCh <- s.httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server failed: %w", s.name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s server shutdown: %w", s.name, err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}
