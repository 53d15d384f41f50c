/*
Copyright 2022 The Tripflow Authors.

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

// Package daemon serves the read-only query API dashboards and probes
// poll: health, the pipeline status and the running zone table. It
// holds no state of its own, every answer is computed from the live
// pipeline.
package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tripflow/tripflow/pkg/pipeline"
	"github.com/tripflow/tripflow/pkg/shared/logging"
)

// Server is the daemon HTTP server of one pipeline deployment.
type Server struct {
	pl   *pipeline.Pipeline
	addr string
}

// NewServer returns a daemon server for the given pipeline.
func NewServer(pl *pipeline.Pipeline, addr string) *Server {
	return &Server{
		pl:   pl,
		addr: addr,
	}
}

// Run serves until ctx is done, then drains the in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %q, %w", s.addr, err)
	}
	httpServer := http.Server{
		Addr:    s.addr,
		Handler: s.router(),
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(ln)
	}()
	log.Infof("Daemon server started successfully on %s", ln.Addr())
	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func (s *Server) router() *gin.Engine {
	router := gin.New()
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{SkipPaths: []string{"/livez", "/readyz"}}))
	router.RedirectTrailingSlash = true
	router.GET("/livez", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	router.GET("/readyz", func(c *gin.Context) {
		if !s.pl.Ready() {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.Status(http.StatusNoContent)
	})
	v1Routes(router.Group("/api/v1"), s.pl)
	return router
}
