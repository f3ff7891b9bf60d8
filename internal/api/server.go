// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Registrar adds routes to the server.
type Registrar interface {
	Register(e *echo.Echo)
}

// Pinger reports the health of a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerConfig holds the server's dependencies.
type ServerConfig struct {
	Addr      string
	BodyLimit string
	Keys      KeyStore
	Tickets   *TicketHandler
	Webhook   Registrar

	// Health is checked by GET /health.
	Health map[string]Pinger
}

// Server is the public HTTP surface: ticket API, Graph webhook, health.
type Server struct {
	echo *echo.Echo
	addr string
}

// NewServer builds the echo instance and registers all handlers.
func NewServer(cfg ServerConfig) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLogger())
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
	e.Use(APIKeyMiddleware(cfg.Keys, func(c echo.Context) bool {
		path := c.Request().URL.Path
		return path == "/health" || strings.HasPrefix(path, "/webhook/")
	}))

	e.GET("/health", healthHandler(cfg.Health))
	if cfg.Tickets != nil {
		cfg.Tickets.Register(e)
	}
	if cfg.Webhook != nil {
		cfg.Webhook.Register(e)
	}

	return &Server{
		echo: e,
		addr: addr,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func healthHandler(checks map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		for name, p := range checks {
			if err := p.Ping(c.Request().Context()); err != nil {
				return c.String(http.StatusServiceUnavailable, name+" unhealthy")
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	}
}
