// Package adminserver exposes a running Graph's health and statistics
// over HTTP, grounded on the teacher's pipe.go (NewPipe, the /health
// endpoint, fiber.App) and its edge/ websocket usage.
package adminserver

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	wflow "wflow"
)

// Server is the admin HTTP surface for one running Graph: /health reports
// liveness, /stats returns every operator's current StatisticsSnapshot
// (spec §6) as one JSON object, and /stats/stream pushes the same
// snapshot over a websocket on an interval.
type Server struct {
	app        *fiber.App
	name       string
	stats      *wflow.StatsWriter
	terminated atomic.Bool
}

// New builds a Server. stats may be nil, in which case /stats and
// /stats/stream report an empty object rather than erroring — a Graph
// run without WithStatsWriter still gets a working /health.
func New(name string, stats *wflow.StatsWriter) *Server {
	s := &Server{app: fiber.New(), name: name, stats: stats}

	s.app.Use(recover.New())

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(map[string]interface{}{
			"graph_name":    s.name,
			"is_healthy":    !s.terminated.Load(),
			"is_terminated": s.terminated.Load(),
		})
	})

	s.app.Get("/stats", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(s.snapshot())
	})

	s.app.Get("/stats/stream", websocket.New(func(c *websocket.Conn) {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			body, err := json.Marshal(s.snapshot())
			if err != nil {
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		}
	}))

	return s
}

func (s *Server) snapshot() map[string]wflow.StatisticsSnapshot {
	if s.stats == nil {
		return map[string]wflow.StatisticsSnapshot{}
	}
	return s.stats.Snapshots()
}

// MarkTerminated flips /health's is_healthy to false — called once the
// Graph's Run has returned, e.g. via `go func() { g.Run(ctx); srv.MarkTerminated() }()`.
func (s *Server) MarkTerminated() {
	s.terminated.Store(true)
}

// Listen starts the admin server, blocking until it stops or errors —
// the same single blocking call the teacher's Pipe.Run makes of its own
// fiber.App.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the admin server's HTTP listener.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
