// Package dashboard provides a live web status page for a running
// fuzzing session, broadcasting counter snapshots and crash events to
// connected browsers over a WebSocket.
package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/fluxfuzzer/hfgo/pkg/types"
)

// Snapshotter is satisfied by *engine.Engine.
type Snapshotter interface {
	Snapshot() types.RunCountersSnapshot
}

// CrashEvent is broadcast whenever the classifier reports a fresh,
// non-duplicate crash.
type CrashEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Signal      string    `json:"signal"`
	PC          string    `json:"pc"`
	ArtifactID  string    `json:"artifactId"`
	Verified    bool      `json:"verified"`
	Blacklisted bool      `json:"blacklisted"`
}

// Server is the dashboard's HTTP+WebSocket front end.
type Server struct {
	app *fiber.App

	engine Snapshotter

	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan []byte

	crashesMu  sync.Mutex
	crashes    []CrashEvent
	maxCrashes int
}

// New creates a dashboard server polling engine on a fixed interval
// and fanning counter snapshots + crash events out to every connected
// client.
func New(engine Snapshotter) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		app:        app,
		engine:     engine,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 100),
		maxCrashes: 200,
	}

	s.setupRoutes()
	go s.handleBroadcast()
	go s.pollLoop()

	return s
}

func (s *Server) setupRoutes() {
	s.app.Use(cors.New())

	api := s.app.Group("/api")
	api.Get("/snapshot", s.handleSnapshot)
	api.Get("/crashes", s.handleCrashes)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.handleWebSocket))

	s.app.Get("/", s.handlePage)
}

func (s *Server) handleSnapshot(c *fiber.Ctx) error {
	return c.JSON(s.engine.Snapshot())
}

func (s *Server) handleCrashes(c *fiber.Ctx) error {
	s.crashesMu.Lock()
	defer s.crashesMu.Unlock()
	return c.JSON(s.crashes)
}

func (s *Server) handlePage(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.SendString(dashboardHTML)
}

func (s *Server) handleWebSocket(c *websocket.Conn) {
	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c)
		s.clientsMu.Unlock()
		c.Close()
	}()

	data, _ := json.Marshal(map[string]interface{}{
		"type": "snapshot",
		"data": s.engine.Snapshot(),
	})
	c.WriteMessage(websocket.TextMessage, data)

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) handleBroadcast() {
	for msg := range s.broadcast {
		s.clientsMu.Lock()
		for client := range s.clients {
			if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
				client.Close()
				delete(s.clients, client)
			}
		}
		s.clientsMu.Unlock()
	}
}

// pollLoop re-reads the engine's counters every second and fans the
// snapshot out; the engine has no push-based event stream, so polling
// is the only option.
func (s *Server) pollLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		data, err := json.Marshal(map[string]interface{}{
			"type": "snapshot",
			"data": s.engine.Snapshot(),
		})
		if err != nil {
			continue
		}
		select {
		case s.broadcast <- data:
		default:
		}
	}
}

// NotifyCrash records a crash event and broadcasts it immediately,
// called by the CLI's crash sink alongside report.Sink whenever the
// engine reports a saved crash.
func (s *Server) NotifyCrash(ev CrashEvent) {
	s.crashesMu.Lock()
	s.crashes = append(s.crashes, ev)
	if len(s.crashes) > s.maxCrashes {
		s.crashes = s.crashes[len(s.crashes)-s.maxCrashes:]
	}
	s.crashesMu.Unlock()

	data, err := json.Marshal(map[string]interface{}{
		"type": "crash",
		"data": ev,
	})
	if err != nil {
		return
	}
	select {
	case s.broadcast <- data:
	default:
	}
}

// Start starts the dashboard's HTTP server, blocking until it stops.
func (s *Server) Start(addr string) error {
	log.Printf("[*] Dashboard listening at http://localhost%s\n", addr)
	return s.app.Listen(addr)
}

// Stop shuts the dashboard server down.
func (s *Server) Stop() error {
	return s.app.Shutdown()
}
