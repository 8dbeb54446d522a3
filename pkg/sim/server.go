package sim

import (
	"io"
	"math/rand/v2"
	"net"
	"os"
	"sync"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/gwillem/nfconsole/pkg/clock"
	"github.com/gwillem/nfconsole/pkg/monitoring"
	"github.com/gwillem/nfconsole/pkg/wire"
)

// Config holds the simulator server settings.
type Config struct {
	// Token guards /telemetry/:robotId. Empty accepts any token.
	Token string
	// AccessLog receives the request log. Defaults to stdout.
	AccessLog io.Writer
	Clock     clock.Clock
	// Seed fixes the sensor noise; zero uses a random seed.
	Seed uint64
}

// Server serves one simulated robot per websocket connection.
type Server struct {
	app   *fiber.App
	cfg   Config
	clock clock.Clock

	mu      sync.Mutex
	clients map[*websocket.Conn]string
	seq     uint64

	done     chan struct{}
	stopOnce sync.Once
}

// NewServer builds the fiber app and its routes.
func NewServer(cfg Config) *Server {
	if cfg.AccessLog == nil {
		cfg.AccessLog = os.Stdout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	s := &Server{
		cfg:     cfg,
		clock:   cfg.Clock,
		clients: make(map[*websocket.Conn]string),
		done:    make(chan struct{}),
	}

	app := fiber.New(fiber.Config{
		AppName:               "nfconsole-sim",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{Output: cfg.AccessLog}))

	app.Get("/healthz", s.health)

	app.Use(func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/sim", websocket.New(func(c *websocket.Conn) {
		s.serve(c, DefaultRobotID)
	}))
	app.Get("/telemetry/:robotId", websocket.New(s.telemetry))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error { return s.app.Listener(ln) }

// Shutdown stops all robots and the listener.
func (s *Server) Shutdown() error {
	s.stopOnce.Do(func() { close(s.done) })
	return s.app.Shutdown()
}

// Clients returns the robot ids of the connected clients.
func (s *Server) Clients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.clients))
	for _, id := range s.clients {
		out = append(out, id)
	}
	return out
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "OK",
		"clients": len(s.Clients()),
		"time":    s.clock.Now().Format(time.RFC3339),
	})
}

func (s *Server) telemetry(c *websocket.Conn) {
	if s.cfg.Token != "" && c.Query("token") != s.cfg.Token {
		monitoring.Logf("[sim] rejecting %s: invalid token", c.RemoteAddr())
		msg := fws.FormatCloseMessage(fws.ClosePolicyViolation, "invalid token")
		_ = c.WriteControl(fws.CloseMessage, msg, time.Now().Add(time.Second))
		return
	}
	s.serve(c, c.Params("robotId"))
}

func (s *Server) rng() *rand.Rand {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	if s.cfg.Seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(s.cfg.Seed, seq))
}

// serve runs one robot. Only this goroutine writes to c; a reader goroutine
// hands inbound messages over a channel.
func (s *Server) serve(c *websocket.Conn, robotID string) {
	s.mu.Lock()
	s.clients[c] = robotID
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()
	monitoring.Logf("[sim] %s connected as %s", c.RemoteAddr(), robotID)

	start := s.clock.Now()
	robot := NewRobot(robotID, start, s.rng())

	inbound := make(chan []byte, 16)
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		defer close(inbound)
		for {
			typ, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			if typ != fws.BinaryMessage {
				continue
			}
			select {
			case inbound <- data:
			case <-quit:
				return
			}
		}
	}()

	send := func(batch wire.TelemetryBatch) bool {
		if err := c.WriteMessage(fws.BinaryMessage, wire.MarshalTelemetry(batch)); err != nil {
			monitoring.Logf("[sim] %s: write: %v", robotID, err)
			return false
		}
		return true
	}
	if !send(robot.Hello()) {
		return
	}

	schedule := ConnectionSchedule(len(AnchorPoses().Poses))
	ticker := s.clock.NewTicker(time.Second / UpdateRate)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case now := <-ticker.C():
			var due []wire.TelemetryItem
			for len(schedule) > 0 && now.Sub(start) >= schedule[0].At {
				due = append(due, schedule[0].Item)
				schedule = schedule[1:]
			}
			if len(due) > 0 && !send(wire.TelemetryBatch{RobotID: robotID, Updates: due}) {
				return
			}
			if batch, ok := robot.Step(now); ok && !send(batch) {
				return
			}

		case data, ok := <-inbound:
			if !ok {
				monitoring.Logf("[sim] %s disconnected", robotID)
				return
			}
			batch, err := wire.UnmarshalControl(data)
			if err != nil {
				monitoring.Logf("[sim] %s: %v", robotID, err)
				continue
			}
			if replies := robot.Handle(s.clock.Now(), batch); len(replies) > 0 {
				if !send(wire.TelemetryBatch{RobotID: robotID, Updates: replies}) {
					return
				}
			}
		}
	}
}
