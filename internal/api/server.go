// Package api exposes the orchestrator over HTTP for the dozer CLI and other
// local tooling.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"

	"dozer/internal/lifecycle"
)

const shutdownTimeout = 5 * time.Second

// Controller is the orchestrator surface the API serves.
// Production: *lifecycle.Orchestrator
// Testing: lifecycle.Orchestrator over fakes, or a stub
type Controller interface {
	HandleStart(ctx context.Context, name string) lifecycle.Result
	HandleStop(ctx context.Context, name string) lifecycle.Result
	Snapshot(ctx context.Context) (lifecycle.SessionState, error)
	Catalog(ctx context.Context) ([]string, error)
	Phase() lifecycle.Phase
}

// Monitor is the part of the periodic monitor the API can poke.
type Monitor interface {
	Trigger() bool
	Last() (lifecycle.CycleReport, bool)
}

type Status struct {
	Host      string                 `json:"host"`
	Phase     string                 `json:"phase"`
	State     lifecycle.SessionState `json:"state"`
	LastCycle *Cycle                 `json:"last_cycle,omitempty"`
}

type Cycle struct {
	Outcome string    `json:"outcome"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}

type ContainerList struct {
	Containers []string `json:"containers"`
}

type TriggerResponse struct {
	Queued bool `json:"queued"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	app  *fiber.App
	ctl  Controller
	mon  Monitor
	host string
	log  *slog.Logger
}

func NewServer(host string, ctl Controller, mon Monitor) *Server {
	s := &Server{
		ctl:  ctl,
		mon:  mon,
		host: host,
		log:  slog.With("component", "api"),
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "dozerd",
		DisableStartupMessage: true,
		// Route params outlive the handler in events and logs.
		Immutable:    true,
		ErrorHandler: s.handleError,
	})

	v1 := s.app.Group("/api").Group("/v1")
	v1.Get("/status", s.status)
	v1.Get("/containers", s.containers)
	v1.Post("/containers/:name/start", s.start)
	v1.Post("/containers/:name/stop", s.stop)
	v1.Post("/monitor/trigger", s.trigger)
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Serve runs on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() { errc <- s.app.Listener(ln) }()
	s.log.Info("API listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return err
	}
	return <-errc
}

// StatusCode maps an intent result to its HTTP status.
func StatusCode(kind lifecycle.ResultKind) int {
	switch kind {
	case lifecycle.ResultStarting, lifecycle.ResultStopping:
		return fiber.StatusAccepted
	case lifecycle.ResultAlreadyRunning:
		return fiber.StatusOK
	case lifecycle.ResultCapacity:
		return fiber.StatusConflict
	case lifecycle.ResultUnreachable:
		return fiber.StatusServiceUnavailable
	case lifecycle.ResultNotFound, lifecycle.ResultNotAllowed:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) status(c *fiber.Ctx) error {
	state, err := s.ctl.Snapshot(c.UserContext())
	if err != nil {
		s.log.Warn("snapshot failed", "err", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "could not read container state"})
	}

	out := Status{Host: s.host, Phase: s.ctl.Phase().String(), State: state}
	if s.mon != nil {
		if last, ok := s.mon.Last(); ok {
			out.LastCycle = &Cycle{Outcome: string(last.Outcome), At: last.At}
			if last.Err != nil {
				out.LastCycle.Error = last.Err.Error()
			}
		}
	}
	return c.JSON(out)
}

func (s *Server) containers(c *fiber.Ctx) error {
	names, err := s.ctl.Catalog(c.UserContext())
	if err != nil {
		code := fiber.StatusInternalServerError
		if errors.Is(err, lifecycle.ErrConnectivity) {
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.JSON(ContainerList{Containers: names})
}

func (s *Server) start(c *fiber.Ctx) error {
	res := s.ctl.HandleStart(c.UserContext(), c.Params("name"))
	return c.Status(StatusCode(res.Kind)).JSON(res)
}

func (s *Server) stop(c *fiber.Ctx) error {
	res := s.ctl.HandleStop(c.UserContext(), c.Params("name"))
	return c.Status(StatusCode(res.Kind)).JSON(res)
}

func (s *Server) trigger(c *fiber.Ctx) error {
	if s.mon == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "monitor is not running")
	}
	return c.Status(fiber.StatusAccepted).JSON(TriggerResponse{Queued: s.mon.Trigger()})
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
}
