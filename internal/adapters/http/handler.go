package http

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"golang.org/x/sync/errgroup"

	"github.com/melih/lighthouse-ctl/internal/core/domain"
	"github.com/melih/lighthouse-ctl/internal/core/ports"
	"github.com/melih/lighthouse-ctl/internal/core/services"
	"github.com/melih/lighthouse-ctl/internal/logging"
)

// Dispatcher runs one non-streaming container command.
type Dispatcher interface {
	Dispatch(ctx context.Context, host, containerID, command string) domain.Outcome
}

// Streamer opens log and stats sessions.
type Streamer interface {
	OpenLogs(ctx context.Context, host, containerID string) (*services.Session, error)
	OpenStats(ctx context.Context, host, containerID string) (*services.Session, error)
}

type ContainerHandler struct {
	router  Dispatcher
	relay   Streamer
	hosts   ports.HostRegistry
	timeout time.Duration
}

// NewContainerHandler wires the HTTP surface to the core services. timeout
// bounds the calls fanned out to every host; zero means no bound.
func NewContainerHandler(router Dispatcher, relay Streamer, hosts ports.HostRegistry, timeout time.Duration) *ContainerHandler {
	return &ContainerHandler{router: router, relay: relay, hosts: hosts, timeout: timeout}
}

// Register mounts the container routes. The stream routes come before the
// generic command route so they are never dispatched as commands.
func (h *ContainerHandler) Register(r fiber.Router) {
	r.Get("/container/:host/:id/logs", h.StreamLogs)
	r.Get("/container/:host/:id/stats", h.StreamStats)
	r.Get("/container/:host/:id/:command", h.Command)
	r.Get("/container/:host/:id", h.Inspect)
	r.Get("/containers", h.ListContainers)
	r.Get("/hosts", h.ListHosts)
	r.Get("/healthz", h.Health)
}

// Inspect returns the container's snapshot as JSON.
func (h *ContainerHandler) Inspect(c *fiber.Ctx) error {
	out := h.router.Dispatch(c.UserContext(), c.Params("host"), c.Params("id"), "")
	if out.Status == fiber.StatusOK {
		c.Type("json")
	}
	return c.Status(out.Status).SendString(out.Message)
}

// Command runs a lifecycle verb and answers with its plain-text outcome.
func (h *ContainerHandler) Command(c *fiber.Ctx) error {
	out := h.router.Dispatch(c.UserContext(), c.Params("host"), c.Params("id"), c.Params("command"))
	return c.Status(out.Status).SendString(out.Message)
}

func (h *ContainerHandler) StreamLogs(c *fiber.Ctx) error {
	return h.stream(c, h.relay.OpenLogs)
}

func (h *ContainerHandler) StreamStats(c *fiber.Ctx) error {
	return h.stream(c, h.relay.OpenStats)
}

type openFunc func(ctx context.Context, host, containerID string) (*services.Session, error)

func (h *ContainerHandler) stream(c *fiber.Ctx, open openFunc) error {
	// Params point into the request buffer, which fasthttp reuses once the
	// handler returns; the session outlives it.
	host := utils.CopyString(c.Params("host"))
	id := utils.CopyString(c.Params("id"))

	s, err := open(c.UserContext(), host, id)
	if err != nil {
		return c.Status(domain.StatusOf(err)).SendString(err.Error())
	}

	setStreamHeaders(c)
	c.Status(fiber.StatusOK)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		if err := s.Run(newSSESink(w)); err != nil {
			logging.Get().Warn().Err(err).
				Uint64("session", s.ID).
				Str("host", host).
				Str("container", id).
				Msg("stream ended with error")
		}
	})
	return nil
}

// ListContainers lists every host concurrently. One failing host fails the
// whole listing.
func (h *ContainerHandler) ListContainers(c *fiber.Ctx) error {
	ctx, cancel := h.fanoutContext(c)
	defer cancel()

	names := h.hosts.Names()
	results := make([][]domain.ContainerSummary, len(names))
	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			host, err := h.hosts.Resolve(name)
			if err != nil {
				return err
			}
			list, err := host.List(ctx)
			if err != nil {
				return fmt.Errorf("failed to list containers on %s: %w", name, err)
			}
			results[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logging.Get().Warn().Err(err).Msg("container listing failed")
		return c.Status(domain.StatusOf(err)).SendString(err.Error())
	}

	out := make(map[string][]domain.ContainerSummary, len(names))
	for i, name := range names {
		out[name] = results[i]
	}
	return c.JSON(out)
}

func (h *ContainerHandler) ListHosts(c *fiber.Ctx) error {
	return c.JSON(h.hosts.Names())
}

// Health pings every host. It answers 503 when any of them is unreachable.
func (h *ContainerHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := h.fanoutContext(c)
	defer cancel()

	names := h.hosts.Names()
	results := make([]string, len(names))
	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			results[i] = "ok"
			host, err := h.hosts.Resolve(name)
			if err == nil {
				err = host.Ping(ctx)
			}
			if err != nil {
				results[i] = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	status := fiber.StatusOK
	out := make(map[string]string, len(names))
	for i, name := range names {
		out[name] = results[i]
		if results[i] != "ok" {
			status = fiber.StatusServiceUnavailable
		}
	}
	return c.Status(status).JSON(fiber.Map{"hosts": out})
}

func (h *ContainerHandler) fanoutContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(c.UserContext())
	}
	return context.WithTimeout(c.UserContext(), h.timeout)
}
