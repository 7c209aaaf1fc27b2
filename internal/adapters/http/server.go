package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/melih/lighthouse-ctl/internal/logging"
	"github.com/melih/lighthouse-ctl/internal/metrics"
)

// AppOptions configures the Fiber application around the handlers.
type AppOptions struct {
	CORSAllowOrigins string
	MetricsEnabled   bool
}

// NewApp builds the Fiber application serving the control plane.
func NewApp(h *ContainerHandler, opts AppOptions) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "lighthouse",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(requestLogger)
	if opts.CORSAllowOrigins != "" {
		app.Use(cors.New(cors.Config{AllowOrigins: opts.CORSAllowOrigins}))
	}

	if opts.MetricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	}
	h.Register(app)
	return app
}

// errorHandler answers in plain text like every other failure of the API.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).SendString(err.Error())
}

// requestLogger logs every request once its handler returns. Streams are
// logged when their headers are sent; the session logs its own end.
func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	if err != nil {
		if herr := c.App().ErrorHandler(c, err); herr != nil {
			_ = c.SendStatus(fiber.StatusInternalServerError)
		}
	}

	status := c.Response().StatusCode()
	ev := logging.Get().Info()
	if status >= fiber.StatusInternalServerError {
		ev = logging.Get().Error()
	} else if status >= fiber.StatusBadRequest {
		ev = logging.Get().Warn()
	}
	ev.Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", status).
		Dur("latency", time.Since(start)).
		Str("request_id", c.GetRespHeader(fiber.HeaderXRequestID)).
		Msg("request")
	return nil
}
