package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"predict-proxy/internal/model"
	"predict-proxy/internal/service"
)

// Greeting is the body returned for every request outside /predict/.
const Greeting = "Hello from Cloudflare Worker!"

const (
	corsAllowOrigin  = "*"
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization"
	corsMaxAge       = "86400"

	textPlain = "text/plain"
)

// unknownError replaces failure values that carry no description.
const unknownError = "Unknown error"

// Dispatcher routes every inbound request to the preflight, prediction proxy
// or greeting branch. Handle never returns an error to Echo: all failures
// become 500 responses that still carry Access-Control-Allow-Origin.
type Dispatcher struct {
	service *service.PredictService
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(svc *service.PredictService, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		service: svc,
		logger:  logger.With("component", "dispatcher"),
	}
}

// Handle dispatches the request. Errors and panics escaping a branch are
// turned into a "Error: <message>" response.
func (d *Dispatcher) Handle(c echo.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = d.fail(c, r)
		}
	}()

	if err := d.dispatch(c); err != nil {
		return d.fail(c, err)
	}
	return nil
}

func (d *Dispatcher) dispatch(c echo.Context) error {
	req := c.Request()

	if req.Method == http.MethodOptions {
		return preflight(c)
	}

	if id, ok := service.ExperimentID(req.URL.EscapedPath()); ok {
		return d.predict(c, id)
	}

	return writeText(c, http.StatusOK, Greeting)
}

func preflight(c echo.Context) error {
	h := c.Response().Header()
	h.Set(echo.HeaderAccessControlAllowOrigin, corsAllowOrigin)
	h.Set(echo.HeaderAccessControlAllowMethods, corsAllowMethods)
	h.Set(echo.HeaderAccessControlAllowHeaders, corsAllowHeaders)
	h.Set(echo.HeaderAccessControlMaxAge, corsMaxAge)
	return c.NoContent(http.StatusNoContent)
}

// predict forwards the request upstream and streams the response back.
func (d *Dispatcher) predict(c echo.Context, experimentID string) error {
	req := c.Request()

	resp, err := d.service.Forward(&model.PredictRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		ExperimentID:  experimentID,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	})
	if err != nil {
		d.logger.Error("prediction api error",
			"err", err,
			"reason", failureReason(err),
			"experiment_id", experimentID,
		)
		return writeText(c, http.StatusInternalServerError, "Prediction API Error: "+ErrorMessage(err))
	}
	defer func() { _ = resp.Body.Close() }()

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, resp.Header.Get(echo.HeaderContentType))
	h.Set(echo.HeaderAccessControlAllowOrigin, corsAllowOrigin)
	h.Set(echo.HeaderAccessControlAllowMethods, corsAllowMethods)
	h.Set(echo.HeaderAccessControlAllowHeaders, corsAllowHeaders)
	c.Response().WriteHeader(resp.StatusCode)

	// Once the status is sent a mid-stream failure can only truncate the
	// response; it is logged instead.
	out := flushWriter{w: c.Response(), rc: http.NewResponseController(c.Response().Writer)}
	if _, err := io.Copy(out, resp.Body); err != nil {
		d.logger.Error("streaming prediction response",
			"err", err,
			"experiment_id", experimentID,
		)
	}
	return nil
}

// flushWriter pushes every chunk to the caller as soon as it is written.
type flushWriter struct {
	w  io.Writer
	rc *http.ResponseController
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err == nil {
		_ = fw.rc.Flush()
	}
	return n, err
}

// fail converts a failure value into the generic 500 response.
func (d *Dispatcher) fail(c echo.Context, v any) error {
	msg := ErrorMessage(v)
	d.logger.Error("dispatch error",
		"err", msg,
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
	)

	if c.Response().Committed {
		return nil
	}
	return writeText(c, http.StatusInternalServerError, "Error: "+msg)
}

func writeText(c echo.Context, status int, body string) error {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, textPlain)
	h.Set(echo.HeaderAccessControlAllowOrigin, corsAllowOrigin)
	return c.Blob(status, textPlain, []byte(body))
}

// ErrorMessage extracts a human-readable description from a failure value.
// Values that are not errors, and errors with an empty message, yield
// "Unknown error".
func ErrorMessage(v any) string {
	if err, ok := v.(error); ok && err != nil {
		if msg := err.Error(); msg != "" {
			return msg
		}
	}
	return unknownError
}

// failureReason classifies a forwarding error for logs.
func failureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "client_disconnected"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "host_unreachable"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Op == "parse" {
			return "invalid_url"
		}
		return "connection_failed"
	}

	return "request_failed"
}
