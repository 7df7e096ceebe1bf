// Package server provides the JSON/SSE API a dashboard drives the harness through.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"llmbench/config"
	"llmbench/internal/core"
	"llmbench/internal/providers"
	"llmbench/internal/session"
	"llmbench/internal/usage"
	"llmbench/internal/version"
)

// StatusReporter reports per-provider configuration status.
type StatusReporter interface {
	Statuses(ctx context.Context) []providers.Status
}

// CredentialStore is the read/write side of the credential configuration.
type CredentialStore interface {
	Export(mask bool) config.Credentials
	Update(c config.Credentials) error
	Save() error
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Statuses    StatusReporter
	Resolver    providers.Resolver
	Sessions    *session.Manager
	Credentials CredentialStore
}

// Handler holds the HTTP handlers
type Handler struct {
	deps Deps
}

// NewHandler creates a new handler with the given collaborators
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

// ListProviders handles GET /api/providers
func (h *Handler) ListProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, h.deps.Statuses.Statuses(c.Request().Context()))
}

func (h *Handler) provider(c echo.Context) (core.Provider, error) {
	return h.deps.Resolver.Resolve(c.Param("provider"))
}

// GetModel handles GET /api/providers/:provider/models/:model.
// The model "default" selects the provider's default model.
func (h *Handler) GetModel(c echo.Context) error {
	p, err := h.provider(c)
	if err != nil {
		return handleError(c, err)
	}
	model := c.Param("model")
	if model == "default" {
		model = ""
	}
	info, err := p.GetModelInfo(c.Request().Context(), model)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// ValidateProvider handles POST /api/providers/:provider/validate
func (h *Handler) ValidateProvider(c echo.Context) error {
	p, err := h.provider(c)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": p.ValidateConnection(c.Request().Context())})
}

// CountTokens handles POST /api/providers/:provider/tokens
func (h *Handler) CountTokens(c echo.Context) error {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	p, err := h.provider(c)
	if err != nil {
		return handleError(c, err)
	}
	n, err := p.CountTokens(c.Request().Context(), req.Text)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"tokens": n})
}

// Generate handles POST /api/providers/:provider/generate, a one-shot
// completion outside any session.
func (h *Handler) Generate(c echo.Context) error {
	var req struct {
		Prompt string      `json:"prompt"`
		Params core.Params `json:"params"`
	}
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if req.Prompt == "" {
		return handleError(c, core.NewInvalidRequestError("prompt is required", nil))
	}
	p, err := h.provider(c)
	if err != nil {
		return handleError(c, err)
	}
	text, err := providers.GenerateText(c.Request().Context(), p, req.Prompt, req.Params)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"text": text})
}

// CreateSession handles POST /api/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	s := h.deps.Sessions.Create()
	return c.JSON(http.StatusCreated, map[string]string{"id": s.ID()})
}

func (h *Handler) session(c echo.Context) (*session.Session, error) {
	id := c.Param("id")
	s, ok := h.deps.Sessions.Get(id)
	if !ok {
		return nil, errSessionNotFound(id)
	}
	return s, nil
}

// GetSession handles GET /api/sessions/:id
func (h *Handler) GetSession(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, s.Snapshot())
}

// DeleteSession handles DELETE /api/sessions/:id
func (h *Handler) DeleteSession(c echo.Context) error {
	id := c.Param("id")
	if !h.deps.Sessions.Delete(id) {
		return handleError(c, errSessionNotFound(id))
	}
	return c.NoContent(http.StatusNoContent)
}

// ClearSession handles POST /api/sessions/:id/clear
func (h *Handler) ClearSession(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return handleError(c, err)
	}
	s.Clear()
	return c.NoContent(http.StatusNoContent)
}

// SessionStats handles GET /api/sessions/:id/stats
func (h *Handler) SessionStats(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, usage.Summarize(s.Records()))
}

type messageRequest struct {
	session.Turn
	// Stream defaults to true.
	Stream *bool `json:"stream,omitempty"`
}

type messageResponse struct {
	Message core.Message             `json:"message"`
	Record  *usage.PerformanceRecord `json:"record"`
}

// SubmitMessage handles POST /api/sessions/:id/messages. Streaming responses
// are server-sent events named content, stats, record and error. Failures
// before the first delta are returned as plain JSON errors.
func (h *Handler) SubmitMessage(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if req.Provider == "" || req.Content == "" {
		return handleError(c, core.NewInvalidRequestError("provider and content are required", nil))
	}
	s, err := h.session(c)
	if err != nil {
		return handleError(c, err)
	}
	ctx := c.Request().Context()

	if req.Stream != nil && !*req.Stream {
		reply, err := s.SubmitReply(ctx, req.Turn)
		if err != nil {
			return handleError(c, err)
		}
		return c.JSON(http.StatusOK, messageResponse{Message: reply.Message, Record: &reply.Record})
	}

	sse := &sseWriter{c: c}
	reply, err := s.SubmitReply(ctx, req.Turn, session.WithDeltaHandler(func(delta string) {
		sse.send(core.Content{Delta: delta})
	}))
	if err != nil {
		if !sse.started {
			return handleError(c, err)
		}
		sse.sendError(err)
		return nil
	}

	rec := &reply.Record
	sse.send(core.Stats{
		Content:             reply.Message.Content,
		PromptTokens:        rec.PromptTokens,
		CompletionTokens:    rec.CompletionTokens,
		TotalTokens:         rec.TotalTokens,
		ResponseTimeSeconds: rec.ResponseTime,
	})
	sse.write("record", rec)
	return nil
}

// GetConfig handles GET /api/config. Every value is masked.
func (h *Handler) GetConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, h.deps.Credentials.Export(true))
}

// UpdateConfig handles PUT /api/config. Masked values keep their stored value.
func (h *Handler) UpdateConfig(c echo.Context) error {
	var creds config.Credentials
	if err := c.Bind(&creds); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if err := h.deps.Credentials.Update(creds); err != nil {
		return handleError(c, core.NewInvalidRequestError(err.Error(), err))
	}
	if err := h.deps.Credentials.Save(); err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, h.deps.Credentials.Export(true))
}

// sseWriter commits the event-stream headers on the first event.
type sseWriter struct {
	c       echo.Context
	started bool
}

func (w *sseWriter) send(ev core.StreamEvent) {
	w.write(core.EventName(ev), ev)
}

func (w *sseWriter) sendError(err error) {
	w.write("error", errorBody(err))
}

func (w *sseWriter) write(event string, v interface{}) {
	resp := w.c.Response()
	if !w.started {
		resp.Header().Set(echo.HeaderContentType, "text/event-stream")
		resp.Header().Set(echo.HeaderCacheControl, "no-cache")
		resp.Header().Set(echo.HeaderConnection, "keep-alive")
		resp.WriteHeader(http.StatusOK)
		w.started = true
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode event", "event", event, "error", err)
		return
	}
	// Can't return an error after headers are sent; a gone client shows up
	// as a cancelled request context.
	if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return
	}
	resp.Flush()
}

func errSessionNotFound(id string) error {
	return &notFoundError{what: "session", id: id}
}

type notFoundError struct {
	what, id string
}

func (e *notFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.what, e.id)
}

func errorBody(err error) map[string]interface{} {
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return coreErr.ToJSON()
	}
	var nf *notFoundError
	switch {
	case errors.As(err, &nf):
		return errorJSON("not_found", err.Error())
	case errors.Is(err, session.ErrSessionCleared):
		return errorJSON("session_cleared", err.Error())
	case errors.Is(err, context.Canceled):
		return errorJSON("canceled", "request canceled")
	}
	return errorJSON("internal_error", "an unexpected error occurred")
}

func errorJSON(typ, msg string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    typ,
			"message": msg,
		},
	}
}

// handleError converts harness errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var coreErr *core.Error
	var nf *notFoundError
	switch {
	case errors.As(err, &coreErr):
		return c.JSON(coreErr.HTTPStatusCode(), coreErr.ToJSON())
	case errors.As(err, &nf):
		return c.JSON(http.StatusNotFound, errorBody(err))
	case errors.Is(err, session.ErrSessionCleared):
		return c.JSON(http.StatusConflict, errorBody(err))
	}

	slog.Error("unexpected error", "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, errorBody(err))
}
