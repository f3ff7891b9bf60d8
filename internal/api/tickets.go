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
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/bcem/helpdesk/internal/apierr"
	"github.com/bcem/helpdesk/internal/intake"
	"github.com/bcem/helpdesk/internal/models"
	"github.com/bcem/helpdesk/internal/parser"
	"github.com/bcem/helpdesk/internal/schema"
)

// TicketService is the request pipeline behind the ticket routes.
// Implemented by intake.Service.
type TicketService interface {
	Create(ctx context.Context, format schema.Format, payload models.Payload) (*intake.Result, error)
	ListTickets(ctx context.Context, email string) (*intake.Result, error)
	GetTicket(ctx context.Context, number, email string) (*intake.Result, error)
	GetAttachment(ctx context.Context, number, email string, id int64) (*models.StoredFile, error)
	Reply(ctx context.Context, number string, payload models.Payload) (*intake.Result, error)
}

// TicketHandler serves the ticket API.
type TicketHandler struct {
	svc       TicketService
	validate  *validator.Validate
	emailOpts parser.EmailOptions
}

// NewTicketHandler creates the ticket API handler. emailOpts applies to
// raw messages posted to the email endpoint.
func NewTicketHandler(svc TicketService, emailOpts parser.EmailOptions) *TicketHandler {
	return &TicketHandler{
		svc:       svc,
		validate:  validator.New(),
		emailOpts: emailOpts,
	}
}

// Register registers the ticket routes.
func (h *TicketHandler) Register(e *echo.Echo) {
	e.POST("/api/tickets.:format", h.Create)
	e.GET("/api/tickets.:format", h.List)
	e.GET("/api/tickets/:number", h.Get)
	e.POST("/api/tickets/:number", h.Reply)
	e.GET("/api/tickets/:number/attachments/:id", h.Attachment)
}

// readQuery is the requester scope of the read endpoints.
type readQuery struct {
	Email string `query:"email" validate:"required,email"`
}

// Create handles POST /api/tickets.{json|xml|email}.
func (h *TicketHandler) Create(c echo.Context) error {
	if k := APIKeyFromContext(c); k == nil || !k.CanCreateTickets {
		return c.String(http.StatusUnauthorized, "API key not authorized")
	}

	format, ok := schema.ParseFormat(c.Param("format"))
	if !ok {
		return writeError(c, apierr.Unsupported("Unsupported data format"))
	}

	var (
		payload models.Payload
		err     error
	)
	if format == schema.FormatEmail {
		payload, err = parser.ParseEmail(c.Request().Body, h.emailOpts)
	} else {
		payload, err = parser.Parse(format, c.Request().Body)
	}
	if err != nil {
		return writeError(c, err)
	}
	if _, ok := payload["ip"]; !ok && format != schema.FormatEmail {
		payload["ip"] = c.RealIP()
	}

	res, err := h.svc.Create(c.Request().Context(), format, payload)
	if err != nil {
		return writeError(c, err)
	}
	if len(res.Warnings) > 0 {
		slog.Warn("ticket created with attachment errors",
			"number", res.Number,
			"errors", res.Warnings,
		)
	}
	return c.String(res.Status, res.Number)
}

// List handles GET /api/tickets.json?email=.
func (h *TicketHandler) List(c echo.Context) error {
	if c.Param("format") != string(schema.FormatJSON) {
		return writeError(c, apierr.Unsupported("Unsupported data format"))
	}
	email, err := h.requester(c)
	if err != nil {
		return writeError(c, err)
	}

	res, err := h.svc.ListTickets(c.Request().Context(), email)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res.Status, res.Body)
}

// Get handles GET /api/tickets/{number}.json?email=.
func (h *TicketHandler) Get(c echo.Context) error {
	number, ok := jsonRef(c.Param("number"))
	if !ok {
		return writeError(c, apierr.NotFound("Ticket not found"))
	}
	email, err := h.requester(c)
	if err != nil {
		return writeError(c, err)
	}

	res, err := h.svc.GetTicket(c.Request().Context(), number, email)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res.Status, res.Body)
}

// Attachment handles GET /api/tickets/{number}/attachments/{id}.json?email=.
func (h *TicketHandler) Attachment(c echo.Context) error {
	ref, ok := jsonRef(c.Param("id"))
	if !ok {
		return writeError(c, apierr.NotFound("Attachment not found"))
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || id <= 0 {
		return writeError(c, apierr.NotFound("Attachment not found"))
	}
	email, err := h.requester(c)
	if err != nil {
		return writeError(c, err)
	}

	f, err := h.svc.GetAttachment(c.Request().Context(), c.Param("number"), email, id)
	if err != nil {
		return writeError(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType("attachment", map[string]string{"filename": f.Name}))
	ct := f.Type
	if ct == "" {
		ct = echo.MIMEOctetStream
	}
	return c.Blob(http.StatusOK, ct, f.Data)
}

// Reply handles POST /api/tickets/{number}.json.
func (h *TicketHandler) Reply(c echo.Context) error {
	number, ok := jsonRef(c.Param("number"))
	if !ok {
		return writeError(c, apierr.NotFound("Ticket not found"))
	}

	payload, err := parser.ParseJSON(c.Request().Body)
	if err != nil {
		return writeError(c, err)
	}
	if _, ok := payload["ip"]; !ok {
		payload["ip"] = c.RealIP()
	}

	res, err := h.svc.Reply(c.Request().Context(), number, payload)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res.Status, res.Body)
}

func (h *TicketHandler) requester(c echo.Context) (string, error) {
	q := readQuery{Email: strings.TrimSpace(c.QueryParam("email"))}
	if q.Email == "" {
		return "", intake.ErrMissingEmail
	}
	if err := h.validate.Struct(q); err != nil {
		return "", apierr.Structural("Invalid email parameter", map[string]string{"email": "Valid email address required"})
	}
	return q.Email, nil
}

// jsonRef strips the ".json" suffix from a path segment.
func jsonRef(seg string) (string, bool) {
	ref, ok := strings.CutSuffix(seg, ".json")
	if !ok || ref == "" {
		return "", false
	}
	return ref, true
}

// writeError renders a request failure. Field messages are listed one per
// line after the message; causes of server errors are logged, not sent.
func writeError(c echo.Context, err error) error {
	if errors.Is(err, intake.ErrMissingEmail) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": intake.ErrMissingEmail.Message})
	}

	ae := apierr.As(err)
	if ae.Status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"status", ae.Status,
			"error", err,
		)
	}

	msg := ae.Message
	if len(ae.Fields) > 0 {
		msg = fmt.Sprintf("%s:\n%s", msg, ae.FieldSummary())
	}
	return c.String(ae.Status, msg)
}
