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

// Package webhook handles Graph API change notifications for mailboxes
// that feed the helpdesk. When a subscribed mailbox receives a message,
// Graph POSTs a notification; the handler fetches the raw message and runs
// it through the same email path as the mail pipe.
package webhook

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/bcem/helpdesk/internal/apierr"
	"github.com/bcem/helpdesk/internal/intake"
	"github.com/bcem/helpdesk/internal/models"
	"github.com/bcem/helpdesk/internal/parser"
)

const maxNotificationBytes int64 = 1 << 20

// ChangeNotification represents a single Graph API change notification.
type ChangeNotification struct {
	SubscriptionID string `json:"subscriptionId"`
	ChangeType     string `json:"changeType"`
	Resource       string `json:"resource"`
	ClientState    string `json:"clientState"`
	TenantID       string `json:"tenantId"`
}

// NotificationPayload is the wrapper Graph sends.
type NotificationPayload struct {
	Value []ChangeNotification `json:"value"`
}

// MessageFetcher retrieves raw messages. Implemented by graph.Fetcher.
type MessageFetcher interface {
	FetchMIME(ctx context.Context, userID, messageID string) ([]byte, error)
}

// EmailProcessor runs an inbound email. Implemented by intake.Service.
type EmailProcessor interface {
	ProcessEmail(ctx context.Context, payload models.Payload) (*intake.Result, error)
}

// NotificationFilter drops repeated notifications. Implemented by
// dedup.Filter.
type NotificationFilter interface {
	IsNew(ctx context.Context, mailbox, messageID string) (bool, error)
	Forget(ctx context.Context, mailbox, messageID string) error
}

// Mailbox is a Graph mailbox delivering to the helpdesk.
type Mailbox struct {
	Alias       string
	ClientState string
	// EmailID is the helpdesk mailbox id recorded on inbound entries.
	EmailID int64
	Fetcher MessageFetcher
}

// Handler processes Graph API change notifications.
type Handler struct {
	mailboxes map[string]Mailbox
	processor EmailProcessor
	filter    NotificationFilter
	maxBytes  int64

	wg sync.WaitGroup
}

// NewHandler creates a change notification handler for the given
// mailboxes, keyed by alias.
func NewHandler(mailboxes []Mailbox, processor EmailProcessor, filter NotificationFilter, maxBytes int64) *Handler {
	byAlias := make(map[string]Mailbox, len(mailboxes))
	for _, m := range mailboxes {
		byAlias[m.Alias] = m
	}
	return &Handler{
		mailboxes: byAlias,
		processor: processor,
		filter:    filter,
		maxBytes:  maxBytes,
	}
}

// Register registers the notification routes.
func (h *Handler) Register(e *echo.Echo) {
	e.POST("/webhook/:mailbox", h.Handle)
	e.GET("/webhook/:mailbox", h.HandleReachability)
}

// HandleReachability answers GET requests on the webhook URL so that
// operators can check it is reachable.
func (h *Handler) HandleReachability(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Handle answers Graph's validation handshake and accepts notifications.
//
// When a subscription is created Graph POSTs ?validationToken=<token> and
// expects the token echoed as text/plain. Notifications are acknowledged
// with 202 at once and processed in the background.
func (h *Handler) Handle(c echo.Context) error {
	if token := c.QueryParam("validationToken"); token != "" {
		slog.Info("subscription validation request received", "mailbox", c.Param("mailbox"))
		return c.String(http.StatusOK, token)
	}

	mb, ok := h.mailboxes[c.Param("mailbox")]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown mailbox")
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxNotificationBytes+1))
	if err != nil {
		slog.Error("failed to read notification body", "error", err)
		return c.NoContent(http.StatusAccepted)
	}
	if int64(len(body)) > maxNotificationBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "notification too large")
	}

	var payload NotificationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Info("notification body not valid JSON, ignoring",
			"body_len", len(body),
		)
		return c.NoContent(http.StatusAccepted)
	}

	ctx := context.WithoutCancel(c.Request().Context())
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.processNotifications(ctx, mb, payload.Value)
	}()
	return c.NoContent(http.StatusAccepted)
}

// Wait blocks until background notification processing has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) processNotifications(ctx context.Context, mb Mailbox, notifications []ChangeNotification) {
	for _, n := range notifications {
		if err := h.processNotification(ctx, mb, n); err != nil {
			slog.Error("notification processing failed",
				"mailbox", mb.Alias,
				"resource", n.Resource,
				"error", err,
			)
		}
	}
}

func (h *Handler) processNotification(ctx context.Context, mb Mailbox, n ChangeNotification) error {
	if n.ChangeType != "created" {
		slog.Debug("skipping non-created notification",
			"change_type", n.ChangeType,
			"resource", n.Resource,
		)
		return nil
	}

	if mb.ClientState != "" && subtle.ConstantTimeCompare([]byte(mb.ClientState), []byte(n.ClientState)) != 1 {
		slog.Warn("clientState mismatch, possible spoofed notification",
			"mailbox", mb.Alias,
			"subscription_id", n.SubscriptionID,
		)
		return nil
	}

	userID, messageID, err := parseResource(n.Resource)
	if err != nil {
		return err
	}

	if h.filter != nil {
		isNew, err := h.filter.IsNew(ctx, mb.Alias, messageID)
		if err != nil {
			slog.Warn("dedup check failed, proceeding", "error", err)
		} else if !isNew {
			slog.Debug("skipping duplicate notification", "message_id", messageID)
			return nil
		}
	}

	res, err := h.deliver(ctx, mb, userID, messageID)
	if err != nil {
		if apierr.StatusOf(err) >= http.StatusInternalServerError && h.filter != nil {
			// Let a redelivered notification try again.
			if ferr := h.filter.Forget(ctx, mb.Alias, messageID); ferr != nil {
				slog.Warn("dedup reset failed", "error", ferr)
			}
		}
		return err
	}
	if res != nil {
		slog.Info("mailbox message processed",
			"mailbox", mb.Alias,
			"message_id", messageID,
			"result", res.Describe(),
		)
	}
	return nil
}

func (h *Handler) deliver(ctx context.Context, mb Mailbox, userID, messageID string) (*intake.Result, error) {
	raw, err := mb.Fetcher.FetchMIME(ctx, userID, messageID)
	if err != nil {
		return nil, apierr.Unavailable("Unable to fetch message", err)
	}
	if raw == nil {
		return nil, nil
	}

	payload, err := parser.ParseEmail(bytes.NewReader(raw), parser.EmailOptions{
		EmailID:  mb.EmailID,
		MaxBytes: h.maxBytes,
	})
	if err != nil {
		return nil, err
	}
	return h.processor.ProcessEmail(ctx, payload)
}

// parseResource extracts userID and messageID from a Graph notification resource string.
// Format: "users/{userId}/messages/{messageId}"
func parseResource(resource string) (userID, messageID string, err error) {
	resource = strings.TrimPrefix(resource, "/")

	parts := strings.Split(resource, "/")
	// Graph may send capitalised variants: "Users", "Messages"
	if len(parts) != 4 || !strings.EqualFold(parts[0], "users") || !strings.EqualFold(parts[2], "messages") {
		return "", "", fmt.Errorf("unexpected resource format: %s", resource)
	}
	return parts[1], parts[3], nil
}
