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

// Package ticket turns validated payloads into tickets and replies. It
// applies request defaults, hands the work to the ticket store and
// translates store failures into the API error classes.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/helpdesk/internal/apierr"
	"github.com/bcem/helpdesk/internal/models"
	"github.com/bcem/helpdesk/internal/schema"
)

// DefaultSource is the source recorded when a request does not name one.
const DefaultSource = "API"

// FieldErrors is returned by the store when business validation rejects a
// request. Errno 403 marks a denial by filter rules.
type FieldErrors struct {
	Errno  int
	Fields map[string]string
}

func (e *FieldErrors) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for k, v := range e.Fields {
		parts = append(parts, k+": "+v)
	}
	return fmt.Sprintf("errno %d: %s", e.Errno, strings.Join(parts, "; "))
}

// Denied reports whether the errors mark a policy denial.
func (e *FieldErrors) Denied() bool {
	return e.Errno == http.StatusForbidden
}

// CreateRequest is a ticket creation handed to the store.
type CreateRequest struct {
	Fields      models.Payload
	Source      string
	Alert       bool
	Autorespond bool
	Attachments []*models.Attachment
	// Email is set for tickets opened by an inbound email.
	Email *models.EmailMetadata
}

// Ref identifies an existing ticket.
type Ref struct {
	ID     int64
	Number string
}

// ReplyRequest is an end-user reply handed to the store.
type ReplyRequest struct {
	Ticket      Ref
	Poster      models.EmailAddress
	Body        string
	IP          string
	Alert       bool
	Attachments []*models.Attachment
}

// Store creates tickets and posts replies. Implemented by store.Store.
type Store interface {
	CreateTicket(ctx context.Context, req *CreateRequest) (*models.Ticket, error)
	PostReply(ctx context.Context, req *ReplyRequest) (*models.ThreadEntry, error)
	// RecordReference registers an outbound message id for a thread so
	// replies to that message are threaded back to it.
	RecordReference(ctx context.Context, threadID int64, mid string) error
}

// DefaultMessageIDDomain is the right-hand side of generated message ids.
const DefaultMessageIDDomain = "helpdesk.localdomain"

// Notifier publishes change events. Implemented by queue.Publisher.
type Notifier interface {
	PublishEvent(ctx context.Context, ev models.Event) error
}

// Config holds the materializer dependencies.
type Config struct {
	Store    Store
	Notifier Notifier
	// RejectOnAttachmentErrors fails creation when any attachment could
	// not be stored instead of creating the ticket without it.
	RejectOnAttachmentErrors bool
	// MessageIDDomain names the host part of the message ids reserved for
	// outbound notices. Defaults to DefaultMessageIDDomain.
	MessageIDDomain string
}

// Materializer creates tickets and replies.
type Materializer struct {
	store                    Store
	notifier                 Notifier
	rejectOnAttachmentErrors bool
	midDomain                string
}

// NewMaterializer creates a materializer.
func NewMaterializer(cfg Config) *Materializer {
	domain := cfg.MessageIDDomain
	if domain == "" {
		domain = DefaultMessageIDDomain
	}
	return &Materializer{
		store:                    cfg.Store,
		notifier:                 cfg.Notifier,
		rejectOnAttachmentErrors: cfg.RejectOnAttachmentErrors,
		midDomain:                domain,
	}
}

// CreateTicket creates a ticket from a validated payload. email is nil for
// API requests. Defaults: alert and autorespond are true and source is
// "API" when absent or null. Auto-replies and bounces never trigger an
// auto-response.
func (m *Materializer) CreateTicket(ctx context.Context, payload models.Payload, email *models.EmailMetadata) (*models.Ticket, error) {
	if !payload.Has("source") {
		payload["source"] = DefaultSource
	}

	req := &CreateRequest{
		Fields:      payload,
		Source:      payload.String("source"),
		Alert:       payload.Bool("alert", true),
		Autorespond: payload.Bool("autorespond", true),
		Email:       email,
	}
	if email != nil && (email.Flags.AutoReply || email.Flags.Bounce) {
		req.Autorespond = false
	}

	atts, _ := payload[schema.FieldAttachments].([]*models.Attachment)
	if err := m.CheckAttachments(atts); err != nil {
		return nil, err
	}
	req.Attachments = stored(atts)

	t, err := m.store.CreateTicket(ctx, req)
	if err != nil {
		return nil, createError(err)
	}
	if t == nil {
		return nil, apierr.Unknown("Unable to create new ticket: unknown error", nil)
	}

	slog.Info("ticket created",
		"number", t.Number,
		"source", req.Source,
		"attachments", len(req.Attachments),
	)

	m.publish(ctx, models.Event{
		Type:        models.EventTicketCreated,
		ObjectType:  models.ObjectTicket,
		ObjectID:    t.ID,
		Number:      t.Number,
		ThreadID:    t.ThreadID,
		Source:      req.Source,
		Email:       t.Email,
		Alert:       req.Alert,
		Autorespond: req.Autorespond,
	})
	return t, nil
}

func createError(err error) error {
	var fe *FieldErrors
	if errors.As(err, &fe) {
		if fe.Denied() {
			return apierr.Denied("Ticket denied")
		}
		return apierr.Structural("Unable to create new ticket: validation errors", fe.Fields)
	}
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apierr.Unknown("Unable to create new ticket: unknown error", err)
}

// AppendReply posts an end-user reply to an existing ticket.
func (m *Materializer) AppendReply(ctx context.Context, ref Ref, payload models.Payload) (*models.ThreadEntry, error) {
	atts, _ := payload[schema.FieldFiles].([]*models.Attachment)
	if err := m.CheckAttachments(atts); err != nil {
		return nil, err
	}

	req := &ReplyRequest{
		Ticket:      ref,
		Poster:      models.EmailAddress{Address: strings.TrimSpace(payload.String("email")), Name: payload.String("name")},
		Body:        payload.String("message"),
		IP:          payload.String("ip"),
		Alert:       payload.Bool("alert", true),
		Attachments: stored(atts),
	}

	entry, err := m.store.PostReply(ctx, req)
	if err != nil {
		var fe *FieldErrors
		if errors.As(err, &fe) {
			if fe.Denied() {
				return nil, apierr.Denied("Reply denied")
			}
			return nil, apierr.Structural("Unable to post reply: validation errors", fe.Fields)
		}
		var ae *apierr.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, apierr.Unknown("Unable to post reply: unknown error", err)
	}
	if entry == nil {
		return nil, apierr.Unknown("Unable to post reply: unknown error", nil)
	}

	m.publish(ctx, models.Event{
		Type:       models.EventThreadReply,
		ObjectType: models.ObjectTicket,
		ObjectID:   ref.ID,
		Number:     ref.Number,
		ThreadID:   entry.ThreadID,
		EntryID:    entry.ID,
		Email:      req.Poster.Address,
		Alert:      req.Alert,
	})
	return entry, nil
}

// PublishThreadMessage notifies workers of an email appended to a thread.
func (m *Materializer) PublishThreadMessage(ctx context.Context, obj models.ObjectRef, entry *models.ThreadEntry, from string) {
	ev := models.Event{
		Type:       models.EventThreadMessage,
		ObjectType: obj.Type,
		ObjectID:   obj.ID,
		Number:     obj.Number,
		Email:      from,
		Alert:      true,
	}
	if entry != nil {
		ev.ThreadID = entry.ThreadID
		ev.EntryID = entry.ID
	}
	m.publish(ctx, ev)
}

// CheckAttachments fails with a 400-class error when any attachment carries
// an error and the materializer is configured to reject them. Otherwise it
// returns nil.
func (m *Materializer) CheckAttachments(atts []*models.Attachment) error {
	if !m.rejectOnAttachmentErrors {
		return nil
	}
	fields := make(map[string]string)
	for _, a := range atts {
		if a != nil && a.Error != "" {
			fields[a.Name] = a.Error
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return apierr.Structural("Unable to process attachments", fields)
}

func stored(atts []*models.Attachment) []*models.Attachment {
	var out []*models.Attachment
	for _, a := range atts {
		if a != nil && a.Stored() {
			out = append(out, a)
		}
	}
	return out
}

// publish sends ev to the workers. Events on a thread carry a reserved
// message id for the notice the workers send, so that mail answering the
// notice continues the thread.
func (m *Materializer) publish(ctx context.Context, ev models.Event) {
	if m.notifier == nil {
		return
	}
	if ev.ThreadID > 0 {
		ev.MessageID = m.reserveMessageID(ctx, ev.ThreadID)
	}
	ev.OccurredAt = time.Now().UTC()
	if err := m.notifier.PublishEvent(ctx, ev); err != nil {
		slog.Error("publish event failed",
			"type", ev.Type,
			"number", ev.Number,
			"error", err,
		)
	}
}

// reserveMessageID records a new outbound message id for the thread. On
// failure it returns "" and the workers generate their own.
func (m *Materializer) reserveMessageID(ctx context.Context, threadID int64) string {
	mid := uuid.NewString() + "@" + m.midDomain
	if err := m.store.RecordReference(ctx, threadID, mid); err != nil {
		slog.Warn("reserve outbound message id failed",
			"thread_id", threadID,
			"error", err,
		)
		return ""
	}
	return mid
}
