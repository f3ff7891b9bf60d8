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

// Package intake runs one request end to end: it loads the form registry,
// validates the payload, reconciles inbound email with existing threads and
// materializes tickets and replies. Both the HTTP handlers and the mail pipe
// call into it and map the result onto their own status vocabulary.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bcem/helpdesk/internal/apierr"
	"github.com/bcem/helpdesk/internal/models"
	"github.com/bcem/helpdesk/internal/schema"
	"github.com/bcem/helpdesk/internal/thread"
	"github.com/bcem/helpdesk/internal/ticket"
	"github.com/bcem/helpdesk/internal/validate"
)

// RegistryLoader provides the current form and department snapshot.
type RegistryLoader interface {
	LoadRegistry(ctx context.Context) (*schema.Registry, error)
}

// TicketReader answers the read endpoints. Lookups return nil, nil when
// nothing matches the number and requester email.
type TicketReader interface {
	ListTickets(ctx context.Context, email string) ([]models.TicketSummary, error)
	GetTicketDetail(ctx context.Context, number, email string) (*models.TicketDetail, error)
	LookupTicket(ctx context.Context, number, email string) (*ticket.Ref, error)
	LookupAttachment(ctx context.Context, number, email string, id int64) (*models.StoredFile, error)
}

// Locker serializes processing of one message id. Implemented by
// dedup.Lock.
type Locker interface {
	Acquire(ctx context.Context, key string) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// Result is a successful request. Body is the response document; for
// creations it is the ticket number.
type Result struct {
	Status int
	Number string
	// Outcome is the reconciliation kind for email requests.
	Outcome  string
	Warnings []string
	Body     any
}

// Config holds the service dependencies.
type Config struct {
	Registry     RegistryLoader
	Validator    *validate.Validator
	Reconciler   *thread.Reconciler
	Materializer *ticket.Materializer
	Reader       TicketReader
	// Locker is optional. Without it duplicate deliveries are caught by
	// the store's unique message id alone.
	Locker Locker
	Strict bool
}

// Service orchestrates request processing.
type Service struct {
	registry     RegistryLoader
	validator    *validate.Validator
	reconciler   *thread.Reconciler
	materializer *ticket.Materializer
	reader       TicketReader
	locker       Locker
	strict       bool
}

// NewService creates an intake service.
func NewService(cfg Config) *Service {
	return &Service{
		registry:     cfg.Registry,
		validator:    cfg.Validator,
		reconciler:   cfg.Reconciler,
		materializer: cfg.Materializer,
		reader:       cfg.Reader,
		locker:       cfg.Locker,
		strict:       cfg.Strict,
	}
}

func (s *Service) loadRegistry(ctx context.Context) (*schema.Registry, error) {
	reg, err := s.registry.LoadRegistry(ctx)
	if err != nil {
		return nil, apierr.Unknown("Unable to load forms", err)
	}
	return reg, nil
}

// Create creates a ticket from a decoded payload. Email payloads may be
// replies and take the reconciliation path.
func (s *Service) Create(ctx context.Context, format schema.Format, payload models.Payload) (*Result, error) {
	if format == schema.FormatEmail {
		return s.ProcessEmail(ctx, payload)
	}

	reg, err := s.loadRegistry(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.validator.Validate(ctx, reg, payload, format, s.strict)
	if err != nil {
		return nil, err
	}

	t, err := s.materializer.CreateTicket(ctx, res.Payload, nil)
	if err != nil {
		s.discard(ctx, res)
		return nil, err
	}

	return &Result{
		Status:   http.StatusCreated,
		Number:   t.Number,
		Warnings: res.AttachmentErrors(),
		Body:     t.Number,
	}, nil
}

// ProcessEmail handles an inbound email: it is appended to the thread it
// belongs to, recognised as already processed, or opens a new ticket.
func (s *Service) ProcessEmail(ctx context.Context, payload models.Payload) (*Result, error) {
	reg, err := s.loadRegistry(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.validator.Validate(ctx, reg, payload, schema.FormatEmail, s.strict)
	if err != nil {
		return nil, err
	}
	meta := thread.FromPayload(res.Payload)

	// Appends link whatever was stored, so the attachment policy is
	// applied here for every outcome, not only for new tickets.
	if err := s.materializer.CheckAttachments(res.Attachments); err != nil {
		s.discard(ctx, res)
		return nil, err
	}

	if meta.MessageID != "" && s.locker != nil {
		release, err := s.lock(ctx, meta.MessageID)
		if err != nil {
			s.discard(ctx, res)
			return nil, err
		}
		defer release()
	}

	out, err := s.reconcileAndCreate(ctx, res, meta)
	if err != nil {
		s.discard(ctx, res)
		return nil, err
	}
	if out.Outcome == thread.AlreadyProcessed.String() {
		// The first delivery owns the files; this copy is dropped.
		s.discard(ctx, res)
		return out, nil
	}
	out.Warnings = res.AttachmentErrors()
	return out, nil
}

// discard drops attachments stored for a request that did not materialize.
func (s *Service) discard(ctx context.Context, res *validate.Result) {
	if err := s.validator.Discard(context.WithoutCancel(ctx), res); err != nil {
		slog.Warn("failed to discard unlinked attachments", "error", err)
	}
}

func (s *Service) reconcileAndCreate(ctx context.Context, res *validate.Result, meta *models.EmailMetadata) (*Result, error) {
	out, err := s.reconciler.Reconcile(ctx, meta)
	if err != nil {
		return nil, emailError(err)
	}

	if out.Kind != thread.NewTicket {
		if out.Kind != thread.AlreadyProcessed {
			s.materializer.PublishThreadMessage(ctx, out.Object, out.Entry, meta.From.Address)
		}
		return &Result{
			Status:  http.StatusCreated,
			Number:  out.Object.Number,
			Outcome: out.Kind.String(),
			Body:    out.Object.Number,
		}, nil
	}

	t, err := s.materializer.CreateTicket(ctx, res.Payload, meta)
	if errors.Is(err, thread.ErrDuplicateMessage) {
		// A concurrent delivery recorded the message id first; the
		// second pass resolves to the entry it created.
		slog.Info("duplicate delivery during ticket creation",
			"message_id", meta.MessageID,
		)
		out, err = s.reconciler.Reconcile(ctx, meta)
		if err != nil {
			return nil, emailError(err)
		}
		if out.Kind == thread.NewTicket {
			return nil, apierr.Unavailable("Message is already being processed", err)
		}
		return &Result{
			Status:  http.StatusCreated,
			Number:  out.Object.Number,
			Outcome: out.Kind.String(),
			Body:    out.Object.Number,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	return &Result{
		Status:  http.StatusCreated,
		Number:  t.Number,
		Outcome: thread.NewTicket.String(),
		Body:    t.Number,
	}, nil
}

func (s *Service) lock(ctx context.Context, mid string) (func(), error) {
	token, ok, err := s.locker.Acquire(ctx, mid)
	if err != nil {
		slog.Warn("message lock unavailable, relying on store uniqueness",
			"message_id", mid,
			"error", err,
		)
		return func() {}, nil
	}
	if !ok {
		return nil, apierr.Unavailable("Message is already being processed", nil)
	}
	return func() {
		// Released on a fresh context so a cancelled request still
		// frees the key before its TTL.
		if err := s.locker.Release(context.WithoutCancel(ctx), mid, token); err != nil {
			slog.Warn("release message lock failed", "message_id", mid, "error", err)
		}
	}, nil
}

func emailError(err error) error {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apierr.Unknown("Unable to process email", err)
}

// ListTickets returns the tickets of a requester, newest first.
func (s *Service) ListTickets(ctx context.Context, email string) (*Result, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrMissingEmail
	}

	tickets, err := s.reader.ListTickets(ctx, email)
	if err != nil {
		return nil, apierr.Unknown("Unable to list tickets", err)
	}
	if tickets == nil {
		tickets = []models.TicketSummary{}
	}
	return &Result{Status: http.StatusOK, Body: tickets}, nil
}

// GetTicket returns one ticket of a requester with its public thread.
func (s *Service) GetTicket(ctx context.Context, number, email string) (*Result, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrMissingEmail
	}

	detail, err := s.reader.GetTicketDetail(ctx, number, email)
	if err != nil {
		return nil, apierr.Unknown("Unable to load ticket", err)
	}
	if detail == nil {
		return nil, apierr.NotFound("Ticket not found")
	}
	return &Result{Status: http.StatusOK, Number: detail.Number, Body: detail}, nil
}

// GetAttachment returns a stored file of a requester's ticket.
func (s *Service) GetAttachment(ctx context.Context, number, email string, id int64) (*models.StoredFile, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrMissingEmail
	}

	f, err := s.reader.LookupAttachment(ctx, number, email, id)
	if err != nil {
		return nil, apierr.Unknown("Unable to load attachment", err)
	}
	if f == nil {
		return nil, apierr.NotFound("Attachment not found")
	}
	return f, nil
}

// Reply posts a requester's reply to their ticket.
func (s *Service) Reply(ctx context.Context, number string, payload models.Payload) (*Result, error) {
	email := strings.TrimSpace(payload.String("email"))
	if email == "" {
		return nil, ErrMissingEmail
	}

	ref, err := s.reader.LookupTicket(ctx, number, email)
	if err != nil {
		return nil, apierr.Unknown("Unable to load ticket", err)
	}
	if ref == nil {
		return nil, apierr.NotFound("Ticket not found")
	}

	reg, err := s.loadRegistry(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.validator.ValidateReply(ctx, reg, payload, s.strict)
	if err != nil {
		return nil, err
	}

	entry, err := s.materializer.AppendReply(ctx, *ref, res.Payload)
	if err != nil {
		s.discard(ctx, res)
		return nil, err
	}

	return &Result{
		Status:   http.StatusCreated,
		Number:   ref.Number,
		Warnings: res.AttachmentErrors(),
		Body:     entry,
	}, nil
}

// ErrMissingEmail is returned by the requester-scoped operations when no
// email is given.
var ErrMissingEmail = &apierr.Error{Status: http.StatusBadRequest, Message: "missing email parameter"}

// Describe renders a result for logs.
func (r *Result) Describe() string {
	if r.Outcome != "" {
		return fmt.Sprintf("%d %s (%s)", r.Status, r.Number, r.Outcome)
	}
	return fmt.Sprintf("%d %s", r.Status, r.Number)
}
