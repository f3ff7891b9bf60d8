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

package store

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bcem/helpdesk/internal/models"
	"github.com/bcem/helpdesk/internal/schema"
	"github.com/bcem/helpdesk/internal/ticket"
)

const noSubject = "(no subject)"

// Payload keys that are stored in dedicated columns or tables rather than
// the ticket's field document.
var reservedFields = map[string]bool{
	"email": true, "name": true, "subject": true, "message": true,
	"source": true, "ip": true, "alert": true, "autorespond": true,
	schema.FieldTopic: true, schema.FieldDepartments: true, "priorityId": true,
	schema.FieldAttachments: true, schema.FieldMailFlags: true,
	schema.FieldRecipients: true, "header": true, "mid": true,
	"in-reply-to": true, "references": true, "reply-to": true,
	"reply-to-name": true, "emailId": true, "to-email-id": true,
	"thread-type": true, "ticketId": true,
}

// CreateTicket creates the ticket, its thread and the initial message in
// one transaction. Requests rejected by a filter rule fail with errno 403.
func (s *Store) CreateTicket(ctx context.Context, req *ticket.CreateRequest) (*models.Ticket, error) {
	f := req.Fields
	email := strings.TrimSpace(f.String("email"))
	name := strings.TrimSpace(f.String("name"))
	if req.Email != nil {
		if email == "" {
			email = req.Email.From.Address
		}
		if name == "" {
			name = req.Email.From.Name
		}
	}

	if errs := s.checkRequester(email); errs != nil {
		return nil, errs
	}

	subject := strings.TrimSpace(f.String("subject"))
	if subject == "" {
		subject = noSubject
	}
	if name == "" {
		name = email
	}

	rules, err := s.filterRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load filter rules: %w", err)
	}
	if r := matchRules(rules, map[string]string{
		"email":   email,
		"name":    name,
		"subject": subject,
		"body":    f.String("message"),
	}); r != nil {
		slog.Info("ticket rejected by filter rule",
			"rule_id", r.ID,
			"field", r.Field,
			"email", email,
		)
		return nil, &ticket.FieldErrors{
			Errno:  http.StatusForbidden,
			Fields: map[string]string{"err": "This help desk is for use by authorized users only"},
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	t := &models.Ticket{Subject: subject, Source: req.Source, Email: email}
	var topicID, deptID, priorityID *int64
	if id, ok := f.Int64(schema.FieldTopic); ok {
		topicID = &id
	}
	if id, ok := firstDepartment(f[schema.FieldDepartments]); ok {
		deptID = &id
	}
	if id, ok := f.Int64("priorityId"); ok {
		priorityID = &id
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO tickets
			(user_email, user_name, subject, source, ip, topic_id, dept_id, priority_id, fields)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, number, created_at
	`, email, name, subject, req.Source, f.String("ip"), topicID, deptID, priorityID, extraFields(f),
	).Scan(&t.ID, &t.Number, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert ticket: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO threads (object_type, object_id) VALUES ($1, $2) RETURNING id
	`, models.ObjectTicket, t.ID).Scan(&t.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("insert thread: %w", err)
	}

	entry, err := insertEntry(ctx, tx, t.ThreadID, entryRow{
		Type:   models.EntryMessage,
		Poster: name,
		Title:  subject,
		Body:   f.String("message"),
		Source: req.Source,
		IP:     f.String("ip"),
	})
	if err != nil {
		return nil, err
	}
	if err := insertEmail(ctx, tx, entry.ID, req.Email); err != nil {
		return nil, err
	}
	if err := linkAttachments(ctx, tx, entry.ID, models.StoredIDs(req.Attachments)); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return t, nil
}

// PostReply appends a requester's reply to the ticket thread.
func (s *Store) PostReply(ctx context.Context, req *ticket.ReplyRequest) (*models.ThreadEntry, error) {
	if strings.TrimSpace(req.Body) == "" {
		return nil, &ticket.FieldErrors{Fields: map[string]string{"message": "Message required"}}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var threadID int64
	err = tx.QueryRow(ctx, `
		SELECT id FROM threads WHERE object_type = $1 AND object_id = $2
	`, models.ObjectTicket, req.Ticket.ID).Scan(&threadID)
	if isNoRows(err) {
		return nil, &ticket.FieldErrors{Fields: map[string]string{"ticket": "Ticket has no thread"}}
	}
	if err != nil {
		return nil, fmt.Errorf("lookup thread: %w", err)
	}

	entry, err := insertEntry(ctx, tx, threadID, entryRow{
		Type:   models.EntryMessage,
		Poster: posterName(req.Poster),
		Body:   req.Body,
		Source: "API",
		IP:     req.IP,
	})
	if err != nil {
		return nil, err
	}
	entry.Object = models.ObjectRef{Type: models.ObjectTicket, ID: req.Ticket.ID, Number: req.Ticket.Number}

	if err := linkAttachments(ctx, tx, entry.ID, models.StoredIDs(req.Attachments)); err != nil {
		return nil, err
	}
	if err := touchObject(ctx, tx, entry.Object); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return entry, nil
}

// ListTickets returns a requester's tickets, newest first.
func (s *Store) ListTickets(ctx context.Context, email string) ([]models.TicketSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.number, t.created_at, t.isanswered, t.source,
		       t.status_id, t.status_state, t.status_name, t.subject,
		       COALESCE(t.dept_id, 0), COALESCE(d.name, ''), COALESCE(d.ispublic, FALSE),
		       t.user_email, t.updated_at
		FROM tickets t
		LEFT JOIN departments d ON d.id = t.dept_id
		WHERE lower(t.user_email) = lower($1)
		ORDER BY t.created_at DESC
	`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TicketSummary
	for rows.Next() {
		var ts models.TicketSummary
		if err := rows.Scan(
			&ts.TicketID, &ts.Number, &ts.Created, &ts.IsAnswered, &ts.Source,
			&ts.StatusID, &ts.StatusState, &ts.StatusName, &ts.Subject,
			&ts.DeptID, &ts.DeptName, &ts.DeptIsPublic,
			&ts.UserEmail, &ts.LastUpdate,
		); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// LookupTicket resolves a ticket number owned by email.
func (s *Store) LookupTicket(ctx context.Context, number, email string) (*ticket.Ref, error) {
	var ref ticket.Ref
	err := s.pool.QueryRow(ctx, `
		SELECT id, number FROM tickets
		WHERE number = $1 AND lower(user_email) = lower($2)
	`, number, email).Scan(&ref.ID, &ref.Number)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// GetTicketDetail returns a ticket owned by email with its messages,
// responses and notes in posting order.
func (s *Store) GetTicketDetail(ctx context.Context, number, email string) (*models.TicketDetail, error) {
	var (
		d        models.TicketDetail
		threadID int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT t.number, t.updated_at, t.subject, t.status_state, th.id
		FROM tickets t
		JOIN threads th ON th.object_type = 'T' AND th.object_id = t.id
		WHERE t.number = $1 AND lower(t.user_email) = lower($2)
	`, number, email).Scan(&d.Number, &d.LastUpdate, &d.Subject, &d.StatusState, &threadID)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, thread_id, type, poster, title, body, created_at
		FROM thread_entries
		WHERE thread_id = $1 AND type = ANY($2::text[])
		ORDER BY created_at, id
	`, threadID, []string{models.EntryMessage, models.EntryResponse, models.EntryNote})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	d.ThreadEntries = []models.ThreadEntry{}
	for rows.Next() {
		var e models.ThreadEntry
		if err := rows.Scan(&e.ID, &e.ThreadID, &e.Type, &e.Poster, &e.Title, &e.Body, &e.CreatedAt); err != nil {
			return nil, err
		}
		d.ThreadEntries = append(d.ThreadEntries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	d.ThreadCount = len(d.ThreadEntries)
	return &d, nil
}

func (s *Store) checkRequester(email string) *ticket.FieldErrors {
	if email == "" {
		return &ticket.FieldErrors{Fields: map[string]string{"email": "Email address required"}}
	}
	if err := s.validate.Var(email, "email"); err != nil {
		return &ticket.FieldErrors{Fields: map[string]string{"email": "Valid email address required"}}
	}
	return nil
}

// filterRule rejects tickets whose field contains pattern.
type filterRule struct {
	ID      int64
	Field   string
	Pattern string
}

func (s *Store) filterRules(ctx context.Context) ([]filterRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, field, pattern FROM ticket_filter_rules WHERE isactive ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowToStructByPos[filterRule])
}

// matchRules returns the first rule whose pattern occurs, case-insensitively,
// in the named field of values.
func matchRules(rules []filterRule, values map[string]string) *filterRule {
	for i := range rules {
		r := &rules[i]
		v, ok := values[r.Field]
		if !ok || r.Pattern == "" {
			continue
		}
		if strings.Contains(strings.ToLower(v), strings.ToLower(r.Pattern)) {
			return r
		}
	}
	return nil
}

func firstDepartment(v any) (int64, bool) {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if id, ok := models.ToInt64(item); ok {
				return id, true
			}
		}
	case nil:
	default:
		return models.ToInt64(t)
	}
	return 0, false
}

// extraFields returns the scalar form answers without a dedicated column.
func extraFields(p models.Payload) map[string]any {
	out := make(map[string]any)
	for k, v := range p {
		if reservedFields[k] || v == nil {
			continue
		}
		switch v.(type) {
		case string, bool, float64, int, int64:
			out[k] = v
		}
	}
	return out
}
