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

	"github.com/jackc/pgx/v5"

	"github.com/bcem/helpdesk/internal/models"
	"github.com/bcem/helpdesk/internal/thread"
)

const entryColumns = `
	e.id, e.thread_id, e.type, e.poster, e.title, e.body, COALESCE(m.mid, ''), e.created_at,
	th.object_type, th.object_id, COALESCE(t.number, th.object_id::text)`

// LookupEntryByHeaders finds the entry recorded under the email's own
// message id (seen) or, failing that, the entry its threading headers
// point at, preferring In-Reply-To and then the most recent reference.
func (s *Store) LookupEntryByHeaders(ctx context.Context, meta *models.EmailMetadata) (*models.ThreadEntry, bool, error) {
	if meta.MessageID != "" {
		e, err := s.entryByMessageIDs(ctx, []string{meta.MessageID})
		if err != nil {
			return nil, false, err
		}
		if e != nil {
			return e, true, nil
		}
	}

	ids := meta.Correlation()
	if len(ids) == 0 {
		return nil, false, nil
	}
	e, err := s.entryByMessageIDs(ctx, ids)
	return e, false, err
}

func (s *Store) entryByMessageIDs(ctx context.Context, ids []string) (*models.ThreadEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM thread_entry_emails m
		JOIN thread_entries e ON e.id = m.thread_entry_id
		JOIN threads th ON th.id = e.thread_id
		LEFT JOIN tickets t ON th.object_type = 'T' AND t.id = th.object_id
		WHERE m.mid = ANY($1::text[])
		ORDER BY array_position($1::text[], m.mid)
		LIMIT 1
	`, ids)
	return scanEntry(row)
}

// LookupThreadByHeaders finds a thread one of whose outbound message ids
// (alerts and auto-responses) the email refers to.
func (s *Store) LookupThreadByHeaders(ctx context.Context, meta *models.EmailMetadata) (*models.Thread, error) {
	ids := meta.Correlation()
	if len(ids) == 0 {
		return nil, nil
	}

	var t models.Thread
	err := s.pool.QueryRow(ctx, `
		SELECT th.id, th.object_type, th.object_id, COALESCE(t.number, th.object_id::text)
		FROM thread_references r
		JOIN threads th ON th.id = r.thread_id
		LEFT JOIN tickets t ON th.object_type = 'T' AND t.id = th.object_id
		WHERE r.mid = ANY($1::text[])
		ORDER BY array_position($1::text[], r.mid)
		LIMIT 1
	`, ids).Scan(&t.ID, &t.Object.Type, &t.Object.ID, &t.Object.Number)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// RecordReference registers an outbound message id for a thread. The id is
// stored without angle brackets, like inbound ids.
func (s *Store) RecordReference(ctx context.Context, threadID int64, mid string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO thread_references (thread_id, mid) VALUES ($1, $2)
		ON CONFLICT (mid) DO NOTHING
	`, threadID, thread.NormalizeMessageID(mid))
	return err
}

// PostEmail appends the email to the thread as one transaction: the entry,
// its message id, and its attachments. A message id that is already
// recorded yields thread.ErrDuplicateMessage.
func (s *Store) PostEmail(ctx context.Context, t *models.Thread, meta *models.EmailMetadata) (*models.ThreadEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := insertEntry(ctx, tx, t.ID, entryRow{
		Type:   entryType(meta.ThreadType),
		Poster: posterName(meta.From),
		Title:  meta.Subject,
		Body:   meta.Body,
		Source: "Email",
	})
	if err != nil {
		return nil, err
	}
	entry.Object = t.Object

	if err := insertEmail(ctx, tx, entry.ID, meta); err != nil {
		return nil, err
	}
	entry.MessageID = meta.MessageID

	if err := linkAttachments(ctx, tx, entry.ID, models.StoredIDs(meta.Attachments)); err != nil {
		return nil, err
	}
	if err := touchObject(ctx, tx, t.Object); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return entry, nil
}

type entryRow struct {
	Type   string
	Poster string
	Title  string
	Body   string
	Source string
	IP     string
}

func insertEntry(ctx context.Context, tx pgx.Tx, threadID int64, r entryRow) (*models.ThreadEntry, error) {
	e := &models.ThreadEntry{
		ThreadID: threadID,
		Type:     r.Type,
		Poster:   r.Poster,
		Title:    r.Title,
		Body:     r.Body,
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO thread_entries (thread_id, type, poster, title, body, source, ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, threadID, r.Type, r.Poster, r.Title, r.Body, r.Source, r.IP).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert thread entry: %w", err)
	}
	return e, nil
}

func insertEmail(ctx context.Context, tx pgx.Tx, entryID int64, meta *models.EmailMetadata) error {
	if meta == nil || meta.MessageID == "" {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO thread_entry_emails (thread_entry_id, mid, email_id, headers)
		VALUES ($1, $2, NULLIF($3::bigint, 0), $4)
	`, entryID, meta.MessageID, meta.EmailID, meta.Header)
	if isUniqueViolation(err) {
		return fmt.Errorf("record message id %s: %w", meta.MessageID, thread.ErrDuplicateMessage)
	}
	if err != nil {
		return fmt.Errorf("record message id: %w", err)
	}
	return nil
}

func linkAttachments(ctx context.Context, tx pgx.Tx, entryID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE attachments SET thread_entry_id = $1
		WHERE id = ANY($2::bigint[]) AND thread_entry_id IS NULL
	`, entryID, ids)
	if err != nil {
		return fmt.Errorf("link attachments: %w", err)
	}
	return nil
}

func touchObject(ctx context.Context, tx pgx.Tx, obj models.ObjectRef) error {
	if obj.Type != models.ObjectTicket {
		return nil
	}
	_, err := tx.Exec(ctx, `UPDATE tickets SET updated_at = NOW() WHERE id = $1`, obj.ID)
	if err != nil {
		return fmt.Errorf("touch ticket: %w", err)
	}
	return nil
}

func scanEntry(row pgx.Row) (*models.ThreadEntry, error) {
	var e models.ThreadEntry
	err := row.Scan(
		&e.ID, &e.ThreadID, &e.Type, &e.Poster, &e.Title, &e.Body, &e.MessageID, &e.CreatedAt,
		&e.Object.Type, &e.Object.ID, &e.Object.Number,
	)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// entryType maps a requested thread type onto an entry type; anything
// unrecognised is a message.
func entryType(threadType string) string {
	switch threadType {
	case models.EntryResponse, models.EntryNote:
		return threadType
	default:
		return models.EntryMessage
	}
}

func posterName(a models.EmailAddress) string {
	if a.Name != "" {
		return a.Name
	}
	return a.Address
}
