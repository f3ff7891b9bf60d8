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
	"log/slog"

	"github.com/bcem/helpdesk/internal/models"
)

// CreateAttachment stores file content. The attachment is linked to its
// thread entry when the entry is posted.
func (s *Store) CreateAttachment(ctx context.Context, a *models.Attachment) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO attachments (name, type, size, content_id, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, a.Name, a.Type, int64(len(a.Data)), a.ContentID, a.Data).Scan(&id)
	return id, err
}

// DeleteAttachments removes stored attachments that were never linked to a
// thread entry.
func (s *Store) DeleteAttachments(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM attachments
		WHERE id = ANY($1::bigint[]) AND thread_entry_id IS NULL
	`, ids)
	if err != nil {
		return err
	}
	slog.Debug("unlinked attachments deleted", "requested", len(ids), "deleted", tag.RowsAffected())
	return nil
}

// LookupAttachment returns an attachment of a ticket owned by email.
func (s *Store) LookupAttachment(ctx context.Context, number, email string, id int64) (*models.StoredFile, error) {
	var f models.StoredFile
	err := s.pool.QueryRow(ctx, `
		SELECT a.id, t.id, a.name, a.type, a.size, a.data
		FROM attachments a
		JOIN thread_entries e ON e.id = a.thread_entry_id
		JOIN threads th ON th.id = e.thread_id AND th.object_type = 'T'
		JOIN tickets t ON t.id = th.object_id
		WHERE a.id = $1 AND t.number = $2 AND lower(t.user_email) = lower($3)
	`, id, number, email).Scan(&f.ID, &f.TicketID, &f.Name, &f.Type, &f.Size, &f.Data)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}
