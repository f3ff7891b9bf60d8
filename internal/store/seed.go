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

	"github.com/bcem/helpdesk/internal/models"
	"github.com/bcem/helpdesk/internal/schema"
)

// seedLockID serializes form seeding between instances starting together.
const seedLockID = 0x68656c70

// defaultForms are installed when no form of their kind exists, so a fresh
// database accepts the requester and ticket fields every channel sends.
var defaultForms = []struct {
	kind string
	form schema.Form
}{
	{formUser, schema.Form{Title: "Contact Information", Fields: []schema.Field{
		{Name: "email", Label: "Email Address", Type: "text", Required: true},
		{Name: "name", Label: "Full Name", Type: "text", Required: true},
		{Name: "phone", Label: "Phone Number", Type: "phone"},
	}}},
	{formTicket, schema.Form{Title: "Ticket Details", Fields: []schema.Field{
		{Name: "subject", Label: "Issue Summary", Type: "text", Required: true},
		{Name: schema.MessageField, Label: "Issue Details", Type: "thread", Required: true,
			Files: &models.FilePolicy{Enabled: true}},
	}}},
}

func (s *Store) seedForms(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(seedLockID)); err != nil {
		return fmt.Errorf("seed lock: %w", err)
	}

	for _, d := range defaultForms {
		var formID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO forms (kind, title)
			SELECT $1::text, $2::text
			WHERE NOT EXISTS (SELECT 1 FROM forms WHERE kind = $1::text)
			RETURNING id
		`, d.kind, d.form.Title).Scan(&formID)
		if isNoRows(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed %s form: %w", d.kind, err)
		}

		for i, f := range d.form.Fields {
			_, err := tx.Exec(ctx, `
				INSERT INTO form_fields (form_id, name, label, type, required, sort, files_enabled)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (form_id, name) DO NOTHING
			`, formID, f.Name, f.Label, f.Type, f.Required, i+1, f.Files != nil && f.Files.Enabled)
			if err != nil {
				return fmt.Errorf("seed %s field %s: %w", d.kind, f.Name, err)
			}
		}
		slog.Info("default form installed", "kind", d.kind, "form_id", formID)
	}

	return tx.Commit(ctx)
}
