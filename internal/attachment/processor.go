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

// Package attachment decodes, checks and persists files submitted with
// ticket requests. Failures are per file: the processor annotates the
// offending attachment and lets its siblings continue.
package attachment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/bcem/helpdesk/internal/models"
)

var (
	ErrPoorlyEncoded   = errors.New("poorly encoded base64 data")
	ErrEmpty           = errors.New("file is empty")
	ErrTooBig          = errors.New("file is too big")
	ErrTypeNotAllowed  = errors.New("file type is not allowed")
	ErrTooManyFiles    = errors.New("too many files")
	ErrUploadsDisabled = errors.New("attachments are not allowed")
)

// Store persists attachment content. Implemented by store.Store.
type Store interface {
	CreateAttachment(ctx context.Context, a *models.Attachment) (int64, error)
	// DeleteAttachments removes the given attachments unless they have
	// been linked to a thread entry.
	DeleteAttachments(ctx context.Context, ids []int64) error
}

// PersistError names the file that could not be stored.
type PersistError struct {
	Name string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Outcome pairs an attachment with the result of processing it.
type Outcome struct {
	Attachment *models.Attachment
	Err        error
}

// Processor decodes and stores attachments under a file policy.
type Processor struct {
	store   Store
	policy  models.FilePolicy
	maxSize int64
}

// NewProcessor creates a processor. maxSize is the site-wide per-file limit
// in bytes (zero for none); it applies on top of any field policy.
func NewProcessor(store Store, maxSize int64) *Processor {
	return &Processor{
		store:   store,
		policy:  models.FilePolicy{Enabled: true},
		maxSize: maxSize,
	}
}

// WithPolicy returns a copy of the processor enforcing the given field
// policy.
func (p *Processor) WithPolicy(policy models.FilePolicy) *Processor {
	cp := *p
	cp.policy = policy
	return &cp
}

// Decode replaces base64 content with its decoded bytes. On failure the
// attachment is annotated and ErrPoorlyEncoded is returned.
func (p *Processor) Decode(a *models.Attachment) error {
	if !a.IsBase64() {
		if a.Size == 0 {
			a.Size = int64(len(a.Data))
		}
		return nil
	}

	data, err := decodeBase64(a.Data)
	if err != nil || len(data) == 0 {
		a.Error = fmt.Sprintf("%s: %v", a.Name, ErrPoorlyEncoded)
		return &PersistError{Name: a.Name, Err: ErrPoorlyEncoded}
	}

	a.Data = data
	a.Encoding = ""
	a.Size = int64(len(data))
	return nil
}

// decodeBase64 strictly decodes standard base64, ignoring line breaks and
// tolerating missing padding.
func decodeBase64(raw []byte) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, string(raw))

	data, err := base64.StdEncoding.Strict().DecodeString(clean)
	if err == nil {
		return data, nil
	}
	if !strings.HasSuffix(clean, "=") {
		if data, rerr := base64.RawStdEncoding.Strict().DecodeString(clean); rerr == nil {
			return data, nil
		}
	}
	return nil, err
}

// Persist checks the attachment against the policy and stores it. On
// success the attachment's ID is set; on failure its Error is set and a
// *PersistError naming the file is returned.
func (p *Processor) Persist(ctx context.Context, a *models.Attachment) (int64, error) {
	if err := p.check(a); err != nil {
		return 0, p.fail(a, err)
	}

	if a.Type == "" {
		a.Type = mimetype.Detect(a.Data).String()
	}

	id, err := p.store.CreateAttachment(ctx, a)
	if err != nil {
		slog.Error("attachment store failed",
			"name", a.Name,
			"size", a.Size,
			"error", err,
		)
		return 0, p.fail(a, err)
	}
	if id <= 0 {
		return 0, p.fail(a, fmt.Errorf("storage returned no identifier"))
	}

	a.ID = id
	return id, nil
}

func (p *Processor) fail(a *models.Attachment, err error) error {
	pe := &PersistError{Name: a.Name, Err: err}
	a.Error = pe.Error()
	return pe
}

func (p *Processor) check(a *models.Attachment) error {
	if !p.policy.Enabled {
		return ErrUploadsDisabled
	}
	size := int64(len(a.Data))
	if size == 0 {
		return ErrEmpty
	}
	if p.maxSize > 0 && size > p.maxSize {
		return ErrTooBig
	}
	if p.policy.MaxSize > 0 && size > p.policy.MaxSize {
		return ErrTooBig
	}

	if len(p.policy.Extensions) > 0 {
		ext := strings.TrimPrefix(strings.ToLower(path.Ext(a.Name)), ".")
		if !containsFold(p.policy.Extensions, ext) {
			return ErrTypeNotAllowed
		}
	}
	if len(p.policy.MimeTypes) > 0 {
		mt := a.Type
		if mt == "" {
			mt = mimetype.Detect(a.Data).String()
		}
		if !mimetype.EqualsAny(mt, p.policy.MimeTypes...) {
			return ErrTypeNotAllowed
		}
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimPrefix(v, "."), s) {
			return true
		}
	}
	return false
}

// PersistFile stores a reply-path file given as name plus base64 content.
func (p *Processor) PersistFile(ctx context.Context, f models.File) (*models.Attachment, error) {
	a := &models.Attachment{
		Name:     f.Name,
		Type:     f.Type,
		Data:     []byte(f.Data),
		Encoding: models.EncodingBase64,
	}
	if err := p.Decode(a); err != nil {
		return a, err
	}
	if _, err := p.Persist(ctx, a); err != nil {
		return a, err
	}
	return a, nil
}

// Discard deletes the stored attachments of a request that did not
// materialize, so a redelivered message does not store its files twice.
// Attachments already linked to a thread entry are kept by the store.
func (p *Processor) Discard(ctx context.Context, atts []*models.Attachment) error {
	ids := models.StoredIDs(atts)
	if len(ids) == 0 {
		return nil
	}
	if err := p.store.DeleteAttachments(ctx, ids); err != nil {
		return fmt.Errorf("discard attachments: %w", err)
	}
	for _, a := range atts {
		if a != nil {
			a.ID = 0
		}
	}
	return nil
}

// ProcessAll decodes and persists every attachment, collecting one outcome
// per input in order. Attachments that already carry an error are skipped.
// Files beyond the policy's MaxFiles are rejected.
func (p *Processor) ProcessAll(ctx context.Context, atts []*models.Attachment) []Outcome {
	outcomes := make([]Outcome, 0, len(atts))
	accepted := 0
	for _, a := range atts {
		if a == nil {
			continue
		}
		if a.Error != "" {
			outcomes = append(outcomes, Outcome{Attachment: a, Err: errors.New(a.Error)})
			continue
		}
		if p.policy.MaxFiles > 0 && accepted >= p.policy.MaxFiles {
			outcomes = append(outcomes, Outcome{Attachment: a, Err: p.fail(a, ErrTooManyFiles)})
			continue
		}
		if err := p.Decode(a); err != nil {
			outcomes = append(outcomes, Outcome{Attachment: a, Err: err})
			continue
		}
		accepted++
		_, err := p.Persist(ctx, a)
		outcomes = append(outcomes, Outcome{Attachment: a, Err: err})
	}
	return outcomes
}
