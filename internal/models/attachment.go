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

package models

import "strings"

// EncodingBase64 is the only transfer encoding accepted for inline
// attachment content.
const EncodingBase64 = "base64"

// Attachment describes one file submitted with a request. It is created from
// the raw request field, decoded and persisted in place by the attachment
// processor (which sets either ID or Error) and consumed once when the
// ticket or reply is created.
type Attachment struct {
	Name      string `json:"name"`
	Type      string `json:"type,omitempty"`
	Data      []byte `json:"-"`
	Encoding  string `json:"encoding,omitempty"`
	Size      int64  `json:"size,omitempty"`
	ContentID string `json:"cid,omitempty"`

	// ID is the stored attachment identifier once persisted.
	ID int64 `json:"id,omitempty"`
	// Error records a soft failure (bad encoding, rejected by policy or
	// storage). The attachment is skipped but sibling files continue.
	Error string `json:"error,omitempty"`
}

// IsBase64 reports whether the content is declared as base64 encoded.
func (a *Attachment) IsBase64() bool {
	return strings.EqualFold(strings.TrimSpace(a.Encoding), EncodingBase64)
}

// Stored reports whether the attachment has been persisted.
func (a *Attachment) Stored() bool {
	return a.ID > 0 && a.Error == ""
}

// File is the reply-path shorthand for an attachment: a name and base64
// content, with the encoding implied.
type File struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Data string `json:"data"`
}

// StoredFile is an attachment read back from storage.
type StoredFile struct {
	ID       int64  `json:"id"`
	TicketID int64  `json:"-"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Size     int64  `json:"size"`
	Data     []byte `json:"-"`
}

// StoredIDs returns the identifiers of the attachments that persisted
// successfully, in input order.
func StoredIDs(atts []*Attachment) []int64 {
	var ids []int64
	for _, a := range atts {
		if a != nil && a.Stored() {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// AttachmentErrors returns the soft-failure notes, in input order.
func AttachmentErrors(atts []*Attachment) []string {
	var errs []string
	for _, a := range atts {
		if a != nil && a.Error != "" {
			errs = append(errs, a.Error)
		}
	}
	return errs
}

// FilePolicy is the upload configuration of a form field that accepts files.
type FilePolicy struct {
	Enabled bool
	// MaxSize is the per-file limit in bytes; zero means unlimited.
	MaxSize int64
	// MaxFiles caps the number of files per request; zero means unlimited.
	MaxFiles int
	// Extensions and MimeTypes restrict accepted files when non-empty.
	// Extensions are compared case-insensitively without the leading dot.
	Extensions []string
	MimeTypes  []string
}
