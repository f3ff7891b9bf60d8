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

// EmailAddress represents a sender or recipient with an address and optional name.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Recipient is an addressee of an inbound email, tagged with the header it
// came from ("to" or "cc").
type Recipient struct {
	Name   string `json:"name,omitempty"`
	Email  string `json:"email"`
	Source string `json:"source,omitempty"`
}

// MailFlags are the delivery classifications derived from the email headers.
type MailFlags struct {
	Bounce    bool `json:"bounce"`
	AutoReply bool `json:"auto-reply"`
	Spam      bool `json:"spam"`
	Viral     bool `json:"viral"`
}

// Thread entry types.
const (
	EntryMessage  = "M"
	EntryResponse = "R"
	EntryNote     = "N"
)

// EmailMetadata carries everything the thread reconciler needs from an
// inbound email: the threading headers used for correlation and the content
// posted to a matched thread.
type EmailMetadata struct {
	MessageID   string
	InReplyTo   string
	References  []string
	Header      string
	From        EmailAddress
	ReplyTo     EmailAddress
	EmailID     int64 // mailbox the email arrived on
	ToEmailID   int64
	ThreadType  string
	Subject     string
	Body        string
	Flags       MailFlags
	Recipients  []Recipient
	Attachments []*Attachment
}

// Correlation returns the message ids that may identify an earlier message of
// the same conversation, most recent first: In-Reply-To, then References in
// reverse order.
func (m *EmailMetadata) Correlation() []string {
	var ids []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id == "" || seen[id] || id == m.MessageID {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}
	add(m.InReplyTo)
	for i := len(m.References) - 1; i >= 0; i-- {
		add(m.References[i])
	}
	return ids
}
