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

package parser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/bcem/helpdesk/internal/models"
	"github.com/bcem/helpdesk/internal/schema"
)

// EmailSource is the ticket source recorded for inbound email.
const EmailSource = "Email"

// EmailOptions carries mailbox context the message itself does not hold.
type EmailOptions struct {
	// EmailID is the receiving mailbox.
	EmailID int64
	// MaxBytes bounds the message size; zero means no limit.
	MaxBytes int64
}

// ParseEmail flattens an RFC 822 message into an email payload: sender,
// threading headers, mail flags, recipients, the text body and every
// attachment (inline parts with a Content-ID carry it as "cid").
func ParseEmail(r io.Reader, opts EmailOptions) (models.Payload, error) {
	if opts.MaxBytes > 0 {
		r = io.LimitReader(r, opts.MaxBytes+1)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, malformed("email", err)
	}
	if opts.MaxBytes > 0 && int64(len(raw)) > opts.MaxBytes {
		return nil, malformed("email", fmt.Errorf("message exceeds %d bytes", opts.MaxBytes))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, malformed("email", ErrEmptyBody)
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, malformed("email", err)
	}
	defer mr.Close()

	h := mr.Header
	p := models.Payload{
		"source": EmailSource,
		"header": rawHeader(raw),
	}

	if mid, err := h.MessageID(); err == nil && mid != "" {
		p["mid"] = mid
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		p["in-reply-to"] = ids[0]
	}
	if ids, err := h.MsgIDList("References"); err == nil && len(ids) > 0 {
		refs := make([]any, len(ids))
		for i, id := range ids {
			refs[i] = id
		}
		p["references"] = refs
	}
	if subject, err := h.Subject(); err == nil {
		p["subject"] = subject
	} else {
		p["subject"] = h.Get("Subject")
	}

	from := firstAddress(h, "From")
	if from == nil {
		from = firstAddress(h, "Sender")
	}
	if from != nil {
		p["email"] = from.Address
		p["name"] = displayName(from)
	}
	if rt := firstAddress(h, "Reply-To"); rt != nil {
		p["reply-to"] = rt.Address
		p["reply-to-name"] = displayName(rt)
	}
	if opts.EmailID > 0 {
		p["emailId"] = opts.EmailID
	}

	if recipients := recipientsOf(h); len(recipients) > 0 {
		p[schema.FieldRecipients] = recipients
	}

	flags := flagsOf(h, from)

	var text, html string
	var atts []any
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				slog.Warn("unknown charset in email part", "error", err)
				continue
			}
			return nil, malformed("email", err)
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := ph.ContentType()
			if ct == "" {
				ct = "text/plain"
			}
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, malformed("email", err)
			}
			cid := strings.Trim(ph.Get("Content-Id"), "<> ")
			switch {
			case ct == "text/plain" && text == "" && cid == "":
				text = string(body)
			case ct == "text/html" && html == "" && cid == "":
				html = string(body)
			case ct == "message/delivery-status":
				flags.Bounce = true
			case cid != "" || !strings.HasPrefix(ct, "text/"):
				atts = append(atts, attachmentItem(inlineName(ph, ct), ct, body, cid))
			}
		case *mail.AttachmentHeader:
			ct, _, _ := ph.ContentType()
			name, _ := ph.Filename()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, malformed("email", err)
			}
			cid := strings.Trim(ph.Get("Content-Id"), "<> ")
			atts = append(atts, attachmentItem(name, ct, body, cid))
		}
	}

	if text == "" {
		text = html
	}
	p["message"] = text
	p[schema.FieldMailFlags] = map[string]any{
		"bounce":     flags.Bounce,
		"auto-reply": flags.AutoReply,
		"spam":       flags.Spam,
		"viral":      flags.Viral,
	}
	if len(atts) > 0 {
		p[schema.FieldAttachments] = atts
	}
	return p, nil
}

func attachmentItem(name, ct string, data []byte, cid string) map[string]any {
	item := map[string]any{
		"name": name,
		"type": ct,
		"data": data,
		"size": int64(len(data)),
	}
	if cid != "" {
		item["cid"] = cid
	}
	return item
}

func inlineName(h *mail.InlineHeader, ct string) string {
	if _, params, err := h.ContentType(); err == nil && params["name"] != "" {
		return params["name"]
	}
	if i := strings.IndexByte(ct, '/'); i >= 0 {
		return "inline." + ct[i+1:]
	}
	return "inline"
}

// rawHeader returns the header block of the message.
func rawHeader(raw []byte) string {
	br := bufio.NewReader(bytes.NewReader(raw))
	var b strings.Builder
	for {
		line, err := br.ReadString('\n')
		if strings.TrimRight(line, "\r\n") == "" {
			break
		}
		b.WriteString(line)
		if err != nil {
			break
		}
	}
	return b.String()
}

func firstAddress(h mail.Header, key string) *mail.Address {
	list, err := h.AddressList(key)
	if err != nil || len(list) == 0 {
		return nil
	}
	return list[0]
}

func displayName(a *mail.Address) string {
	if a.Name != "" {
		return a.Name
	}
	if i := strings.IndexByte(a.Address, '@'); i > 0 {
		return a.Address[:i]
	}
	return a.Address
}

func recipientsOf(h mail.Header) []any {
	var out []any
	for _, key := range []string{"To", "Cc"} {
		list, err := h.AddressList(key)
		if err != nil {
			continue
		}
		for _, a := range list {
			out = append(out, map[string]any{
				"name":   a.Name,
				"email":  a.Address,
				"source": strings.ToLower(key),
			})
		}
	}
	return out
}

// flagsOf derives the mail flags from well-known headers.
func flagsOf(h mail.Header, from *mail.Address) models.MailFlags {
	var f models.MailFlags

	if ct, _, err := h.ContentType(); err == nil && ct == "multipart/report" {
		f.Bounce = true
	}
	if from != nil {
		local := strings.ToLower(from.Address)
		if i := strings.IndexByte(local, '@'); i >= 0 {
			local = local[:i]
		}
		if local == "mailer-daemon" || local == "postmaster" {
			f.Bounce = true
		}
	}

	if v := strings.ToLower(h.Get("Auto-Submitted")); v != "" && v != "no" {
		f.AutoReply = true
	}
	if h.Get("X-Autoreply") != "" || h.Get("X-Autorespond") != "" {
		f.AutoReply = true
	}
	switch strings.ToLower(h.Get("Precedence")) {
	case "auto_reply", "bulk", "junk", "list":
		f.AutoReply = true
	}

	if strings.EqualFold(strings.TrimSpace(h.Get("X-Spam-Flag")), "yes") ||
		strings.HasPrefix(strings.ToLower(h.Get("X-Spam-Status")), "yes") {
		f.Spam = true
	}
	if h.Get("X-Virus-Infected") != "" ||
		strings.HasPrefix(strings.ToLower(h.Get("X-Virus-Status")), "infected") {
		f.Viral = true
	}
	return f
}
