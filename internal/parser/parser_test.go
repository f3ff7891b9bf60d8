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
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"

	"github.com/bcem/helpdesk/internal/apierr"
	"github.com/bcem/helpdesk/internal/schema"
	"github.com/bcem/helpdesk/internal/validate"
)

func TestParseJSON(t *testing.T) {
	p, err := ParseJSON(strings.NewReader(`{"email":"ann@example.com","alert":false,"topicId":2,"attachments":[{"name":"a.txt","data":"aGk=","encoding":"base64"}]}`))
	require.NoError(t, err)

	assert.Equal(t, "ann@example.com", p.String("email"))
	assert.False(t, p.Bool("alert", true))
	id, ok := p.Int64("topicId")
	assert.True(t, ok)
	assert.Equal(t, int64(2), id)
	assert.Len(t, p["attachments"], 1)
}

func TestParseJSON_Malformed(t *testing.T) {
	for _, body := range []string{"", "{", "null", "[1,2]"} {
		_, err := ParseJSON(strings.NewReader(body))
		assert.Equal(t, http.StatusBadRequest, apierr.StatusOf(err), "body %q", body)
	}
}

func TestParseXML(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<ticket alert="true" autorespond="false" source="API">
  <name>Ann Example</name>
  <email>ann@example.com</email>
  <subject>Printer</subject>
  <message type="text/plain"><![CDATA[It is on fire.]]></message>
  <ip>10.0.0.1</ip>
  <attachments>
    <file name="a.txt" type="text/plain" encoding="base64">aGVsbG8=</file>
  </attachments>
  <deptIds><id>1</id><id>3</id></deptIds>
</ticket>`

	p, err := ParseXML(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, "true", p["alert"])
	assert.False(t, p.Bool("autorespond", true))
	assert.Equal(t, "It is on fire.", p["message"])
	assert.Equal(t, []any{map[string]any{
		"name": "a.txt", "type": "text/plain", "encoding": "base64", "data": "aGVsbG8=",
	}}, p["attachments"])
	assert.Equal(t, []any{"1", "3"}, p["deptIds"])
}

func TestParseXML_EmptyAttachments(t *testing.T) {
	doc := `<ticket><email>ann@example.com</email><subject></subject><attachments></attachments></ticket>`
	p, err := ParseXML(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, []any{}, p["attachments"])
	assert.Equal(t, "", p["subject"])

	reg := &schema.Registry{
		TicketForm: &schema.Form{Fields: []schema.Field{{Name: "subject"}}},
		UserForm:   &schema.Form{Fields: []schema.Field{{Name: "email"}}},
	}
	assert.Empty(t, validate.Check(schema.Resolve(schema.FormatXML, reg, p), p))
}

func TestParseXML_Malformed(t *testing.T) {
	_, err := ParseXML(strings.NewReader("<ticket><email>"))
	assert.Equal(t, http.StatusBadRequest, apierr.StatusOf(err))

	_, err = ParseXML(strings.NewReader(""))
	assert.Equal(t, http.StatusBadRequest, apierr.StatusOf(err))
}

func TestParse_UnsupportedFormat(t *testing.T) {
	_, err := Parse(schema.Format("yaml"), strings.NewReader("a: b"))
	assert.Equal(t, http.StatusUnsupportedMediaType, apierr.StatusOf(err))
}

func buildMessage(t *testing.T, configure func(m *gomail.Msg)) []byte {
	t.Helper()
	m := gomail.NewMsg()
	require.NoError(t, m.FromFormat("Ann Example", "ann@example.com"))
	require.NoError(t, m.To("help@example.com"))
	require.NoError(t, m.Cc("bob@example.com"))
	m.Subject("Printer on fire")
	m.SetMessageIDWithValue("m2@example.com")
	m.SetBodyString(gomail.TypeTextPlain, "It is on fire.")
	if configure != nil {
		configure(m)
	}
	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestParseEmail(t *testing.T) {
	raw := buildMessage(t, func(m *gomail.Msg) {
		m.SetGenHeader(gomail.Header("In-Reply-To"), "<m1@example.com>")
		m.SetGenHeader(gomail.Header("References"), "<m0@example.com> <m1@example.com>")
		require.NoError(t, m.AttachReader("log.txt", strings.NewReader("printer log")))
	})

	p, err := ParseEmail(bytes.NewReader(raw), EmailOptions{EmailID: 4})
	require.NoError(t, err)

	assert.Equal(t, "m2@example.com", p["mid"])
	assert.Equal(t, "m1@example.com", p["in-reply-to"])
	assert.Equal(t, []any{"m0@example.com", "m1@example.com"}, p["references"])
	assert.Equal(t, "ann@example.com", p["email"])
	assert.Equal(t, "Ann Example", p["name"])
	assert.Equal(t, "Printer on fire", p["subject"])
	assert.Equal(t, EmailSource, p["source"])
	assert.Equal(t, int64(4), p["emailId"])
	assert.Contains(t, p.String("message"), "It is on fire.")
	assert.Contains(t, p.String("header"), "Subject: Printer on fire")

	assert.Equal(t, []any{
		map[string]any{"name": "", "email": "help@example.com", "source": "to"},
		map[string]any{"name": "", "email": "bob@example.com", "source": "cc"},
	}, p["recipients"])

	atts, ok := p["attachments"].([]any)
	require.True(t, ok)
	require.Len(t, atts, 1)
	att := atts[0].(map[string]any)
	assert.Equal(t, "log.txt", att["name"])
	assert.Equal(t, []byte("printer log"), att["data"])

	flags := p["mailflags"].(map[string]any)
	assert.Equal(t, false, flags["auto-reply"])
	assert.Equal(t, false, flags["bounce"])
}

func TestParseEmail_Flags(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
		flag   string
	}{
		{"auto submitted", "Auto-Submitted", "auto-replied", "auto-reply"},
		{"precedence", "Precedence", "bulk", "auto-reply"},
		{"spam", "X-Spam-Flag", "YES", "spam"},
		{"virus", "X-Virus-Status", "Infected: EICAR", "viral"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := buildMessage(t, func(m *gomail.Msg) {
				m.SetGenHeader(gomail.Header(tt.header), tt.value)
			})
			p, err := ParseEmail(bytes.NewReader(raw), EmailOptions{})
			require.NoError(t, err)
			flags := p["mailflags"].(map[string]any)
			assert.Equal(t, true, flags[tt.flag])
		})
	}
}

func TestParseEmail_MailerDaemonIsBounce(t *testing.T) {
	raw := buildMessage(t, func(m *gomail.Msg) {
		require.NoError(t, m.From("MAILER-DAEMON@mx.example.com"))
	})
	p, err := ParseEmail(bytes.NewReader(raw), EmailOptions{})
	require.NoError(t, err)
	assert.Equal(t, true, p["mailflags"].(map[string]any)["bounce"])
}

func TestParseEmail_PlainMessage(t *testing.T) {
	raw := "From: ann@example.com\r\n" +
		"Subject: hi\r\n" +
		"Message-ID: <plain@example.com>\r\n" +
		"\r\n" +
		"just text\r\n"

	p, err := ParseEmail(strings.NewReader(raw), EmailOptions{})
	require.NoError(t, err)
	assert.Equal(t, "plain@example.com", p["mid"])
	assert.Equal(t, "ann", p["name"])
	assert.Equal(t, "just text\r\n", p["message"])
	assert.NotContains(t, p, "attachments")
	assert.Equal(t, "From: ann@example.com\r\nSubject: hi\r\nMessage-ID: <plain@example.com>\r\n", p["header"])
}

func TestParseEmail_SizeLimit(t *testing.T) {
	raw := buildMessage(t, nil)
	_, err := ParseEmail(bytes.NewReader(raw), EmailOptions{MaxBytes: 10})
	assert.Equal(t, http.StatusBadRequest, apierr.StatusOf(err))

	_, err = ParseEmail(strings.NewReader("  \n"), EmailOptions{})
	assert.Equal(t, http.StatusBadRequest, apierr.StatusOf(err))
}

func TestParsedEmailValidates(t *testing.T) {
	raw := buildMessage(t, func(m *gomail.Msg) {
		require.NoError(t, m.AttachReader("log.txt", strings.NewReader("printer log")))
	})
	p, err := ParseEmail(bytes.NewReader(raw), EmailOptions{EmailID: 1})
	require.NoError(t, err)

	reg := &schema.Registry{
		TicketForm: &schema.Form{Fields: []schema.Field{{Name: "subject"}, {Name: schema.MessageField}}},
		UserForm:   &schema.Form{Fields: []schema.Field{{Name: "email"}, {Name: "name"}}},
	}
	spec := schema.Resolve(schema.FormatEmail, reg, p)
	assert.Empty(t, validate.Check(spec, p))
}
