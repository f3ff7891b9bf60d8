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
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/bcem/helpdesk/internal/models"
	"github.com/bcem/helpdesk/internal/schema"
)

// node is a generic XML element.
type node struct {
	name     string
	attrs    map[string]string
	children []*node
	text     strings.Builder
}

// ParseXML decodes a <ticket> document. Attributes and child elements of
// the root become payload keys. An element with child elements becomes a
// list whose items carry the child's attributes and its text as "data",
// so <attachments><file name="a.txt">...</file></attachments> yields the
// attachment descriptors.
func ParseXML(r io.Reader) (models.Payload, error) {
	root, err := readTree(r)
	if err != nil {
		return nil, malformed("XML", err)
	}

	p := make(models.Payload, len(root.attrs)+len(root.children))
	for k, v := range root.attrs {
		p[k] = v
	}
	for _, c := range root.children {
		if listFields[c.name] && c.empty() {
			p[c.name] = []any{}
			continue
		}
		p[c.name] = c.value()
	}
	return p, nil
}

// listFields are sequences in the request schema. An empty element for one
// of them is an empty list, not an empty string.
var listFields = map[string]bool{
	schema.FieldAttachments: true,
	schema.FieldRecipients:  true,
	schema.FieldDepartments: true,
	"references":            true,
}

func (n *node) empty() bool {
	return len(n.children) == 0 && len(n.attrs) == 0 && strings.TrimSpace(n.text.String()) == ""
}

func (n *node) value() any {
	if len(n.children) == 0 {
		return strings.TrimSpace(n.text.String())
	}
	items := make([]any, 0, len(n.children))
	for _, c := range n.children {
		items = append(items, c.item())
	}
	return items
}

func (n *node) item() any {
	if len(n.children) > 0 {
		return n.value()
	}
	if len(n.attrs) == 0 {
		return strings.TrimSpace(n.text.String())
	}
	m := make(map[string]any, len(n.attrs)+1)
	for k, v := range n.attrs {
		m[k] = v
	}
	m["data"] = strings.TrimSpace(n.text.String())
	return m
}

func readTree(r io.Reader) (*node, error) {
	dec := xml.NewDecoder(r)
	var stack []*node
	var root *node
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local, attrs: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				n.attrs[a.Name.Local] = a.Value
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}
	if root == nil {
		return nil, ErrEmptyBody
	}
	return root, nil
}
