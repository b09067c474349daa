package jira

import (
	"encoding/json"
	"strings"
)

const (
	maxDescriptionRunes = 10000
	maxLineRunes        = 1000
)

// adfNode is the subset of the Atlassian Document Format the client reads and writes.
type adfNode struct {
	Type    string    `json:"type"`
	Version int       `json:"version,omitempty"`
	Text    string    `json:"text,omitempty"`
	Content []adfNode `json:"content,omitempty"`
}

// docFromText builds a document with one paragraph per line.
func docFromText(text string) adfNode {
	doc := adfNode{Type: "doc", Version: 1}
	safe := strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if safe == "" {
		doc.Content = []adfNode{{Type: "paragraph"}}
		return doc
	}
	safe = truncateRunes(safe, maxDescriptionRunes)
	for _, line := range strings.Split(safe, "\n") {
		para := adfNode{Type: "paragraph"}
		if strings.TrimSpace(line) != "" {
			para.Content = []adfNode{{Type: "text", Text: truncateRunes(line, maxLineRunes)}}
		}
		doc.Content = append(doc.Content, para)
	}
	return doc
}

// textFromDoc flattens a description to plain text. Server and Data Center
// instances may still answer with a plain string, which is returned as is.
func textFromDoc(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	var b strings.Builder
	walk(&b, doc)
	txt := strings.TrimSpace(strings.ReplaceAll(b.String(), "\r\n", "\n"))
	for strings.Contains(txt, "\n\n\n") {
		txt = strings.ReplaceAll(txt, "\n\n\n", "\n\n")
	}
	return txt
}

func walk(b *strings.Builder, n adfNode) {
	switch n.Type {
	case "text":
		b.WriteString(n.Text)
	case "hardBreak":
		newline(b)
	case "paragraph", "heading", "blockquote", "bulletList", "orderedList":
		for _, c := range n.Content {
			walk(b, c)
		}
		newline(b)
	case "listItem":
		b.WriteString("- ")
		for _, c := range n.Content {
			walk(b, c)
		}
		newline(b)
	default:
		for _, c := range n.Content {
			walk(b, c)
		}
	}
}

func newline(b *strings.Builder) {
	if s := b.String(); s == "" || !strings.HasSuffix(s, "\n") {
		b.WriteByte('\n')
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Label converts a task tag into a Jira label: lower case, no spaces and at
// most 50 characters. It returns "" when nothing usable remains.
func Label(tag string) string {
	s := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(tag)), " ", "-")
	var b strings.Builder
	for _, r := range s {
		if r == '-' || r == '_' || r == '.' || ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
		}
	}
	return truncateRunes(strings.Trim(b.String(), "-._ "), 50)
}
