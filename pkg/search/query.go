// Package search implements the dashboard's query language and the scans
// behind search and tag value suggestions.
//
// A query is a list of whitespace-separated tokens. Tokens of the form
// field:value or field:"quoted value" become tag filters; every other token
// is free text. For example:
//
//	teamId:abc-123 customer:"Acme Corp" invoice
//
// yields two filters and the text "invoice".
package search

import (
	"strings"
	"unicode"

	"github.com/jdziat/queue-workbench/pkg/runs"
)

// Query is a parsed search string.
type Query struct {
	Filters []runs.TagFilter
	Text    string
}

// Empty reports whether the query has neither filters nor text.
func (q Query) Empty() bool {
	return len(q.Filters) == 0 && q.Text == ""
}

// Parse tokenizes s. An unterminated quote runs to the end of the input.
// A repeated field keeps its last value.
func Parse(s string) Query {
	var (
		q    Query
		text []string
		rs   = []rune(s)
	)
	for i := 0; i < len(rs); {
		if unicode.IsSpace(rs[i]) {
			i++
			continue
		}

		if field, value, next, ok := scanFilter(rs, i); ok {
			q.Filters = setFilter(q.Filters, field, value)
			i = next
			continue
		}

		if rs[i] == '"' {
			word, next := scanQuoted(rs, i+1)
			if w := strings.TrimSpace(word); w != "" {
				text = append(text, w)
			}
			i = next
			continue
		}

		start := i
		for i < len(rs) && !unicode.IsSpace(rs[i]) {
			i++
		}
		text = append(text, string(rs[start:i]))
	}
	q.Text = strings.Join(text, " ")
	return q
}

func isFieldStart(r rune) bool {
	return r < unicode.MaxASCII && unicode.IsLetter(r)
}

func isFieldRune(r rune) bool {
	return isFieldStart(r) || (r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

// scanFilter reads field:value starting at i. ok is false when the token is
// not a filter, including field: with nothing after it.
func scanFilter(rs []rune, i int) (field, value string, next int, ok bool) {
	if !isFieldStart(rs[i]) {
		return "", "", i, false
	}
	j := i + 1
	for j < len(rs) && isFieldRune(rs[j]) {
		j++
	}
	if j >= len(rs)-1 || rs[j] != ':' {
		return "", "", i, false
	}
	field = string(rs[i:j])
	j++

	if rs[j] == '"' {
		value, next = scanQuoted(rs, j+1)
		if value == "" {
			return "", "", i, false
		}
		return field, value, next, true
	}
	if unicode.IsSpace(rs[j]) {
		return "", "", i, false
	}
	k := j
	for k < len(rs) && !unicode.IsSpace(rs[k]) {
		k++
	}
	return field, string(rs[j:k]), k, true
}

// scanQuoted reads up to the closing quote, or the end of input.
func scanQuoted(rs []rune, i int) (string, int) {
	j := i
	for j < len(rs) && rs[j] != '"' {
		j++
	}
	value := string(rs[i:j])
	if j < len(rs) {
		j++
	}
	return value, j
}

func setFilter(fs []runs.TagFilter, field, value string) []runs.TagFilter {
	for i := range fs {
		if fs[i].Field == field {
			fs[i].Value = value
			return fs
		}
	}
	return append(fs, runs.TagFilter{Field: field, Value: value})
}
