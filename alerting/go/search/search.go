// Package search parses the free-text filter string attached to a monitoring
// query, e.g. `level:error !release:canary`, into neutral key/value filters
// that the per-entity translators turn into backend conditions.
package search

import (
	"errors"
	"strings"

	"go.argus-mon.org/infra/go/skerr"
)

// ErrInvalidSearchQuery is returned when the filter references a key the
// query builder cannot accept, e.g. a field the backend injects itself.
var ErrInvalidSearchQuery = errors.New("invalid search query")

// Op is the comparison a single filter performs.
type Op int

const (
	OpEqual Op = iota
	OpNotEqual
)

// Filter is one parsed `key:value` term. Bare words parse to a Filter on the
// message key.
type Filter struct {
	Key   string
	Op    Op
	Value string
}

// MessageKey is the key assigned to bare words in a filter string.
const MessageKey = "message"

// reservedKeys can never appear in a user filter because the backend injects
// its own predicates for them.
var reservedKeys = map[string]bool{
	"timestamp":  true,
	"project_id": true,
	"org_id":     true,
	"metric_id":  true,
}

// ParseQuery parses a filter string. blockedKeys extends the reserved key
// set with keys the calling query builder does not accept. Fails with
// ErrInvalidSearchQuery on a reserved or blocked key.
func ParseQuery(query string, blockedKeys map[string]bool) ([]Filter, error) {
	filters := []Filter{}
	for _, token := range tokenize(query) {
		f := Filter{Op: OpEqual}
		if strings.HasPrefix(token, "!") {
			f.Op = OpNotEqual
			token = token[1:]
		}
		if key, value, ok := strings.Cut(token, ":"); ok && key != "" {
			f.Key = key
			f.Value = unquote(value)
		} else {
			f.Key = MessageKey
			f.Value = unquote(token)
		}
		if reservedKeys[f.Key] || blockedKeys[f.Key] {
			return nil, skerr.Wrapf(ErrInvalidSearchQuery, "Invalid key for this search: %s", f.Key)
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// tokenize splits the query on whitespace, keeping double-quoted values
// containing spaces intact.
func tokenize(query string) []string {
	tokens := []string{}
	var current strings.Builder
	inQuotes := false
	for _, r := range query {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			current.WriteRune(r)
		case (r == ' ' || r == '\t') && !inQuotes:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
