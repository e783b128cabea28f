// Package sanitize strips credentials from job records before they are
// stored or returned to a caller.
package sanitize

import (
	"strings"

	"github.com/example/babeldoc-web/api-go/internal/model"
)

// DefaultSecretKeys are removed when no explicit set is configured.
var DefaultSecretKeys = []string{"api_key"}

// maxDepth bounds the walk; anything nested deeper is dropped rather than
// copied unchecked.
const maxDepth = 64

// Sanitizer removes secret keys from a record's config, at any depth.
// Key matching is case-insensitive and exact.
type Sanitizer struct {
	keys map[string]struct{}
}

func New(keys ...string) *Sanitizer {
	if len(keys) == 0 {
		keys = DefaultSecretKeys
	}
	s := &Sanitizer{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			s.keys[k] = struct{}{}
		}
	}
	return s
}

// Record returns a sanitized copy of rec. The input is never modified.
func (s *Sanitizer) Record(rec model.Record) model.Record {
	out := rec.Clone()
	out.Config = s.Map(out.Config)
	return out
}

// Records sanitizes every record of a slice into a new slice.
func (s *Sanitizer) Records(recs []model.Record) []model.Record {
	out := make([]model.Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, s.Record(r))
	}
	return out
}

// Map returns a copy of m without secret keys.
func (s *Sanitizer) Map(m map[string]any) map[string]any {
	return s.mapAt(m, 0)
}

func (s *Sanitizer) mapAt(m map[string]any, depth int) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s.isSecret(k) {
			continue
		}
		out[k] = s.value(v, depth+1)
	}
	return out
}

func (s *Sanitizer) value(v any, depth int) any {
	if depth > maxDepth {
		return nil
	}
	switch vv := v.(type) {
	case map[string]any:
		return s.mapAt(vv, depth)
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = s.value(item, depth+1)
		}
		return out
	default:
		return v
	}
}

func (s *Sanitizer) isSecret(key string) bool {
	_, ok := s.keys[strings.ToLower(key)]
	return ok
}
