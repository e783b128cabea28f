package sanitize

import (
	"testing"

	"github.com/example/babeldoc-web/api-go/internal/model"
)

// TestRecordDropsSecrets checks secrets are removed at every depth.
func TestRecordDropsSecrets(t *testing.T) {
	s := New("api_key", "token")
	rec := model.Record{
		JobID: "a",
		Config: map[string]any{
			"API_KEY": "sk-123",
			"model":   "gpt-4o-mini",
			"nested":  map[string]any{"token": "t", "keep": 1},
			"list":    []any{map[string]any{"api_key": "x", "name": "g"}},
		},
	}

	out := s.Record(rec)

	if _, ok := out.Config["API_KEY"]; ok {
		t.Fatal("top-level secret survived")
	}
	nested := out.Config["nested"].(map[string]any)
	if _, ok := nested["token"]; ok {
		t.Fatal("nested secret survived")
	}
	if nested["keep"] != 1 {
		t.Fatalf("nested keep = %v", nested["keep"])
	}
	item := out.Config["list"].([]any)[0].(map[string]any)
	if _, ok := item["api_key"]; ok {
		t.Fatal("secret inside list survived")
	}
	if out.Config["model"] != "gpt-4o-mini" {
		t.Fatalf("model = %v", out.Config["model"])
	}
}

// TestRecordDropsDeeplyNestedSecrets covers configs nested past the walk limit.
func TestRecordDropsDeeplyNestedSecrets(t *testing.T) {
	s := New()
	for _, depth := range []int{11, maxDepth + 10} {
		cfg := map[string]any{"api_key": "sk-deep", "keep": "yes"}
		for i := 0; i < depth; i++ {
			cfg = map[string]any{"level": cfg}
		}

		out := s.Record(model.Record{JobID: "a", Config: cfg})

		if hasKey(out.Config, "api_key") {
			t.Fatalf("depth %d: secret survived", depth)
		}
		if depth < maxDepth && !hasKey(out.Config, "keep") {
			t.Fatalf("depth %d: non-secret sibling dropped", depth)
		}
	}
}

func hasKey(v any, key string) bool {
	switch vv := v.(type) {
	case map[string]any:
		for k, child := range vv {
			if k == key || hasKey(child, key) {
				return true
			}
		}
	case []any:
		for _, child := range vv {
			if hasKey(child, key) {
				return true
			}
		}
	}
	return false
}

// TestRecordLeavesInputIntact guards against in-place mutation.
func TestRecordLeavesInputIntact(t *testing.T) {
	s := New()
	rec := model.Record{JobID: "a", Config: map[string]any{"api_key": "sk"}}
	_ = s.Record(rec)
	if rec.Config["api_key"] != "sk" {
		t.Fatal("input record was modified")
	}
}

// TestRecordWithoutSecrets is a no-op apart from copying.
func TestRecordWithoutSecrets(t *testing.T) {
	s := New()
	for _, cfg := range []map[string]any{nil, {}, {"model": "m"}} {
		out := s.Record(model.Record{JobID: "a", Config: cfg})
		if _, ok := out.Config["api_key"]; ok {
			t.Fatalf("api_key present for input %v", cfg)
		}
		if len(out.Config) != len(cfg) {
			t.Fatalf("config len = %d, want %d", len(out.Config), len(cfg))
		}
	}
}
