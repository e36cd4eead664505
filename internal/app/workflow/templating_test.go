package workflow

import "testing"

func TestResolveTemplates_WholeValueReferencePreservesType(t *testing.T) {
	params := Parameters{"count": "${httpCall.count}"}
	outputs := map[string]any{"httpCall": map[string]any{"count": float64(7)}}

	resolved := resolveTemplates(params, outputs)
	if resolved["count"] != float64(7) {
		t.Fatalf("expected count to resolve to 7, got %v (%T)", resolved["count"], resolved["count"])
	}
}

func TestResolveTemplates_EmbeddedReferenceStringifies(t *testing.T) {
	params := Parameters{"url": "https://example.com/${httpCall.id}/status"}
	outputs := map[string]any{"httpCall": map[string]any{"id": "abc123"}}

	resolved := resolveTemplates(params, outputs)
	if resolved["url"] != "https://example.com/abc123/status" {
		t.Fatalf("unexpected resolved url: %v", resolved["url"])
	}
}

func TestResolveTemplates_UnresolvedReferenceLeftVerbatim(t *testing.T) {
	params := Parameters{"value": "${missingNode.field}"}
	resolved := resolveTemplates(params, map[string]any{})
	if resolved["value"] != "${missingNode.field}" {
		t.Fatalf("expected an unresolved reference to be left as-is, got %v", resolved["value"])
	}
}

func TestResolveTemplates_RecursesIntoNestedStructures(t *testing.T) {
	params := Parameters{
		"nested": map[string]any{
			"list": []any{"${httpCall.id}", "literal"},
		},
	}
	outputs := map[string]any{"httpCall": map[string]any{"id": "z9"}}

	resolved := resolveTemplates(params, outputs)
	nested := resolved["nested"].(map[string]any)
	list := nested["list"].([]any)
	if list[0] != "z9" || list[1] != "literal" {
		t.Fatalf("unexpected resolved nested list: %v", list)
	}
}
