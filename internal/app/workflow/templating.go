package workflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
)

// templateRef matches a single ${...} reference inside a string parameter
// value. Only whole-value references (the entire string is one ${...})
// substitute the resolved value directly, preserving its native type;
// references embedded inside a larger string are substituted as text.
var templateRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// resolveTemplates walks params and replaces any ${...} reference against
// nodeOutputs (the prior nodes' result maps, keyed by node id), per the
// optional templating pass an adapter opts into via TemplatingAdapter.
// Unresolved references are left verbatim rather than erroring: a workflow
// definition referencing a node that has not yet produced output is the
// adapter's problem to validate, not the templating pass's.
func resolveTemplates(params Parameters, nodeOutputs map[string]any) Parameters {
	if len(params) == 0 {
		return params
	}
	out := make(Parameters, len(params))
	for k, v := range params {
		out[k] = resolveValue(v, nodeOutputs)
	}
	return out
}

func resolveValue(v any, nodeOutputs map[string]any) any {
	switch val := v.(type) {
	case string:
		return resolveString(val, nodeOutputs)
	case map[string]any:
		resolved := make(map[string]any, len(val))
		for k, inner := range val {
			resolved[k] = resolveValue(inner, nodeOutputs)
		}
		return resolved
	case []any:
		resolved := make([]any, len(val))
		for i, inner := range val {
			resolved[i] = resolveValue(inner, nodeOutputs)
		}
		return resolved
	default:
		return v
	}
}

func resolveString(s string, nodeOutputs map[string]any) any {
	matches := templateRef.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	// A string that is exactly one whole ${...} reference substitutes the
	// resolved value verbatim, preserving numbers/booleans/objects instead
	// of stringifying them.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		expr := s[matches[0][2]:matches[0][3]]
		if resolved, ok := evalRef(expr, nodeOutputs); ok {
			return resolved
		}
		return s
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		expr := s[m[2]:m[3]]
		if resolved, ok := evalRef(expr, nodeOutputs); ok {
			b.WriteString(stringify(resolved))
		} else {
			b.WriteString(s[m[0]:m[1]])
		}
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// evalRef resolves one `node.field[.field...]` reference against
// nodeOutputs using jsonpath, so a reference like "httpCall.body.items[0].id"
// resolves the same way a JSONPath expression would against the combined
// output document.
func evalRef(expr string, nodeOutputs map[string]any) (any, bool) {
	path := "$." + strings.TrimSpace(expr)
	val, err := jsonpath.Get(path, map[string]any(nodeOutputs))
	if err != nil {
		return nil, false
	}
	return val, true
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
