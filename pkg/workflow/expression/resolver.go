// Package expression evaluates $path references and route conditions
// against the runtime state of an execution.
//
// References follow the grammar $IDENT(.IDENT|.INDEX)*. The roots are
// input, now (current timestamp), history, and otherwise a key in ctx. A
// string that is exactly one reference resolves to the underlying typed
// value; embedded references inside a larger string are interpolated as
// text. Missing intermediate values resolve to nil, never an error.
package expression

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Scope is the read view of runtime state the resolver needs. The engine's
// State implements it.
type Scope interface {
	// Input returns the frozen workflow input.
	Input() map[string]any

	// Ctx returns the variable namespace.
	Ctx() map[string]any

	// History returns the audit trail reference, or nil.
	History() any
}

var (
	// singleRef matches a string that is exactly one reference.
	singleRef = regexp.MustCompile(`^\$[A-Za-z_][A-Za-z0-9_.]*$`)

	// embeddedRef matches every reference inside a larger string.
	embeddedRef = regexp.MustCompile(`\$[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*|\.\d+)*`)
)

// Resolve evaluates $path references inside a value. Strings that are
// exactly one reference return the underlying typed value; other strings
// are interpolated. Mappings and sequences are resolved element by
// element. Every other value is returned unchanged.
func Resolve(scope Scope, value any) any {
	switch v := value.(type) {
	case string:
		return resolveString(scope, v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Resolve(scope, item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Resolve(scope, item)
		}
		return out
	default:
		return value
	}
}

// resolveString applies the single-reference and interpolation rules.
func resolveString(scope Scope, s string) any {
	if singleRef.MatchString(s) {
		return Lookup(scope, s[1:])
	}
	return embeddedRef.ReplaceAllStringFunc(s, func(ref string) string {
		return Stringify(Lookup(scope, ref[1:]))
	})
}

// Lookup resolves a dotted path (without the leading $) against a scope.
// Missing segments yield nil.
func Lookup(scope Scope, path string) any {
	segments := strings.Split(path, ".")
	root, rest := segments[0], segments[1:]

	var current any
	switch root {
	case "input":
		current = scope.Input()
	case "now":
		return time.Now().UTC().Format(time.RFC3339)
	case "history":
		current = scope.History()
	default:
		current = scope.Ctx()[root]
	}

	for _, segment := range rest {
		current = traverse(current, segment)
		if current == nil {
			return nil
		}
	}
	return current
}

// traverse digs one segment into a mapping or sequence.
func traverse(value any, segment string) any {
	switch v := value.(type) {
	case map[string]any:
		return v[segment]
	case map[any]any:
		return v[segment]
	case []any:
		if !allDigits(segment) {
			return nil
		}
		idx, err := strconv.Atoi(segment)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil
		}
		return v[idx]
	default:
		return nil
	}
}

// allDigits reports whether a segment is a sequence index.
func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Stringify renders a resolved value for interpolation into a template
// string. Composite values render as JSON; nil renders empty.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}
