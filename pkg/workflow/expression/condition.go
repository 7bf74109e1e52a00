package expression

import (
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/getnvoi/conveyor/pkg/workflow"
)

// Predicate is a binary predicate over (actual, expected).
type Predicate func(actual, expected any) bool

// operators is the fixed condition operator table. A condition whose op is
// not in the table evaluates to false.
var operators = map[string]Predicate{
	"eq":          opEq,
	"neq":         func(a, e any) bool { return !opEq(a, e) },
	"gt":          numericOp(func(a, e float64) bool { return a > e }),
	"gte":         numericOp(func(a, e float64) bool { return a >= e }),
	"lt":          numericOp(func(a, e float64) bool { return a < e }),
	"lte":         numericOp(func(a, e float64) bool { return a <= e }),
	"contains":    opContains,
	"starts_with": stringOp(strings.HasPrefix),
	"ends_with":   stringOp(strings.HasSuffix),
	"matches":     opMatches,
	"in":          func(a, e any) bool { return memberOf(e, a) },
	"not_in":      func(a, e any) bool { return !memberOf(e, a) },
	"exists":      func(a, _ any) bool { return a != nil },
	"empty":       func(a, _ any) bool { return isEmpty(a) },
	"truthy":      func(a, _ any) bool { return isTruthy(a) },
	"falsy":       func(a, _ any) bool { return !isTruthy(a) },
}

// EvalCondition evaluates a condition against state. The field may be
// written bare ("input.op") or as a reference ("$input.op"); the expected
// value goes through the resolver. A failed resolution or an unknown
// operator yields false, never an error.
func EvalCondition(scope Scope, cond *workflow.Condition) bool {
	if cond == nil {
		return false
	}
	if cond.Expr != "" {
		result, err := DefaultEvaluator().Evaluate(cond.Expr, scope)
		return err == nil && result
	}

	predicate, ok := operators[cond.Op]
	if !ok {
		return false
	}
	actual := Lookup(scope, strings.TrimPrefix(cond.Field, "$"))
	expected := Resolve(scope, cond.Value)
	return predicate(actual, expected)
}

// FindRoute returns the first route whose condition matches, or nil.
func FindRoute(scope Scope, routes []workflow.Route) *workflow.Route {
	for i := range routes {
		if EvalCondition(scope, &routes[i].When) {
			return &routes[i]
		}
	}
	return nil
}

// opEq compares with numeric coercion: two numbers are equal when their
// float values are, regardless of Go type.
func opEq(actual, expected any) bool {
	if af, aok := toFloat(actual); aok {
		if ef, eok := toFloat(expected); eok {
			return af == ef
		}
		return false
	}
	return reflect.DeepEqual(actual, expected)
}

// numericOp coerces both sides to float64; non-numeric operands fail.
func numericOp(cmp func(a, e float64) bool) Predicate {
	return func(actual, expected any) bool {
		af, aok := toFloat(actual)
		ef, eok := toFloat(expected)
		return aok && eok && cmp(af, ef)
	}
}

// stringOp requires both sides to be strings.
func stringOp(cmp func(s, x string) bool) Predicate {
	return func(actual, expected any) bool {
		as, aok := actual.(string)
		es, eok := expected.(string)
		return aok && eok && cmp(as, es)
	}
}

// opContains handles substring, sequence membership, and map key presence.
func opContains(actual, expected any) bool {
	switch a := actual.(type) {
	case string:
		es, ok := expected.(string)
		return ok && strings.Contains(a, es)
	case []any:
		return memberOf(a, expected)
	case map[string]any:
		key, ok := expected.(string)
		if !ok {
			return false
		}
		_, present := a[key]
		return present
	default:
		return false
	}
}

// opMatches treats expected as a regular expression over a string actual.
func opMatches(actual, expected any) bool {
	as, aok := actual.(string)
	pattern, eok := expected.(string)
	if !aok || !eok {
		return false
	}
	matched, err := regexp.MatchString(pattern, as)
	return err == nil && matched
}

// memberOf reports whether needle occurs in the collection.
func memberOf(collection, needle any) bool {
	switch c := collection.(type) {
	case []any:
		for _, item := range c {
			if opEq(needle, item) {
				return true
			}
		}
	case string:
		ns, ok := needle.(string)
		return ok && strings.Contains(c, ns)
	}
	return false
}

// isEmpty reports nil, empty string, or zero-length collection.
func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	default:
		return false
	}
}

// isTruthy mirrors loose boolean coercion: false, nil, zero, empty string,
// and empty collections are falsy; everything else is truthy.
func isTruthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		if f, ok := toFloat(v); ok {
			return f != 0
		}
		return true
	}
}

// toFloat coerces the numeric types YAML and JSON decoding produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
