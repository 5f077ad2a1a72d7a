package model

import (
	"reflect"
	"regexp"
	"strings"
)

// MatchesFilter evaluates a context filter against an object.
//
// Semantics:
//   - A nil filter or nil conditions matches every object.
//   - A missing property path makes "exists" false and every comparison
//     operator false.
//   - Numeric comparisons unify integer and floating point values the way
//     JSON does; strings compare lexically.
//
// The matcher never panics on well-formed filters; a nil object only
// matches the empty filter.
func MatchesFilter(obj *Object, filter *ContextFilter) bool {
	if filter == nil || filter.Conditions == nil {
		return true
	}
	if obj == nil {
		return false
	}
	props := obj.ToJSONObject()
	fc := filter.Conditions
	if len(fc.Or) > 0 {
		for i := range fc.Or {
			if matchCondition(props, &fc.Or[i]) {
				return true
			}
		}
		return false
	}
	for i := range fc.And {
		if !matchCondition(props, &fc.And[i]) {
			return false
		}
	}
	return true
}

// matchCondition evaluates a single condition against the object's
// property map.
func matchCondition(props map[string]any, c *FilterCondition) bool {
	value, exists := lookupPath(props, c.Property)

	switch c.Operator {
	case FilterExists:
		return exists
	case FilterEquals:
		return exists && deepEqual(value, operand(c, 0))
	case FilterNotEquals:
		// Mirrors equals: an absent property is not equal to anything,
		// and notEquals on an absent property is false as well.
		return exists && !deepEqual(value, operand(c, 0))
	case FilterLessThan:
		cmp, ok := compare(value, operand(c, 0))
		return exists && ok && cmp < 0
	case FilterLessThanOrEqual:
		cmp, ok := compare(value, operand(c, 0))
		return exists && ok && cmp <= 0
	case FilterGreaterThan:
		cmp, ok := compare(value, operand(c, 0))
		return exists && ok && cmp > 0
	case FilterGreaterThanOrEqual:
		cmp, ok := compare(value, operand(c, 0))
		return exists && ok && cmp >= 0
	case FilterBetween:
		if !exists {
			return false
		}
		lo, hi := operand(c, 0), operand(c, 1)
		// Operands may arrive in either order; the range is inclusive.
		if cmp, ok := compare(lo, hi); ok && cmp > 0 {
			lo, hi = hi, lo
		}
		cmpLo, okLo := compare(value, lo)
		cmpHi, okHi := compare(value, hi)
		return okLo && okHi && cmpLo >= 0 && cmpHi <= 0
	case FilterLike:
		s, isStr := value.(string)
		pattern, isPat := operand(c, 0).(string)
		return exists && isStr && isPat && likeMatch(s, pattern)
	case FilterContains:
		return exists && containsValue(value, operand(c, 0))
	case FilterIn:
		return exists && inList(value, operand(c, 0))
	case FilterNotIn:
		return exists && !inList(value, operand(c, 0))
	default:
		return false
	}
}

// operand returns the i-th operand or nil when absent.
func operand(c *FilterCondition, i int) any {
	if i >= len(c.Operands) {
		return nil
	}
	return c.Operands[i]
}

// lookupPath navigates a dotted property path through nested JSON maps.
//
// Returns:
//   - any: The value at the path, nil if absent
//   - bool: Whether the full path exists
func lookupPath(props map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var current any = props
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// deepEqual compares two JSON values after numeric normalization.
func deepEqual(a, b any) bool {
	an, aIsNum := toFloat(a)
	bn, bIsNum := toFloat(b)
	if aIsNum && bIsNum {
		return an == bn
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two values.
//
// Returns:
//   - int: negative/zero/positive ordering of a relative to b
//   - bool: false when the values are not mutually comparable
func compare(a, b any) (int, bool) {
	an, aIsNum := toFloat(a)
	bn, bIsNum := toFloat(b)
	if aIsNum && bIsNum {
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

// toFloat unifies JSON number representations.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// likeMatch evaluates a SQL-style pattern: % matches any run of
// characters, _ matches a single character, backslash escapes the next
// character. The whole value must match.
func likeMatch(value, pattern string) bool {
	var sb strings.Builder
	sb.WriteString("^")
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			sb.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			sb.WriteString(".*")
		case r == '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

// containsValue reports whether value contains operand: element
// membership for arrays (all elements when operand is itself an array),
// substring for strings.
func containsValue(value, op any) bool {
	switch v := value.(type) {
	case []any:
		wanted, ok := op.([]any)
		if !ok {
			wanted = []any{op}
		}
		for _, w := range wanted {
			found := false
			for _, elem := range v {
				if deepEqual(elem, w) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case string:
		s, ok := op.(string)
		return ok && strings.Contains(v, s)
	default:
		return deepEqual(value, op)
	}
}

// inList reports whether value equals one of the operand array's elements.
func inList(value, op any) bool {
	list, ok := op.([]any)
	if !ok {
		return false
	}
	for _, elem := range list {
		if deepEqual(value, elem) {
			return true
		}
	}
	return false
}
