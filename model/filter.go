package model

import "fmt"

// FilterOperator names a predicate applied to an object property.
type FilterOperator string

const (
	FilterEquals             FilterOperator = "equals"
	FilterNotEquals          FilterOperator = "notEquals"
	FilterLessThan           FilterOperator = "lessThan"
	FilterLessThanOrEqual    FilterOperator = "lessThanOrEqual"
	FilterGreaterThan        FilterOperator = "greaterThan"
	FilterGreaterThanOrEqual FilterOperator = "greaterThanOrEqual"
	FilterBetween            FilterOperator = "between"
	FilterLike               FilterOperator = "like"
	FilterExists             FilterOperator = "exists"
	FilterContains           FilterOperator = "contains"
	FilterIn                 FilterOperator = "in"
	FilterNotIn              FilterOperator = "notIn"
)

// operandCounts maps each operator to its required operand count.
// -1 means one operand that must be an array.
var operandCounts = map[FilterOperator]int{
	FilterEquals:             1,
	FilterNotEquals:          1,
	FilterLessThan:           1,
	FilterLessThanOrEqual:    1,
	FilterGreaterThan:        1,
	FilterGreaterThanOrEqual: 1,
	FilterBetween:            2,
	FilterLike:               1,
	FilterExists:             0,
	FilterContains:           1,
	FilterIn:                 -1,
	FilterNotIn:              -1,
}

// FilterCondition is a single predicate: a (possibly dotted) property
// path, an operator, and the operator's operands.
type FilterCondition struct {
	Property string         `json:"property"`
	Operator FilterOperator `json:"operator"`
	Operands []any          `json:"operands,omitempty"`
}

// Validate checks operator membership and operand arity.
func (c *FilterCondition) Validate() error {
	if c.Property == "" {
		return fmt.Errorf("%w: condition property is empty", ErrInvalidFilter)
	}
	want, ok := operandCounts[c.Operator]
	if !ok {
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, c.Operator)
	}
	switch want {
	case -1:
		if len(c.Operands) != 1 {
			return fmt.Errorf("%w: operator %q requires one array operand", ErrInvalidFilter, c.Operator)
		}
		if _, ok := c.Operands[0].([]any); !ok {
			return fmt.Errorf("%w: operator %q requires an array operand", ErrInvalidFilter, c.Operator)
		}
	default:
		if len(c.Operands) != want {
			return fmt.Errorf("%w: operator %q requires %d operand(s), got %d",
				ErrInvalidFilter, c.Operator, want, len(c.Operands))
		}
	}
	return nil
}

// FilterConditions combines conditions with a single junctor.
// Exactly one of And or Or may be set; an empty pair matches everything.
type FilterConditions struct {
	And []FilterCondition `json:"and,omitempty"`
	Or  []FilterCondition `json:"or,omitempty"`
}

// Validate checks junctor exclusivity and each condition.
func (fc *FilterConditions) Validate() error {
	if len(fc.And) > 0 && len(fc.Or) > 0 {
		return fmt.Errorf("%w: conditions must use either 'and' or 'or', not both", ErrInvalidFilter)
	}
	for i := range fc.And {
		if err := fc.And[i].Validate(); err != nil {
			return err
		}
	}
	for i := range fc.Or {
		if err := fc.Or[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ContextFilter is a structured boolean expression over an object's
// properties, used by Call receivers to gate execution.
type ContextFilter struct {
	Conditions *FilterConditions `json:"conditions,omitempty"`
}

// Validate checks the filter tree. A nil or empty filter is valid and
// matches every object.
func (f *ContextFilter) Validate() error {
	if f == nil || f.Conditions == nil {
		return nil
	}
	return f.Conditions.Validate()
}

// OrderByProperty pairs a property path with a sort direction for query
// result ordering.
type OrderByProperty struct {
	Property string `json:"property"`
	// Descending sorts high-to-low when true; ascending otherwise.
	Descending bool `json:"descending,omitempty"`
}

// ObjectFilter extends ContextFilter with result shaping for Query events.
// The filter itself is evaluated by the responder; ordering and paging are
// hints carried through verbatim.
type ObjectFilter struct {
	Conditions        *FilterConditions `json:"conditions,omitempty"`
	OrderByProperties []OrderByProperty `json:"orderByProperties,omitempty"`
	Take              int               `json:"take,omitempty"`
	Skip              int               `json:"skip,omitempty"`
}

// Validate checks the condition tree; shaping hints are unconstrained.
func (f *ObjectFilter) Validate() error {
	if f == nil || f.Conditions == nil {
		return nil
	}
	return f.Conditions.Validate()
}
