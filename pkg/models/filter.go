package models

import (
	"fmt"
	"strings"
)

// Filter predicate grammar, shared by event triggers and condition steps:
//
//	{"total": 100}                  equality
//	{"total": {"$gt": 100}}         comparison operators
//	{"order.total": {"$lte": 50}}   dotted paths into nested maps
//
// Supported operators: $eq, $ne, $gt, $gte, $lt, $lte. Multiple fields are
// combined with AND. A malformed filter returns an error; callers log it and
// treat the result as a non-match rather than failing the engine.

// EvaluateFilter reports whether payload satisfies the filter predicate.
func EvaluateFilter(filter, payload map[string]any) (bool, error) {
	for path, condition := range filter {
		value, found := lookupPath(payload, path)

		ops, isOperator := condition.(map[string]any)
		if !isOperator {
			if !found {
				return false, nil
			}

			equal, err := compareValues(value, condition)
			if err != nil {
				return false, fmt.Errorf("field %s: %w", path, err)
			}

			if equal != 0 {
				return false, nil
			}

			continue
		}

		for op, operand := range ops {
			matched, err := applyOperator(op, value, found, operand)
			if err != nil {
				return false, fmt.Errorf("field %s: %w", path, err)
			}

			if !matched {
				return false, nil
			}
		}
	}

	return true, nil
}

func applyOperator(op string, value any, found bool, operand any) (bool, error) {
	if !found {
		// Missing fields never satisfy a comparison, but $ne holds vacuously.
		return op == "$ne", nil
	}

	cmp, err := compareValues(value, operand)
	if err != nil {
		return false, err
	}

	switch op {
	case "$eq":
		return cmp == 0, nil
	case "$ne":
		return cmp != 0, nil
	case "$gt":
		return cmp > 0, nil
	case "$gte":
		return cmp >= 0, nil
	case "$lt":
		return cmp < 0, nil
	case "$lte":
		return cmp <= 0, nil
	default:
		return false, fmt.Errorf("unsupported filter operator %q", op)
	}
}

// compareValues orders two scalar values. Numbers compare numerically across
// int/float representations (JSON decodes numbers as float64), strings
// lexically, booleans by equality only.
func compareValues(value, operand any) (int, error) {
	if vn, ok := toFloat(value); ok {
		on, okOperand := toFloat(operand)
		if !okOperand {
			return 0, fmt.Errorf("cannot compare number with %T", operand)
		}

		switch {
		case vn < on:
			return -1, nil
		case vn > on:
			return 1, nil
		default:
			return 0, nil
		}
	}

	switch v := value.(type) {
	case string:
		o, ok := operand.(string)
		if !ok {
			return 0, fmt.Errorf("cannot compare string with %T", operand)
		}

		return strings.Compare(v, o), nil
	case bool:
		o, ok := operand.(bool)
		if !ok {
			return 0, fmt.Errorf("cannot compare bool with %T", operand)
		}

		if v == o {
			return 0, nil
		}

		return 1, nil
	case nil:
		if operand == nil {
			return 0, nil
		}

		return 1, nil
	default:
		return 0, fmt.Errorf("unsupported filter value type %T", value)
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func lookupPath(payload map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")

	var current any = payload

	for _, part := range parts {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}
