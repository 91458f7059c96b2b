package trigger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
)

// MatchEvent implements spec.md §4.7 step 1: eventType equality
// (case-sensitive), optional eventSource equality, then every predicate
// must pass against the event payload.
func MatchEvent(t EventTrigger, env EventEnvelope) (bool, error) {
	if t.EventType != env.Type {
		return false, nil
	}
	if t.EventSource != nil && *t.EventSource != env.Source {
		return false, nil
	}

	var payload any
	if err := env.Payload.Decode(&payload); err != nil {
		return false, apperrors.Wrap(apperrors.KindTemplateInvalid, "decode event payload", err)
	}

	for _, pred := range t.Predicates {
		ok, err := evalPredicate(pred, payload)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalPredicate(p Predicate, payload any) (bool, error) {
	value, err := jsonpath.Get(p.Path, payload)
	exists := err == nil

	switch p.Operator {
	case OpExists:
		return exists, nil
	case OpEq:
		if !exists {
			return false, nil
		}
		return compareEqual(value, p.Value, p.CaseSensitive), nil
	case OpNeq:
		if !exists {
			return true, nil
		}
		return !compareEqual(value, p.Value, p.CaseSensitive), nil
	case OpIn:
		if !exists {
			return false, nil
		}
		for _, candidate := range p.Values {
			if compareEqual(value, candidate, p.CaseSensitive) {
				return true, nil
			}
		}
		return false, nil
	case OpContains:
		if !exists {
			return false, nil
		}
		return containsValue(value, p.Value, p.CaseSensitive), nil
	case OpRegex:
		if !exists {
			return false, nil
		}
		return matchRegex(value, p.Value, p.Flags)
	case OpGt, OpGte, OpLt, OpLte:
		if !exists {
			return false, nil
		}
		return compareNumeric(value, p.Value, p.Operator)
	default:
		return false, apperrors.Validation("unknown predicate operator %q", p.Operator)
	}
}

func compareEqual(a, b any, caseSensitive bool) bool {
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr && !caseSensitive {
		return strings.EqualFold(as, bs)
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func containsValue(haystack, needle any, caseSensitive bool) bool {
	switch h := haystack.(type) {
	case string:
		n := fmt.Sprintf("%v", needle)
		if !caseSensitive {
			return strings.Contains(strings.ToLower(h), strings.ToLower(n))
		}
		return strings.Contains(h, n)
	case []any:
		for _, item := range h {
			if compareEqual(item, needle, caseSensitive) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func matchRegex(value, pattern any, flags string) (bool, error) {
	s, ok := value.(string)
	if !ok {
		s = fmt.Sprintf("%v", value)
	}
	p, _ := pattern.(string)
	if strings.Contains(flags, "i") {
		p = "(?i)" + p
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindTemplateInvalid, "compile regex predicate", err)
	}
	return re.MatchString(s), nil
}

func compareNumeric(value, other any, op PredicateOperator) (bool, error) {
	a, aErr := toFloat(value)
	b, bErr := toFloat(other)
	if aErr != nil || bErr != nil {
		return false, apperrors.Validation("numeric predicate operands must be numbers")
	}
	switch op {
	case OpGt:
		return a > b, nil
	case OpGte:
		return a >= b, nil
	case OpLt:
		return a < b, nil
	case OpLte:
		return a <= b, nil
	}
	return false, nil
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, apperrors.Validation("cannot convert %T to number", v)
	}
}
