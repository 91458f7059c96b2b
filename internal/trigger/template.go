package trigger

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
)

// placeholderPattern matches {{path.to.field}} and {{path|filter}} tokens.
// Deliberately simple: no arithmetic, no function calls beyond the fixed
// filter set below, per the Design Notes' "no arbitrary code execution"
// requirement for template rendering.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// RenderTemplate substitutes every {{path.to.field}} (optionally piped
// through a filter, e.g. {{payload.name|upper}}) in tmpl against doc,
// returning the rendered string. A path that does not resolve renders as
// empty string unless a `default:X` filter is present; a malformed
// placeholder (empty path) is a apperrors.KindTemplateInvalid error.
func RenderTemplate(tmpl string, doc []byte) (string, error) {
	var firstErr error
	rendered := placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		if firstErr != nil {
			return match
		}
		inner := placeholderPattern.FindStringSubmatch(match)[1]
		parts := strings.Split(inner, "|")
		path := strings.TrimSpace(parts[0])
		if path == "" {
			firstErr = apperrors.TemplateInvalid("empty template path in %q", match)
			return ""
		}

		result := gjson.GetBytes(doc, path)
		value := result.String()
		if !result.Exists() {
			value = ""
		}

		for _, filter := range parts[1:] {
			value, firstErr = applyFilter(value, strings.TrimSpace(filter), result.Exists())
			if firstErr != nil {
				return ""
			}
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return rendered, nil
}

func applyFilter(value, filter string, existed bool) (string, error) {
	switch {
	case filter == "upper":
		return strings.ToUpper(value), nil
	case filter == "lower":
		return strings.ToLower(value), nil
	case filter == "trim":
		return strings.TrimSpace(value), nil
	case strings.HasPrefix(filter, "default:"):
		if !existed || value == "" {
			return strings.TrimPrefix(filter, "default:"), nil
		}
		return value, nil
	case filter == "":
		return value, nil
	default:
		return "", apperrors.TemplateInvalid("unknown template filter %q", filter)
	}
}

// ValidateTemplateAgainstSample renders tmpl against a sample event payload
// and returns any rendering error, used at trigger create/update time per
// spec.md §4.7 step 2's sampleEvent validation requirement.
func ValidateTemplateAgainstSample(tmpl string, sample []byte) error {
	_, err := RenderTemplate(tmpl, sample)
	return err
}
