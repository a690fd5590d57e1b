package expression

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Interpolate replaces every {{ expr }} in tpl with the formatted value of expr.
// Text without markers is returned unchanged.
func Interpolate(tpl string, s Scope) (string, error) {
	if !strings.Contains(tpl, "{{") {
		return tpl, nil
	}

	var b strings.Builder
	rest := tpl
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.Index(rest[start+2:], "}}")
		if end < 0 {
			return "", fmt.Errorf("unterminated template expression in %q", tpl)
		}

		b.WriteString(rest[:start])
		src := strings.TrimSpace(rest[start+2 : start+2+end])
		v, err := Eval(src, s)
		if err != nil {
			return "", err
		}
		b.WriteString(Format(v))
		rest = rest[start+2+end+2:]
	}
}

// InterpolateValue walks maps and slices and interpolates every string inside.
// A string that is exactly one {{ expr }} keeps the value's original type.
func InterpolateValue(v interface{}, s Scope) (interface{}, error) {
	switch t := v.(type) {
	case string:
		trimmed := strings.TrimSpace(t)
		if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") &&
			strings.Count(trimmed, "{{") == 1 {
			return Eval(strings.TrimSpace(trimmed[2:len(trimmed)-2]), s)
		}
		return Interpolate(t, s)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			iv, err := InterpolateValue(val, s)
			if err != nil {
				return nil, err
			}
			out[k] = iv
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			iv, err := InterpolateValue(val, s)
			if err != nil {
				return nil, err
			}
			out[i] = iv
		}
		return out, nil
	}
	return v, nil
}

// Format renders a value for string interpolation
func Format(v interface{}) string {
	switch t := normalize(v).(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
