package rlm

import (
	"encoding/json"
	"strconv"
)

// stringifyValue renders a scratch value as the string finalize/set expect
// to assign, matching the coercion rules used elsewhere in the DSL: plain
// strings pass through, numbers use their shortest decimal form, and
// everything else falls back to its JSON encoding.
func stringifyValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
