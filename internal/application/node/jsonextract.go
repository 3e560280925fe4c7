package node

import "encoding/json"

// RawArgsKey is the fallback key under which an unparseable argument fragment
// is surfaced to the model for self-correction.
const RawArgsKey = "_raw"

// ExtractArgs finds the first complete, balanced top-level JSON object inside
// fragment and decodes it. The scan is a single left-to-right pass tracking
// string and escape state with a depth counter, so arbitrarily deep nesting
// costs no stack and pathological input stays linear.
//
// A truncated or malformed fragment degrades to {RawArgsKey: fragment} with
// ok=false. It never panics and never returns an error.
func ExtractArgs(fragment string) (args map[string]any, ok bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(fragment); i++ {
		c := fragment[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				candidate := fragment[start : i+1]
				var m map[string]any
				if err := json.Unmarshal([]byte(candidate), &m); err == nil {
					return m, true
				}
				// Balanced but not valid JSON. Keep scanning for a later
				// candidate before giving up.
				start = -1
			}
		}
	}

	return map[string]any{RawArgsKey: fragment}, false
}
