package resolve

// Chain helpers implementing the CLI > Set > Job > Global precedence walk.
// Callers pass candidate pointers from highest to lowest tier; the first
// non-nil one wins.

func firstString(candidates ...*string) (string, bool) {
	for _, c := range candidates {
		if c != nil {
			return *c, true
		}
	}
	return "", false
}

func firstInt(candidates ...*int) (int, bool) {
	for _, c := range candidates {
		if c != nil {
			return *c, true
		}
	}
	return 0, false
}

func firstBool(candidates ...*bool) (bool, bool) {
	for _, c := range candidates {
		if c != nil {
			return *c, true
		}
	}
	return false, false
}

func stringOr(fallback string, candidates ...*string) string {
	if v, ok := firstString(candidates...); ok {
		return v
	}
	return fallback
}

func intOr(fallback int, candidates ...*int) int {
	if v, ok := firstInt(candidates...); ok {
		return v
	}
	return fallback
}

func boolOr(fallback bool, candidates ...*bool) bool {
	if v, ok := firstBool(candidates...); ok {
		return v
	}
	return fallback
}

// optString lifts a non-empty string into a pointer so plain global fields
// can participate in the chain walk. An empty value counts as unset.
func optString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// CoercePinFlag implements the narrow pin truthiness contract: boolean
// true, the string "true" and non-zero integers are truthy; every other
// value (including "yes" and 1.0) is falsy.
func CoercePinFlag(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true"
	case int:
		return t != 0
	case int32:
		return t != 0
	case int64:
		return t != 0
	case uint:
		return t != 0
	case uint64:
		return t != 0
	default:
		return false
	}
}
