// Package config loads, merges and decodes the layered configuration files.
package config

// Merge deep-merges override onto base and returns the result. Recursion
// happens only where both sides hold a map at the same key; in every other
// case (scalar, list, or mismatched types) the override value replaces the
// base value outright. base is never mutated.
func Merge(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}

	for k, ov := range override {
		bv, exists := merged[k]
		if !exists {
			merged[k] = ov
			continue
		}

		bm, baseIsMap := bv.(map[string]any)
		om, overrideIsMap := ov.(map[string]any)
		if baseIsMap && overrideIsMap {
			merged[k] = Merge(bm, om)
			continue
		}

		merged[k] = ov
	}

	return merged
}
