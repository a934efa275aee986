// Package greylist decides whether a newly matched rule set duplicates a
// package's last completed scan, so repeat alerts on an unchanged verdict
// can be suppressed upstream of this core.
package greylist

// SameAsLastScan reports whether rulesMatched is exactly the same set of
// rule names (order-independent, no duplicates considered) as
// lastScanRules. An empty rulesMatched is never considered a repeat.
func SameAsLastScan(lastScanRules, rulesMatched []string) bool {
	if len(rulesMatched) == 0 {
		return false
	}
	if len(lastScanRules) != len(rulesMatched) {
		return false
	}

	want := make(map[string]struct{}, len(rulesMatched))
	for _, name := range rulesMatched {
		want[name] = struct{}{}
	}
	for _, name := range lastScanRules {
		if _, ok := want[name]; !ok {
			return false
		}
		delete(want, name)
	}
	return len(want) == 0
}
