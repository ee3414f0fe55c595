package policy

import "strings"

// match reports whether r matches functionID and returns the length of the
// matched portion for tie-breaking among same-kind rules.
func (r *rule) match(functionID string) (matched bool, length int) {
	switch r.kind {
	case kindExact:
		if functionID == r.pattern {
			return true, len(r.pattern)
		}
	case kindPrefix:
		if strings.HasPrefix(functionID, r.pattern) {
			return true, len(r.pattern)
		}
	case kindRegex:
		if loc := r.re.FindStringIndex(functionID); loc != nil {
			return true, loc[1] - loc[0]
		}
	}
	return false, 0
}
