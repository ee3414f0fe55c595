package policy

// Resolver picks the group whose rules best match a function id.
type Resolver struct {
	groups []*GroupBuilder
}

// NewResolver creates a Resolver from the supplied group builders. Groups
// without a policy never match.
func NewResolver(groups ...*GroupBuilder) *Resolver {
	kept := make([]*GroupBuilder, 0, len(groups))
	for _, g := range groups {
		if g != nil && g.policy != nil {
			kept = append(kept, g)
		}
	}
	return &Resolver{groups: kept}
}

// Resolve finds the best-matching group for functionID.
//
// Priority rules:
//   - Exact matches beat prefix matches, which beat regex matches.
//   - Among matches of the same kind the longer match wins.
//   - On a full tie the group registered first wins.
//
// If no group matches, ok is false. A nil Resolver matches nothing.
func (res *Resolver) Resolve(functionID string) (groupName string, pol Policy, ok bool) {
	if res == nil {
		return "", Policy{}, false
	}
	bestKind := matchKind(-1)
	bestLen := -1

	for _, g := range res.groups {
		for _, r := range g.rules {
			matched, mLen := r.match(functionID)
			if !matched {
				continue
			}
			better := bestKind < 0 ||
				r.kind < bestKind ||
				(r.kind == bestKind && mLen > bestLen)
			if better {
				bestKind = r.kind
				bestLen = mLen
				groupName = g.name
				pol = *g.policy
				ok = true
			}
		}
	}
	return groupName, pol, ok
}

// Len reports the number of groups that can match.
func (res *Resolver) Len() int {
	if res == nil {
		return 0
	}
	return len(res.groups)
}
