package capability

import "slices"

// Policy filters tool ids. Deny wins over Allow; "*" matches every id; an
// empty Allow list allows everything not denied.
type Policy struct {
	Allow []string `json:"allow" mapstructure:"allow"`
	Deny  []string `json:"deny" mapstructure:"deny"`
}

// Allowed reports whether toolID passes the policy.
func (p Policy) Allowed(toolID string) bool {
	if slices.Contains(p.Deny, toolID) || slices.Contains(p.Deny, "*") {
		return false
	}
	if len(p.Allow) == 0 {
		return true
	}
	return slices.Contains(p.Allow, toolID) || slices.Contains(p.Allow, "*")
}
