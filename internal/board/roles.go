package board

import "strings"

// roleToAgents maps a required_role keyword to the set of agent ids that
// qualify for it. Grounded on the three-tier role-matching algorithm of
// core/task_board.py:_role_matches, extended with execute/code/critique
// synonyms per spec.md §4.1.
var roleToAgents = map[string]map[string]bool{
	"planner":   {"planner": true},
	"plan":      {"planner": true},
	"implement": {"executor": true, "coder": true, "developer": true, "builder": true},
	"execute":   {"executor": true, "coder": true, "developer": true, "builder": true},
	"code":      {"executor": true, "coder": true, "developer": true, "builder": true},
	"review":    {"reviewer": true, "auditor": true},
	"critique":  {"reviewer": true, "auditor": true},
}

var strictRoles = map[string]bool{
	"planner":  true,
	"plan":     true,
	"review":   true,
	"critique": true,
}

var reviewRoles = map[string]bool{
	"review":   true,
	"critique": true,
}

// roleMatches checks whether an agent qualifies for a required_role, using
// the same three tiers as the teacher: direct id match, role-set membership,
// then a substring fallback. The substring tier is last so that a literal
// role name embedded in unrelated prose (e.g. a planner's instructions
// mentioning "implement") never produces a false positive ahead of an exact
// or mapped match.
func roleMatches(requiredRole, agentID, agentRole string) bool {
	req := strings.ToLower(strings.TrimSpace(requiredRole))
	aid := strings.ToLower(strings.TrimSpace(agentID))
	arole := strings.ToLower(strings.TrimSpace(agentRole))

	if req == "" {
		return true
	}
	if req == aid || (arole != "" && req == arole) {
		return true
	}
	if allowed, ok := roleToAgents[req]; ok {
		if allowed[aid] || (arole != "" && allowed[arole]) {
			return true
		}
	}
	if strings.Contains(aid, req) {
		// Strict roles withhold the substring fallback once the agent's
		// declared role is actually known and has already failed to match
		// above: an agent explicitly configured with role "implement"
		// must not slip into a "review" task just because its id happens
		// to contain "review". Absent a declared role, the id-naming
		// convention (e.g. "reviewer-1") is the only signal available and
		// is honored as before.
		if isStrictRole(req) && arole != "" {
			return false
		}
		return true
	}
	return false
}

// isStrictRole reports whether required_role is one of the planner or
// review/critique roles, per spec.md §4.1's "strict roles" rule: once an
// agent's declared role is known, these roles admit only an exact or
// role-set match — the id-substring fallback tier that roleMatches
// otherwise applies is withheld for them.
func isStrictRole(role string) bool {
	return strictRoles[strings.ToLower(strings.TrimSpace(role))]
}

func isReviewRole(role string) bool {
	return reviewRoles[strings.ToLower(strings.TrimSpace(role))]
}

// RestrictClaims marks agentID as a restricted claimant: per spec.md §4.1,
// such an agent (typically the reviewer identity) may only claim tasks
// whose required_role is review or critique, regardless of role-matching
// that would otherwise admit it to other work.
func (b *Board) RestrictClaims(agentID string) {
	b.restricted[strings.ToLower(strings.TrimSpace(agentID))] = true
}

func (b *Board) isRestricted(agentID string) bool {
	return b.restricted[strings.ToLower(strings.TrimSpace(agentID))]
}
