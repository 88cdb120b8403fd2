package plugins

import (
	"fmt"
	"regexp"
	"slices"

	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

// Eligible reports whether a plugin with the given condition groups should run
// for a request. No groups means always. Otherwise any group may match, and a
// group matches when every dimension it specifies matches.
// User patterns that fail to compile never match.
func Eligible(groups []pkg.Conditions, gctx pkg.GlobalContext) bool {
	set, _ := compileConditions(groups)
	return set.eligible(gctx)
}

// conditionGroup is a Conditions with its user patterns compiled.
type conditionGroup struct {
	pkg.Conditions
	patterns []*regexp.Regexp
}

// conditionSet is the compiled form of a plugin's condition groups.
type conditionSet []conditionGroup

// compileConditions compiles every group, returning all problems found.
// Groups with bad patterns are still returned, minus the bad patterns.
func compileConditions(groups []pkg.Conditions) (conditionSet, []error) {
	var problems []error

	set := make(conditionSet, 0, len(groups))
	for i, g := range groups {
		cg := conditionGroup{Conditions: g}

		if g.Empty() {
			problems = append(problems, fmt.Errorf("conditions[%d]: group specifies no condition", i))
		}

		for j, p := range g.UserPatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				problems = append(problems, fmt.Errorf("conditions[%d].user_patterns[%d]: %w", i, j, err))
				// Unusable patterns never match.
				cg.patterns = append(cg.patterns, nil)
				continue
			}
			cg.patterns = append(cg.patterns, re)
		}

		set = append(set, cg)
	}

	return set, problems
}

func (s conditionSet) eligible(gctx pkg.GlobalContext) bool {
	if len(s) == 0 {
		return true
	}

	for _, g := range s {
		if g.matches(gctx) {
			return true
		}
	}

	return false
}

func (g conditionGroup) matches(gctx pkg.GlobalContext) bool {
	if len(g.TenantIDs) > 0 && !slices.Contains(g.TenantIDs, gctx.TenantID) {
		return false
	}
	if len(g.ServerIDs) > 0 && !slices.Contains(g.ServerIDs, gctx.ServerID) {
		return false
	}
	if len(g.Users) > 0 && !slices.Contains(g.Users, gctx.User) {
		return false
	}
	if len(g.patterns) > 0 && !g.matchesUserPattern(gctx.User) {
		return false
	}
	return true
}

func (g conditionGroup) matchesUserPattern(user string) bool {
	for _, re := range g.patterns {
		if re != nil && re.MatchString(user) {
			return true
		}
	}
	return false
}
