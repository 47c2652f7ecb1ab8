package graph

import (
	"fmt"
	"strings"
)

// InactivePolicy decides how an edge to a deactivated trick is read.
type InactivePolicy string

const (
	// PolicySatisfied treats an inactive prerequisite as already met.
	PolicySatisfied InactivePolicy = "satisfied"
	// PolicyBlocking keeps requiring it.
	PolicyBlocking InactivePolicy = "blocking"
)

func ParsePolicy(raw string) (InactivePolicy, error) {
	switch p := InactivePolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PolicySatisfied, nil
	case PolicySatisfied, PolicyBlocking:
		return p, nil
	default:
		return "", fmt.Errorf("unknown inactive prerequisite policy %q", raw)
	}
}

// Satisfied reports whether a prerequisite counts as met given whether the
// user has achieved it and whether it is still active.
func (p InactivePolicy) Satisfied(achieved, prerequisiteActive bool) bool {
	if achieved {
		return true
	}
	return !prerequisiteActive && p != PolicyBlocking
}
