package validation

import (
	"fmt"
	"strings"

	"github.com/dd0wney/cluso-dagvc/pkg/algorithms"
	"github.com/dd0wney/cluso-dagvc/pkg/graph"
)

// Rule is an optional topology policy. Rules form a closed set; each one is
// a fixed predicate selected by a switch.
type Rule string

const (
	// RuleRequireActiveGateways fails when any gateway node is not active.
	RuleRequireActiveGateways Rule = "require_active_gateways"
	// RuleForbidErrorNodes fails when any node is in the error state.
	RuleForbidErrorNodes Rule = "forbid_error_nodes"
	// RuleRequireConnected fails when the topology splits into separate parts.
	RuleRequireConnected Rule = "require_connected"
	// RuleForbidSelfEdges fails when an edge starts and ends on the same node.
	RuleForbidSelfEdges Rule = "forbid_self_edges"
	// RuleForbidIsolatedNodes fails when a node has no dependency or edge.
	RuleForbidIsolatedNodes Rule = "forbid_isolated_nodes"
)

// Rules lists every known rule.
func Rules() []Rule {
	return []Rule{
		RuleRequireActiveGateways,
		RuleForbidErrorNodes,
		RuleRequireConnected,
		RuleForbidSelfEdges,
		RuleForbidIsolatedNodes,
	}
}

func (r Rule) IsValid() bool {
	for _, known := range Rules() {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRule resolves a rule name, ignoring case and surrounding spaces.
func ParseRule(name string) (Rule, error) {
	r := Rule(strings.ToLower(strings.TrimSpace(name)))
	if !r.IsValid() {
		return "", fmt.Errorf("unknown rule %q", name)
	}
	return r, nil
}

// check evaluates one rule against a structurally valid snapshot.
func (r Rule) check(s *graph.Snapshot) Result {
	switch r {
	case RuleRequireActiveGateways:
		for _, n := range s.Nodes {
			if n.Kind == graph.KindGateway && n.Status != graph.StatusActive {
				return Fail(Details{Type: FailureRuleViolation, Rule: r, NodeID: n.ID, Expected: string(graph.StatusActive), Actual: string(n.Status)},
					"gateway %s is %s, must be active", n.ID, statusOrUnset(n.Status))
			}
		}
	case RuleForbidErrorNodes:
		for _, n := range s.Nodes {
			if n.Status == graph.StatusError {
				return Fail(Details{Type: FailureRuleViolation, Rule: r, NodeID: n.ID, Actual: string(n.Status)},
					"node %s is in error state", n.ID)
			}
		}
	case RuleRequireConnected:
		if parts := algorithms.ConnectedParts(s); len(parts) > 1 {
			return Fail(Details{Type: FailureRuleViolation, Rule: r, Parts: parts},
				"topology is split into %d disconnected parts", len(parts))
		}
	case RuleForbidSelfEdges:
		for _, e := range s.Edges {
			if e.Source == e.Target {
				return Fail(Details{Type: FailureRuleViolation, Rule: r, EdgeID: e.ID, NodeID: e.Source},
					"edge %s connects node %s to itself", e.ID, e.Source)
			}
		}
	case RuleForbidIsolatedNodes:
		if isolated := algorithms.IsolatedNodes(s); len(isolated) > 0 {
			return Fail(Details{Type: FailureRuleViolation, Rule: r, NodeID: isolated[0], Path: isolated},
				"node %s has no dependencies or edges", isolated[0])
		}
	default:
		return Fail(Details{Type: FailureRuleViolation, Rule: r}, "unknown rule %q", r)
	}
	return Pass()
}

func statusOrUnset(s graph.NodeStatus) string {
	if s == "" {
		return "unset"
	}
	return string(s)
}
