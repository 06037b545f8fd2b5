// Package validation certifies snapshots and bundles.
//
// Validate runs structural, referential, acyclicity and hash checks in a
// fixed order and stops at the first failure. Failures are reported as a
// Result, never as an error value.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/dd0wney/cluso-dagvc/pkg/algorithms"
	"github.com/dd0wney/cluso-dagvc/pkg/graph"
	"github.com/dd0wney/cluso-dagvc/pkg/hasher"
	"github.com/go-playground/validator/v10"
)

// validate is a singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
}

// Validator checks snapshots and bundles. The zero value is not usable; use New.
type Validator struct {
	rules []Rule
}

// Option configures a Validator.
type Option func(*Validator)

// WithRules enables extra topology rules, evaluated after the built-in checks
// in the order given.
func WithRules(rules ...Rule) Option {
	return func(v *Validator) {
		v.rules = append(v.rules, rules...)
	}
}

// New creates a validator.
func New(opts ...Option) *Validator {
	v := &Validator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Rules returns the enabled rules.
func (v *Validator) Rules() []Rule {
	return append([]Rule(nil), v.rules...)
}

// Validate checks a snapshot. Steps, each short-circuiting:
//  1. snapshot id, version, nodes and edges are present
//  2. every node has id, kind and role, valid enums, and a unique id
//  3. every edge has id, source, target and kind, a unique id, and endpoints
//     that exist; then every node dependency names an existing node
//  4. the dependency graph is acyclic
//  5. a declared integrity hash matches the content
//
// Enabled rules run last.
func (v *Validator) Validate(s *graph.Snapshot) Result {
	if r := checkRequired(s); !r.OK {
		return r
	}
	if r := checkNodes(s); !r.OK {
		return r
	}
	if r := checkEdges(s); !r.OK {
		return r
	}
	if r := checkDependencies(s); !r.OK {
		return r
	}
	if r := checkAcyclic(s); !r.OK {
		return r
	}
	if r := checkHash(s); !r.OK {
		return r
	}
	for _, rule := range v.rules {
		if r := rule.check(s); !r.OK {
			return r
		}
	}
	return Pass()
}

// ValidateBundle checks every agent status of a bundle and its hash, then
// validates the bundled snapshot.
func (v *Validator) ValidateBundle(b *graph.Bundle) Result {
	if b == nil {
		return Fail(Details{Type: FailureInvalidBundle}, "bundle is nil")
	}
	if b.ID == "" {
		return Fail(Details{Type: FailureMissingField, Field: "id"}, "bundle id is required")
	}
	if b.Snapshot == nil {
		return Fail(Details{Type: FailureInvalidBundle, Field: "snapshot"}, "bundle %s has no snapshot", b.ID)
	}

	seen := make(map[string]struct{}, len(b.AgentStatuses))
	for i := range b.AgentStatuses {
		a := &b.AgentStatuses[i]
		if err := validate.Struct(a); err != nil {
			field, msg := formatValidationError(err)
			return Fail(Details{Type: FailureInvalidAgentStatus, Field: fmt.Sprintf("agent_statuses[%d].%s", i, field), AgentID: a.ID},
				"agent status %d: %s", i, msg)
		}
		if !a.Status.IsValid() {
			return Fail(Details{Type: FailureInvalidAgentStatus, Field: fmt.Sprintf("agent_statuses[%d].status", i), AgentID: a.ID, Actual: string(a.Status)},
				"agent %s has invalid status %q", a.ID, a.Status)
		}
		if _, dup := seen[a.ID]; dup {
			return Fail(Details{Type: FailureDuplicateID, Field: "agent_statuses", AgentID: a.ID},
				"duplicate agent status id %s", a.ID)
		}
		seen[a.ID] = struct{}{}
	}

	if b.IntegrityHash != "" {
		ok, computed, err := hasher.VerifyBundle(b)
		if err != nil {
			return hashFailure("bundle", b.IntegrityHash, err)
		}
		if !ok {
			return Fail(Details{Type: FailureHashMismatch, Field: "integrity_hash", Expected: b.IntegrityHash, Actual: computed},
				"bundle %s hash mismatch: stored %s, computed %s", b.ID, b.IntegrityHash, computed)
		}
	}

	return v.Validate(b.Snapshot)
}

func checkRequired(s *graph.Snapshot) Result {
	switch {
	case s == nil:
		return Fail(Details{Type: FailureMissingField, Field: "snapshot"}, "snapshot is required")
	case s.ID == "":
		return Fail(Details{Type: FailureMissingField, Field: "id"}, "snapshot id is required")
	case s.Version == "":
		return Fail(Details{Type: FailureMissingField, Field: "version"}, "snapshot version is required")
	case s.Nodes == nil:
		return Fail(Details{Type: FailureMissingField, Field: "nodes"}, "snapshot nodes are required")
	case s.Edges == nil:
		return Fail(Details{Type: FailureMissingField, Field: "edges"}, "snapshot edges are required")
	}
	return Pass()
}

func checkNodes(s *graph.Snapshot) Result {
	seen := make(map[string]struct{}, len(s.Nodes))
	for i := range s.Nodes {
		n := &s.Nodes[i]
		if err := validate.Struct(n); err != nil {
			field, msg := formatValidationError(err)
			return Fail(Details{Type: FailureMissingField, Field: fmt.Sprintf("nodes[%d].%s", i, field), NodeID: n.ID},
				"node %d: %s", i, msg)
		}
		if !n.Kind.IsValid() {
			return Fail(Details{Type: FailureInvalidNode, Field: fmt.Sprintf("nodes[%d].kind", i), NodeID: n.ID, Actual: string(n.Kind)},
				"node %s has invalid kind %q", n.ID, n.Kind)
		}
		if n.Status != "" && !n.Status.IsValid() {
			return Fail(Details{Type: FailureInvalidNode, Field: fmt.Sprintf("nodes[%d].status", i), NodeID: n.ID, Actual: string(n.Status)},
				"node %s has invalid status %q", n.ID, n.Status)
		}
		if _, dup := seen[n.ID]; dup {
			return Fail(Details{Type: FailureDuplicateID, Field: "nodes", NodeID: n.ID}, "duplicate node id %s", n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	return Pass()
}

func checkEdges(s *graph.Snapshot) Result {
	nodes := s.NodeIndex()
	seen := make(map[string]struct{}, len(s.Edges))
	for i := range s.Edges {
		e := &s.Edges[i]
		if err := validate.Struct(e); err != nil {
			field, msg := formatValidationError(err)
			return Fail(Details{Type: FailureMissingField, Field: fmt.Sprintf("edges[%d].%s", i, field), EdgeID: e.ID},
				"edge %d: %s", i, msg)
		}
		if !e.Kind.IsValid() {
			return Fail(Details{Type: FailureInvalidEdge, Field: fmt.Sprintf("edges[%d].kind", i), EdgeID: e.ID, Actual: string(e.Kind)},
				"edge %s has invalid kind %q", e.ID, e.Kind)
		}
		if _, dup := seen[e.ID]; dup {
			return Fail(Details{Type: FailureDuplicateID, Field: "edges", EdgeID: e.ID}, "duplicate edge id %s", e.ID)
		}
		seen[e.ID] = struct{}{}

		if _, ok := nodes[e.Source]; !ok {
			return Fail(Details{Type: FailureDanglingReference, Field: fmt.Sprintf("edges[%d].source", i), EdgeID: e.ID, NodeID: e.Source},
				"edge %s source %s does not exist", e.ID, e.Source)
		}
		if _, ok := nodes[e.Target]; !ok {
			return Fail(Details{Type: FailureDanglingReference, Field: fmt.Sprintf("edges[%d].target", i), EdgeID: e.ID, NodeID: e.Target},
				"edge %s target %s does not exist", e.ID, e.Target)
		}
	}
	return Pass()
}

func checkDependencies(s *graph.Snapshot) Result {
	nodes := s.NodeIndex()
	for i := range s.Nodes {
		n := &s.Nodes[i]
		for j, dep := range n.Dependencies {
			if _, ok := nodes[dep]; !ok {
				return Fail(Details{Type: FailureDanglingReference, Field: fmt.Sprintf("nodes[%d].dependencies[%d]", i, j), NodeID: n.ID, Actual: dep},
					"node %s depends on missing node %q", n.ID, dep)
			}
		}
	}
	return Pass()
}

func checkAcyclic(s *graph.Snapshot) Result {
	cycle := algorithms.FindCycle(s)
	if cycle == nil {
		return Pass()
	}
	path := cycle.Path()
	return Fail(Details{Type: FailureCycleDetected, NodeID: cycle[0], Path: path},
		"dependency cycle detected: %s", strings.Join(path, " -> "))
}

func checkHash(s *graph.Snapshot) Result {
	if s.IntegrityHash == "" {
		return Pass()
	}
	ok, computed, err := hasher.VerifySnapshot(s)
	if err != nil {
		return hashFailure("snapshot", s.IntegrityHash, err)
	}
	if !ok {
		return Fail(Details{Type: FailureHashMismatch, Field: "integrity_hash", Expected: s.IntegrityHash, Actual: computed},
			"integrity hash mismatch: stored %s, computed %s", s.IntegrityHash, computed)
	}
	return Pass()
}

func hashFailure(what, value string, err error) Result {
	if errors.Is(err, hasher.ErrMalformedHash) || errors.Is(err, hasher.ErrUnknownAlgorithm) {
		return Fail(Details{Type: FailureInvalidHash, Field: "integrity_hash", Actual: value},
			"%s integrity hash is invalid: %v", what, err)
	}
	return Fail(Details{Type: FailureInvalidHash, Field: "integrity_hash", Actual: value},
		"%s integrity hash could not be computed: %v", what, err)
}

// formatValidationError converts validator errors to a field name and a
// user-friendly message for the first failing field.
func formatValidationError(err error) (string, string) {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return "", err.Error()
	}

	e := validationErrs[0]
	field := e.Field()
	switch e.Tag() {
	case "required":
		return field, fmt.Sprintf("%s is required", field)
	case "gte":
		return field, fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "min":
		return field, fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return field, fmt.Sprintf("%s must not exceed %s", field, e.Param())
	default:
		return field, fmt.Sprintf("%s failed validation (%s)", field, e.Tag())
	}
}
