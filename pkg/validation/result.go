package validation

import "fmt"

// FailureType is the machine-readable category of a failed validation.
// Callers branch on it instead of matching Reason text.
type FailureType string

const (
	FailureMissingField       FailureType = "missing_field"
	FailureInvalidNode        FailureType = "invalid_node"
	FailureInvalidEdge        FailureType = "invalid_edge"
	FailureDuplicateID        FailureType = "duplicate_id"
	FailureDanglingReference  FailureType = "dangling_reference"
	FailureCycleDetected      FailureType = "cycle_detected"
	FailureHashMismatch       FailureType = "hash_mismatch"
	FailureInvalidHash        FailureType = "invalid_hash"
	FailureInvalidAgentStatus FailureType = "invalid_agent_status"
	FailureInvalidBundle      FailureType = "invalid_bundle"
	FailureRuleViolation      FailureType = "rule_violation"
)

// FailureTypes lists every failure category.
func FailureTypes() []FailureType {
	return []FailureType{
		FailureMissingField, FailureInvalidNode, FailureInvalidEdge, FailureDuplicateID,
		FailureDanglingReference, FailureCycleDetected, FailureHashMismatch, FailureInvalidHash,
		FailureInvalidAgentStatus, FailureInvalidBundle, FailureRuleViolation,
	}
}

// Details carries structured context for a failure. Only the fields that
// apply to the failure type are set.
type Details struct {
	Type    FailureType `json:"type"`
	Field   string      `json:"field,omitempty"`
	NodeID  string      `json:"node_id,omitempty"`
	EdgeID  string      `json:"edge_id,omitempty"`
	AgentID string      `json:"agent_id,omitempty"`
	Rule    Rule        `json:"rule,omitempty"`
	Path    []string    `json:"path,omitempty"`
	// Parts lists the disconnected parts of a topology, one id list each.
	Parts    [][]string `json:"parts,omitempty"`
	Expected string     `json:"expected,omitempty"`
	Actual   string     `json:"actual,omitempty"`
}

// Result is the verdict of a validation pass. A failed Result always has a
// non-empty Reason and Details.Type.
type Result struct {
	OK      bool     `json:"ok"`
	Reason  string   `json:"reason,omitempty"`
	Details *Details `json:"details,omitempty"`
}

// Pass returns a successful result.
func Pass() Result {
	return Result{OK: true}
}

// Fail returns a failed result.
func Fail(d Details, format string, args ...any) Result {
	return Result{OK: false, Reason: fmt.Sprintf(format, args...), Details: &d}
}

// Type returns the failure type, or "" for a passing result.
func (r Result) Type() FailureType {
	if r.OK || r.Details == nil {
		return ""
	}
	return r.Details.Type
}

// Err converts a failed result into an error. It returns nil when r passed.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return &Error{Result: r}
}

// Error wraps a failed Result where an error value is needed.
type Error struct {
	Result Result
}

func (e *Error) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Result.Type(), e.Result.Reason)
}
