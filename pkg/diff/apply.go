package diff

import (
	"time"

	"github.com/dd0wney/cluso-dagvc/pkg/graph"
	"github.com/google/uuid"
)

// Apply applies the changes of d in order to a copy of working and returns
// the result. working is never modified.
//
//   - add fails with ErrDuplicateID when the id exists
//   - modify and remove fail with ErrNotFound when the id is absent
//   - malformed changes fail with ErrInvalidChange
//
// The first failure aborts with an *ApplyError. The result is not validated:
// it carries Version = d.ToVersion (when set), no integrity hash and a pending
// validation status.
func Apply(working *graph.Snapshot, d Diff) (*graph.Snapshot, error) {
	if working == nil {
		return nil, graph.ErrNilSnapshot
	}
	out := working.Clone()
	for i, c := range d.Changes {
		if err := applyChange(out, i, c); err != nil {
			return nil, err
		}
	}

	if d.ToVersion != "" {
		out.Version = d.ToVersion
	}
	out.IntegrityHash = ""
	out.ValidationStatus = graph.ValidationPending
	out.UpdatedAt = time.Now().UTC()
	return out, nil
}

func applyChange(s *graph.Snapshot, i int, c Change) error {
	if c.ID == "" {
		return applyErr(i, c, ErrInvalidChange, "empty id")
	}
	if !c.Kind.IsValid() {
		return applyErr(i, c, ErrInvalidChange, "unknown kind %q", c.Kind)
	}

	switch c.Target {
	case TargetNode:
		return applyNode(s, i, c)
	case TargetEdge:
		return applyEdge(s, i, c)
	case TargetMetadata:
		return applyMetadata(s, i, c)
	default:
		return applyErr(i, c, ErrInvalidChange, "unknown target %q", c.Target)
	}
}

func applyNode(s *graph.Snapshot, i int, c Change) error {
	pos := -1
	for j := range s.Nodes {
		if s.Nodes[j].ID == c.ID {
			pos = j
			break
		}
	}

	if c.Kind != Remove {
		if c.Node == nil {
			return applyErr(i, c, ErrInvalidChange, "missing node payload")
		}
		if c.Node.ID != c.ID {
			return applyErr(i, c, ErrInvalidChange, "payload id %q does not match %q", c.Node.ID, c.ID)
		}
	}

	switch c.Kind {
	case Add:
		if pos >= 0 {
			return applyErr(i, c, ErrDuplicateID, "node %s", c.ID)
		}
		s.Nodes = append(s.Nodes, c.Node.Clone())
	case Modify:
		if pos < 0 {
			return applyErr(i, c, ErrNotFound, "node %s", c.ID)
		}
		s.Nodes[pos] = c.Node.Clone()
	case Remove:
		if pos < 0 {
			return applyErr(i, c, ErrNotFound, "node %s", c.ID)
		}
		s.Nodes = append(s.Nodes[:pos], s.Nodes[pos+1:]...)
	}
	return nil
}

func applyEdge(s *graph.Snapshot, i int, c Change) error {
	pos := -1
	for j := range s.Edges {
		if s.Edges[j].ID == c.ID {
			pos = j
			break
		}
	}

	if c.Kind != Remove {
		if c.Edge == nil {
			return applyErr(i, c, ErrInvalidChange, "missing edge payload")
		}
		if c.Edge.ID != c.ID {
			return applyErr(i, c, ErrInvalidChange, "payload id %q does not match %q", c.Edge.ID, c.ID)
		}
	}

	switch c.Kind {
	case Add:
		if pos >= 0 {
			return applyErr(i, c, ErrDuplicateID, "edge %s", c.ID)
		}
		s.Edges = append(s.Edges, c.Edge.Clone())
	case Modify:
		if pos < 0 {
			return applyErr(i, c, ErrNotFound, "edge %s", c.ID)
		}
		s.Edges[pos] = c.Edge.Clone()
	case Remove:
		if pos < 0 {
			return applyErr(i, c, ErrNotFound, "edge %s", c.ID)
		}
		s.Edges = append(s.Edges[:pos], s.Edges[pos+1:]...)
	}
	return nil
}

func applyMetadata(s *graph.Snapshot, i int, c Change) error {
	_, exists := s.Metadata[c.ID]

	switch c.Kind {
	case Add:
		if exists {
			return applyErr(i, c, ErrDuplicateID, "metadata key %s", c.ID)
		}
		if s.Metadata == nil {
			s.Metadata = graph.Metadata{}
		}
		s.Metadata[c.ID] = graph.CloneValue(c.Value)
	case Modify:
		if !exists {
			return applyErr(i, c, ErrNotFound, "metadata key %s", c.ID)
		}
		s.Metadata[c.ID] = graph.CloneValue(c.Value)
	case Remove:
		if !exists {
			return applyErr(i, c, ErrNotFound, "metadata key %s", c.ID)
		}
		delete(s.Metadata, c.ID)
	}
	return nil
}

// Invert returns the diff that undoes d when applied to Apply(base, d).
// It fails with the same *ApplyError as Apply when d does not apply to base.
func Invert(base *graph.Snapshot, d Diff) (Diff, error) {
	if base == nil {
		return Diff{}, graph.ErrNilSnapshot
	}

	work := base.Clone()
	inverse := make([]Change, len(d.Changes))
	for i, c := range d.Changes {
		undo, err := inverseOf(work, i, c)
		if err != nil {
			return Diff{}, err
		}
		if err := applyChange(work, i, c); err != nil {
			return Diff{}, err
		}
		inverse[len(d.Changes)-1-i] = undo
	}

	toVersion := d.FromVersion
	if toVersion == "" {
		toVersion = base.Version
	}
	fromVersion := d.ToVersion
	if fromVersion == "" {
		fromVersion = base.Version
	}

	return Diff{
		ID:          uuid.New().String(),
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		FromHash:    d.ToHash,
		ToHash:      d.FromHash,
		Changes:     inverse,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// inverseOf captures the state c is about to overwrite in s.
func inverseOf(s *graph.Snapshot, i int, c Change) (Change, error) {
	if c.ID == "" {
		return Change{}, applyErr(i, c, ErrInvalidChange, "empty id")
	}
	undo := Change{Target: c.Target, ID: c.ID}
	switch c.Kind {
	case Add:
		undo.Kind = Remove
		return undo, nil
	case Modify:
		undo.Kind = Modify
	case Remove:
		undo.Kind = Add
	default:
		return Change{}, applyErr(i, c, ErrInvalidChange, "unknown kind %q", c.Kind)
	}

	switch c.Target {
	case TargetNode:
		n, ok := s.FindNode(c.ID)
		if !ok {
			return Change{}, applyErr(i, c, ErrNotFound, "node %s", c.ID)
		}
		n = n.Clone()
		undo.Node = &n
	case TargetEdge:
		idx, ok := s.EdgeIndex()[c.ID]
		if !ok {
			return Change{}, applyErr(i, c, ErrNotFound, "edge %s", c.ID)
		}
		e := s.Edges[idx].Clone()
		undo.Edge = &e
	case TargetMetadata:
		v, ok := s.Metadata[c.ID]
		if !ok {
			return Change{}, applyErr(i, c, ErrNotFound, "metadata key %s", c.ID)
		}
		undo.Value = graph.CloneValue(v)
	default:
		return Change{}, applyErr(i, c, ErrInvalidChange, "unknown target %q", c.Target)
	}
	return undo, nil
}
