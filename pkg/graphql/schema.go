// Package graphql exposes a read-only GraphQL view of a version store:
// snapshots, version listings, diffs between versions and bundles.
package graphql

import (
	"fmt"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"

	"github.com/dd0wney/cluso-dagvc/pkg/diff"
	"github.com/dd0wney/cluso-dagvc/pkg/graph"
	"github.com/dd0wney/cluso-dagvc/pkg/versionstore"
)

// JSONScalar passes arbitrary metadata values through unchanged.
var JSONScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "JSON",
	Description: "Arbitrary JSON value",
	Serialize:   func(value any) any { return value },
	ParseValue:  func(value any) any { return value },
	ParseLiteral: func(valueAST ast.Value) any {
		return valueAST.GetValue()
	},
})

var nodeType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Node",
	Fields: graphql.Fields{
		"id":           &graphql.Field{Type: graphql.NewNonNull(graphql.ID), Resolve: nodeField(func(n graph.Node) any { return n.ID })},
		"kind":         &graphql.Field{Type: graphql.String, Resolve: nodeField(func(n graph.Node) any { return string(n.Kind) })},
		"role":         &graphql.Field{Type: graphql.String, Resolve: nodeField(func(n graph.Node) any { return n.Role })},
		"status":       &graphql.Field{Type: graphql.String, Resolve: nodeField(func(n graph.Node) any { return string(n.Status) })},
		"dependencies": &graphql.Field{Type: graphql.NewList(graphql.String), Resolve: nodeField(func(n graph.Node) any { return n.Dependencies })},
		"metadata":     &graphql.Field{Type: JSONScalar, Resolve: nodeField(func(n graph.Node) any { return map[string]any(n.Metadata) })},
	},
})

func nodeField(get func(graph.Node) any) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		switch n := p.Source.(type) {
		case graph.Node:
			return get(n), nil
		case *graph.Node:
			if n != nil {
				return get(*n), nil
			}
		}
		return nil, nil
	}
}

var edgeType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Edge",
	Fields: graphql.Fields{
		"id":       &graphql.Field{Type: graphql.NewNonNull(graphql.ID), Resolve: edgeField(func(e graph.Edge) any { return e.ID })},
		"source":   &graphql.Field{Type: graphql.String, Resolve: edgeField(func(e graph.Edge) any { return e.Source })},
		"target":   &graphql.Field{Type: graphql.String, Resolve: edgeField(func(e graph.Edge) any { return e.Target })},
		"kind":     &graphql.Field{Type: graphql.String, Resolve: edgeField(func(e graph.Edge) any { return string(e.Kind) })},
		"metadata": &graphql.Field{Type: JSONScalar, Resolve: edgeField(func(e graph.Edge) any { return map[string]any(e.Metadata) })},
	},
})

func edgeField(get func(graph.Edge) any) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		switch e := p.Source.(type) {
		case graph.Edge:
			return get(e), nil
		case *graph.Edge:
			if e != nil {
				return get(*e), nil
			}
		}
		return nil, nil
	}
}

var snapshotType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Snapshot",
	Fields: graphql.Fields{
		"id":               &graphql.Field{Type: graphql.String, Resolve: snapField(func(s *graph.Snapshot) any { return s.ID })},
		"version":          &graphql.Field{Type: graphql.String, Resolve: snapField(func(s *graph.Snapshot) any { return s.Version })},
		"hash":             &graphql.Field{Type: graphql.String, Resolve: snapField(func(s *graph.Snapshot) any { return s.IntegrityHash })},
		"validationStatus": &graphql.Field{Type: graphql.String, Resolve: snapField(func(s *graph.Snapshot) any { return string(s.ValidationStatus) })},
		"nodes":            &graphql.Field{Type: graphql.NewList(nodeType), Resolve: snapField(func(s *graph.Snapshot) any { return s.Nodes })},
		"edges":            &graphql.Field{Type: graphql.NewList(edgeType), Resolve: snapField(func(s *graph.Snapshot) any { return s.Edges })},
		"metadata":         &graphql.Field{Type: JSONScalar, Resolve: snapField(func(s *graph.Snapshot) any { return map[string]any(s.Metadata) })},
		"nodeCount":        &graphql.Field{Type: graphql.Int, Resolve: snapField(func(s *graph.Snapshot) any { return len(s.Nodes) })},
		"edgeCount":        &graphql.Field{Type: graphql.Int, Resolve: snapField(func(s *graph.Snapshot) any { return len(s.Edges) })},
		"createdAt":        &graphql.Field{Type: graphql.DateTime, Resolve: snapField(func(s *graph.Snapshot) any { return s.CreatedAt })},
		"updatedAt":        &graphql.Field{Type: graphql.DateTime, Resolve: snapField(func(s *graph.Snapshot) any { return s.UpdatedAt })},
	},
})

func snapField(get func(*graph.Snapshot) any) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		if s, ok := p.Source.(*graph.Snapshot); ok && s != nil {
			return get(s), nil
		}
		return nil, nil
	}
}

var versionType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Version",
	Fields: graphql.Fields{
		"hash":             &graphql.Field{Type: graphql.String, Resolve: infoField(func(v versionstore.VersionInfo) any { return v.Hash })},
		"id":               &graphql.Field{Type: graphql.String, Resolve: infoField(func(v versionstore.VersionInfo) any { return v.ID })},
		"version":          &graphql.Field{Type: graphql.String, Resolve: infoField(func(v versionstore.VersionInfo) any { return v.Version })},
		"validationStatus": &graphql.Field{Type: graphql.String, Resolve: infoField(func(v versionstore.VersionInfo) any { return string(v.ValidationStatus) })},
		"nodeCount":        &graphql.Field{Type: graphql.Int, Resolve: infoField(func(v versionstore.VersionInfo) any { return v.Nodes })},
		"edgeCount":        &graphql.Field{Type: graphql.Int, Resolve: infoField(func(v versionstore.VersionInfo) any { return v.Edges })},
		"updatedAt":        &graphql.Field{Type: graphql.DateTime, Resolve: infoField(func(v versionstore.VersionInfo) any { return v.UpdatedAt })},
	},
})

func infoField(get func(versionstore.VersionInfo) any) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		if v, ok := p.Source.(versionstore.VersionInfo); ok {
			return get(v), nil
		}
		return nil, nil
	}
}

var changeType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Change",
	Fields: graphql.Fields{
		"kind":   &graphql.Field{Type: graphql.String, Resolve: changeField(func(c diff.Change) any { return string(c.Kind) })},
		"target": &graphql.Field{Type: graphql.String, Resolve: changeField(func(c diff.Change) any { return string(c.Target) })},
		"id":     &graphql.Field{Type: graphql.String, Resolve: changeField(func(c diff.Change) any { return c.ID })},
		"data":   &graphql.Field{Type: JSONScalar, Resolve: changeField(func(c diff.Change) any { return c.Data() })},
	},
})

func changeField(get func(diff.Change) any) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		if c, ok := p.Source.(diff.Change); ok {
			return get(c), nil
		}
		return nil, nil
	}
}

var diffType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Diff",
	Fields: graphql.Fields{
		"id":          &graphql.Field{Type: graphql.String, Resolve: diffField(func(d diff.Diff) any { return d.ID })},
		"fromVersion": &graphql.Field{Type: graphql.String, Resolve: diffField(func(d diff.Diff) any { return d.FromVersion })},
		"toVersion":   &graphql.Field{Type: graphql.String, Resolve: diffField(func(d diff.Diff) any { return d.ToVersion })},
		"fromHash":    &graphql.Field{Type: graphql.String, Resolve: diffField(func(d diff.Diff) any { return d.FromHash })},
		"toHash":      &graphql.Field{Type: graphql.String, Resolve: diffField(func(d diff.Diff) any { return d.ToHash })},
		"changes":     &graphql.Field{Type: graphql.NewList(changeType), Resolve: diffField(func(d diff.Diff) any { return d.Changes })},
		"added":       &graphql.Field{Type: graphql.Int, Resolve: diffField(func(d diff.Diff) any { return d.Stats().Added })},
		"modified":    &graphql.Field{Type: graphql.Int, Resolve: diffField(func(d diff.Diff) any { return d.Stats().Modified })},
		"removed":     &graphql.Field{Type: graphql.Int, Resolve: diffField(func(d diff.Diff) any { return d.Stats().Removed })},
	},
})

func diffField(get func(diff.Diff) any) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		if d, ok := p.Source.(diff.Diff); ok {
			return get(d), nil
		}
		return nil, nil
	}
}

var agentStatusType = graphql.NewObject(graphql.ObjectConfig{
	Name: "AgentStatus",
	Fields: graphql.Fields{
		"id":        &graphql.Field{Type: graphql.String, Resolve: agentField(func(a graph.AgentStatus) any { return a.ID })},
		"status":    &graphql.Field{Type: graphql.String, Resolve: agentField(func(a graph.AgentStatus) any { return string(a.Status) })},
		"uptime":    &graphql.Field{Type: graphql.Float, Resolve: agentField(func(a graph.AgentStatus) any { return a.Uptime })},
		"lastEvent": &graphql.Field{Type: JSONScalar, Resolve: agentField(func(a graph.AgentStatus) any { return map[string]any(a.LastEvent) })},
	},
})

func agentField(get func(graph.AgentStatus) any) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		if a, ok := p.Source.(graph.AgentStatus); ok {
			return get(a), nil
		}
		return nil, nil
	}
}

var bundleType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Bundle",
	Fields: graphql.Fields{
		"id":            &graphql.Field{Type: graphql.String, Resolve: bundleField(func(b *graph.Bundle) any { return b.ID })},
		"hash":          &graphql.Field{Type: graphql.String, Resolve: bundleField(func(b *graph.Bundle) any { return b.IntegrityHash })},
		"snapshot":      &graphql.Field{Type: snapshotType, Resolve: bundleField(func(b *graph.Bundle) any { return b.Snapshot })},
		"agentStatuses": &graphql.Field{Type: graphql.NewList(agentStatusType), Resolve: bundleField(func(b *graph.Bundle) any { return b.AgentStatuses })},
		"createdAt":     &graphql.Field{Type: graphql.DateTime, Resolve: bundleField(func(b *graph.Bundle) any { return b.CreatedAt })},
	},
})

func bundleField(get func(*graph.Bundle) any) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		if b, ok := p.Source.(*graph.Bundle); ok && b != nil {
			return get(b), nil
		}
		return nil, nil
	}
}

var validationType = graphql.NewObject(graphql.ObjectConfig{
	Name: "ValidationResult",
	Fields: graphql.Fields{
		"ok":      &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
		"reason":  &graphql.Field{Type: graphql.String},
		"failure": &graphql.Field{Type: graphql.String},
	},
})

// NewSchema builds the query schema over store.
func NewSchema(store *versionstore.Store, limits *LimitConfig) (graphql.Schema, error) {
	if limits == nil {
		limits = DefaultLimitConfig()
	}
	if err := ValidateLimitConfig(limits); err != nil {
		return graphql.Schema{}, err
	}

	hashArg := graphql.FieldConfigArgument{
		"hash": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
	}

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"health": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return "ok", nil
				},
			},
			"latest": &graphql.Field{
				Type: snapshotType,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if s := store.Latest(); s != nil {
						return s, nil
					}
					return nil, nil
				},
			},
			"snapshot": &graphql.Field{
				Type: snapshotType,
				Args: hashArg,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if s, ok := store.Retrieve(p.Args["hash"].(string)); ok {
						return s, nil
					}
					return nil, nil
				},
			},
			"versions": &graphql.Field{
				Type: graphql.NewList(versionType),
				Args: graphql.FieldConfigArgument{
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: -1},
					"offset": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					all := store.List()
					limit := applyLimit(intArg(p.Args, "limit", -1), limits)
					offset := intArg(p.Args, "offset", 0)
					if offset < 0 {
						return nil, fmt.Errorf("offset must not be negative, got %d", offset)
					}
					return page(all, offset, limit), nil
				},
			},
			"diff": &graphql.Field{
				Type: diffType,
				Args: graphql.FieldConfigArgument{
					"from": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"to":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return store.DiffVersions(p.Args["from"].(string), p.Args["to"].(string))
				},
			},
			"validate": &graphql.Field{
				Type: validationType,
				Args: hashArg,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					s, ok := store.Retrieve(p.Args["hash"].(string))
					if !ok {
						return nil, fmt.Errorf("%w: %s", versionstore.ErrNotFound, p.Args["hash"])
					}
					res := store.Validator().Validate(s)
					return map[string]any{
						"ok":      res.OK,
						"reason":  res.Reason,
						"failure": string(res.Type()),
					}, nil
				},
			},
			"bundle": &graphql.Field{
				Type: bundleType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if b, ok := store.RetrieveBundle(p.Args["id"].(string)); ok {
						return b, nil
					}
					return nil, nil
				},
			},
			"bundles": &graphql.Field{
				Type: graphql.NewList(bundleType),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					infos := store.ListBundles()
					out := make([]*graph.Bundle, 0, len(infos))
					for _, info := range infos {
						if b, ok := store.RetrieveBundle(info.ID); ok {
							out = append(out, b)
						}
					}
					return out, nil
				},
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: queryType})
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("failed to create schema: %w", err)
	}
	return schema, nil
}

func intArg(args map[string]any, name string, def int) int {
	if v, ok := args[name].(int); ok {
		return v
	}
	return def
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit < len(items) {
		items = items[:limit]
	}
	return items
}
