package graphql

import (
	"context"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
)

// Execute runs query against schema after checking its depth.
func Execute(ctx context.Context, schema graphql.Schema, query string, variables map[string]any, operationName string, maxDepth int) *graphql.Result {
	if maxDepth > 0 {
		if err := ValidateQueryDepth(query, maxDepth); err != nil {
			return &graphql.Result{
				Errors: []gqlerrors.FormattedError{gqlerrors.FormatError(err)},
			}
		}
	}

	params := graphql.Params{
		Schema:         schema,
		RequestString:  query,
		VariableValues: variables,
		OperationName:  operationName,
		Context:        ctx,
	}
	return graphql.Do(params)
}
