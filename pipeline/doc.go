// Package pipeline implements the generate → run → finalize contract that
// leaf agents expose to their model as tools.
//
// A Pipeline is bound to one Definition (Coding or QA) and one
// registry.Registry. Generate issues an identifier into the definition's
// namespace, Run refuses identifiers the registry does not know for that
// namespace, and Finalize is a pure aggregation of the previous results.
//
// The three stages are a closed set of operations:
//
//	op, err := pipeline.ParseOperation("generate_code")
//	out, err := p.Dispatch(ctx, op, args)
//
// Tools adapts the same stages into tool.Tool values for a ModelAgent.
package pipeline
