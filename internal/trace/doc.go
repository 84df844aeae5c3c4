// Package trace provides structured, leveled tracing for the lowering pipeline.
//
// Events are grouped by Scope, from coarse (driver) to fine (individual AST
// nodes). The configured Level decides which scopes reach the sink:
//
//	phase  -> driver + module spans
//	detail -> + function spans
//	debug  -> + node-level points (scope entry/exit, landing pads, jumps)
//
// Tracers travel through context.Context (WithTracer / FromContext); code
// without a tracer in its context gets Nop and pays nothing.
package trace
