// Package core provides the foundational domain types, interfaces and execution
// contexts used by pdlcmesh. It defines the core abstractions for:
//
//   - Agents (named units of work arranged in a delegation tree)
//   - Sessions (conversation history plus key/value state, keyed by agent name and session id)
//   - Events (immutable run records) and TurnUpdates (the caller-facing turn protocol)
//   - RunContext / ToolContext (scoped execution & tool sandboxing)
//   - Pluggable stores for session state, artifacts and memory recall
//
// Persistence, orchestration and concrete agents live in sibling packages;
// core only exposes the small interfaces they implement.
package core
