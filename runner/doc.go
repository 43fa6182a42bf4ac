// Package runner executes a single agent run: it appends the user message to
// the session, starts the agent, persists each non-partial event (and its
// state delta) before signalling the agent to resume, and streams events to
// the caller.
package runner
