// Package turn implements core.TurnExecutor: it serializes turns per
// session, creates sessions on first reference, runs the agent through a
// runner and maps run events onto the turn protocol of zero or more status
// updates followed by exactly one terminal update.
package turn
