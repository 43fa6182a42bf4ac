// Package a2a serves agents over HTTP using the agent-to-agent protocol:
// an agent card at /.well-known/agent.json and JSON-RPC 2.0 task methods
// (tasks/send, tasks/sendSubscribe, tasks/get, tasks/cancel) on /.
//
// Client implements core.TurnExecutor against a remote server, so a
// remote agent can be used wherever a local turn executor is expected.
package a2a
