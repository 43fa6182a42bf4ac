package core

// Agent defines the interface every node of the delegation tree implements.
//
// Agents receive their input through a RunContext, emit events on it and
// return once the turn is complete. Interior nodes (coordinators) own child
// agents; leaf nodes own tools.
//
// Implementations must:
//   - Respect context cancellation
//   - Emit events through the provided RunContext
//   - Wait for the resume signal after non-partial events
type Agent interface {
	Name() string
	Description() string
	Start(runCtx *RunContext) error
	Stop(runCtx *RunContext) error
	Run(runCtx *RunContext) error
	SetSubAgents(children ...Agent) error
	SubAgents() []Agent
	Parent() Agent
	FindAgent(name string) Agent
}

// AgentInfo carries identifying details about an agent used in contexts & events.
type AgentInfo struct{ Name, Type string }
