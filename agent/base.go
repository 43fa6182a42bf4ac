package agent

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/pdlcmesh/core"
)

var (
	// ErrNotRunning is returned by Stop when no run is active.
	ErrNotRunning = errors.New("agent is not running")
	// ErrAlreadyParented is returned when a child already belongs to another agent.
	ErrAlreadyParented = errors.New("agent already has a parent")
	// ErrCycle is returned when a composition would make the graph cyclic.
	ErrCycle = errors.New("agent composition is cyclic")
	// ErrDuplicateAgent is returned when two agents in one tree share a name.
	ErrDuplicateAgent = errors.New("duplicate agent name")
)

// BaseAgent bundles lifecycle accounting and hierarchy management. Embed it
// in concrete agents and call bind with the outer value so parent links and
// FindAgent return the concrete agent. All exported methods are safe for
// concurrent use.
type BaseAgent struct {
	name        string
	description string

	mu        sync.Mutex
	self      core.Agent
	active    int
	parent    core.Agent
	subAgents []core.Agent
}

// NewBaseAgent constructs a BaseAgent with a generated description.
func NewBaseAgent(name string) BaseAgent {
	return BaseAgent{
		name:        name,
		description: fmt.Sprintf("Agent %s", name),
	}
}

func (b *BaseAgent) bind(self core.Agent) { b.self = self }

// Name returns the agent name.
func (b *BaseAgent) Name() string { return b.name }

// Description returns the agent description.
func (b *BaseAgent) Description() string { return b.description }

// SetDescription updates the agent's description.
func (b *BaseAgent) SetDescription(desc string) { b.description = desc }

// Start records the beginning of a run. Runs of different sessions may
// overlap, so Start never rejects a concurrent run.
func (b *BaseAgent) Start(_ *core.RunContext) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active++
	return nil
}

// Stop records the end of a run started with Start.
func (b *BaseAgent) Stop(_ *core.RunContext) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == 0 {
		return ErrNotRunning
	}
	b.active--

	return nil
}

// Active returns the number of runs in progress.
func (b *BaseAgent) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// SetSubAgents replaces the child set. A child that already belongs to
// another agent, a child that is an ancestor of this agent, or two children
// sharing a name are rejected and leave the hierarchy unchanged.
func (b *BaseAgent) SetSubAgents(children ...core.Agent) error {
	seen := make(map[string]struct{}, len(children))

	for _, child := range children {
		if child == nil {
			return fmt.Errorf("agent %s: nil child", b.name)
		}

		if _, dup := seen[child.Name()]; dup {
			return fmt.Errorf("agent %s: child %q: %w", b.name, child.Name(), ErrDuplicateAgent)
		}
		seen[child.Name()] = struct{}{}

		if p := child.Parent(); p != nil && p != b.self {
			return fmt.Errorf("agent %s: child %q: %w", b.name, child.Name(), ErrAlreadyParented)
		}

		if b.isSelfOrAncestor(child) {
			return fmt.Errorf("agent %s: child %q: %w", b.name, child.Name(), ErrCycle)
		}

		if _, ok := child.(interface{ setParent(core.Agent) }); !ok {
			return fmt.Errorf("agent %s: child %q does not embed BaseAgent", b.name, child.Name())
		}
	}

	b.mu.Lock()
	previous := b.subAgents
	b.subAgents = append([]core.Agent(nil), children...)
	b.mu.Unlock()

	for _, child := range previous {
		child.(interface{ setParent(core.Agent) }).setParent(nil)
	}

	for _, child := range children {
		child.(interface{ setParent(core.Agent) }).setParent(b.self)
	}

	return nil
}

func (b *BaseAgent) isSelfOrAncestor(candidate core.Agent) bool {
	if b.self == nil {
		return false
	}

	for a := b.self; a != nil; a = a.Parent() {
		if a == candidate {
			return true
		}
	}

	return false
}

func (b *BaseAgent) setParent(p core.Agent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parent = p
}

// Parent returns the parent agent or nil for a root.
func (b *BaseAgent) Parent() core.Agent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parent
}

// SubAgents returns a copy of the child agents.
func (b *BaseAgent) SubAgents() []core.Agent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]core.Agent(nil), b.subAgents...)
}

// FindAgent performs a depth-first search of the subtree rooted at this
// agent, itself included.
func (b *BaseAgent) FindAgent(name string) core.Agent {
	if b.name == name && b.self != nil {
		return b.self
	}

	for _, child := range b.SubAgents() {
		if found := child.FindAgent(name); found != nil {
			return found
		}
	}

	return nil
}
