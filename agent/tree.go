package agent

import (
	"errors"
	"fmt"

	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/tool"
)

var (
	// ErrInteriorHasTools is reported for a node with children and tools.
	ErrInteriorHasTools = errors.New("interior agent must not own tools")
	// ErrLeafWithoutTools is reported for a childless node without tools.
	ErrLeafWithoutTools = errors.New("leaf agent must own at least one tool")
)

type toolOwner interface {
	Tools() *tool.Set
}

func toolCount(a core.Agent) int {
	if o, ok := a.(toolOwner); ok && o.Tools() != nil {
		return o.Tools().Len()
	}
	return 0
}

// ValidateTree checks the composition rooted at root and reports every
// violation found.
func ValidateTree(root core.Agent) error {
	if root == nil {
		return errors.New("agent: nil root")
	}

	var (
		errs    []error
		names   = map[string]struct{}{}
		onPath  = map[core.Agent]bool{}
		visited = map[core.Agent]bool{}
	)

	var walk func(a core.Agent)
	walk = func(a core.Agent) {
		if onPath[a] {
			errs = append(errs, fmt.Errorf("agent %q: %w", a.Name(), ErrCycle))
			return
		}
		if visited[a] {
			return
		}

		visited[a] = true
		onPath[a] = true
		defer delete(onPath, a)

		if _, dup := names[a.Name()]; dup {
			errs = append(errs, fmt.Errorf("agent %q: %w", a.Name(), ErrDuplicateAgent))
		}
		names[a.Name()] = struct{}{}

		children := a.SubAgents()
		tools := toolCount(a)

		switch {
		case len(children) > 0 && tools > 0:
			errs = append(errs, fmt.Errorf("agent %q: %w", a.Name(), ErrInteriorHasTools))
		case len(children) == 0 && tools == 0:
			errs = append(errs, fmt.Errorf("agent %q: %w", a.Name(), ErrLeafWithoutTools))
		}

		for _, child := range children {
			walk(child)
		}
	}

	walk(root)

	return errors.Join(errs...)
}
