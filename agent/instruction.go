package agent

import (
	"fmt"

	"github.com/hupe1980/pdlcmesh/core"
)

// InstructionSource supplies instruction text per run, e.g. from session state.
type InstructionSource interface {
	Instruction(*core.RunContext) (string, error)
}

// Instruction is the system prompt of a ModelAgent. The flow renders the
// resolved text against session state, so it may contain {{ .key }}.
type Instruction struct {
	text    string
	dynamic func(*core.RunContext) (string, error)
}

// NewInstructionFromText creates a fixed instruction.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromSource resolves the instruction through src on every run.
func NewInstructionFromSource(src InstructionSource) Instruction {
	return Instruction{dynamic: src.Instruction}
}

// NewInstructionFromFunc resolves the instruction through f on every run.
func NewInstructionFromFunc(f func(*core.RunContext) (string, error)) Instruction {
	return Instruction{dynamic: f}
}

// IsStatic reports whether the instruction is fixed text.
func (i Instruction) IsStatic() bool { return i.dynamic == nil }

// Resolve returns the instruction text for the run.
func (i Instruction) Resolve(rc *core.RunContext) (string, error) {
	if i.dynamic == nil {
		return i.text, nil
	}

	text, err := i.dynamic(rc)
	if err != nil {
		return "", fmt.Errorf("instruction: %w", err)
	}

	return text, nil
}
