package pipeline

import (
	"errors"
	"maps"

	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/tool"
)

// Tools adapts the three stages into tools for a leaf agent, in stage order.
//
// The generate tool stores the artifact in the session artifact store under
// the issued identifier; the run tool reads it back when called without an
// artifact.
func (p *Pipeline) Tools() []tool.Tool {
	return []tool.Tool{
		tool.NewFunctionTool(p.def.GenerateOp, p.def.GenerateDescription, p.generateSchema(), p.callGenerate),
		tool.NewFunctionTool(p.def.RunOp, p.def.RunDescription, p.runSchema(), p.callRun),
		tool.NewFunctionTool(p.def.FinalizeOp, p.def.FinalizeDescription, p.finalizeSchema(), p.callFinalize),
	}
}

func (p *Pipeline) callGenerate(tc *core.ToolContext, args map[string]any) (any, error) {
	rec, err := p.Dispatch(tc.Context(), OpGenerate, args)
	if err != nil {
		var inputErr *InputError
		if errors.As(err, &inputErr) {
			return nil, &tool.ToolError{
				Tool:    p.def.GenerateOp,
				Message: inputErr.Error(),
				Code:    tool.CodeValidation,
				Details: map[string]any{"missing_any_of": inputErr.Missing},
			}
		}

		return nil, err
	}

	id, _ := rec[p.def.IDKey()].(string)
	artifact, _ := rec[p.def.ArtifactKey].(string)

	if err := tc.SaveArtifact(id, []byte(artifact)); err != nil {
		tc.LogWarn("pipeline.artifact.save_failed", "id", id, "error", err.Error())
	}

	return rec, nil
}

func (p *Pipeline) callRun(tc *core.ToolContext, args map[string]any) (any, error) {
	args = maps.Clone(args)

	if a, _ := args[p.def.ArtifactKey].(string); a == "" {
		if id, _ := args[p.def.IDKey()].(string); id != "" {
			if data, err := tc.LoadArtifact(id); err == nil {
				args[p.def.ArtifactKey] = string(data)
			}
		}
	}

	return p.Dispatch(tc.Context(), OpRun, args)
}

func (p *Pipeline) callFinalize(tc *core.ToolContext, args map[string]any) (any, error) {
	return p.Dispatch(tc.Context(), OpFinalize, args)
}

func (p *Pipeline) generateSchema() map[string]any {
	props := make(map[string]any, len(p.def.DescriptiveKeys))
	for _, k := range p.def.DescriptiveKeys {
		props[k] = map[string]any{"type": "string"}
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			p.def.DetailsKey: map[string]any{
				"type":        "object",
				"description": "Details of the task. At least one of the listed properties is required.",
				"properties":  props,
			},
		},
	}
}

func (p *Pipeline) runSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			p.def.IDKey(): map[string]any{
				"type":        "string",
				"description": "Identifier returned by " + p.def.GenerateOp + ".",
			},
			p.def.ArtifactKey: map[string]any{
				"type":        "string",
				"description": "Artifact to check. Defaults to the stored artifact of the identifier.",
			},
		},
		"required": []string{p.def.IDKey()},
	}
}

func (p *Pipeline) finalizeSchema() map[string]any {
	props := map[string]any{
		p.def.DetailsKey: map[string]any{
			"type":        "object",
			"description": "The original details.",
		},
		p.def.ArtifactInfoKey: map[string]any{
			"type":        "object",
			"description": "The result of " + p.def.GenerateOp + ".",
		},
		KeyTestResults: map[string]any{
			"type":        "object",
			"description": "The result of " + p.def.RunOp + ".",
		},
	}

	if p.def.Feedback {
		props[KeyInstructions] = map[string]any{
			"type":        "string",
			"description": "Optional additional feedback.",
		}
	}

	return map[string]any{
		"type":       "object",
		"properties": props,
	}
}
