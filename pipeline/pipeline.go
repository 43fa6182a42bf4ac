package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/pdlcmesh/internal/util"
	"github.com/hupe1980/pdlcmesh/logging"
	"github.com/hupe1980/pdlcmesh/registry"
	"github.com/hupe1980/pdlcmesh/tool"
)

var tracer = otel.Tracer("github.com/hupe1980/pdlcmesh/pipeline")

// Record keys shared by both definitions.
const (
	KeyStatus       = "status"
	KeyReport       = "report"
	KeyTestStatus   = "test_status"
	KeyTestResults  = "test_results"
	KeyFeedback     = "feedback"
	KeyInstructions = "feedback_instructions"
)

// Operation is one stage of a pipeline.
type Operation int

const (
	OpGenerate Operation = iota + 1
	OpRun
	OpFinalize
)

func (o Operation) String() string {
	switch o {
	case OpGenerate:
		return "generate"
	case OpRun:
		return "run"
	case OpFinalize:
		return "finalize"
	default:
		return fmt.Sprintf("Operation(%d)", int(o))
	}
}

// ParseOperation maps a tool name of d (or a generic stage name) to an Operation.
func (d Definition) ParseOperation(name string) (Operation, error) {
	switch name {
	case d.GenerateOp, "generate":
		return OpGenerate, nil
	case d.RunOp, "run":
		return OpRun, nil
	case d.FinalizeOp, "finalize":
		return OpFinalize, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
	}
}

// Details is the caller supplied description of a task.
type Details map[string]any

// Generated is the result of Generate.
type Generated struct {
	ID       string
	Artifact string
	Details  Details
}

// Outcome is the result of Run.
type Outcome struct {
	ID     string
	Status string
	Report *Report
}

// Solution is the finalized record.
type Solution map[string]any

// Options configures a Pipeline.
type Options struct {
	// Checker validates artifacts in Run. Defaults to StaticChecker.
	Checker Checker
	Logger  logging.Logger
}

// Pipeline runs the three stages of one Definition against a registry.
// It is safe for concurrent use.
type Pipeline struct {
	def     Definition
	reg     registry.Registry
	checker Checker
	logger  logging.Logger
}

// New creates a Pipeline for def backed by reg.
func New(def Definition, reg registry.Registry, optFns ...func(o *Options)) *Pipeline {
	opts := Options{
		Checker: StaticChecker{},
		Logger:  logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Checker == nil {
		opts.Checker = StaticChecker{}
	}

	return &Pipeline{
		def:     def,
		reg:     reg,
		checker: opts.Checker,
		logger:  opts.Logger,
	}
}

// Definition returns the pipeline's definition.
func (p *Pipeline) Definition() Definition { return p.def }

// ParseOperation maps a tool name to an Operation.
func (p *Pipeline) ParseOperation(name string) (Operation, error) {
	return p.def.ParseOperation(name)
}

// Generate issues an identifier and renders the placeholder artifact.
// Details without any of the definition's descriptive keys yield an
// *InputError. The input map is not modified.
func (p *Pipeline) Generate(ctx context.Context, details Details) (Generated, error) {
	ctx, span := tracer.Start(ctx, "pipeline.generate", trace.WithAttributes(
		attribute.String("pipeline", p.def.Name),
	))
	defer span.End()

	if !p.describes(details) {
		err := &InputError{Op: p.def.GenerateOp, Missing: p.def.DescriptiveKeys}
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("pipeline.generate.invalid_input", "pipeline", p.def.Name, "error", err.Error())

		return Generated{}, err
	}

	id, err := p.reg.Issue(ctx, p.def.Namespace)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "issue identifier")

		return Generated{}, fmt.Errorf("issue %s: %w", p.def.Namespace, err)
	}

	stamped := maps.Clone(details)
	stamped[p.def.IDKey()] = id

	artifact, err := util.RenderTemplate(p.def.ArtifactTemplate, stamped)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render artifact")

		return Generated{}, fmt.Errorf("render %s: %w", p.def.ArtifactKey, err)
	}

	span.SetAttributes(attribute.String("id", id))
	p.logger.Info("pipeline.generate.success", "pipeline", p.def.Name, "id", id)

	return Generated{ID: id, Artifact: artifact, Details: stamped}, nil
}

func (p *Pipeline) describes(details Details) bool {
	for _, k := range p.def.DescriptiveKeys {
		if v, ok := details[k]; ok && v != nil && v != "" {
			return true
		}
	}

	return false
}

// Run validates id against the registry and, when it is known, checks the
// artifact. It never fails: unknown identifiers, registry errors and
// checker errors are all reported through the outcome status. Run does not
// modify the registry.
func (p *Pipeline) Run(ctx context.Context, id, artifact string) Outcome {
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("pipeline", p.def.Name),
		attribute.String("id", id),
	))
	defer span.End()

	valid, err := p.reg.Validate(ctx, p.def.Namespace, id)
	if err != nil {
		span.RecordError(err)
		p.logger.Error("pipeline.run.validate_failed", "pipeline", p.def.Name, "id", id, "error", err.Error())

		return Outcome{ID: id, Status: fmt.Sprintf("Error: could not validate %s: %v.", p.def.IDKey(), err)}
	}

	if !valid {
		p.logger.Warn("pipeline.run.invalid_id", "pipeline", p.def.Name, "id", id)

		return Outcome{ID: id, Status: fmt.Sprintf("Error: Invalid %s.", p.def.IDKey())}
	}

	report, err := p.checker.Check(ctx, Target{ID: id, Artifact: artifact})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "check")
		p.logger.Error("pipeline.run.check_failed", "pipeline", p.def.Name, "id", id, "error", err.Error())

		return Outcome{ID: id, Status: fmt.Sprintf("Error: test execution failed: %v.", err), Report: &report}
	}

	p.logger.Info("pipeline.run.complete", "pipeline", p.def.Name, "id", id,
		"passed", report.Passed, "failed", report.Failed, "timed_out", report.TimedOut)

	return Outcome{ID: id, Status: report.Status(), Report: &report}
}

// Finalize merges details, the generate record and the run record into a
// Solution. Missing values default to "". It has no side effects.
func (p *Pipeline) Finalize(details, artifactInfo, outcome map[string]any, notes ...string) Solution {
	if details == nil {
		details = map[string]any{}
	}

	status := stringValue(outcome[KeyStatus])

	sol := Solution{
		p.def.IDKey():     stringValue(artifactInfo[p.def.IDKey()]),
		p.def.ArtifactKey: stringValue(artifactInfo[p.def.ArtifactKey]),
		KeyTestStatus:     status,
		p.def.DetailsKey:  maps.Clone(details),
	}

	if p.def.Feedback {
		sol[KeyFeedback] = feedback(status, details, notes)
	}

	return sol
}

func feedback(status string, details map[string]any, notes []string) string {
	if status == "" {
		status = "No status provided"
	}

	js, err := json.Marshal(details)
	if err != nil {
		js = []byte("{}")
	}

	fb := fmt.Sprintf("Test execution status: %s. QA Details: %s.", strings.TrimSuffix(status, "."), js)

	var extra []string
	for _, n := range notes {
		if n = strings.TrimSpace(n); n != "" {
			extra = append(extra, n)
		}
	}

	if len(extra) > 0 {
		fb += " Additional feedback: " + strings.Join(extra, " ")
	}

	return fb
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// Record returns g keyed the way the tool API exposes it.
func (g Generated) Record(def Definition) map[string]any {
	return map[string]any{
		def.IDKey():     g.ID,
		def.ArtifactKey: g.Artifact,
		def.DetailsKey:  map[string]any(g.Details),
	}
}

// Record returns o keyed the way the tool API exposes it.
func (o Outcome) Record(def Definition) map[string]any {
	rec := map[string]any{
		def.IDKey(): o.ID,
		KeyStatus:   o.Status,
	}

	if o.Report != nil {
		rec[KeyReport] = *o.Report
	}

	return rec
}

type generateArgs struct {
	Details map[string]any `json:"details"`
}

type runArgs struct {
	ID       string `json:"id"`
	Artifact string `json:"artifact"`
}

type finalizeArgs struct {
	Details      map[string]any `json:"details"`
	ArtifactInfo map[string]any `json:"artifact_info"`
	Outcome      map[string]any `json:"outcome"`
	Instructions string         `json:"instructions"`
}

// Dispatch runs op with arguments keyed as in the tool API and returns the
// record the tool API produces. Only malformed generate input, registry
// failures on issue and undecodable arguments are returned as errors.
func (p *Pipeline) Dispatch(ctx context.Context, op Operation, args map[string]any) (map[string]any, error) {
	switch op {
	case OpGenerate:
		in, err := tool.DecodeArgs[generateArgs](map[string]any{"details": p.generateDetails(args)})
		if err != nil {
			return nil, err
		}

		g, err := p.Generate(ctx, in.Details)
		if err != nil {
			return nil, err
		}

		return g.Record(p.def), nil
	case OpRun:
		in, err := tool.DecodeArgs[runArgs](map[string]any{
			"id":       args[p.def.IDKey()],
			"artifact": args[p.def.ArtifactKey],
		})
		if err != nil {
			return nil, err
		}

		return p.Run(ctx, in.ID, in.Artifact).Record(p.def), nil
	case OpFinalize:
		in, err := tool.DecodeArgs[finalizeArgs](map[string]any{
			"details":       args[p.def.DetailsKey],
			"artifact_info": args[p.def.ArtifactInfoKey],
			"outcome":       args[KeyTestResults],
			"instructions":  args[KeyInstructions],
		})
		if err != nil {
			return nil, err
		}

		return p.Finalize(in.Details, in.ArtifactInfo, in.Outcome, in.Instructions), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}
}

// generateDetails accepts the details either nested under the details key
// or flattened into the arguments.
func (p *Pipeline) generateDetails(args map[string]any) any {
	if d, ok := args[p.def.DetailsKey]; ok && d != nil {
		return d
	}

	for _, k := range p.def.DescriptiveKeys {
		if _, ok := args[k]; ok {
			return args
		}
	}

	return nil
}
