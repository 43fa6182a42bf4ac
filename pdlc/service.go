package pdlc

import (
	"fmt"
	"strings"

	"github.com/hupe1980/pdlcmesh/a2a"
	"github.com/hupe1980/pdlcmesh/agent"
	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/logging"
	"github.com/hupe1980/pdlcmesh/metrics"
	"github.com/hupe1980/pdlcmesh/model"
	"github.com/hupe1980/pdlcmesh/pipeline"
	"github.com/hupe1980/pdlcmesh/registry"
	"github.com/hupe1980/pdlcmesh/session"
	"github.com/hupe1980/pdlcmesh/turn"
)

// Options configure the agents and executors of the catalog.
type Options struct {
	Logger   logging.Logger
	Metrics  metrics.Recorder
	Registry registry.Registry
	// Checker validates artifacts in run_tests. Defaults to pipeline.StaticChecker.
	Checker       pipeline.Checker
	SessionStore  core.SessionStore
	ArtifactStore core.ArtifactStore
	MemoryStore   core.MemoryStore
	Locker        session.Locker
	MaxModelCalls int
	RecallLimit   int
	// Router overrides the coordinator's model backed router.
	Router agent.Router
}

func newOptions(optFns ...func(o *Options)) Options {
	opts := Options{
		Logger:        logging.NoOpLogger{},
		Metrics:       metrics.NopRecorder{},
		MaxModelCalls: 25,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Registry == nil {
		opts.Registry = registry.NewMemory(func(o *registry.MemoryOptions) {
			o.Logger = opts.Logger
			o.Metrics = opts.Metrics
		})
	}

	return opts
}

func withOptions(src Options) func(o *Options) {
	return func(o *Options) { *o = src }
}

// Kind selects one of the served agents.
type Kind string

const (
	KindSDE         Kind = "sde"
	KindQA          Kind = "qa"
	KindCoordinator Kind = "coordinator"
)

// Kinds lists the servable agents.
var Kinds = []Kind{KindSDE, KindQA, KindCoordinator}

// ParseKind accepts a kind or its agent name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sde", SDEAgentName:
		return KindSDE, nil
	case "qa", QAAgentName:
		return KindQA, nil
	case "coordinator":
		return KindCoordinator, nil
	default:
		return "", fmt.Errorf("unknown agent %q (want one of sde, qa, coordinator)", s)
	}
}

// DefaultPort returns the kind's conventional listen port.
func (k Kind) DefaultPort() int {
	switch k {
	case KindSDE:
		return 10004
	case KindQA:
		return 10005
	default:
		return 10006
	}
}

// Service is a ready to serve agent.
type Service struct {
	Kind  Kind
	Agent core.Agent
	Turns *turn.Executor
}

// New builds the agent of the given kind and its executor.
func New(kind Kind, llm model.Model, optFns ...func(o *Options)) (*Service, error) {
	opts := newOptions(optFns...)

	var (
		a   core.Agent
		err error
	)

	switch kind {
	case KindSDE:
		a, err = NewSDEAgent(llm, withOptions(opts))
	case KindQA:
		a, err = NewQAAgent(llm, withOptions(opts))
	case KindCoordinator:
		a, err = NewCoordinator(llm, withOptions(opts))
	default:
		return nil, fmt.Errorf("unknown agent kind %q", kind)
	}

	if err != nil {
		return nil, err
	}

	if err := agent.ValidateTree(a); err != nil {
		return nil, err
	}

	opts.Logger.Info("service.ready", "agent", a.Name(), "kind", string(kind))

	return &Service{
		Kind:  kind,
		Agent: a,
		Turns: NewExecutor(a, withOptions(opts)),
	}, nil
}

// Card returns the agent card advertised at baseURL.
func (s *Service) Card(baseURL string) a2a.AgentCard {
	return Card(s.Kind, baseURL)
}

// Card returns the agent card of kind advertised at baseURL.
func Card(kind Kind, baseURL string) a2a.AgentCard {
	card := a2a.AgentCard{
		URL:                baseURL,
		Version:            "1.0.0",
		DefaultInputModes:  []string{"text", "text/plain"},
		DefaultOutputModes: []string{"text", "text/plain"},
		Capabilities:       a2a.Capabilities{Streaming: true},
		Skills:             []a2a.Skill{},
	}

	switch kind {
	case KindSDE:
		card.Name = "SDE Agent"
		card.Description = "This agent made by GitVerse helps with various software development tasks such as generating code, running tests, and refining solutions based on developer inputs."
		card.Skills = []a2a.Skill{{
			ID:          "website_generation",
			Name:        "Website Generation Tool",
			Description: "Allows website generation by user prompt.",
			Tags:        []string{"sde", "website_generation", "code_generation", "software_development"},
			Examples: []string{
				"Generate Python code for a web scraper.",
				"Can you debug my JavaScript application?",
			},
		}}
	case KindQA:
		card.Name = "QA Agent"
		card.Description = "This agent made by GitVerse helps with quality assurance tasks. It generates test cases, runs tests, and delivers feedback for software features."
		card.Skills = []a2a.Skill{{
			ID:          "qa_assistance",
			Name:        "QA Assistant Tool",
			Description: "Assists with quality assurance tasks including generating test cases, executing tests, and providing actionable feedback on software functionalities.",
			Tags:        []string{"qa", "quality_assurance", "testing", "feedback"},
			Examples: []string{
				"Generate test cases for my login functionality.",
				"Run tests on the checkout process and provide feedback.",
			},
		}}
	default:
		card.Name = "CoordinatorAgent"
		card.Description = "This agent made by GitVerse to coordinate agent across PDLC cycle."
	}

	return card
}
