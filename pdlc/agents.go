package pdlc

import (
	"github.com/hupe1980/pdlcmesh/agent"
	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/model"
	"github.com/hupe1980/pdlcmesh/pipeline"
	"github.com/hupe1980/pdlcmesh/turn"
)

// Agent names.
const (
	SDEAgentName    = "sde_agent"
	QAAgentName     = "qa_agent"
	CoordinatorName = "Coordinator"
)

const sdeInstruction = `You are an agent who assists the Software Development Engineer (SDE) with development tasks made by GitVerse.

When you receive a software development request, you should first gather all necessary information:
  1. The programming language and frameworks involved.
  2. A detailed description of the task, such as feature implementation, bug fixes, or code refactoring.
  3. Any specific requirements, constraints, or deadlines.

If the task request is incomplete, ask for any missing details to ensure clarity.

Once you have all the required information, you should:
  - Generate a draft solution using the generate_code() tool.
  - Validate the solution by executing tests with run_tests().
  - Finalize your response by calling return_solution() with the task details and testing outcome.

In your response, include a summary of the task details and the final status, indicating any improvements or modifications you applied.`

const qaInstruction = `You are an agent who assists with Quality Assurance (QA) for software developed within GitVerse.

When you receive a QA request, you should first gather all necessary information:
  1. The feature or functionality under test.
  2. The test requirements, such as scenarios, edge cases and expected behavior.
  3. Any constraints, such as environments, tools or deadlines.

If the request is incomplete, ask for any missing details to ensure clarity.

Once you have all the required information, you should:
  - Generate test cases using the generate_tests() tool.
  - Execute them with run_tests().
  - Deliver feedback by calling return_feedback() with the QA details and the test results.

In your response, include a summary of the tested functionality, the test status and actionable feedback.`

const coordinatorInstruction = `You are the Coordinator. You coordinate PDLC agents to automate processes and never answer requests yourself.
Delegate each user request to exactly one of the agents below by calling transfer_to_agent:
software development requests such as writing, fixing or refactoring code go to the SDE agent;
quality assurance requests such as writing or running tests and giving QA feedback go to the QA agent.
If the request is too ambiguous to delegate, ask the user one short clarifying question instead.`

// NewSDEAgent creates the software development leaf agent with the coding
// pipeline tools.
func NewSDEAgent(llm model.Model, optFns ...func(o *Options)) (*agent.ModelAgent, error) {
	opts := newOptions(optFns...)

	return newPipelineAgent(SDEAgentName, llm, pipeline.Coding, sdeInstruction,
		"This agent assists with various software development tasks, including code generation, debugging, and solution validation.",
		opts)
}

// NewQAAgent creates the quality assurance leaf agent with the QA pipeline
// tools.
func NewQAAgent(llm model.Model, optFns ...func(o *Options)) (*agent.ModelAgent, error) {
	opts := newOptions(optFns...)

	return newPipelineAgent(QAAgentName, llm, pipeline.QA, qaInstruction,
		"This agent assists with quality assurance tasks, including test case generation, test execution, and feedback on software features.",
		opts)
}

func newPipelineAgent(name string, llm model.Model, def pipeline.Definition, instruction, description string, opts Options) (*agent.ModelAgent, error) {
	p := pipeline.New(def, opts.Registry, func(o *pipeline.Options) {
		if opts.Checker != nil {
			o.Checker = opts.Checker
		}
		o.Logger = opts.Logger
	})

	return agent.NewModelAgent(name, llm, func(o *agent.ModelAgentOptions) {
		o.Description = description
		o.Instruction = agent.NewInstructionFromText(instruction)
		o.Tools = p.Tools()
		o.RecallLimit = opts.RecallLimit
		o.Metrics = opts.Metrics
	})
}

// NewCoordinator creates the coordinator over freshly built SDE and QA
// agents. Each child runs through its own executor; child sessions share
// the coordinator's session id under the child's name.
func NewCoordinator(llm model.Model, optFns ...func(o *Options)) (*agent.Coordinator, error) {
	opts := newOptions(optFns...)

	sde, err := NewSDEAgent(llm, withOptions(opts))
	if err != nil {
		return nil, err
	}

	qa, err := NewQAAgent(llm, withOptions(opts))
	if err != nil {
		return nil, err
	}

	router := opts.Router
	if router == nil {
		router = agent.NewModelRouter(llm, func(o *agent.ModelRouterOptions) {
			o.Instruction = coordinatorInstruction
		})
	}

	c, err := agent.NewCoordinator(CoordinatorName, router,
		agent.Delegate{Agent: sde, Turns: NewExecutor(sde, withOptions(opts))},
		agent.Delegate{Agent: qa, Turns: NewExecutor(qa, withOptions(opts))},
	)
	if err != nil {
		return nil, err
	}

	c.SetDescription("I'm coordinating PDLC agents to automate processes.")
	c.SetMetrics(opts.Metrics)

	return c, nil
}

// NewExecutor creates the turn executor for a, sharing the configured
// stores, locker and telemetry.
func NewExecutor(a core.Agent, optFns ...func(o *Options)) *turn.Executor {
	opts := newOptions(optFns...)

	return turn.New(a, func(o *turn.Options) {
		o.SessionStore = opts.SessionStore
		o.ArtifactStore = opts.ArtifactStore
		o.MemoryStore = opts.MemoryStore
		if opts.Locker != nil {
			o.Locker = opts.Locker
		}
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
		o.MaxModelCalls = opts.MaxModelCalls
	})
}
