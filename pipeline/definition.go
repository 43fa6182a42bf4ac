package pipeline

import (
	"github.com/hupe1980/pdlcmesh/registry"
)

// Definition describes the names and record keys of one pipeline.
type Definition struct {
	// Name is a short label used in logs and spans.
	Name string
	// Namespace is the identifier namespace; its string value is also the id key.
	Namespace registry.Namespace

	// Tool names of the three stages.
	GenerateOp string
	RunOp      string
	FinalizeOp string

	// ArtifactKey holds the generated artifact in records ("code", "tests").
	ArtifactKey string
	// DetailsKey holds the caller's details in records ("task_details", "qa_details").
	DetailsKey string
	// ArtifactInfoKey names the finalize argument carrying the generate result.
	ArtifactInfoKey string
	// DescriptiveKeys lists the detail keys of which at least one must be present.
	DescriptiveKeys []string

	// ArtifactTemplate renders the placeholder artifact from the details.
	ArtifactTemplate string

	// Feedback adds a feedback summary line to the finalized record.
	Feedback bool

	// Descriptions of the three tools as shown to the model.
	GenerateDescription string
	RunDescription      string
	FinalizeDescription string
}

// IDKey returns the record key carrying the issued identifier.
func (d Definition) IDKey() string { return string(d.Namespace) }

// Coding is the software-development pipeline: generate_code, run_tests, return_solution.
var Coding = Definition{
	Name:            "coding",
	Namespace:       registry.TaskNamespace,
	GenerateOp:      "generate_code",
	RunOp:           "run_tests",
	FinalizeOp:      "return_solution",
	ArtifactKey:     "code",
	DetailsKey:      "task_details",
	ArtifactInfoKey: "code_info",
	DescriptiveKeys: []string{"language", "requirements", "constraints", "feature", "description"},
	ArtifactTemplate: `# Auto-generated code for task {{ .task_id }}
# Language: {{ default "N/A" .language }}
# Requirements: {{ default "N/A" .requirements }}
# Constraints: {{ default "N/A" .constraints }}

def solution_function():
    # TODO: implement the solution here
    pass
`,
	GenerateDescription: "Generate code for a coding task. Pass the task details such as language, requirements and constraints. Returns the task_id, the generated code and the task details.",
	RunDescription:      "Execute tests for the generated code of a task. Requires the task_id returned by generate_code.",
	FinalizeDescription: "Return the final structured solution built from the task details, the generated code info and the test results.",
}

// QA is the quality-assurance pipeline: generate_tests, run_tests, return_feedback.
var QA = Definition{
	Name:            "qa",
	Namespace:       registry.QATaskNamespace,
	GenerateOp:      "generate_tests",
	RunOp:           "run_tests",
	FinalizeOp:      "return_feedback",
	ArtifactKey:     "tests",
	DetailsKey:      "qa_details",
	ArtifactInfoKey: "tests_info",
	DescriptiveKeys: []string{"feature", "test_requirements", "constraints"},
	ArtifactTemplate: `# Auto-generated test cases for QA task {{ .qa_task_id }}
# Feature: {{ default "N/A" .feature }}
# Test requirements: {{ default "N/A" .test_requirements }}
# Constraints: {{ default "N/A" .constraints }}

def test_feature():
    # TODO: implement the test cases here
    assert True
`,
	Feedback:            true,
	GenerateDescription: "Generate test cases for a feature. Pass the QA details such as feature, test_requirements and constraints. Returns the qa_task_id, the generated tests and the QA details.",
	RunDescription:      "Execute the generated tests of a QA task. Requires the qa_task_id returned by generate_tests.",
	FinalizeDescription: "Return QA feedback built from the QA details, the generated tests info and the test results.",
}
