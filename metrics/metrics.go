// Package metrics records turn, tool, registry and delegation activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives observations from the orchestration layer.
type Recorder interface {
	TurnCompleted(agent, outcome string, d time.Duration)
	ToolCalled(agent, tool, outcome string, d time.Duration)
	IdentifierIssued(namespace string)
	Delegated(coordinator, child string)
}

// Turn and tool outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeAbandoned = "abandoned"
)

// NopRecorder discards all observations.
type NopRecorder struct{}

func (NopRecorder) TurnCompleted(string, string, time.Duration)      {}
func (NopRecorder) ToolCalled(string, string, string, time.Duration) {}
func (NopRecorder) IdentifierIssued(string)                          {}
func (NopRecorder) Delegated(string, string)                         {}

// Prometheus is a Recorder backed by Prometheus collectors.
type Prometheus struct {
	turns        *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	tools        *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	identifiers  *prometheus.CounterVec
	delegations  *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdlcmesh_turns_total",
				Help: "Total number of turns by agent and outcome",
			},
			[]string{"agent", "outcome"},
		),
		turnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pdlcmesh_turn_duration_seconds",
				Help:    "Duration of turns",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"agent"},
		),
		tools: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdlcmesh_tool_calls_total",
				Help: "Total number of tool calls by agent, tool and outcome",
			},
			[]string{"agent", "tool", "outcome"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "pdlcmesh_tool_duration_seconds",
				Help: "Duration of tool executions",
			},
			[]string{"tool"},
		),
		identifiers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdlcmesh_identifiers_issued_total",
				Help: "Total number of issued task identifiers by namespace",
			},
			[]string{"namespace"},
		),
		delegations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdlcmesh_delegations_total",
				Help: "Total number of turns delegated by a coordinator",
			},
			[]string{"coordinator", "child"},
		),
	}

	reg.MustRegister(p.turns, p.turnDuration, p.tools, p.toolDuration, p.identifiers, p.delegations)

	return p
}

func (p *Prometheus) TurnCompleted(agent, outcome string, d time.Duration) {
	p.turns.WithLabelValues(agent, outcome).Inc()
	p.turnDuration.WithLabelValues(agent).Observe(d.Seconds())
}

func (p *Prometheus) ToolCalled(agent, tool, outcome string, d time.Duration) {
	p.tools.WithLabelValues(agent, tool, outcome).Inc()
	p.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (p *Prometheus) IdentifierIssued(namespace string) {
	p.identifiers.WithLabelValues(namespace).Inc()
}

func (p *Prometheus) Delegated(coordinator, child string) {
	p.delegations.WithLabelValues(coordinator, child).Inc()
}
