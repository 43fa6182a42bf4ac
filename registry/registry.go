// Package registry issues and tracks the task identifiers that link the
// steps of a tool pipeline. An identifier is usable by later steps only if
// it was issued into the same namespace and has not been revoked.
package registry

import (
	"context"
	"errors"
	"math/rand/v2"
	"regexp"
	"strconv"
)

// Namespace is a disjoint identifier space.
type Namespace string

const (
	// TaskNamespace holds coding-task identifiers ("task_id_<digits>").
	TaskNamespace Namespace = "task_id"
	// QATaskNamespace holds QA-task identifiers ("qa_task_id_<digits>").
	QATaskNamespace Namespace = "qa_task_id"
)

var (
	// TaskIDPattern matches identifiers of TaskNamespace.
	TaskIDPattern = regexp.MustCompile(`^task_id_\d+$`)
	// QATaskIDPattern matches identifiers of QATaskNamespace.
	QATaskIDPattern = regexp.MustCompile(`^qa_task_id_\d+$`)
)

// ErrUnknownNamespace is returned for namespaces other than the known ones.
var ErrUnknownNamespace = errors.New("unknown identifier namespace")

// Valid reports whether n is one of the known namespaces.
func (n Namespace) Valid() bool {
	return n == TaskNamespace || n == QATaskNamespace
}

// Matches reports whether id has the shape of an identifier of n.
func (n Namespace) Matches(id string) bool {
	switch n {
	case TaskNamespace:
		return TaskIDPattern.MatchString(id)
	case QATaskNamespace:
		return QATaskIDPattern.MatchString(id)
	default:
		return false
	}
}

// Registry issues identifiers and answers whether they are still valid.
// Implementations are safe for concurrent use.
type Registry interface {
	// Issue returns a new identifier unique within ns and records it as valid.
	Issue(ctx context.Context, ns Namespace) (string, error)
	// Validate reports whether id was issued into ns and not revoked.
	Validate(ctx context.Context, ns Namespace, id string) (bool, error)
	// Revoke removes id from ns. Revoking an unknown id is a no-op.
	Revoke(ctx context.Context, ns Namespace, id string) error
	// Count returns the number of valid identifiers in ns.
	Count(ctx context.Context, ns Namespace) (int, error)
}

const (
	minDraw = 1_000_000
	maxDraw = 9_999_999
	// counterBase starts above the random range so counter ids never collide with drawn ones.
	counterBase = 10_000_000
)

// Options configures identifier generation.
type Options struct {
	// Draw returns a candidate number for a new identifier.
	Draw func() int64
	// MaxDraws bounds random draws per Issue before falling back to a counter.
	MaxDraws int
}

func defaultOptions() Options {
	return Options{
		Draw:     func() int64 { return minDraw + rand.Int64N(maxDraw-minDraw+1) },
		MaxDraws: 16,
	}
}

func format(ns Namespace, n int64) string {
	return string(ns) + "_" + strconv.FormatInt(n, 10)
}
