package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownOperation is returned by ParseOperation and Dispatch for names
// outside the closed operation set.
var ErrUnknownOperation = errors.New("unknown pipeline operation")

// InputError reports malformed details passed to Generate.
type InputError struct {
	Op      string
	Missing []string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: details must contain at least one of: %s", e.Op, strings.Join(e.Missing, ", "))
}
