package runner

import (
	"errors"
	"fmt"
)

var (
	ErrNotHalted      = errors.New("script is not halted at a breakpoint")
	ErrFinished       = errors.New("script has already finished")
	ErrNoProcess      = errors.New("no process has been started")
	ErrAlreadyStarted = errors.New("runner has already been started")
	ErrUnsupported    = errors.New("no interpreter configured for script type")
)

// SpawnError is returned when the child process could not be created.
type SpawnError struct {
	Script      string
	Interpreter string
	Cause       error
}

func (e *SpawnError) Error() string {
	if e.Interpreter == "" {
		return fmt.Sprintf("spawn %s: %v", e.Script, e.Cause)
	}
	return fmt.Sprintf("spawn %s with %s: %v", e.Script, e.Interpreter, e.Cause)
}

func (e *SpawnError) Unwrap() error {
	return e.Cause
}
