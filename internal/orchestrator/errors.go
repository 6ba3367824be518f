package orchestrator

import (
	"errors"
	"fmt"
)

// ErrBootstrapInProgress is returned when RunBootstrap is called while a
// bootstrap is already running.
var ErrBootstrapInProgress = errors.New("bootstrap already in progress")

// ErrStepSkipped is returned by a component that has nothing to do for a
// step. The phase is recorded as skipped and the sequence continues.
var ErrStepSkipped = errors.New("step skipped")

// Kind classifies a stage failure.
type Kind string

const (
	KindPrecondition Kind = "precondition"
	KindEnvironment  Kind = "environment"
	KindInstall      Kind = "install"
	KindProvisioning Kind = "provisioning"
	KindExhausted    Kind = "exhausted"
	KindMigration    Kind = "migration"
	KindSmoke        Kind = "smoke"
)

// StageError is a fatal failure of one bootstrap stage. Resource names the
// service, file or check that failed when there is one.
type StageError struct {
	Stage    string
	Kind     Kind
	Resource string
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	msg := e.Stage
	if e.Resource != "" {
		msg += ": " + e.Resource
	}
	if e.Kind == KindExhausted {
		msg += fmt.Sprintf(" not ready after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() error { return e.Err }

// KindOf returns the kind of the first StageError in err's chain.
func KindOf(err error) (Kind, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// stageError wraps err unless it already carries a StageError, in which case
// the component's classification wins.
func stageError(stage string, kind Kind, resource string, err error) error {
	var se *StageError
	if errors.As(err, &se) {
		if se.Stage == "" {
			se.Stage = stage
		}
		return se
	}
	return &StageError{Stage: stage, Kind: kind, Resource: resource, Err: err}
}
