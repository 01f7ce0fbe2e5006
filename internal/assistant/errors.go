package assistant

import (
	"errors"
	"fmt"
)

// ErrStopped is returned for control requests once the controller has quit.
var ErrStopped = errors.New("assistant: stopped")

// ErrSleeping rejects control requests other than wake and stop while the
// assistant sleeps.
var ErrSleeping = errors.New("assistant: sleeping, say wake to resume")

type Stage string

const (
	StagePull       Stage = "pull"
	StageClassify   Stage = "classify"
	StageEncode     Stage = "encode"
	StageTranscribe Stage = "transcribe"
	StageCapture    Stage = "capture"
	StageArchive    Stage = "archive"
	StageAnalyze    Stage = "analyze"
	StageReport     Stage = "report"
	StagePersist    Stage = "persist"
	StageSpeak      Stage = "speak"
	StageShutdown   Stage = "shutdown"
)

// StageError records which step of a cycle failed. Cycles return them and
// the loop decides what to do; none of them is fatal.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// stageErrors flattens err, which may be joined, into its stage errors.
// Anything that is not a StageError is reported under fallback.
func stageErrors(err error, fallback Stage) []*StageError {
	if err == nil {
		return nil
	}

	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []*StageError
		for _, e := range joined.Unwrap() {
			out = append(out, stageErrors(e, fallback)...)
		}
		return out
	}

	var se *StageError
	if errors.As(err, &se) {
		return []*StageError{se}
	}
	return []*StageError{{Stage: fallback, Err: err}}
}
