package nl2sql

import (
	"errors"
	"fmt"
)

// Stage identifies the pipeline phase an error originated from.
type Stage string

const (
	StageSchemaDiscovery Stage = "schema_discovery"
	StageQueryDetection  Stage = "query_detection"
	StageIntentParsing   Stage = "intent_parsing"
	StageSQLGeneration   Stage = "sql_generation"
	StageQueryExecution  Stage = "query_execution"
)

// ErrUnsupportedDatabase is returned when discovery is pointed at a
// database dialect the introspection queries do not cover.
var ErrUnsupportedDatabase = errors.New("unsupported database dialect")

// PipelineError is the base domain error: every NL2SQL failure wraps
// into one so orchestration code can catch broadly with errors.As.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func stageError(stage Stage, format string, args ...any) error {
	return &PipelineError{Stage: stage, Err: fmt.Errorf(format, args...)}
}

// StageOf reports the pipeline stage of err, or "" when err is not a
// PipelineError.
func StageOf(err error) Stage {
	var pipelineErr *PipelineError
	if errors.As(err, &pipelineErr) {
		return pipelineErr.Stage
	}
	return ""
}
