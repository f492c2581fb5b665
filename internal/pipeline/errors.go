package pipeline

import "fmt"

// Stage names used in failure reports.
const (
	StageScript    = "script"
	StagePost      = "post"
	StageNarration = "narration"
	StageImage     = "image"
	StagePersist   = "persist"
)

// StageError reports which pipeline stage failed after its retry
// budget was exhausted. The run is aborted; no partial artifact is
// persisted.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}
