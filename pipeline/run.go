// Package pipeline sequences the try-on stages for one request and owns the
// cleanup of the request's ephemeral uploads.
package pipeline

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Stage names one step of a run.
type Stage string

const (
	StageIngest     Stage = "ingest"
	StageValidate   Stage = "validate"
	StageDescribe   Stage = "describe"
	StageSynthesize Stage = "synthesize"
	StageCompose    Stage = "compose"
	StageResolve    Stage = "resolve"
)

// State is the position of a run in its state machine.
type State string

const (
	StatePending     State = "pending"
	StateIngested    State = "ingested"
	StateDescribed   State = "described"
	StateSynthesized State = "synthesized"
	StateComposed    State = "composed"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// StageError is the only error a run returns: the failing stage plus its cause.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return string(e.Stage) + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// Run tracks one request through the stages.
type Run struct {
	ID string
	Op string

	state      State
	failedAt   Stage
	ephemerals []string

	store   Artifacts
	log     *slog.Logger
	release sync.Once
}

func newRun(op string, store Artifacts, log *slog.Logger) *Run {
	id := uuid.NewString()
	return &Run{
		ID:    id,
		Op:    op,
		state: StatePending,
		store: store,
		log:   log.With("run_id", id, "op", op),
	}
}

// State returns the current state.
func (r *Run) State() State { return r.state }

// FailedAt returns the failing stage, or "" if the run did not fail.
func (r *Run) FailedAt() Stage { return r.failedAt }

// own registers an ephemeral path the run must delete when it ends.
func (r *Run) own(path string) {
	if path != "" {
		r.ephemerals = append(r.ephemerals, path)
	}
}

// owns reports whether path is one of the run's ephemerals.
func (r *Run) owns(path string) bool {
	clean := filepath.Clean(path)
	for _, p := range r.ephemerals {
		if filepath.Clean(p) == clean {
			return true
		}
	}
	return false
}

func (r *Run) advance(next State) {
	r.log.Debug("state transition", "from", r.state, "to", next)
	r.state = next
}

func (r *Run) fail(stage Stage, err error) error {
	r.log.Debug("state transition", "from", r.state, "to", StateFailed, "stage", stage)
	r.state = StateFailed
	r.failedAt = stage
	return &StageError{Stage: stage, Err: err}
}

// close deletes the ephemerals. Only the first call does anything; cleanup
// failures are logged and swallowed.
func (r *Run) close() {
	r.release.Do(func() {
		for _, p := range r.ephemerals {
			if err := r.store.Delete(p); err != nil {
				r.log.Warn("cleanup failed", "path", p, "error", err)
				continue
			}
			r.log.Debug("ephemeral removed", "path", p)
		}
	})
}
