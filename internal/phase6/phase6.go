// Package phase6 detects an interrupted prior run at process start: if a
// checkpoint from a completed run is found it is archived and the
// pipeline starts fresh; if an incomplete checkpoint is found its summary
// is surfaced and the Orchestrator resumes from its current phase.
package phase6

import (
	"fmt"

	"github.com/HendryAvila/polish/internal/checkpoint"
)

// Result is Phase 6's output.
type Result struct {
	ShouldResume bool
	Checkpoint   *checkpoint.State
	Summary      string
}

// Run inspects store for a prior checkpoint. If checkpointsEnabled is
// false or no checkpoint exists, resume is declined. A completed
// checkpoint is archived and resume is declined (the next run starts
// fresh). An incomplete checkpoint is surfaced for resume.
func Run(store *checkpoint.Store, checkpointsEnabled bool) (*Result, error) {
	if !checkpointsEnabled || !store.Exists() {
		return &Result{ShouldResume: false}, nil
	}

	state, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("phase6: load checkpoint: %w", err)
	}
	if state == nil {
		return &Result{ShouldResume: false}, nil
	}

	if state.Status == checkpoint.StatusCompleted {
		if _, err := store.Archive(state); err != nil {
			return nil, fmt.Errorf("phase6: archive completed checkpoint: %w", err)
		}
		return &Result{ShouldResume: false}, nil
	}

	return &Result{
		ShouldResume: true,
		Checkpoint:   state,
		Summary:      summarize(state),
	}, nil
}

func summarize(s *checkpoint.State) string {
	return fmt.Sprintf(
		"session %s started %s, last completed phase %d (%d%%), %d steps done, pending phases %d-5",
		s.SessionID, s.StartedAt.Format("2006-01-02 15:04:05"), s.CurrentPhase, s.Progress(), len(s.CompletedSteps), s.CurrentPhase+1,
	)
}
