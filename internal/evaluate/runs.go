package evaluate

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunStatus is the lifecycle state of an asynchronous batch run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunFailed   RunStatus = "failed"
)

// Run is one asynchronous batch evaluation tracked by the Runner.
type Run struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	mu       sync.Mutex
	status   RunStatus
	progress Progress
	report   *Report
	errMsg   string
}

// RunView is an immutable snapshot of a Run for API responses.
type RunView struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Status    RunStatus `json:"status"`
	Progress  Progress  `json:"progress"`
	Report    *Report   `json:"report,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// View returns a snapshot of the run.
func (r *Run) View() RunView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunView{
		ID:        r.ID,
		CreatedAt: r.CreatedAt,
		Status:    r.status,
		Progress:  r.progress,
		Report:    r.report,
		Error:     r.errMsg,
	}
}

// Report returns the finished report, or nil while running.
func (r *Run) ReportSnapshot() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report
}

// Runner launches batch evaluations in the background and retains
// their runs for status polling and report export.
type Runner struct {
	eval *Evaluator
	log  zerolog.Logger

	mu     sync.RWMutex
	runs   map[string]*Run
	active atomic.Int32
}

// NewRunner creates a run registry around an Evaluator.
func NewRunner(eval *Evaluator, log zerolog.Logger) *Runner {
	return &Runner{
		eval: eval,
		log:  log.With().Str("component", "eval-runner").Logger(),
		runs: make(map[string]*Run),
	}
}

// Launch starts a batch run in the background and returns it
// immediately. onDone (optional) receives the finished report.
func (rn *Runner) Launch(ctx context.Context, items []BatchItem, onDone func(*Report)) *Run {
	run := &Run{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		status:    RunRunning,
		progress:  Progress{Total: len(items)},
	}
	run.progress.RunID = run.ID

	rn.mu.Lock()
	rn.runs[run.ID] = run
	rn.mu.Unlock()

	rn.active.Add(1)
	go func() {
		defer rn.active.Add(-1)

		report, err := rn.eval.Run(ctx, run.ID, items, func(p Progress) {
			run.mu.Lock()
			run.progress = p
			run.mu.Unlock()
		})

		run.mu.Lock()
		defer run.mu.Unlock()
		run.report = report
		if err != nil {
			run.status = RunFailed
			run.errMsg = err.Error()
			return
		}
		run.status = RunComplete
		if onDone != nil {
			go onDone(report)
		}
	}()
	return run
}

// Get returns the run with the given ID, or nil.
func (rn *Runner) Get(id string) *Run {
	rn.mu.RLock()
	defer rn.mu.RUnlock()
	return rn.runs[id]
}

// List returns snapshots of all runs, newest first.
func (rn *Runner) List() []RunView {
	rn.mu.RLock()
	defer rn.mu.RUnlock()
	out := make([]RunView, 0, len(rn.runs))
	for _, r := range rn.runs {
		out = append(out, r.View())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Active returns the number of runs currently executing.
func (rn *Runner) Active() int {
	return int(rn.active.Load())
}
