package prerender

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is anything that can execute a full prerender run.
type Job interface {
	Run(ctx context.Context, force bool) (Report, error)
}

// Status is a snapshot of the Runner.
type Status struct {
	Running    bool      `json:"running"`
	Pending    bool      `json:"pending"`
	Runs       int       `json:"runs"`
	LastStart  time.Time `json:"last_start,omitzero"`
	LastFinish time.Time `json:"last_finish,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
	LastReport *Report   `json:"last_report,omitempty"`
}

// Runner serialises runs of a Job. Triggers arriving while a run is in
// flight coalesce into a single follow-up run; a forced trigger upgrades
// the pending run to forced.
type Runner struct {
	job      Job
	interval time.Duration
	logger   *slog.Logger

	wake chan struct{}

	mu           sync.Mutex
	pending      bool
	pendingForce bool
	status       Status
}

// NewRunner creates a Runner. A positive interval adds a periodic
// non-forced trigger.
func NewRunner(job Job, interval time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		job:      job,
		interval: interval,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

// Trigger requests a run. It never blocks.
func (r *Runner) Trigger(force bool) {
	r.mu.Lock()
	r.pending = true
	r.pendingForce = r.pendingForce || force
	r.status.Pending = true
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Status returns a snapshot of the runner state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Loop executes triggered runs until ctx is cancelled. The in-flight run
// receives ctx, so cancellation interrupts it after its browser shuts down.
func (r *Runner) Loop(ctx context.Context) error {
	var tick <-chan time.Time
	if r.interval > 0 {
		t := time.NewTicker(r.interval)
		defer t.Stop()
		tick = t.C
	}

	r.logger.Info("runner: started", slog.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner: stopped")
			return nil
		case <-tick:
			r.Trigger(false)
		case <-r.wake:
			force, ok := r.take()
			if !ok {
				continue
			}
			r.runOnce(ctx, force)
		}
	}
}

func (r *Runner) take() (force, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pending {
		return false, false
	}
	force = r.pendingForce
	r.pending, r.pendingForce = false, false
	r.status.Pending = false
	r.status.Running = true
	r.status.LastStart = time.Now()
	return force, true
}

func (r *Runner) runOnce(ctx context.Context, force bool) {
	r.logger.Info("runner: run started", slog.Bool("force", force))
	report, err := r.job.Run(ctx, force)

	r.mu.Lock()
	r.status.Running = false
	r.status.Runs++
	r.status.LastFinish = time.Now()
	r.status.LastReport = &report
	r.status.LastError = errString(err)
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("runner: run failed", slog.String("error", err.Error()))
		return
	}
	r.logger.Info("runner: run finished", slog.Int("passes", len(report.Passes)))
}
