package prerender

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type blockingJob struct {
	mu      sync.Mutex
	calls   []bool
	release chan struct{}
	started chan struct{}
	err     error
}

func newBlockingJob() *blockingJob {
	return &blockingJob{release: make(chan struct{}), started: make(chan struct{}, 16)}
}

func (j *blockingJob) Run(ctx context.Context, force bool) (Report, error) {
	j.mu.Lock()
	j.calls = append(j.calls, force)
	j.mu.Unlock()
	select {
	case j.started <- struct{}{}:
	default:
	}
	select {
	case <-j.release:
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
	return Report{Passes: []PassReport{{Rendered: 1}}}, j.err
}

func (j *blockingJob) Calls() []bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]bool(nil), j.calls...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func eventually(t *testing.T, timeout time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error(msg)
}

func TestRunner_CoalescesTriggers(t *testing.T) {
	job := newBlockingJob()
	r := NewRunner(job, 0, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Loop(ctx)

	r.Trigger(false)
	<-job.started

	// Three triggers during the in-flight run collapse into one follow-up,
	// upgraded to forced.
	r.Trigger(false)
	r.Trigger(true)
	r.Trigger(false)
	if !r.Status().Pending || !r.Status().Running {
		t.Errorf("status = %+v", r.Status())
	}

	job.release <- struct{}{}
	<-job.started
	job.release <- struct{}{}

	eventually(t, 2*time.Second, func() bool { return r.Status().Runs == 2 }, "follow-up run did not finish")
	time.Sleep(50 * time.Millisecond)

	calls := job.Calls()
	if len(calls) != 2 || calls[0] || !calls[1] {
		t.Errorf("calls = %v, want [false true]", calls)
	}
	st := r.Status()
	if st.Running || st.Pending || st.LastReport == nil || st.LastError != "" {
		t.Errorf("status = %+v", st)
	}
}

func TestRunner_RecordsFailure(t *testing.T) {
	job := newBlockingJob()
	job.err = errors.New("render failed")
	r := NewRunner(job, 0, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Loop(ctx)

	r.Trigger(true)
	<-job.started
	job.release <- struct{}{}

	eventually(t, 2*time.Second, func() bool { return r.Status().LastError == "render failed" }, "failure not recorded")
}

func TestRunner_Interval(t *testing.T) {
	job := newBlockingJob()
	close(job.release)
	r := NewRunner(job, 20*time.Millisecond, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Loop(ctx)

	eventually(t, 2*time.Second, func() bool { return r.Status().Runs >= 2 }, "interval did not trigger runs")
	for _, force := range job.Calls() {
		if force {
			t.Error("interval run must not be forced")
		}
	}
}

func TestRunner_StopsOnCancel(t *testing.T) {
	job := newBlockingJob()
	r := NewRunner(job, 0, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Loop(ctx) }()

	r.Trigger(false)
	<-job.started
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Loop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Loop did not stop")
	}
	if r.Status().LastError != context.Canceled.Error() {
		t.Errorf("last error = %q", r.Status().LastError)
	}
}
