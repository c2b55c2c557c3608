package job

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/embano1/transcribe-longform/internal/types"
)

const (
	// maxPendingProgress caps the estimate until completion is observed.
	maxPendingProgress = 99

	queuedProgressBase     = 5
	processingProgressBase = 20
)

// StatusChecker reads a provider job's status.
type StatusChecker interface {
	Status(ctx context.Context, jobID string) (types.JobStatus, error)
}

// ProgressFunc receives a snapshot of the job after every poll.
type ProgressFunc func(job types.TranscriptionJob)

// Poller waits for provider jobs to reach a terminal state.
type Poller struct {
	checker    StatusChecker
	cfg        types.PollConfig
	onProgress ProgressFunc
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithProgressHook registers a callback fired after every poll.
func WithProgressHook(fn ProgressFunc) PollerOption {
	return func(p *Poller) {
		p.onProgress = fn
	}
}

// WithClock replaces the time source and the wait between polls.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) PollerOption {
	return func(p *Poller) {
		p.now = now
		p.sleep = sleep
	}
}

// NewPoller creates a Poller.
func NewPoller(checker StatusChecker, cfg types.PollConfig, opts ...PollerOption) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.SlowInterval <= 0 {
		cfg.SlowInterval = 2 * cfg.Interval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}

	p := &Poller{
		checker: checker,
		cfg:     cfg,
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll blocks until job is terminal and returns its transcript. A failed job
// returns *types.JobFailedError; a job exceeding its wait budget or the
// context deadline returns *types.JobTimedOutError. Polling a job that is
// already terminal returns the stored outcome without contacting the provider.
func (p *Poller) Poll(ctx context.Context, job *types.TranscriptionJob) (*types.PartialTranscript, error) {
	if job.State.IsTerminal() {
		return terminalOutcome(job)
	}

	start := job.SubmittedAt
	if start.IsZero() {
		start = p.now()
		job.SubmittedAt = start
	}

	for {
		elapsed := p.now().Sub(start)
		if p.cfg.MaxWait > 0 && elapsed >= p.cfg.MaxWait {
			return p.timeout(job, elapsed)
		}

		status, err := p.checker.Status(ctx, job.ID)
		if err != nil {
			if ctx.Err() != nil {
				return p.timeout(job, p.now().Sub(start))
			}
			if types.Classify(err) == types.KindFatal {
				return p.fail(job, err.Error(), err)
			}

			terr := &types.PollTransientError{JobID: job.ID, Err: err}
			log.Printf("[poll] segment %d: %v, retrying in %s", job.SegmentIndex, terr, p.cfg.RetryDelay)
			if err := p.wait(ctx, start, p.cfg.RetryDelay); err != nil {
				return p.timeout(job, p.now().Sub(start))
			}
			continue
		}

		job.Polls++
		if err := p.apply(job, status); err != nil {
			log.Printf("[poll] segment %d: %v", job.SegmentIndex, err)
		}

		switch job.State {
		case types.JobStateCompleted:
			job.Progress = 100
			p.emit(job)
			log.Printf("[poll] segment %d: job %s completed after %s", job.SegmentIndex, job.ID, elapsed.Round(time.Second))
			return job.Result, nil
		case types.JobStateFailed:
			p.emit(job)
			log.Printf("[poll] segment %d: job %s failed: %s", job.SegmentIndex, job.ID, job.ErrorMessage)
			return nil, &types.JobFailedError{SegmentIndex: job.SegmentIndex, JobID: job.ID, Message: job.ErrorMessage}
		}

		job.Progress = EstimateProgress(job.Progress, job.State, job.Polls)
		p.emit(job)

		interval := p.Interval(elapsed)
		if job.Polls%10 == 1 {
			log.Printf("[poll] segment %d: job %s %s (%d%%, elapsed %s, next check in %s)",
				job.SegmentIndex, job.ID, job.State, job.Progress, elapsed.Round(time.Second), interval)
		}
		if err := p.wait(ctx, start, interval); err != nil {
			return p.timeout(job, p.now().Sub(start))
		}
	}
}

// Interval returns the polling interval for a job that has been running for
// elapsed. Long-running jobs are polled less often.
func (p *Poller) Interval(elapsed time.Duration) time.Duration {
	if p.cfg.SlowAfter > 0 && elapsed >= p.cfg.SlowAfter {
		return p.cfg.SlowInterval
	}
	return p.cfg.Interval
}

// apply moves job to the reported state. Invalid transitions are ignored.
func (p *Poller) apply(job *types.TranscriptionJob, status types.JobStatus) error {
	if !job.State.CanTransition(status.State) {
		return fmt.Errorf("ignoring invalid transition %s -> %s for job %s", job.State, status.State, job.ID)
	}

	switch status.State {
	case types.JobStateCompleted:
		if status.Partial == nil {
			job.State = types.JobStateFailed
			job.ErrorMessage = "provider reported completion without a transcript"
			return nil
		}
		partial := *status.Partial
		partial.SegmentIndex = job.SegmentIndex
		partial.JobID = job.ID
		job.Result = &partial
	case types.JobStateFailed:
		job.ErrorMessage = status.ErrorMessage
		if job.ErrorMessage == "" {
			job.ErrorMessage = "unknown provider error"
		}
	}
	job.State = status.State
	return nil
}

func (p *Poller) fail(job *types.TranscriptionJob, msg string, err error) (*types.PartialTranscript, error) {
	job.State = types.JobStateFailed
	job.ErrorMessage = msg
	p.emit(job)
	log.Printf("[poll] segment %d: job %s failed: %s", job.SegmentIndex, job.ID, msg)
	return nil, &types.JobFailedError{SegmentIndex: job.SegmentIndex, JobID: job.ID, Message: msg, Err: err}
}

func (p *Poller) timeout(job *types.TranscriptionJob, waited time.Duration) (*types.PartialTranscript, error) {
	job.State = types.JobStateTimedOut
	job.ErrorMessage = fmt.Sprintf("no terminal state after %s", waited.Round(time.Second))
	p.emit(job)
	log.Printf("[poll] segment %d: job %s timed out after %s", job.SegmentIndex, job.ID, waited.Round(time.Second))
	return nil, &types.JobTimedOutError{SegmentIndex: job.SegmentIndex, JobID: job.ID, Waited: waited}
}

// wait sleeps for d, but never past the job's wait budget.
func (p *Poller) wait(ctx context.Context, start time.Time, d time.Duration) error {
	if p.cfg.MaxWait > 0 {
		if remaining := p.cfg.MaxWait - p.now().Sub(start); remaining < d {
			d = remaining
		}
	}
	return p.sleep(ctx, d)
}

func (p *Poller) emit(job *types.TranscriptionJob) {
	if p.onProgress != nil {
		p.onProgress(*job)
	}
}

func terminalOutcome(job *types.TranscriptionJob) (*types.PartialTranscript, error) {
	switch job.State {
	case types.JobStateCompleted:
		return job.Result, nil
	case types.JobStateFailed:
		return nil, &types.JobFailedError{SegmentIndex: job.SegmentIndex, JobID: job.ID, Message: job.ErrorMessage}
	default:
		return nil, &types.JobTimedOutError{SegmentIndex: job.SegmentIndex, JobID: job.ID}
	}
}

// EstimateProgress returns a non-decreasing progress estimate for a job that
// has been polled polls times. Only a completed job reaches 100.
func EstimateProgress(prev int, state types.JobState, polls int) int {
	var est int
	switch state {
	case types.JobStateCompleted:
		return 100
	case types.JobStateQueued:
		est = queuedProgressBase + polls
	case types.JobStateProcessing:
		est = processingProgressBase + polls
	default:
		return prev
	}
	if est > maxPendingProgress {
		est = maxPendingProgress
	}
	if est < prev {
		return prev
	}
	return est
}

// IsTimeout reports whether err means a job ran out of time.
func IsTimeout(err error) bool {
	var terr *types.JobTimedOutError
	return errors.As(err, &terr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
