package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/embano1/transcribe-longform/internal/job"
	"github.com/embano1/transcribe-longform/internal/merge"
	"github.com/embano1/transcribe-longform/internal/types"
	"github.com/embano1/transcribe-longform/internal/upload"
)

// Failure messages written to the store for pipeline-fatal outcomes.
const (
	msgNoSegments           = "no segments"
	msgNoSuccessfulSegments = "no successful segments"
)

// Store is the state store the pipeline reads its input from and reports to.
type Store interface {
	BeginRun(ctx context.Context, recordID int64) error
	FileMetadata(ctx context.Context, recordID int64) (types.SourceFile, error)
	UpsertProgress(ctx context.Context, recordID int64, percent int, status types.Phase) error
	WriteFinalResult(ctx context.Context, recordID int64, merged *types.MergedTranscript, errMsg string) error
}

// Planner splits a source file into segments.
type Planner interface {
	Plan(ctx context.Context, src types.SourceFile) (*types.SegmentPlan, error)
}

// Provider is a transcription backend.
type Provider interface {
	upload.Uploader
	job.Starter
	job.StatusChecker
}

// Orchestrator runs the segment, upload, submit, poll and merge pipeline for
// one record at a time per Run call. Runs of different records are
// independent and may execute concurrently. The orchestrator keeps the state
// of the latest run of each record it has seen, so memory grows with the
// number of distinct records, not with the number of runs.
type Orchestrator struct {
	cfg      types.AppConfig
	store    Store
	planner  Planner
	provider Provider

	uploadOpts []upload.Option
	pollOpts   []job.PollerOption

	mu   sync.Mutex
	runs map[int64]*tracker // latest run per record
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithUploadOptions passes options to every run's upload manager.
func WithUploadOptions(opts ...upload.Option) Option {
	return func(o *Orchestrator) {
		o.uploadOpts = append(o.uploadOpts, opts...)
	}
}

// WithPollerOptions passes options to every run's poller.
func WithPollerOptions(opts ...job.PollerOption) Option {
	return func(o *Orchestrator) {
		o.pollOpts = append(o.pollOpts, opts...)
	}
}

// New creates an Orchestrator.
func New(cfg types.AppConfig, store Store, planner Planner, provider Provider, opts ...Option) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	o := &Orchestrator{
		cfg:      cfg,
		store:    store,
		planner:  planner,
		provider: provider,
		runs:     make(map[int64]*tracker),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the live state of the latest run of a record.
func (o *Orchestrator) State(recordID int64) (types.PipelineState, bool) {
	o.mu.Lock()
	t, ok := o.runs[recordID]
	o.mu.Unlock()
	if !ok {
		return types.PipelineState{}, false
	}
	return t.snapshot(), true
}

// Run transcribes the record's source file. Individual segment failures are
// tolerated: the merged transcript covers every segment that succeeded.
// Run fails only when the source is unusable, no segment could be produced or
// no segment was transcribed; the failure is written to the store before
// returning.
func (o *Orchestrator) Run(ctx context.Context, recordID int64) (*types.MergedTranscript, error) {
	if o.cfg.PipelineTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.PipelineTimeout)
		defer cancel()
	}

	tr := newTracker(ctx, recordID, o.store)
	o.mu.Lock()
	o.runs[recordID] = tr
	o.mu.Unlock()

	start := time.Now()
	if err := o.store.BeginRun(ctx, recordID); err != nil {
		return nil, o.fail(ctx, tr, fmt.Sprintf("reset record: %v", err), err)
	}
	tr.phase(types.PhaseValidating, percentValidating)
	src, err := o.store.FileMetadata(ctx, recordID)
	if err != nil {
		return nil, o.fail(ctx, tr, fmt.Sprintf("load file metadata: %v", err), err)
	}
	log.Printf("[pipeline] record %d: %s (%d bytes)", recordID, src.Path, src.Size)

	tr.phase(types.PhaseSegmenting, percentSegmenting)
	plan, err := o.planner.Plan(ctx, src)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, types.ErrNoSegments) {
			msg = msgNoSegments
		}
		return nil, o.fail(ctx, tr, msg, err)
	}
	defer func() {
		if err := plan.Cleanup(); err != nil {
			log.Printf("[pipeline] record %d: cleanup segments: %v", recordID, err)
		}
	}()

	tr.initSegments(plan)
	tr.phase(types.PhaseTranscribing, transcribeStart)
	partials := o.transcribe(ctx, plan, tr)

	tr.phase(types.PhaseMerging, percentMerging)
	merged, err := merge.Merge(plan, partials)
	if err != nil {
		return nil, o.fail(ctx, tr, msgNoSuccessfulSegments, err)
	}

	msg := ""
	if len(merged.FailedSegments) > 0 {
		msg = fmt.Sprintf("segments %v failed", merged.FailedSegments)
	}
	if err := o.store.WriteFinalResult(context.WithoutCancel(ctx), recordID, merged, msg); err != nil {
		log.Printf("[pipeline] record %d: store result: %v", recordID, err)
	}
	tr.finish(types.PhaseCompleted, msg)

	log.Printf("[pipeline] record %d: completed in %s, %d/%d segments",
		recordID, time.Since(start).Round(time.Second), merged.SucceededSegments, merged.SegmentCount)
	return merged, nil
}

// transcribe runs every materialized segment through upload, submit and poll
// on a bounded worker pool and returns the partial transcripts by segment
// index. It returns once every segment is terminal.
func (o *Orchestrator) transcribe(ctx context.Context, plan *types.SegmentPlan, tr *tracker) map[int]*types.PartialTranscript {
	uploadOpts := append([]upload.Option{
		upload.WithAttemptHook(func(index, attempt, _ int) { tr.uploadAttempt(index, attempt) }),
	}, o.uploadOpts...)
	pollOpts := append([]job.PollerOption{
		job.WithProgressHook(tr.polled),
	}, o.pollOpts...)

	uploader := upload.NewManager(o.provider, o.cfg.Upload, uploadOpts...)
	submitter := job.NewSubmitter(o.provider, o.cfg.Features)
	poller := job.NewPoller(o.provider, o.cfg.Poll, pollOpts...)

	var (
		mu       sync.Mutex
		partials = make(map[int]*types.PartialTranscript)
	)

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for _, seg := range plan.Materialized() {
		seg := seg
		g.Go(func() error {
			partial, err := o.transcribeSegment(ctx, seg, uploader, submitter, poller, tr)
			if err != nil {
				log.Printf("[pipeline] segment %d: %v", seg.Index, err)
				tr.segmentFailed(seg.Index, err)
				return nil
			}
			mu.Lock()
			partials[seg.Index] = partial
			mu.Unlock()
			return nil
		})
	}
	// segment failures are isolated, workers never return an error
	_ = g.Wait()

	return partials
}

func (o *Orchestrator) transcribeSegment(ctx context.Context, seg types.Segment, uploader *upload.Manager, submitter *job.Submitter, poller *job.Poller, tr *tracker) (*types.PartialTranscript, error) {
	handle, err := uploader.Upload(ctx, seg)
	if err != nil {
		return nil, err
	}

	j, err := submitter.Submit(ctx, handle)
	if err != nil {
		return nil, err
	}
	tr.submitted(j)

	return poller.Poll(ctx, j)
}

// fail writes a failed status and returns err.
func (o *Orchestrator) fail(ctx context.Context, tr *tracker, msg string, err error) error {
	log.Printf("[pipeline] record %d failed: %s", tr.recordID, msg)
	if serr := o.store.WriteFinalResult(context.WithoutCancel(ctx), tr.recordID, nil, msg); serr != nil {
		log.Printf("[pipeline] record %d: store failure: %v", tr.recordID, serr)
	}
	tr.finish(types.PhaseFailed, msg)
	return err
}
