package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/embano1/transcribe-longform/internal/types"
)

// Overall progress assigned to each phase. Transcription fills the range
// between transcribeStart and transcribeEnd.
const (
	percentValidating = 5
	percentSegmenting = 10
	transcribeStart   = 10
	transcribeEnd     = 85
	percentMerging    = 90
	percentDone       = 100
)

// progressWriter persists overall progress.
type progressWriter interface {
	UpsertProgress(ctx context.Context, recordID int64, percent int, status types.Phase) error
}

// tracker holds the live state of one run and mirrors it to the store.
// The reported percentage never decreases.
type tracker struct {
	recordID int64
	store    progressWriter
	ctx      context.Context

	mu    sync.Mutex
	state types.PipelineState
}

func newTracker(ctx context.Context, recordID int64, store progressWriter) *tracker {
	return &tracker{
		recordID: recordID,
		store:    store,
		ctx:      context.WithoutCancel(ctx),
		state: types.PipelineState{
			RecordID:  recordID,
			UpdatedAt: time.Now(),
		},
	}
}

// phase enters a new phase at the given percentage.
func (t *tracker) phase(p types.Phase, percent int) {
	t.update(func(s *types.PipelineState) {
		s.Phase = p
		s.Percent = percent
	})
}

// finish marks the run terminal.
func (t *tracker) finish(p types.Phase, msg string) {
	t.update(func(s *types.PipelineState) {
		s.Phase = p
		s.Message = msg
		if p == types.PhaseCompleted {
			s.Percent = percentDone
		}
	})
}

func (t *tracker) initSegments(plan *types.SegmentPlan) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Segments = make([]types.SegmentStatus, len(plan.Segments))
	for i, seg := range plan.Segments {
		st := types.SegmentStatus{Index: seg.Index, Stage: types.StagePending}
		if !seg.Materialized {
			st.Stage = types.StageSkipped
			st.Progress = 100
			if seg.Err != nil {
				st.Error = seg.Err.Error()
			}
		}
		t.state.Segments[i] = st
	}
}

func (t *tracker) uploadAttempt(index, attempt int) {
	t.segment(index, func(s *types.SegmentStatus) {
		s.Stage = types.StageUploading
		s.Attempt = attempt
		s.Progress = max(s.Progress, 5)
	})
}

func (t *tracker) submitted(j *types.TranscriptionJob) {
	t.segment(j.SegmentIndex, func(s *types.SegmentStatus) {
		s.Stage = types.StageSubmitted
		s.JobID = j.ID
		s.JobState = j.State
		s.Progress = max(s.Progress, 10)
	})
}

func (t *tracker) polled(j types.TranscriptionJob) {
	t.segment(j.SegmentIndex, func(s *types.SegmentStatus) {
		s.JobState = j.State
		switch j.State {
		case types.JobStateCompleted:
			s.Stage = types.StageCompleted
			s.Progress = 100
		case types.JobStateFailed:
			s.Stage = types.StageFailed
			s.Progress = 100
			s.Error = j.ErrorMessage
		case types.JobStateTimedOut:
			s.Stage = types.StageTimedOut
			s.Progress = 100
			s.Error = j.ErrorMessage
		default:
			s.Stage = types.StagePolling
			s.Progress = max(s.Progress, 10+j.Progress*9/10)
		}
	})
}

// segmentFailed records a failure before or outside polling.
func (t *tracker) segmentFailed(index int, err error) {
	t.segment(index, func(s *types.SegmentStatus) {
		if s.Stage.IsTerminal() {
			return
		}
		s.Stage = types.StageFailed
		s.Progress = 100
		s.Error = err.Error()
	})
}

func (t *tracker) segment(index int, fn func(*types.SegmentStatus)) {
	t.update(func(s *types.PipelineState) {
		for i := range s.Segments {
			if s.Segments[i].Index == index {
				fn(&s.Segments[i])
				break
			}
		}
		if s.Phase == types.PhaseTranscribing {
			s.Percent = transcribePercent(s.Segments)
		}
	})
}

// update applies fn, clamps the percentage to be non-decreasing and pushes
// the result to the store. The write happens under the lock so the store sees
// updates in order.
func (t *tracker) update(fn func(*types.PipelineState)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.state.Percent
	fn(&t.state)
	if t.state.Percent < prev {
		t.state.Percent = prev
	}
	t.state.UpdatedAt = time.Now()

	if t.state.Phase.IsTerminal() {
		return
	}
	if err := t.store.UpsertProgress(t.ctx, t.recordID, t.state.Percent, t.state.Phase); err != nil {
		log.Printf("[pipeline] record %d: store progress: %v", t.recordID, err)
	}
}

// snapshot returns a copy of the current state.
func (t *tracker) snapshot() types.PipelineState {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state
	s.Segments = append([]types.SegmentStatus(nil), t.state.Segments...)
	return s
}

func transcribePercent(segments []types.SegmentStatus) int {
	if len(segments) == 0 {
		return transcribeStart
	}
	var sum int
	for _, s := range segments {
		sum += s.Progress
	}
	mean := sum / len(segments)
	return transcribeStart + mean*(transcribeEnd-transcribeStart)/100
}
