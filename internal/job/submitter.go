package job

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/embano1/transcribe-longform/internal/types"
)

// Starter creates provider transcription jobs.
type Starter interface {
	Submit(ctx context.Context, handle types.UploadHandle, features types.FeatureConfig) (string, error)
}

// Submitter requests one job per uploaded segment, always with the same
// feature set so segment results are comparable.
type Submitter struct {
	starter  Starter
	features types.FeatureConfig
	now      func() time.Time
}

// NewSubmitter creates a Submitter bound to the run's feature set.
func NewSubmitter(starter Starter, features types.FeatureConfig) *Submitter {
	return &Submitter{starter: starter, features: features, now: time.Now}
}

// Submit starts a job for the uploaded segment.
func (s *Submitter) Submit(ctx context.Context, handle types.UploadHandle) (*types.TranscriptionJob, error) {
	id, err := s.starter.Submit(ctx, handle, s.features)
	if err != nil {
		return nil, &types.SubmissionError{SegmentIndex: handle.SegmentIndex, Err: err}
	}
	if id == "" {
		return nil, &types.SubmissionError{SegmentIndex: handle.SegmentIndex, Err: errors.New("provider returned an empty job id")}
	}

	log.Printf("[submit] segment %d: job %s started", handle.SegmentIndex, id)
	return &types.TranscriptionJob{
		SegmentIndex: handle.SegmentIndex,
		ID:           id,
		State:        types.JobStateQueued,
		SubmittedAt:  s.now(),
	}, nil
}
