package types

import (
	"fmt"
	"os"
	"time"
)

// SourceFile is the recording a run transcribes. Duration is zero when unknown.
type SourceFile struct {
	Path     string
	Size     int64
	Duration time.Duration
}

// PlannedSegment is one entry of a segment plan.
type PlannedSegment struct {
	Index    int
	Start    time.Duration
	Duration time.Duration
}

// End returns the exclusive end of the planned range.
func (p PlannedSegment) End() time.Duration {
	return p.Start + p.Duration
}

// String returns a human-readable representation for logging.
func (p PlannedSegment) String() string {
	return fmt.Sprintf("segment %d: %s-%s", p.Index, p.Start, p.End())
}

// Segment is a materialized audio slice together with its plan entry.
// Segments that failed to materialize keep their plan entry so that
// downstream offsets stay correct.
type Segment struct {
	PlannedSegment
	Path         string
	Size         int64
	Materialized bool
	Err          error
}

// UploadHandle is the provider's reference to an uploaded segment.
type UploadHandle struct {
	SegmentIndex int
	Ref          string
}

// JobState is the lifecycle state of a provider transcription job.
type JobState string

const (
	JobStateQueued     JobState = "queued"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
	JobStateTimedOut   JobState = "timed_out"
)

// IsTerminal reports whether no further transition can occur from s.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateTimedOut
}

// CanTransition enforces the job state machine edges.
func (s JobState) CanTransition(to JobState) bool {
	if s == to {
		return !s.IsTerminal()
	}
	switch s {
	case JobStateQueued:
		return to == JobStateProcessing || to == JobStateCompleted || to == JobStateFailed || to == JobStateTimedOut
	case JobStateProcessing:
		return to == JobStateCompleted || to == JobStateFailed || to == JobStateTimedOut
	default:
		return false
	}
}

// TranscriptionJob tracks one provider job for one segment.
type TranscriptionJob struct {
	SegmentIndex int
	ID           string
	State        JobState
	Progress     int
	Polls        int
	Result       *PartialTranscript
	ErrorMessage string
	SubmittedAt  time.Time
}

// JobStatus is one answer of the provider's status endpoint. Partial is only
// set when State is JobStateCompleted.
type JobStatus struct {
	State        JobState
	Partial      *PartialTranscript
	ErrorMessage string
}

// Phase is the coarse stage of a pipeline run.
type Phase string

const (
	PhaseValidating   Phase = "validating"
	PhaseSegmenting   Phase = "segmenting"
	PhaseTranscribing Phase = "transcribing"
	PhaseMerging      Phase = "merging"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
)

// IsTerminal reports whether the run is over.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// SegmentStage is the stage of one segment inside a run.
type SegmentStage string

const (
	StagePending   SegmentStage = "pending"
	StageUploading SegmentStage = "uploading"
	StageSubmitted SegmentStage = "submitted"
	StagePolling   SegmentStage = "polling"
	StageCompleted SegmentStage = "completed"
	StageFailed    SegmentStage = "failed"
	StageTimedOut  SegmentStage = "timed_out"
	StageSkipped   SegmentStage = "skipped"
)

// IsTerminal reports whether the segment reached a final outcome.
func (s SegmentStage) IsTerminal() bool {
	switch s {
	case StageCompleted, StageFailed, StageTimedOut, StageSkipped:
		return true
	default:
		return false
	}
}

// SegmentStatus is the externally visible state of one segment.
type SegmentStatus struct {
	Index    int          `json:"index"`
	Stage    SegmentStage `json:"stage"`
	Attempt  int          `json:"attempt,omitempty"`
	JobID    string       `json:"job_id,omitempty"`
	JobState JobState     `json:"job_state,omitempty"`
	Progress int          `json:"progress"`
	Error    string       `json:"error,omitempty"`
}

// PipelineState is a snapshot of a run for observers.
type PipelineState struct {
	RecordID  int64           `json:"record_id"`
	Phase     Phase           `json:"phase"`
	Percent   int             `json:"percent"`
	Segments  []SegmentStatus `json:"segments"`
	Message   string          `json:"message,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SegmentPlan is the ordered, contiguous split of a source file. Segments
// cover [0, TotalDuration) without gaps or overlaps.
type SegmentPlan struct {
	Source        SourceFile
	Segments      []Segment
	TotalDuration time.Duration
	// Degraded is set when the duration could not be probed and a nominal
	// segment duration was used instead.
	Degraded bool
	// WorkDir holds the materialized slices. Empty for single-segment plans.
	WorkDir string
}

// Materialized returns the segments that have audio to upload.
func (p *SegmentPlan) Materialized() []Segment {
	out := make([]Segment, 0, len(p.Segments))
	for _, s := range p.Segments {
		if s.Materialized {
			out = append(out, s)
		}
	}
	return out
}

// Cleanup removes the slices created for this plan. The source file is
// never removed.
func (p *SegmentPlan) Cleanup() error {
	if p == nil || p.WorkDir == "" {
		return nil
	}
	if err := os.RemoveAll(p.WorkDir); err != nil {
		return err
	}
	p.WorkDir = ""
	return nil
}
