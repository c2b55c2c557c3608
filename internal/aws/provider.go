package aws

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"

	appTypes "github.com/embano1/transcribe-longform/internal/types"
)

// Provider transcribes segments with Amazon Transcribe, staging the audio in
// S3. Objects and jobs of one run share the run ID, so a rerun with the same
// ID reuses what already exists.
type Provider struct {
	s3         *S3Service
	transcribe *TranscribeService
	bucket     string
	runID      string
	force      bool
}

// NewProvider creates an AWS provider for one run. With force set, existing
// segment objects are uploaded again.
func NewProvider(s3 *S3Service, transcribe *TranscribeService, bucket, runID string, force bool) *Provider {
	return &Provider{
		s3:         s3,
		transcribe: transcribe,
		bucket:     bucket,
		runID:      runID,
		force:      force,
	}
}

// ObjectKey returns the S3 key of a segment.
func (p *Provider) ObjectKey(seg appTypes.Segment) string {
	return fmt.Sprintf("%s/segment_%03d%s", p.runID, seg.Index, filepath.Ext(seg.Path))
}

// JobName returns the Transcribe job name of a segment.
func (p *Provider) JobName(segmentIndex int) string {
	return fmt.Sprintf("%s-seg%03d", p.runID, segmentIndex)
}

// Upload stores the segment in the bucket.
func (p *Provider) Upload(ctx context.Context, seg appTypes.Segment, chunkSize int) (appTypes.UploadHandle, error) {
	key := p.ObjectKey(seg)
	handle := appTypes.UploadHandle{SegmentIndex: seg.Index, Ref: key}

	if !p.force {
		exists, err := p.s3.CheckObjectExists(ctx, p.bucket, key)
		if err != nil {
			return appTypes.UploadHandle{}, fmt.Errorf("check object: %w", err)
		}
		if exists {
			log.Printf("[upload] segment %d: s3://%s/%s already exists, skipping upload", seg.Index, p.bucket, key)
			return handle, nil
		}
	}

	if err := p.s3.UploadFile(ctx, p.bucket, key, seg.Path, chunkSize); err != nil {
		return appTypes.UploadHandle{}, err
	}
	return handle, nil
}

// Submit starts the Transcribe job for an uploaded segment.
func (p *Provider) Submit(ctx context.Context, handle appTypes.UploadHandle, features appTypes.FeatureConfig) (string, error) {
	jobName := p.JobName(handle.SegmentIndex)
	if err := p.transcribe.EnsureTranscriptionJob(ctx, jobName, p.bucket, handle.Ref, features); err != nil {
		return "", err
	}
	return jobName, nil
}

// Status reports the job state and, once completed, the parsed transcript.
func (p *Provider) Status(ctx context.Context, jobID string) (appTypes.JobStatus, error) {
	info, exists, err := p.transcribe.GetJob(ctx, jobID)
	if err != nil {
		return appTypes.JobStatus{}, err
	}
	if !exists {
		return appTypes.JobStatus{State: appTypes.JobStateFailed, ErrorMessage: "transcription job not found"}, nil
	}

	switch info.Status {
	case types.TranscriptionJobStatusQueued:
		return appTypes.JobStatus{State: appTypes.JobStateQueued}, nil
	case types.TranscriptionJobStatusInProgress:
		return appTypes.JobStatus{State: appTypes.JobStateProcessing}, nil
	case types.TranscriptionJobStatusFailed:
		return appTypes.JobStatus{State: appTypes.JobStateFailed, ErrorMessage: info.FailureReason}, nil
	case types.TranscriptionJobStatusCompleted:
		result, err := p.s3.GetTranscriptionResult(ctx, p.bucket, jobID+".json")
		if err != nil {
			return appTypes.JobStatus{}, fmt.Errorf("fetch transcript: %w", err)
		}
		partial, err := ToPartialTranscript(result)
		if err != nil {
			return appTypes.JobStatus{State: appTypes.JobStateFailed, ErrorMessage: err.Error()}, nil
		}
		partial.JobID = jobID
		return appTypes.JobStatus{State: appTypes.JobStateCompleted, Partial: partial}, nil
	default:
		return appTypes.JobStatus{}, fmt.Errorf("unknown transcription job status %q", info.Status)
	}
}

// CheckBucket verifies the staging bucket is reachable.
func (p *Provider) CheckBucket(ctx context.Context) error {
	if err := p.s3.HeadBucket(ctx, p.bucket); err != nil {
		return fmt.Errorf("bucket %q: %w", p.bucket, err)
	}
	return nil
}
