package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrNoSegments is returned when segmentation produced nothing to transcribe.
	ErrNoSegments = errors.New("no segments could be materialized")
	// ErrNoSuccessfulSegments is returned when every segment failed.
	ErrNoSuccessfulSegments = errors.New("no successful segments")
)

// ValidationError reports an unusable source file.
type ValidationError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid source %q: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid source %q: %s", e.Path, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ErrorKind classifies a failure for retry decisions.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindFatal     ErrorKind = "fatal"
)

// UploadError is returned once an upload gives up.
type UploadError struct {
	SegmentIndex int
	Kind         ErrorKind
	Attempts     int
	Err          error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload segment %d failed (%s) after %d attempt(s): %v", e.SegmentIndex, e.Kind, e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// SubmissionError is returned when the provider refused to create a job.
type SubmissionError struct {
	SegmentIndex int
	Err          error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit segment %d: %v", e.SegmentIndex, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// PollTransientError wraps a status check failure that will be retried.
type PollTransientError struct {
	JobID string
	Err   error
}

func (e *PollTransientError) Error() string {
	return fmt.Sprintf("status check for job %s: %v", e.JobID, e.Err)
}

func (e *PollTransientError) Unwrap() error { return e.Err }

// JobFailedError carries the provider's failure message for a job.
type JobFailedError struct {
	SegmentIndex int
	JobID        string
	Message      string
	Err          error
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s for segment %d failed: %s", e.JobID, e.SegmentIndex, e.Message)
}

func (e *JobFailedError) Unwrap() error { return e.Err }

// JobTimedOutError is returned when a job did not finish within its wait budget.
type JobTimedOutError struct {
	SegmentIndex int
	JobID        string
	Waited       time.Duration
}

func (e *JobTimedOutError) Error() string {
	return fmt.Sprintf("job %s for segment %d timed out after %s", e.JobID, e.SegmentIndex, e.Waited.Round(time.Second))
}

// MergeError is returned when there is nothing to merge.
type MergeError struct {
	Segments int
	Err      error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge %d segment(s): %v", e.Segments, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

// StatusCoder is implemented by errors that carry an HTTP status, such as
// smithy-go's ResponseError and the AssemblyAI client's StatusError.
type StatusCoder interface {
	HTTPStatusCode() int
}

// Classify decides whether err is worth retrying. Timeouts, network errors,
// throttling and server errors are transient; other 4xx responses and
// cancellation are fatal.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return KindFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatusCode()
		switch {
		case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
			return KindTransient
		case code >= 400 && code < 500:
			return KindFatal
		default:
			return KindTransient
		}
	}
	return KindTransient
}
