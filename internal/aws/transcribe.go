package aws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"

	appTypes "github.com/embano1/transcribe-longform/internal/types"
)

const (
	minSpeakerLabels = 2
	maxSpeakerLabels = 30
)

// TranscribeAPI is the subset of the Transcribe client used by TranscribeService.
type TranscribeAPI interface {
	StartTranscriptionJob(ctx context.Context, params *transcribe.StartTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error)
	GetTranscriptionJob(ctx context.Context, params *transcribe.GetTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error)
}

// TranscribeService handles Transcribe operations
type TranscribeService struct {
	client TranscribeAPI
}

// NewTranscribeService creates a new Transcribe service
func NewTranscribeService(client TranscribeAPI) *TranscribeService {
	return &TranscribeService{client: client}
}

// JobInfo is the status of a Transcribe job.
type JobInfo struct {
	Status        types.TranscriptionJobStatus
	FailureReason string
}

// EnsureTranscriptionJob starts a transcription job unless one with the same
// name already exists, which makes resubmission after a restart a no-op.
func (t *TranscribeService) EnsureTranscriptionJob(ctx context.Context, jobName, bucket, mediaKey string, features appTypes.FeatureConfig) error {
	info, exists, err := t.GetJob(ctx, jobName)
	if err != nil {
		return fmt.Errorf("checking transcription job status: %w", err)
	}
	if exists {
		log.Printf("[submit] transcription job %q already exists with status: %s", jobName, info.Status)
		return nil
	}

	if err := t.startTranscriptionJob(ctx, jobName, bucket, mediaKey, features); err != nil {
		return fmt.Errorf("start transcription job: %w", err)
	}
	return nil
}

// GetJob returns the job's status and whether it exists at all.
func (t *TranscribeService) GetJob(ctx context.Context, jobName string) (JobInfo, bool, error) {
	out, err := t.client.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
		TranscriptionJobName: &jobName,
	})
	if err != nil {
		if isJobNotFound(err) {
			return JobInfo{}, false, nil
		}
		return JobInfo{}, false, err
	}
	if out.TranscriptionJob == nil {
		return JobInfo{}, false, nil
	}
	return JobInfo{
		Status:        out.TranscriptionJob.TranscriptionJobStatus,
		FailureReason: aws.ToString(out.TranscriptionJob.FailureReason),
	}, true, nil
}

// startTranscriptionJob starts a transcription job using the provided S3 file.
func (t *TranscribeService) startTranscriptionJob(ctx context.Context, jobName, bucket, mediaKey string, features appTypes.FeatureConfig) error {
	mediaURI := fmt.Sprintf("s3://%s/%s", bucket, mediaKey)
	input := &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: &jobName,
		LanguageCode:         types.LanguageCode(features.LanguageCode),
		MediaFormat:          mediaFormat(mediaKey),
		Media: &types.Media{
			MediaFileUri: &mediaURI,
		},
		OutputBucketName: &bucket,
	}

	if features.SpeakerDiarization {
		input.Settings = &types.Settings{
			ShowSpeakerLabels: aws.Bool(true),
			MaxSpeakerLabels:  aws.Int32(clampSpeakers(features.MaxSpeakers)),
		}
	}
	if unsupported := unsupportedFeatures(features); len(unsupported) > 0 {
		log.Printf("[submit] amazon transcribe ignores requested features: %s", strings.Join(unsupported, ", "))
	}

	_, err := t.client.StartTranscriptionJob(ctx, input)
	return err
}

func mediaFormat(key string) types.MediaFormat {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(key)), ".")
	switch ext {
	case "", "m4a", "aac":
		return types.MediaFormat("m4a")
	case "oga", "opus":
		return types.MediaFormatOgg
	default:
		return types.MediaFormat(ext)
	}
}

func clampSpeakers(n int) int32 {
	switch {
	case n < minSpeakerLabels:
		return minSpeakerLabels
	case n > maxSpeakerLabels:
		return maxSpeakerLabels
	default:
		return int32(n)
	}
}

func unsupportedFeatures(f appTypes.FeatureConfig) []string {
	var names []string
	if len(f.KeywordBoost) > 0 {
		names = append(names, "keyword_boost")
	}
	if f.AutoHighlights {
		names = append(names, "auto_highlights")
	}
	if f.AutoChapters {
		names = append(names, "auto_chapters")
	}
	if f.SentimentAnalysis {
		names = append(names, "sentiment_analysis")
	}
	if f.EntityDetection {
		names = append(names, "entity_detection")
	}
	if f.ContentSafety {
		names = append(names, "content_safety")
	}
	return names
}

func isJobNotFound(err error) bool {
	var badReq *types.BadRequestException
	if errors.As(err, &badReq) && strings.Contains(badReq.ErrorMessage(), "couldn't be found") {
		return true
	}
	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return true
	}
	return strings.Contains(err.Error(), "The requested job couldn't be found")
}
