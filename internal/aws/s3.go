package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/embano1/transcribe-longform/internal/types"
)

// minPartSize is the smallest part S3 accepts for all but the last part of a
// multipart upload.
const minPartSize = 5 << 20

// S3API is the subset of the S3 client used by S3Service.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// S3Service handles S3 operations
type S3Service struct {
	client S3API
}

// NewS3Service creates a new S3 service
func NewS3Service(client S3API) *S3Service {
	return &S3Service{client: client}
}

// CheckObjectExists uses HeadObject to determine if the object already exists.
func (s *S3Service) CheckObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UploadFile uploads the given file to the specified bucket and key as a
// multipart upload of partSize parts. partSize is raised to the S3 minimum.
// A failed upload is aborted so no orphaned parts are left behind.
func (s *S3Service) UploadFile(ctx context.Context, bucket, key, filePath string, partSize int) error {
	if partSize < minPartSize {
		partSize = minPartSize
	}

	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("create multipart upload: %w", err)
	}
	uploadID := created.UploadId

	parts, err := s.uploadParts(ctx, f, bucket, key, uploadID, partSize)
	if err != nil {
		// the upload context may be gone already
		if _, aerr := s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   &bucket,
			Key:      &key,
			UploadId: uploadID,
		}); aerr != nil {
			log.Printf("[upload] abort multipart upload %s: %v", key, aerr)
		}
		return err
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          &bucket,
		Key:             &key,
		UploadId:        uploadID,
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return fmt.Errorf("complete multipart upload: %w", err)
	}
	return nil
}

func (s *S3Service) uploadParts(ctx context.Context, r io.Reader, bucket, key string, uploadID *string, partSize int) ([]s3types.CompletedPart, error) {
	var parts []s3types.CompletedPart
	buf := make([]byte, partSize)
	for number := int32(1); ; number++ {
		n, err := io.ReadFull(r, buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("read part %d: %w", number, err)
		}

		out, uerr := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        &bucket,
			Key:           &key,
			UploadId:      uploadID,
			PartNumber:    aws.Int32(number),
			Body:          bytes.NewReader(buf[:n]),
			ContentLength: aws.Int64(int64(n)),
		})
		if uerr != nil {
			return nil, fmt.Errorf("upload part %d: %w", number, uerr)
		}
		parts = append(parts, s3types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(number)})

		if errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("upload %s: file is empty", key)
	}
	return parts, nil
}

// GetTranscriptionResult downloads and decodes the transcription result JSON.
func (s *S3Service) GetTranscriptionResult(ctx context.Context, bucket, key string) (*types.TranscriptionResult, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	var result types.TranscriptionResult
	if err := json.NewDecoder(out.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode transcription result: %w", err)
	}
	return &result, nil
}

// HeadBucket checks if bucket exists and is accessible
func (s *S3Service) HeadBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &bucket,
	})
	return err
}

// isNotFoundError determines if an error from AWS indicates a "not found" condition.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var (
		notFound *s3types.NotFound
		noKey    *s3types.NoSuchKey
		respErr  *smithyhttp.ResponseError
		apiErr   smithy.APIError
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &noKey):
		return true
	case errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404:
		return true
	case errors.As(err, &apiErr):
		if code := apiErr.ErrorCode(); code == "NotFoundException" || code == "NotFound" || code == "404" {
			return true
		}
	}
	return strings.Contains(err.Error(), "NotFound:")
}
