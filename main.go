// main.go
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/google/uuid"

	"github.com/embano1/transcribe-longform/internal/api"
	"github.com/embano1/transcribe-longform/internal/assemblyai"
	"github.com/embano1/transcribe-longform/internal/aws"
	"github.com/embano1/transcribe-longform/internal/config"
	"github.com/embano1/transcribe-longform/internal/formatting"
	"github.com/embano1/transcribe-longform/internal/media"
	"github.com/embano1/transcribe-longform/internal/pipeline"
	"github.com/embano1/transcribe-longform/internal/segment"
	"github.com/embano1/transcribe-longform/internal/store"
	"github.com/embano1/transcribe-longform/internal/types"
)

func main() {
	cfg, err := config.New(os.Args[1:])
	if err != nil {
		if errors.Is(err, config.ErrUsage) {
			os.Exit(2)
		}
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Transcription failed: %v", err)
	}
}

func run(ctx context.Context, cfg *types.AppConfig) error {
	db, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	recordID := cfg.RecordID
	if recordID == 0 {
		recordID, err = createRecord(ctx, db, cfg.InputFilePath)
		if err != nil {
			return err
		}
		log.Printf("Created record %d for %q", recordID, cfg.InputFilePath)
	}

	src, err := db.FileMetadata(ctx, recordID)
	if err != nil {
		return fmt.Errorf("load record %d: %w", recordID, err)
	}

	provider, err := newProvider(ctx, cfg, src)
	if err != nil {
		return err
	}

	ffmpeg := media.NewFFmpeg(cfg.Segment.FFmpegPath, cfg.Segment.FFprobePath, nil)
	orchestrator := pipeline.New(*cfg, db, segment.New(cfg.Segment, ffmpeg), provider)

	if cfg.ListenAddr != "" {
		srv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           api.NewRouter(db, orchestrator, cfg.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("Status API listening on %s", cfg.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Status API stopped: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	merged, err := orchestrator.Run(ctx, recordID)
	if err != nil {
		return err
	}

	if err := writeOutput(cfg.OutputFilePath, merged); err != nil {
		return err
	}
	log.Printf("Transcript saved to %q (%d words, %d/%d segments)",
		cfg.OutputFilePath, merged.WordCount, merged.SucceededSegments, merged.SegmentCount)
	if len(merged.FailedSegments) > 0 {
		log.Printf("Segments %v could not be transcribed and are missing from the output", merged.FailedSegments)
	}
	return nil
}

func createRecord(ctx context.Context, db *store.Store, path string) (int64, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat input file: %w", err)
	}
	if fileInfo.IsDir() {
		return 0, fmt.Errorf("input path %q is a directory, not a file", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, err
	}
	return db.CreateRecord(ctx, abs, fileInfo.Size())
}

func newProvider(ctx context.Context, cfg *types.AppConfig, src types.SourceFile) (pipeline.Provider, error) {
	switch cfg.Provider {
	case types.ProviderAssemblyAI:
		return assemblyai.NewClient(cfg.AssemblyAI, nil), nil

	case types.ProviderAWS:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
		}

		runID := uuid.NewString()
		if !cfg.Force {
			// same content maps to the same keys and job names so reruns resume
			runID, err = contentRunID(src.Path)
			if err != nil {
				return nil, err
			}
		}
		log.Printf("Using run ID %s", runID)

		provider := aws.NewProvider(
			aws.NewS3Service(s3.NewFromConfig(awsCfg)),
			aws.NewTranscribeService(transcribe.NewFromConfig(awsCfg)),
			cfg.BucketName, runID, cfg.Force,
		)
		if err := provider.CheckBucket(ctx); err != nil {
			return nil, fmt.Errorf("bucket %q not accessible: %w", cfg.BucketName, err)
		}
		return provider, nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

// contentRunID derives a stable run ID from the file contents.
func contentRunID(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("compute file hash: %w", err)
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, hasher.Sum(nil)).String(), nil
}

func writeOutput(path string, merged *types.MergedTranscript) error {
	var data []byte
	if strings.EqualFold(filepath.Ext(path), ".json") {
		b, err := formatting.FormatJSON(merged)
		if err != nil {
			return fmt.Errorf("encode transcript: %w", err)
		}
		data = b
	} else {
		data = []byte(formatting.FormatTranscriptWithSpeakers(merged) + "\n")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write transcript to file: %w", err)
	}
	return nil
}
