package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/embano1/transcribe-longform/internal/types"
)

// build info set by goreleaser
var (
	Version = "unknown"
	Commit  = "unknown"
)

// EnvAssemblyAIKey holds the AssemblyAI API key.
const EnvAssemblyAIKey = "ASSEMBLYAI_API_KEY"

// ErrUsage is returned when required flags are missing.
var ErrUsage = errors.New("missing required flags")

var bucketNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

// New parses flags, merges an optional YAML config file and performs initial
// validation. Flags given on the command line override file values.
func New(args []string) (*types.AppConfig, error) {
	cfg := types.DefaultAppConfig()
	fs := flag.NewFlagSet("transcribe", flag.ContinueOnError)
	opts := bindFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	if opts.version {
		PrintVersion()
	}

	if opts.configFile != "" {
		fileCfg, err := load(opts.configFile)
		if err != nil {
			return nil, err
		}
		// replay the command line on top of the file
		fs = flag.NewFlagSet("transcribe", flag.ContinueOnError)
		bindFlags(fs, fileCfg)
		if err := fs.Parse(args); err != nil {
			return nil, fmt.Errorf("parsing flags: %w", err)
		}
		cfg = *fileCfg
	}

	if key := os.Getenv(EnvAssemblyAIKey); key != "" {
		cfg.AssemblyAI.APIKey = key
	}

	if err := validate(&cfg); err != nil {
		if errors.Is(err, ErrUsage) {
			fs.Usage()
		}
		return nil, err
	}
	return &cfg, nil
}

type cliOptions struct {
	configFile string
	version    bool
}

func bindFlags(fs *flag.FlagSet, cfg *types.AppConfig) *cliOptions {
	opts := &cliOptions{}

	fs.StringVar(&opts.configFile, "c", "", "Path to YAML config file")
	fs.BoolVar(&opts.version, "v", false, "Print version and exit")

	fs.StringVar(&cfg.InputFilePath, "f", cfg.InputFilePath, "Path to input audio file")
	fs.StringVar(&cfg.OutputFilePath, "o", cfg.OutputFilePath, "Path to output file (.json for JSON, text otherwise)")
	fs.Int64Var(&cfg.RecordID, "id", cfg.RecordID, "Resume an existing record instead of creating one")
	fs.StringVar(&cfg.Provider, "p", cfg.Provider, "Transcription provider: aws or assemblyai")
	fs.StringVar(&cfg.BucketName, "b", cfg.BucketName, "S3 bucket name")
	fs.StringVar(&cfg.Region, "r", cfg.Region, "AWS region")
	fs.BoolVar(&cfg.Force, "force", cfg.Force, "Upload segments again even if they already exist")
	fs.IntVar(&cfg.Workers, "w", cfg.Workers, "Number of segments processed concurrently")
	fs.DurationVar(&cfg.PipelineTimeout, "timeout", cfg.PipelineTimeout, "Deadline for the whole run")
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Serve the status API on this address while running")

	fs.StringVar(&cfg.Features.LanguageCode, "l", cfg.Features.LanguageCode, "Language code for transcription")
	fs.BoolVar(&cfg.Features.SpeakerDiarization, "d", cfg.Features.SpeakerDiarization, "Enable speaker diarization")
	fs.IntVar(&cfg.Features.MaxSpeakers, "m", cfg.Features.MaxSpeakers, "Maximum number of speakers for diarization")
	fs.Func("k", "Comma-separated keywords to boost", func(s string) error {
		cfg.Features.KeywordBoost = splitList(s)
		return nil
	})
	fs.BoolVar(&cfg.Features.AutoHighlights, "highlights", cfg.Features.AutoHighlights, "Detect key phrases")
	fs.BoolVar(&cfg.Features.AutoChapters, "chapters", cfg.Features.AutoChapters, "Generate chapters")
	fs.BoolVar(&cfg.Features.SentimentAnalysis, "sentiment", cfg.Features.SentimentAnalysis, "Run sentiment analysis")
	fs.BoolVar(&cfg.Features.EntityDetection, "entities", cfg.Features.EntityDetection, "Detect named entities")
	fs.BoolVar(&cfg.Features.ContentSafety, "safety", cfg.Features.ContentSafety, "Flag sensitive content (AssemblyAI only)")

	fs.StringVar(&cfg.Store.Driver, "db-driver", cfg.Store.Driver, "SQLite driver: sqlite (pure Go) or sqlite3 (cgo)")
	fs.StringVar(&cfg.Store.DSN, "db", cfg.Store.DSN, "SQLite database path")
	fs.StringVar(&cfg.Segment.WorkDir, "workdir", cfg.Segment.WorkDir, "Directory for temporary segment files")

	return opts
}

func load(path string) (*types.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := types.DefaultAppConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

func validate(cfg *types.AppConfig) error {
	// fail fast
	if (cfg.InputFilePath == "" && cfg.RecordID == 0) || cfg.OutputFilePath == "" {
		return ErrUsage
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}

	switch cfg.Provider {
	case types.ProviderAWS:
		if cfg.BucketName == "" {
			return fmt.Errorf("provider %s requires a bucket: %w", cfg.Provider, ErrUsage)
		}
		if !validateBucketName(cfg.BucketName) {
			return fmt.Errorf("invalid bucket name %q", cfg.BucketName)
		}
	case types.ProviderAssemblyAI:
		if cfg.AssemblyAI.APIKey == "" {
			return fmt.Errorf("provider %s requires %s to be set", cfg.Provider, EnvAssemblyAIKey)
		}
	default:
		return fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	return nil
}

// PrintVersion prints version information and exits
func PrintVersion() {
	fmt.Printf("Version: %s\n", Version)
	if len(Commit) >= 7 {
		fmt.Printf("Commit: %s\n", Commit[:7])
	} else {
		fmt.Printf("Commit: %s\n", Commit)
	}
	os.Exit(0)
}

// validateBucketName validates an S3 bucket name
func validateBucketName(bucket string) bool {
	return bucketNameRe.MatchString(bucket)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
