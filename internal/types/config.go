package types

import "time"

// Provider names accepted in AppConfig.Provider.
const (
	ProviderAWS        = "aws"
	ProviderAssemblyAI = "assemblyai"
)

// FeatureConfig is the transcription feature set requested for every segment
// of one run.
type FeatureConfig struct {
	LanguageCode       string   `yaml:"language_code"`
	SpeakerDiarization bool     `yaml:"speaker_diarization"`
	MaxSpeakers        int      `yaml:"max_speakers"`
	Punctuate          bool     `yaml:"punctuate"`
	FormatText         bool     `yaml:"format_text"`
	KeywordBoost       []string `yaml:"keyword_boost"`
	AutoHighlights     bool     `yaml:"auto_highlights"`
	AutoChapters       bool     `yaml:"auto_chapters"`
	SentimentAnalysis  bool     `yaml:"sentiment_analysis"`
	EntityDetection    bool     `yaml:"entity_detection"`
	ContentSafety      bool     `yaml:"content_safety"`
}

// SegmentConfig controls how a source file is split.
type SegmentConfig struct {
	SizeThreshold     int64         `yaml:"size_threshold"`
	TargetSegmentSize int64         `yaml:"target_segment_size"`
	FallbackDuration  time.Duration `yaml:"fallback_duration"`
	FFmpegPath        string        `yaml:"ffmpeg_path"`
	FFprobePath       string        `yaml:"ffprobe_path"`
	WorkDir           string        `yaml:"work_dir"`
}

// UploadConfig controls the upload retry policy.
type UploadConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
	BackoffMax   time.Duration `yaml:"backoff_max"`
	Timeout      time.Duration `yaml:"timeout"`
	ChunkSize    int           `yaml:"chunk_size"`
	MinChunkSize int           `yaml:"min_chunk_size"`
}

// PollConfig controls the job polling schedule.
type PollConfig struct {
	Interval     time.Duration `yaml:"interval"`
	SlowInterval time.Duration `yaml:"slow_interval"`
	SlowAfter    time.Duration `yaml:"slow_after"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	MaxWait      time.Duration `yaml:"max_wait"`
}

// AssemblyAIConfig holds the AssemblyAI endpoint and credentials.
type AssemblyAIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"-"`
}

// StoreConfig selects the state store database.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AppConfig holds the parameters of one pipeline invocation.
type AppConfig struct {
	InputFilePath   string           `yaml:"-"`
	OutputFilePath  string           `yaml:"-"`
	RecordID        int64            `yaml:"-"`
	Provider        string           `yaml:"provider"`
	BucketName      string           `yaml:"bucket"`
	Region          string           `yaml:"region"`
	Force           bool             `yaml:"force"`
	Workers         int              `yaml:"workers"`
	PipelineTimeout time.Duration    `yaml:"pipeline_timeout"`
	ListenAddr      string           `yaml:"listen_addr"`
	CORSOrigins     []string         `yaml:"cors_origins"`
	Features        FeatureConfig    `yaml:"features"`
	Segment         SegmentConfig    `yaml:"segment"`
	Upload          UploadConfig     `yaml:"upload"`
	Poll            PollConfig       `yaml:"poll"`
	AssemblyAI      AssemblyAIConfig `yaml:"assemblyai"`
	Store           StoreConfig      `yaml:"store"`
}

// DefaultAppConfig returns the defaults every invocation starts from.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Provider:        ProviderAWS,
		Region:          "us-east-1",
		Workers:         3,
		PipelineTimeout: 6 * time.Hour,
		Features: FeatureConfig{
			LanguageCode:       "en-US",
			SpeakerDiarization: true,
			MaxSpeakers:        10,
			Punctuate:          true,
			FormatText:         true,
		},
		Segment: SegmentConfig{
			SizeThreshold:     80 << 20,
			TargetSegmentSize: 80 << 20,
			FallbackDuration:  10 * time.Minute,
			FFmpegPath:        "ffmpeg",
			FFprobePath:       "ffprobe",
		},
		Upload: UploadConfig{
			MaxAttempts:  3,
			BackoffBase:  60 * time.Second,
			BackoffMax:   300 * time.Second,
			Timeout:      30 * time.Minute,
			ChunkSize:    5 << 20,
			MinChunkSize: 512 << 10,
		},
		Poll: PollConfig{
			Interval:     30 * time.Second,
			SlowInterval: 60 * time.Second,
			SlowAfter:    time.Hour,
			RetryDelay:   10 * time.Second,
			MaxWait:      4 * time.Hour,
		},
		AssemblyAI: AssemblyAIConfig{
			BaseURL: "https://api.assemblyai.com",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "transcriptions.db",
		},
	}
}
