package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// CommandResult is the captured output of one external command.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner abstracts process execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// ExecRunner executes commands via os/exec.
type ExecRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// FFmpeg probes and slices audio files with ffprobe and ffmpeg.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	runner      CommandRunner
}

// NewFFmpeg creates an FFmpeg tool. A nil runner uses os/exec.
func NewFFmpeg(ffmpegPath, ffprobePath string, runner CommandRunner) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, runner: runner}
}

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
}

// ProbeDuration returns the duration of the audio at path.
func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	res, err := f.runner.Run(ctx, f.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(res.Stderr))
	}

	var probe probeResult
	if err := json.Unmarshal([]byte(res.Stdout), &probe); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if probe.Format.Duration == "" {
		return 0, fmt.Errorf("ffprobe reported no duration for %s", path)
	}
	return ParseSeconds(probe.Format.Duration)
}

// Slice copies [start, start+duration) of src into out without re-encoding.
func (f *FFmpeg) Slice(ctx context.Context, src string, start, duration time.Duration, out string) error {
	args := BuildSliceArgs(src, start, duration, out)
	res, err := f.runner.Run(ctx, f.ffmpegPath, args...)
	if err != nil {
		return fmt.Errorf("ffmpeg slice %s at %s: %w: %s", src, start, err, lastLine(res.Stderr))
	}
	return nil
}

// BuildSliceArgs builds ffmpeg args for a stream-copied slice.
func BuildSliceArgs(src string, start, duration time.Duration, out string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-ss", FormatSeconds(start),
		"-t", FormatSeconds(duration),
		"-i", src,
		"-vn",
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		"-y",
		out,
	}
}

// ParseSeconds parses a decimal seconds string such as "12.345".
func ParseSeconds(s string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parse seconds %q: %w", s, err)
	}
	if secs < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// FormatSeconds renders d as decimal seconds with millisecond precision.
func FormatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
