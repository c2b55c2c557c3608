package segment

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/embano1/transcribe-longform/internal/types"
)

// minSegmentBytes is the smallest slice accepted as a real segment.
const minSegmentBytes = 1024

// AudioTool probes and slices audio. *media.FFmpeg implements it.
type AudioTool interface {
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
	Slice(ctx context.Context, src string, start, duration time.Duration, out string) error
}

// Segmenter splits oversized recordings into provider-sized segments.
type Segmenter struct {
	cfg  types.SegmentConfig
	tool AudioTool

	stat      func(name string) (os.FileInfo, error)
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
}

// New creates a Segmenter.
func New(cfg types.SegmentConfig, tool AudioTool) *Segmenter {
	if cfg.FallbackDuration <= 0 {
		cfg.FallbackDuration = 10 * time.Minute
	}
	if cfg.TargetSegmentSize <= 0 {
		cfg.TargetSegmentSize = cfg.SizeThreshold
	}
	return &Segmenter{
		cfg:       cfg,
		tool:      tool,
		stat:      os.Stat,
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
	}
}

// Plan validates src and returns its segment plan. Oversized files are sliced
// into a temporary directory the caller releases with SegmentPlan.Cleanup.
func (s *Segmenter) Plan(ctx context.Context, src types.SourceFile) (*types.SegmentPlan, error) {
	src, err := s.validate(src)
	if err != nil {
		return nil, err
	}

	count := segmentCount(src.Size, s.cfg.TargetSegmentSize)
	if src.Size <= s.cfg.SizeThreshold || count <= 1 {
		return s.single(ctx, src)
	}

	plan := &types.SegmentPlan{Source: src}
	total, err := s.tool.ProbeDuration(ctx, src.Path)
	switch {
	case err != nil:
		total = time.Duration(count) * s.cfg.FallbackDuration
		plan.Degraded = true
		log.Printf("[segment] duration probe failed, using nominal %s per segment: %v", s.cfg.FallbackDuration, err)
	case total <= 0:
		return nil, &types.ValidationError{Path: src.Path, Reason: "zero duration"}
	default:
		src.Duration = total
		plan.Source = src
	}
	plan.TotalDuration = total

	dir, err := s.mkdirTemp(s.cfg.WorkDir, "segments-*")
	if err != nil {
		return nil, fmt.Errorf("create segment directory: %w", err)
	}
	plan.WorkDir = dir

	entries := ComputePlan(total, count)
	log.Printf("[segment] splitting %s (%d bytes, %s) into %d segments", src.Path, src.Size, total, len(entries))

	ext := filepath.Ext(src.Path)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			_ = s.removeAll(dir)
			return nil, fmt.Errorf("segmentation interrupted: %w", err)
		}
		plan.Segments = append(plan.Segments, s.materialize(ctx, src.Path, dir, ext, entry))
	}

	if len(plan.Materialized()) == 0 {
		_ = s.removeAll(dir)
		return nil, &types.ValidationError{Path: src.Path, Reason: "segmentation", Err: types.ErrNoSegments}
	}
	return plan, nil
}

func (s *Segmenter) validate(src types.SourceFile) (types.SourceFile, error) {
	info, err := s.stat(src.Path)
	if err != nil {
		return src, &types.ValidationError{Path: src.Path, Reason: "cannot access file", Err: err}
	}
	if info.IsDir() {
		return src, &types.ValidationError{Path: src.Path, Reason: "path is a directory"}
	}
	if info.Size() == 0 {
		return src, &types.ValidationError{Path: src.Path, Reason: "empty file"}
	}
	src.Size = info.Size()
	return src, nil
}

// single returns a pass-through plan for files that need no slicing.
func (s *Segmenter) single(ctx context.Context, src types.SourceFile) (*types.SegmentPlan, error) {
	d, err := s.tool.ProbeDuration(ctx, src.Path)
	switch {
	case err != nil:
		log.Printf("[segment] duration of %s unknown: %v", src.Path, err)
		d = 0
	case d <= 0:
		return nil, &types.ValidationError{Path: src.Path, Reason: "zero duration"}
	}
	src.Duration = d

	return &types.SegmentPlan{
		Source:        src,
		TotalDuration: d,
		Segments: []types.Segment{{
			PlannedSegment: types.PlannedSegment{Index: 0, Start: 0, Duration: d},
			Path:           src.Path,
			Size:           src.Size,
			Materialized:   true,
		}},
	}, nil
}

func (s *Segmenter) materialize(ctx context.Context, src, dir, ext string, entry types.PlannedSegment) types.Segment {
	seg := types.Segment{PlannedSegment: entry}
	out := filepath.Join(dir, fmt.Sprintf("segment_%03d%s", entry.Index, ext))

	if err := s.tool.Slice(ctx, src, entry.Start, entry.Duration, out); err != nil {
		seg.Err = err
		log.Printf("[segment] %s failed: %v", entry, err)
		return seg
	}

	info, err := s.stat(out)
	if err != nil {
		seg.Err = fmt.Errorf("slice output missing: %w", err)
		log.Printf("[segment] %s failed: %v", entry, seg.Err)
		return seg
	}
	if info.Size() < minSegmentBytes {
		seg.Err = fmt.Errorf("slice output too small (%d bytes)", info.Size())
		log.Printf("[segment] %s failed: %v", entry, seg.Err)
		return seg
	}

	seg.Path = out
	seg.Size = info.Size()
	seg.Materialized = true
	log.Printf("[segment] %s created (%d bytes)", entry, seg.Size)
	return seg
}

// ComputePlan splits total into count contiguous entries. The last entry
// absorbs the division remainder so durations sum exactly to total.
func ComputePlan(total time.Duration, count int) []types.PlannedSegment {
	if count < 1 {
		count = 1
	}
	step := total / time.Duration(count)
	entries := make([]types.PlannedSegment, count)
	for i := range entries {
		start := time.Duration(i) * step
		d := step
		if i == count-1 {
			d = total - start
		}
		entries[i] = types.PlannedSegment{Index: i, Start: start, Duration: d}
	}
	return entries
}

// segmentCount is ceil(size / target).
func segmentCount(size, target int64) int {
	if target <= 0 || size <= 0 {
		return 1
	}
	return int((size + target - 1) / target)
}
