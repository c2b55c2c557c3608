package segment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/embano1/transcribe-longform/internal/types"
)

// fakeTool simulates ffprobe/ffmpeg.
type fakeTool struct {
	duration time.Duration
	probeErr error
	failAt   map[int]bool
	slices   []string
}

func (f *fakeTool) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	return f.duration, f.probeErr
}

func (f *fakeTool) Slice(ctx context.Context, src string, start, duration time.Duration, out string) error {
	idx := len(f.slices)
	f.slices = append(f.slices, out)
	if f.failAt[idx] {
		return errors.New("ffmpeg exit status 1")
	}
	return os.WriteFile(out, make([]byte, 2048), 0o644)
}

func testConfig(t *testing.T) types.SegmentConfig {
	return types.SegmentConfig{
		SizeThreshold:     100,
		TargetSegmentSize: 100,
		FallbackDuration:  10 * time.Minute,
		WorkDir:           t.TempDir(),
	}
}

func mustWriteSource(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meeting.m4a")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func TestPlanSmallFilePassesThrough(t *testing.T) {
	src := mustWriteSource(t, 80)
	tool := &fakeTool{duration: 42 * time.Second}

	plan, err := New(testConfig(t), tool).Plan(context.Background(), types.SourceFile{Path: src})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(plan.Segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(plan.Segments))
	}
	if len(tool.slices) != 0 {
		t.Fatalf("small file should not be sliced, got %d slices", len(tool.slices))
	}
	seg := plan.Segments[0]
	if seg.Path != src || !seg.Materialized || seg.Duration != 42*time.Second {
		t.Fatalf("unexpected single segment: %+v", seg)
	}
	if plan.WorkDir != "" {
		t.Fatalf("single segment plan should not own a work dir")
	}
}

func TestPlanSmallFileUnknownDuration(t *testing.T) {
	src := mustWriteSource(t, 50)
	tool := &fakeTool{probeErr: errors.New("ffprobe not found")}

	plan, err := New(testConfig(t), tool).Plan(context.Background(), types.SourceFile{Path: src})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.TotalDuration != 0 || plan.Segments[0].Duration != 0 {
		t.Fatalf("expected unknown duration, got %s", plan.TotalDuration)
	}
}

func TestPlanSplitsLargeFile(t *testing.T) {
	src := mustWriteSource(t, 250)
	tool := &fakeTool{duration: 30*time.Second + 1}

	plan, err := New(testConfig(t), tool).Plan(context.Background(), types.SourceFile{Path: src})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	defer plan.Cleanup()

	if len(plan.Segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(plan.Segments))
	}

	var sum time.Duration
	var prevEnd time.Duration
	for i, seg := range plan.Segments {
		if seg.Index != i {
			t.Fatalf("segment %d has index %d", i, seg.Index)
		}
		if seg.Start != prevEnd {
			t.Fatalf("segment %d starts at %s, want %s", i, seg.Start, prevEnd)
		}
		if !seg.Materialized || !strings.HasSuffix(seg.Path, ".m4a") {
			t.Fatalf("segment %d not materialized: %+v", i, seg)
		}
		prevEnd = seg.End()
		sum += seg.Duration
	}
	if sum != plan.TotalDuration {
		t.Fatalf("durations sum to %s, want %s", sum, plan.TotalDuration)
	}
	if plan.Degraded {
		t.Fatal("plan should not be degraded")
	}
}

func TestPlanProbeFailureUsesNominalDuration(t *testing.T) {
	src := mustWriteSource(t, 300)
	tool := &fakeTool{probeErr: errors.New("moov atom not found")}

	plan, err := New(testConfig(t), tool).Plan(context.Background(), types.SourceFile{Path: src})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	defer plan.Cleanup()

	if !plan.Degraded {
		t.Fatal("expected degraded plan")
	}
	if plan.TotalDuration != 30*time.Minute {
		t.Fatalf("total = %s, want 30m", plan.TotalDuration)
	}
	for _, seg := range plan.Segments {
		if seg.Duration != 10*time.Minute {
			t.Fatalf("segment %d duration = %s, want 10m", seg.Index, seg.Duration)
		}
	}
}

func TestPlanKeepsFailedSliceInPlan(t *testing.T) {
	src := mustWriteSource(t, 300)
	tool := &fakeTool{duration: 30 * time.Second, failAt: map[int]bool{1: true}}

	plan, err := New(testConfig(t), tool).Plan(context.Background(), types.SourceFile{Path: src})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	defer plan.Cleanup()

	if len(plan.Segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(plan.Segments))
	}
	failed := plan.Segments[1]
	if failed.Materialized || failed.Err == nil {
		t.Fatalf("segment 1 should be unmaterialized with error: %+v", failed)
	}
	if failed.Start != 10*time.Second || failed.Duration != 10*time.Second {
		t.Fatalf("failed segment lost its planned range: %+v", failed.PlannedSegment)
	}
	if got := len(plan.Materialized()); got != 2 {
		t.Fatalf("materialized = %d, want 2", got)
	}
}

func TestPlanNoSegmentsIsValidationError(t *testing.T) {
	src := mustWriteSource(t, 300)
	cfg := testConfig(t)
	tool := &fakeTool{duration: 30 * time.Second, failAt: map[int]bool{0: true, 1: true, 2: true}}

	_, err := New(cfg, tool).Plan(context.Background(), types.SourceFile{Path: src})
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if !errors.Is(err, types.ErrNoSegments) {
		t.Fatalf("error = %v, want ErrNoSegments", err)
	}

	entries, _ := os.ReadDir(cfg.WorkDir)
	if len(entries) != 0 {
		t.Fatalf("work dir should be cleaned up, found %d entries", len(entries))
	}
}

func TestPlanValidation(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.m4a")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		tool *fakeTool
	}{
		{"missing", filepath.Join(dir, "nope.m4a"), &fakeTool{duration: time.Second}},
		{"directory", dir, &fakeTool{duration: time.Second}},
		{"empty", empty, &fakeTool{duration: time.Second}},
		{"zero duration", mustWriteSource(t, 10), &fakeTool{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(testConfig(t), tt.tool).Plan(context.Background(), types.SourceFile{Path: tt.path})
			var verr *types.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
		})
	}
}

func TestCleanupKeepsSource(t *testing.T) {
	src := mustWriteSource(t, 250)
	plan, err := New(testConfig(t), &fakeTool{duration: time.Minute}).Plan(context.Background(), types.SourceFile{Path: src})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	dir := plan.WorkDir

	if err := plan.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("work dir still present, stat err = %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source removed: %v", err)
	}
}

func TestComputePlanSumsToTotal(t *testing.T) {
	for _, total := range []time.Duration{0, time.Millisecond, 7 * time.Second, 3*time.Hour + 17*time.Millisecond + 3} {
		for count := 1; count <= 7; count++ {
			entries := ComputePlan(total, count)
			if len(entries) != count {
				t.Fatalf("len = %d, want %d", len(entries), count)
			}
			var sum time.Duration
			for i, e := range entries {
				if i > 0 && e.Start != entries[i-1].End() {
					t.Fatalf("gap between %d and %d", i-1, i)
				}
				sum += e.Duration
			}
			if sum != total {
				t.Fatalf("total %s count %d: sum = %s", total, count, sum)
			}
		}
	}
}
