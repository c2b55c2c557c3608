package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/embano1/transcribe-longform/internal/types"
)

type progressWrite struct {
	percent int
	status  types.Phase
}

type fakeStore struct {
	mu       sync.Mutex
	src      types.SourceFile
	srcErr   error
	writes   []progressWrite
	merged   *types.MergedTranscript
	finalMsg string
	finished bool
	runs     int
}

func (s *fakeStore) BeginRun(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	s.writes, s.merged, s.finalMsg, s.finished = nil, nil, "", false
	return nil
}

func (s *fakeStore) FileMetadata(ctx context.Context, id int64) (types.SourceFile, error) {
	return s.src, s.srcErr
}

func (s *fakeStore) UpsertProgress(ctx context.Context, id int64, percent int, status types.Phase) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, progressWrite{percent, status})
	return nil
}

func (s *fakeStore) WriteFinalResult(ctx context.Context, id int64, merged *types.MergedTranscript, msg string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merged, s.finalMsg, s.finished = merged, msg, true
	return nil
}

type fakePlanner struct {
	plan *types.SegmentPlan
	err  error
}

func (p *fakePlanner) Plan(ctx context.Context, src types.SourceFile) (*types.SegmentPlan, error) {
	return p.plan, p.err
}

// fakeProvider completes every job on the first status check unless the
// segment is listed in failJobs or stuck.
type fakeProvider struct {
	failUpload map[int]bool
	failJobs   map[int]bool
	stuck      bool

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	uploads     atomic.Int32
}

func (p *fakeProvider) Upload(ctx context.Context, seg types.Segment, chunk int) (types.UploadHandle, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		m := p.maxInFlight.Load()
		if n <= m || p.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	p.uploads.Add(1)
	time.Sleep(5 * time.Millisecond)

	if p.failUpload[seg.Index] {
		return types.UploadHandle{}, httpErr(403)
	}
	return types.UploadHandle{Ref: seg.Path}, nil
}

func (p *fakeProvider) Submit(ctx context.Context, h types.UploadHandle, f types.FeatureConfig) (string, error) {
	return fmt.Sprintf("job-%d", h.SegmentIndex), nil
}

func (p *fakeProvider) Status(ctx context.Context, id string) (types.JobStatus, error) {
	var idx int
	fmt.Sscanf(id, "job-%d", &idx)
	switch {
	case p.stuck:
		return types.JobStatus{State: types.JobStateProcessing}, nil
	case p.failJobs[idx]:
		return types.JobStatus{State: types.JobStateFailed, ErrorMessage: "bad audio"}, nil
	}
	return types.JobStatus{State: types.JobStateCompleted, Partial: &types.PartialTranscript{
		Text:       fmt.Sprintf("words of segment %d", idx),
		Confidence: 0.9,
		Utterances: []types.Utterance{{Speaker: "A", Text: "words", Start: 100, End: 500}},
	}}, nil
}

type httpErr int

func (e httpErr) Error() string       { return fmt.Sprintf("http %d", int(e)) }
func (e httpErr) HTTPStatusCode() int { return int(e) }

func testPlan(t *testing.T, n int) *types.SegmentPlan {
	t.Helper()
	dir := t.TempDir()
	work := filepath.Join(dir, "segments")
	if err := os.Mkdir(work, 0o755); err != nil {
		t.Fatal(err)
	}
	plan := &types.SegmentPlan{WorkDir: work, TotalDuration: time.Duration(n) * 10 * time.Second}
	for i := 0; i < n; i++ {
		plan.Segments = append(plan.Segments, types.Segment{
			PlannedSegment: types.PlannedSegment{Index: i, Start: time.Duration(i) * 10 * time.Second, Duration: 10 * time.Second},
			Path:           filepath.Join(work, fmt.Sprintf("segment_%03d.m4a", i)),
			Materialized:   true,
		})
	}
	return plan
}

func testConfig() types.AppConfig {
	cfg := types.DefaultAppConfig()
	cfg.Workers = 2
	cfg.PipelineTimeout = 10 * time.Second
	cfg.Upload.BackoffBase = time.Millisecond
	cfg.Upload.BackoffMax = time.Millisecond
	cfg.Poll.Interval = time.Millisecond
	cfg.Poll.RetryDelay = time.Millisecond
	return cfg
}

func TestRunMergesAllSegments(t *testing.T) {
	store := &fakeStore{src: types.SourceFile{Path: "meeting.m4a", Size: 1 << 30}}
	plan := testPlan(t, 4)
	provider := &fakeProvider{}
	o := New(testConfig(), store, &fakePlanner{plan: plan}, provider)

	merged, err := o.Run(context.Background(), 7)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if merged.SucceededSegments != 4 || len(merged.FailedSegments) != 0 {
		t.Fatalf("merged = %+v", merged)
	}
	if got := provider.maxInFlight.Load(); got > 2 {
		t.Fatalf("max concurrent uploads = %d, want <= 2", got)
	}
	if store.merged != merged || store.finalMsg != "" {
		t.Fatalf("final result not stored: %+v %q", store.merged, store.finalMsg)
	}
	if _, err := os.Stat(plan.Segments[0].Path); err == nil {
		t.Fatal("segment files should be cleaned up")
	}

	assertMonotonic(t, store.writes)
	state, ok := o.State(7)
	if !ok || state.Phase != types.PhaseCompleted || state.Percent != 100 {
		t.Fatalf("state = %+v", state)
	}
	for _, s := range state.Segments {
		if s.Stage != types.StageCompleted {
			t.Fatalf("segment %d stage = %s", s.Index, s.Stage)
		}
	}
}

func TestRunToleratesSegmentFailures(t *testing.T) {
	store := &fakeStore{src: types.SourceFile{Path: "meeting.m4a"}}
	plan := testPlan(t, 4)
	plan.Segments[3].Materialized = false
	plan.Segments[3].Err = errors.New("ffmpeg exit status 1")
	provider := &fakeProvider{failUpload: map[int]bool{0: true}, failJobs: map[int]bool{2: true}}
	o := New(testConfig(), store, &fakePlanner{plan: plan}, provider)

	merged, err := o.Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if merged.SucceededSegments != 1 {
		t.Fatalf("succeeded = %d, want 1", merged.SucceededSegments)
	}
	if fmt.Sprint(merged.FailedSegments) != "[0 2 3]" {
		t.Fatalf("failed = %v", merged.FailedSegments)
	}
	// segment 1 starts after the failed segment 0
	if merged.Utterances[0].Start != 10100 {
		t.Fatalf("utterance start = %d, want 10100", merged.Utterances[0].Start)
	}
	if provider.uploads.Load() != 3 {
		t.Fatalf("uploads = %d, the fatal 403 should not be retried", provider.uploads.Load())
	}
	if store.finalMsg == "" {
		t.Fatal("partial success should record the failed segments")
	}

	state, _ := o.State(1)
	stages := map[int]types.SegmentStage{}
	for _, s := range state.Segments {
		stages[s.Index] = s.Stage
	}
	want := map[int]types.SegmentStage{0: types.StageFailed, 1: types.StageCompleted, 2: types.StageFailed, 3: types.StageSkipped}
	for i, st := range want {
		if stages[i] != st {
			t.Fatalf("segment %d stage = %s, want %s", i, stages[i], st)
		}
	}
}

func TestRerunOfCompletedRecord(t *testing.T) {
	store := &fakeStore{src: types.SourceFile{Path: "meeting.m4a"}}
	planner := &fakePlanner{plan: testPlan(t, 2)}
	provider := &fakeProvider{}
	o := New(testConfig(), store, planner, provider)

	if _, err := o.Run(context.Background(), 7); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if store.merged == nil {
		t.Fatal("first run result not stored")
	}

	planner.plan = testPlan(t, 2)
	provider.failJobs = map[int]bool{0: true, 1: true}
	if _, err := o.Run(context.Background(), 7); err == nil {
		t.Fatal("expected second run to fail")
	}

	if store.runs != 2 {
		t.Fatalf("record reset %d times, want once per run", store.runs)
	}
	// progress restarts from validating instead of staying at 100
	assertMonotonic(t, store.writes)
	if store.merged != nil || store.finalMsg != "no successful segments" {
		t.Fatalf("second run final = %v %q", store.merged, store.finalMsg)
	}

	state, ok := o.State(7)
	if !ok || state.Phase != types.PhaseFailed {
		t.Fatalf("state = %+v, want the failed second run", state)
	}
	for _, seg := range state.Segments {
		if seg.Stage != types.StageFailed {
			t.Fatalf("segment %d stage = %s", seg.Index, seg.Stage)
		}
	}
}

func TestStateKeepsLatestRunPerRecord(t *testing.T) {
	store := &fakeStore{src: types.SourceFile{Path: "meeting.m4a"}}
	planner := &fakePlanner{plan: testPlan(t, 1)}
	o := New(testConfig(), store, planner, &fakeProvider{})

	for _, id := range []int64{1, 2, 1} {
		planner.plan = testPlan(t, 1)
		if _, err := o.Run(context.Background(), id); err != nil {
			t.Fatalf("Run(%d) error = %v", id, err)
		}
	}

	o.mu.Lock()
	n := len(o.runs)
	o.mu.Unlock()
	if n != 2 {
		t.Fatalf("tracked runs = %d, want one per record", n)
	}
	if _, ok := o.State(3); ok {
		t.Fatal("unknown record has state")
	}
}

func TestRunNoSegments(t *testing.T) {
	store := &fakeStore{src: types.SourceFile{Path: "broken.m4a"}}
	planErr := &types.ValidationError{Path: "broken.m4a", Reason: "segmentation", Err: types.ErrNoSegments}
	o := New(testConfig(), store, &fakePlanner{err: planErr}, &fakeProvider{})

	_, err := o.Run(context.Background(), 1)
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if !store.finished || store.merged != nil || store.finalMsg != "no segments" {
		t.Fatalf("store final = %v %q", store.merged, store.finalMsg)
	}
	state, _ := o.State(1)
	if state.Phase != types.PhaseFailed {
		t.Fatalf("phase = %s", state.Phase)
	}
}

func TestRunNoSuccessfulSegments(t *testing.T) {
	store := &fakeStore{}
	plan := testPlan(t, 2)
	o := New(testConfig(), store, &fakePlanner{plan: plan}, &fakeProvider{failJobs: map[int]bool{0: true, 1: true}})

	_, err := o.Run(context.Background(), 1)
	var merr *types.MergeError
	if !errors.As(err, &merr) {
		t.Fatalf("error = %v, want MergeError", err)
	}
	if store.finalMsg != "no successful segments" || store.merged != nil {
		t.Fatalf("store final = %v %q", store.merged, store.finalMsg)
	}
	if _, err := os.Stat(plan.Segments[0].Path); err == nil {
		t.Fatal("segments should be cleaned up on failure")
	}
}

func TestRunMissingRecord(t *testing.T) {
	store := &fakeStore{srcErr: errors.New("record not found")}
	o := New(testConfig(), store, &fakePlanner{}, &fakeProvider{})

	if _, err := o.Run(context.Background(), 99); err == nil {
		t.Fatal("expected error")
	}
	if !store.finished || store.merged != nil {
		t.Fatal("failure should be written to the store")
	}
}

func TestRunGlobalTimeout(t *testing.T) {
	store := &fakeStore{}
	cfg := testConfig()
	cfg.PipelineTimeout = 50 * time.Millisecond
	o := New(cfg, store, &fakePlanner{plan: testPlan(t, 2)}, &fakeProvider{stuck: true})

	start := time.Now()
	_, err := o.Run(context.Background(), 1)
	if err == nil {
		t.Fatal("expected failure when every job times out")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("run did not honour the pipeline timeout")
	}
	if !store.finished || store.finalMsg != "no successful segments" {
		t.Fatalf("final status not written after deadline: %q", store.finalMsg)
	}

	state, _ := o.State(1)
	for _, s := range state.Segments {
		if s.Stage != types.StageTimedOut {
			t.Fatalf("segment %d stage = %s, want timed_out", s.Index, s.Stage)
		}
	}
}

func TestTranscribePercent(t *testing.T) {
	segs := []types.SegmentStatus{{Progress: 0}, {Progress: 100}}
	if got := transcribePercent(segs); got != 47 {
		t.Fatalf("percent = %d, want 47", got)
	}
	if got := transcribePercent([]types.SegmentStatus{{Progress: 100}}); got != transcribeEnd {
		t.Fatalf("percent = %d, want %d", got, transcribeEnd)
	}
}

func assertMonotonic(t *testing.T, writes []progressWrite) {
	t.Helper()
	if len(writes) == 0 {
		t.Fatal("no progress written")
	}
	for i := 1; i < len(writes); i++ {
		if writes[i].percent < writes[i-1].percent {
			t.Fatalf("progress decreased at write %d: %v", i, writes)
		}
	}
	if writes[0].percent != percentValidating || writes[0].status != types.PhaseValidating {
		t.Fatalf("first write = %+v", writes[0])
	}
}
