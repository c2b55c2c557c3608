package merge

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/embano1/transcribe-longform/internal/types"
)

func threeSegmentPlan() *types.SegmentPlan {
	plan := &types.SegmentPlan{TotalDuration: 30 * time.Second}
	for i := 0; i < 3; i++ {
		plan.Segments = append(plan.Segments, types.Segment{
			PlannedSegment: types.PlannedSegment{Index: i, Start: time.Duration(i) * 10 * time.Second, Duration: 10 * time.Second},
			Materialized:   true,
		})
	}
	return plan
}

func partial(text string, durMs int64, utts ...types.Utterance) *types.PartialTranscript {
	return &types.PartialTranscript{Text: text, Utterances: utts, Confidence: 0.9, AudioDurationMs: durMs}
}

func TestMergeOffsetsSkipFailedSegment(t *testing.T) {
	plan := threeSegmentPlan()
	partials := map[int]*types.PartialTranscript{
		0: partial("hello there", 10000, types.Utterance{Speaker: "spk_0", Text: "hello there", Start: 100, End: 900}),
		2: partial("goodbye now", 10000,
			types.Utterance{Speaker: "spk_1", Text: "goodbye", Start: 0, End: 400,
				Words: []types.Word{{Text: "goodbye", Start: 0, End: 400, Speaker: "spk_1"}}},
			types.Utterance{Speaker: "spk_0", Text: "now", Start: 500, End: 800},
		),
	}

	merged, err := Merge(plan, partials)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	if merged.SucceededSegments != 2 || len(merged.FailedSegments) != 1 || merged.FailedSegments[0] != 1 {
		t.Fatalf("succeeded = %d failed = %v", merged.SucceededSegments, merged.FailedSegments)
	}
	if len(merged.Utterances) != 3 {
		t.Fatalf("utterances = %d, want 3", len(merged.Utterances))
	}
	for _, u := range merged.Utterances[1:] {
		if u.Start < 20000 || u.Segment != 2 {
			t.Fatalf("segment 3 utterance not offset past the failed segment: %+v", u)
		}
	}
	if w := merged.Utterances[1].Words[0]; w.Start != 20000 || w.Speaker != "Speaker A" {
		t.Fatalf("word = %+v", w)
	}
	if partials[2].Utterances[0].Start != 0 {
		t.Fatal("input partial was modified")
	}
	if merged.TotalDurationMs != 30000 {
		t.Fatalf("total = %d, want 30000", merged.TotalDurationMs)
	}
	if !strings.Contains(merged.Text, "[segment 1/3]\nhello there") || !strings.Contains(merged.Text, "[segment 3/3]\ngoodbye now") {
		t.Fatalf("text = %q", merged.Text)
	}
	if strings.Contains(merged.Text, "[segment 2/3]") {
		t.Fatalf("failed segment has a marker: %q", merged.Text)
	}
	if merged.WordCount != 4 {
		t.Fatalf("word count = %d, want 4", merged.WordCount)
	}
	if merged.AggregateConfidence != 0.9 {
		t.Fatalf("confidence = %v", merged.AggregateConfidence)
	}
}

func TestMergeSpeakersAreSegmentLocal(t *testing.T) {
	plan := threeSegmentPlan()
	partials := map[int]*types.PartialTranscript{
		0: partial("a b", 0,
			types.Utterance{Speaker: "spk_3", Text: "a"},
			types.Utterance{Speaker: "spk_0", Text: "b"},
		),
		1: partial("c", 0, types.Utterance{Speaker: "spk_0", Text: "c"}),
	}

	merged, err := Merge(plan, partials)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	want := []types.SpeakerRef{
		{Segment: 0, Local: "spk_3", Display: "Speaker A"},
		{Segment: 0, Local: "spk_0", Display: "Speaker B"},
		{Segment: 1, Local: "spk_0", Display: "Speaker A"},
	}
	if len(merged.Speakers) != len(want) {
		t.Fatalf("speakers = %+v", merged.Speakers)
	}
	for i := range want {
		if merged.Speakers[i] != want[i] {
			t.Fatalf("speaker %d = %+v, want %+v", i, merged.Speakers[i], want[i])
		}
	}
	if !merged.SpeakersSegmentLocal {
		t.Fatal("multi-segment transcript should flag segment-local speakers")
	}
	// no reported duration falls back to the planned duration
	if merged.Utterances[2].Start != 10000 {
		t.Fatalf("segment 1 utterance start = %d, want 10000", merged.Utterances[2].Start)
	}
}

func TestMergeShiftsAnalysisResults(t *testing.T) {
	plan := threeSegmentPlan()
	p := partial("x", 12000)
	p.Chapters = []types.Chapter{{Headline: "intro", Start: 0, End: 5000}}
	p.Highlights = []types.Highlight{{Text: "budget", Count: 1, Timestamps: []types.Span{{Start: 100, End: 200}}}}
	p.Entities = []types.Entity{{EntityType: "person", Text: "Ada", Start: 10, End: 20}, {EntityType: "location", Text: "Paris"}}
	p.Sentiments = []types.Sentiment{{Text: "x", Sentiment: "POSITIVE", Speaker: "B", Start: 1, End: 2}}
	p.ContentSafety = []types.SafetyLabel{{
		Text:      "damn budget",
		Labels:    []types.SafetyScore{{Label: "profanity", Confidence: 0.9, Severity: 0.2}},
		Timestamp: types.Span{Start: 300, End: 800},
	}}

	merged, err := Merge(plan, map[int]*types.PartialTranscript{0: partial("y", 15000), 1: p})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if c := merged.Chapters[0]; c.Start != 15000 || c.End != 20000 {
		t.Fatalf("chapter = %+v", c)
	}
	if ts := merged.Highlights[0].Timestamps[0]; ts.Start != 15100 {
		t.Fatalf("highlight = %+v", ts)
	}
	if e := merged.Entities[0]; e.Start != 15010 {
		t.Fatalf("timed entity = %+v", e)
	}
	if e := merged.Entities[1]; e.Start != 0 || e.End != 0 {
		t.Fatalf("untimed entity was shifted: %+v", e)
	}
	if s := merged.Sentiments[0]; s.Start != 15001 || s.Speaker != "Speaker A" {
		t.Fatalf("sentiment = %+v", s)
	}
	if cs := merged.ContentSafety; len(cs) != 1 || cs[0].Timestamp.Start != 15300 || cs[0].Timestamp.End != 15800 || cs[0].Labels[0].Label != "profanity" {
		t.Fatalf("content safety = %+v", cs)
	}
	if p.ContentSafety[0].Timestamp.Start != 300 {
		t.Fatal("input content safety was modified")
	}
	if merged.TotalDurationMs != 15000+12000+10000 {
		t.Fatalf("total = %d", merged.TotalDurationMs)
	}
}

func TestMergeSingleSegmentHasNoMarker(t *testing.T) {
	plan := &types.SegmentPlan{Segments: []types.Segment{{
		PlannedSegment: types.PlannedSegment{Duration: 42 * time.Second},
		Materialized:   true,
	}}}
	merged, err := Merge(plan, map[int]*types.PartialTranscript{
		0: partial("just one file", 42000, types.Utterance{Speaker: "spk_0", Text: "just one file", Start: 5, End: 900}),
	})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if merged.Text != "just one file" {
		t.Fatalf("text = %q", merged.Text)
	}
	if merged.Utterances[0].Start != 5 || merged.SpeakersSegmentLocal {
		t.Fatalf("single segment merge changed timing or speaker scope: %+v", merged)
	}
}

func TestMergeNoSuccessfulSegments(t *testing.T) {
	_, err := Merge(threeSegmentPlan(), map[int]*types.PartialTranscript{1: nil})
	var merr *types.MergeError
	if !errors.As(err, &merr) || merr.Segments != 3 {
		t.Fatalf("error = %v, want MergeError", err)
	}
	if !errors.Is(err, types.ErrNoSuccessfulSegments) {
		t.Fatalf("error = %v, want ErrNoSuccessfulSegments", err)
	}
}

func TestSpeakerLetter(t *testing.T) {
	for i, want := range map[int]string{0: "A", 1: "B", 25: "Z", 26: "AA", 27: "AB"} {
		if got := speakerLetter(i); got != want {
			t.Errorf("speakerLetter(%d) = %s, want %s", i, got, want)
		}
	}
}
