package types

// TranscriptionResult represents the JSON document Amazon Transcribe writes to the output bucket.
type TranscriptionResult struct {
	JobName string `json:"jobName"`
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
		SpeakerLabels *SpeakerLabels `json:"speaker_labels,omitempty"`
		Items         []Item         `json:"items,omitempty"`
	} `json:"results"`
	Status string `json:"status"`
}

// SpeakerLabels contains speaker diarization information
type SpeakerLabels struct {
	Speakers int `json:"speakers"`
	Segments []struct {
		StartTime    string `json:"start_time"`
		EndTime      string `json:"end_time"`
		SpeakerLabel string `json:"speaker_label"`
		Items        []struct {
			StartTime string `json:"start_time"`
			EndTime   string `json:"end_time"`
		} `json:"items"`
	} `json:"segments"`
}

// Item represents individual words/items in the transcription
type Item struct {
	StartTime    string        `json:"start_time,omitempty"`
	EndTime      string        `json:"end_time,omitempty"`
	Type         string        `json:"type"`
	Alternatives []Alternative `json:"alternatives"`
	SpeakerLabel string        `json:"speaker_label,omitempty"`
}

// Alternative represents word alternatives
type Alternative struct {
	Confidence string `json:"confidence"`
	Content    string `json:"content"`
}

// Span is a time range in milliseconds.
type Span struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Shift returns the span moved by offset milliseconds.
func (s Span) Shift(offset int64) Span {
	return Span{Start: s.Start + offset, End: s.End + offset}
}

// Word is a single recognized token with its timing.
type Word struct {
	Text       string  `json:"text"`
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	Confidence float64 `json:"confidence"`
	Speaker    string  `json:"speaker,omitempty"`
}

// Utterance is one uninterrupted turn of a single speaker.
type Utterance struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words,omitempty"`
	// Segment is the plan index the utterance came from. Only set after merging.
	Segment int `json:"segment"`
}

// Chapter is an auto-generated summary of a stretch of audio.
type Chapter struct {
	Gist     string `json:"gist"`
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
}

// Highlight is a key phrase and every place it occurs.
type Highlight struct {
	Text       string  `json:"text"`
	Count      int     `json:"count"`
	Rank       float64 `json:"rank"`
	Timestamps []Span  `json:"timestamps"`
}

// Entity is a detected named entity. Start and End are zero when the
// provider reports no timing for it.
type Entity struct {
	EntityType string `json:"entity_type"`
	Text       string `json:"text"`
	Start      int64  `json:"start,omitempty"`
	End        int64  `json:"end,omitempty"`
}

// Sentiment is the sentiment of one sentence. Start and End are zero when the
// provider reports no timing for it.
type Sentiment struct {
	Text       string  `json:"text"`
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
	Speaker    string  `json:"speaker,omitempty"`
	Start      int64   `json:"start,omitempty"`
	End        int64   `json:"end,omitempty"`
}

// SafetyLabel is a passage flagged by content safety detection.
type SafetyLabel struct {
	Text      string        `json:"text"`
	Labels    []SafetyScore `json:"labels"`
	Timestamp Span          `json:"timestamp"`
}

// SafetyScore is one sensitive-content category assigned to a passage.
type SafetyScore struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Severity   float64 `json:"severity"`
}

// PartialTranscript is the terminal payload of one completed segment job.
// All timestamps are relative to the start of the segment.
type PartialTranscript struct {
	SegmentIndex    int         `json:"segment_index"`
	JobID           string      `json:"job_id"`
	Text            string      `json:"text"`
	Utterances      []Utterance `json:"utterances"`
	Confidence      float64     `json:"confidence"`
	AudioDurationMs int64       `json:"audio_duration_ms"`
	Highlights      []Highlight `json:"highlights,omitempty"`
	Chapters        []Chapter   `json:"chapters,omitempty"`
	Entities        []Entity    `json:"entities,omitempty"`
	Sentiments      []Sentiment `json:"sentiments,omitempty"`

	ContentSafety []SafetyLabel `json:"content_safety,omitempty"`
}

// SpeakerRef maps a segment-local speaker label to the display name used in
// the merged transcript. Equal display names in different segments do not
// identify the same person.
type SpeakerRef struct {
	Segment int    `json:"segment"`
	Local   string `json:"local"`
	Display string `json:"display"`
}

// MergedTranscript is the single, globally timed transcript of a run.
type MergedTranscript struct {
	Text                 string        `json:"text"`
	Utterances           []Utterance   `json:"utterances"`
	Speakers             []SpeakerRef  `json:"speakers"`
	SpeakersSegmentLocal bool          `json:"speakers_segment_local"`
	Highlights           []Highlight   `json:"highlights,omitempty"`
	Chapters             []Chapter     `json:"chapters,omitempty"`
	Entities             []Entity      `json:"entities,omitempty"`
	Sentiments           []Sentiment   `json:"sentiments,omitempty"`
	ContentSafety        []SafetyLabel `json:"content_safety,omitempty"`
	AggregateConfidence  float64       `json:"aggregate_confidence"`
	TotalDurationMs      int64         `json:"total_duration_ms"`
	WordCount            int           `json:"word_count"`
	SegmentCount         int           `json:"segment_count"`
	SucceededSegments    int           `json:"succeeded_segments"`
	FailedSegments       []int         `json:"failed_segments,omitempty"`
}
