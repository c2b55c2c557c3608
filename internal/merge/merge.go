package merge

import (
	"fmt"
	"log"
	"strings"

	"github.com/embano1/transcribe-longform/internal/types"
)

// Merge combines the terminal partial transcripts of a plan into one globally
// timed transcript. partials is keyed by segment index; a missing or nil
// entry means the segment failed, timed out or was never materialized, and
// contributes no content while still advancing the time offset by its
// planned duration.
func Merge(plan *types.SegmentPlan, partials map[int]*types.PartialTranscript) (*types.MergedTranscript, error) {
	n := len(plan.Segments)
	merged := &types.MergedTranscript{
		SegmentCount:         n,
		SpeakersSegmentLocal: n > 1,
	}

	var (
		offset     int64
		texts      []string
		confidence float64
	)
	for _, seg := range plan.Segments {
		planned := seg.Duration.Milliseconds()
		partial := partials[seg.Index]
		if partial == nil {
			merged.FailedSegments = append(merged.FailedSegments, seg.Index)
			offset += planned
			continue
		}

		speakers := newSpeakerMap(seg.Index)
		if n > 1 {
			texts = append(texts, fmt.Sprintf("[segment %d/%d]\n%s", seg.Index+1, n, partial.Text))
		} else {
			texts = append(texts, partial.Text)
		}
		merged.WordCount += WordCount(partial.Text)

		for _, u := range partial.Utterances {
			merged.Utterances = append(merged.Utterances, shiftUtterance(u, offset, seg.Index, speakers))
		}
		for _, c := range partial.Chapters {
			c.Start += offset
			c.End += offset
			merged.Chapters = append(merged.Chapters, c)
		}
		for _, h := range partial.Highlights {
			spans := make([]types.Span, len(h.Timestamps))
			for i, ts := range h.Timestamps {
				spans[i] = ts.Shift(offset)
			}
			h.Timestamps = spans
			merged.Highlights = append(merged.Highlights, h)
		}
		for _, c := range partial.ContentSafety {
			c.Timestamp = c.Timestamp.Shift(offset)
			merged.ContentSafety = append(merged.ContentSafety, c)
		}
		for _, e := range partial.Entities {
			if e.End > 0 {
				e.Start += offset
				e.End += offset
			}
			merged.Entities = append(merged.Entities, e)
		}
		for _, s := range partial.Sentiments {
			if s.End > 0 {
				s.Start += offset
				s.End += offset
			}
			if s.Speaker != "" {
				s.Speaker = speakers.display(s.Speaker)
			}
			merged.Sentiments = append(merged.Sentiments, s)
		}

		merged.Speakers = append(merged.Speakers, speakers.refs...)
		confidence += partial.Confidence
		merged.SucceededSegments++

		if partial.AudioDurationMs > 0 {
			offset += partial.AudioDurationMs
		} else {
			offset += planned
		}
	}

	if merged.SucceededSegments == 0 {
		return nil, &types.MergeError{Segments: n, Err: types.ErrNoSuccessfulSegments}
	}

	merged.Text = strings.Join(texts, "\n\n")
	merged.AggregateConfidence = confidence / float64(merged.SucceededSegments)
	merged.TotalDurationMs = offset

	log.Printf("[merge] %d/%d segments merged, %d utterances, %d words, %dms",
		merged.SucceededSegments, n, len(merged.Utterances), merged.WordCount, merged.TotalDurationMs)
	return merged, nil
}

func shiftUtterance(u types.Utterance, offset int64, segment int, speakers *speakerMap) types.Utterance {
	u.Start += offset
	u.End += offset
	u.Segment = segment
	u.Speaker = speakers.display(u.Speaker)
	if len(u.Words) > 0 {
		words := make([]types.Word, len(u.Words))
		for i, w := range u.Words {
			w.Start += offset
			w.End += offset
			if w.Speaker != "" {
				w.Speaker = speakers.display(w.Speaker)
			}
			words[i] = w
		}
		u.Words = words
	}
	return u
}

// speakerMap assigns display names to one segment's local speaker labels in
// first-seen order.
type speakerMap struct {
	segment int
	names   map[string]string
	refs    []types.SpeakerRef
}

func newSpeakerMap(segment int) *speakerMap {
	return &speakerMap{segment: segment, names: make(map[string]string)}
}

func (m *speakerMap) display(local string) string {
	if name, ok := m.names[local]; ok {
		return name
	}
	name := "Speaker " + speakerLetter(len(m.refs))
	m.names[local] = name
	m.refs = append(m.refs, types.SpeakerRef{Segment: m.segment, Local: local, Display: name})
	return name
}

// speakerLetter maps 0, 1, ..., 25, 26 to A, B, ..., Z, AA.
func speakerLetter(i int) string {
	var b []byte
	for i++; i > 0; i = (i - 1) / 26 {
		b = append([]byte{byte('A' + (i-1)%26)}, b...)
	}
	return string(b)
}
