package aws

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/embano1/transcribe-longform/internal/types"
)

// ToPartialTranscript converts an Amazon Transcribe result document into a
// segment-relative partial transcript. Consecutive words of the same speaker
// form one utterance; punctuation attaches to the preceding word.
//
// Transcribe does not report the media duration in the result, so
// AudioDurationMs stays zero and the planned segment duration is used when
// merging.
func ToPartialTranscript(result *types.TranscriptionResult) (*types.PartialTranscript, error) {
	if len(result.Results.Transcripts) == 0 {
		return nil, fmt.Errorf("no transcript found in result")
	}

	labels := speakerByStartTime(result.Results.SpeakerLabels)
	partial := &types.PartialTranscript{
		JobID: result.JobName,
		Text:  result.Results.Transcripts[0].Transcript,
	}

	var (
		current *types.Utterance
		text    strings.Builder
		confSum float64
		confN   int
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Text = text.String()
		current.Confidence = meanConfidence(current.Words)
		partial.Utterances = append(partial.Utterances, *current)
		current = nil
		text.Reset()
	}

	for _, item := range result.Results.Items {
		if len(item.Alternatives) == 0 {
			continue
		}
		content := item.Alternatives[0].Content

		switch item.Type {
		case "punctuation":
			// Add punctuation without space
			if current != nil {
				text.WriteString(content)
			}
		case "pronunciation":
			speaker := item.SpeakerLabel
			if speaker == "" {
				speaker = labels[item.StartTime]
			}

			if current != nil && current.Speaker != speaker {
				flush()
			}

			word := types.Word{
				Text:       content,
				Start:      secondsToMs(item.StartTime),
				End:        secondsToMs(item.EndTime),
				Confidence: parseConfidence(item.Alternatives[0].Confidence),
				Speaker:    speaker,
			}
			confSum += word.Confidence
			confN++

			if current == nil {
				current = &types.Utterance{Speaker: speaker, Start: word.Start}
			} else {
				text.WriteString(" ")
			}
			text.WriteString(content)
			current.End = word.End
			current.Words = append(current.Words, word)
		}
	}
	flush()

	if confN > 0 {
		partial.Confidence = confSum / float64(confN)
	}
	return partial, nil
}

// speakerByStartTime indexes the legacy speaker_labels.segments layout, where
// items carry no speaker label of their own.
func speakerByStartTime(labels *types.SpeakerLabels) map[string]string {
	m := make(map[string]string)
	if labels == nil {
		return m
	}
	for _, seg := range labels.Segments {
		for _, item := range seg.Items {
			m[item.StartTime] = seg.SpeakerLabel
		}
	}
	return m
}

func secondsToMs(s string) int64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(f * 1000))
}

func parseConfidence(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func meanConfidence(words []types.Word) float64 {
	if len(words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range words {
		sum += w.Confidence
	}
	return sum / float64(len(words))
}
