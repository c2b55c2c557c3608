package formatting

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/embano1/transcribe-longform/internal/types"
)

// FormatTranscriptWithSpeakers formats the transcript with speaker labels for better readability
func FormatTranscriptWithSpeakers(merged *types.MergedTranscript) string {
	if len(merged.Utterances) == 0 {
		return merged.Text
	}

	var formatted strings.Builder
	currentSpeaker := ""
	currentSegment := -1
	multi := merged.SegmentCount > 1

	for _, u := range merged.Utterances {
		if multi && u.Segment != currentSegment {
			if formatted.Len() > 0 {
				formatted.WriteString("\n\n")
			}
			fmt.Fprintf(&formatted, "[segment %d/%d]", u.Segment+1, merged.SegmentCount)
			currentSegment = u.Segment
			// speaker labels restart in every segment
			currentSpeaker = ""
		}

		if u.Speaker != currentSpeaker || currentSpeaker == "" {
			currentSpeaker = u.Speaker
			// Add a new line for new speaker (except for the first speaker)
			if formatted.Len() > 0 {
				formatted.WriteString("\n\n")
			}
			fmt.Fprintf(&formatted, "[%s] %s: ", Timestamp(u.Start), displayName(u.Speaker))
		} else {
			formatted.WriteString(" ")
		}
		formatted.WriteString(u.Text)
	}

	return formatted.String()
}

// FormatJSON renders the merged transcript as indented JSON.
func FormatJSON(merged *types.MergedTranscript) ([]byte, error) {
	return json.MarshalIndent(merged, "", "  ")
}

// Timestamp renders milliseconds as HH:MM:SS.
func Timestamp(ms int64) string {
	s := ms / 1000
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s/60)%60, s%60)
}

func displayName(speaker string) string {
	if speaker == "" {
		return "Unknown"
	}
	return speaker
}
