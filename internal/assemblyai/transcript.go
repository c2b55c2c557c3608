package assemblyai

import (
	"math"

	"github.com/embano1/transcribe-longform/internal/types"
)

type transcript struct {
	ID            string      `json:"id"`
	Status        string      `json:"status"`
	Error         string      `json:"error"`
	Text          string      `json:"text"`
	Confidence    float64     `json:"confidence"`
	AudioDuration float64     `json:"audio_duration"`
	Utterances    []utterance `json:"utterances"`
	Chapters      []struct {
		Gist     string `json:"gist"`
		Headline string `json:"headline"`
		Summary  string `json:"summary"`
		Start    int64  `json:"start"`
		End      int64  `json:"end"`
	} `json:"chapters"`
	AutoHighlights *struct {
		Results []struct {
			Count      int     `json:"count"`
			Rank       float64 `json:"rank"`
			Text       string  `json:"text"`
			Timestamps []struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"timestamps"`
		} `json:"results"`
	} `json:"auto_highlights_result"`
	Entities []struct {
		EntityType string `json:"entity_type"`
		Text       string `json:"text"`
		Start      int64  `json:"start"`
		End        int64  `json:"end"`
	} `json:"entities"`
	Sentiments []struct {
		Text       string  `json:"text"`
		Start      int64   `json:"start"`
		End        int64   `json:"end"`
		Sentiment  string  `json:"sentiment"`
		Confidence float64 `json:"confidence"`
		Speaker    string  `json:"speaker"`
	} `json:"sentiment_analysis_results"`
	ContentSafety *struct {
		Results []struct {
			Text   string `json:"text"`
			Labels []struct {
				Label      string  `json:"label"`
				Confidence float64 `json:"confidence"`
				Severity   float64 `json:"severity"`
			} `json:"labels"`
			Timestamp struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"timestamp"`
		} `json:"results"`
	} `json:"content_safety_labels"`
}

type utterance struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	Confidence float64 `json:"confidence"`
	Words      []struct {
		Text       string  `json:"text"`
		Start      int64   `json:"start"`
		End        int64   `json:"end"`
		Confidence float64 `json:"confidence"`
		Speaker    string  `json:"speaker"`
	} `json:"words"`
}

func (t *transcript) toPartial() *types.PartialTranscript {
	p := &types.PartialTranscript{
		JobID:           t.ID,
		Text:            t.Text,
		Confidence:      t.Confidence,
		AudioDurationMs: int64(math.Round(t.AudioDuration * 1000)),
	}

	for _, u := range t.Utterances {
		out := types.Utterance{
			Speaker:    u.Speaker,
			Text:       u.Text,
			Start:      u.Start,
			End:        u.End,
			Confidence: u.Confidence,
		}
		for _, w := range u.Words {
			out.Words = append(out.Words, types.Word{
				Text:       w.Text,
				Start:      w.Start,
				End:        w.End,
				Confidence: w.Confidence,
				Speaker:    w.Speaker,
			})
		}
		p.Utterances = append(p.Utterances, out)
	}

	for _, c := range t.Chapters {
		p.Chapters = append(p.Chapters, types.Chapter{
			Gist:     c.Gist,
			Headline: c.Headline,
			Summary:  c.Summary,
			Start:    c.Start,
			End:      c.End,
		})
	}

	if t.AutoHighlights != nil {
		for _, h := range t.AutoHighlights.Results {
			hl := types.Highlight{Text: h.Text, Count: h.Count, Rank: h.Rank}
			for _, ts := range h.Timestamps {
				hl.Timestamps = append(hl.Timestamps, types.Span{Start: ts.Start, End: ts.End})
			}
			p.Highlights = append(p.Highlights, hl)
		}
	}

	for _, e := range t.Entities {
		p.Entities = append(p.Entities, types.Entity{
			EntityType: e.EntityType,
			Text:       e.Text,
			Start:      e.Start,
			End:        e.End,
		})
	}

	for _, s := range t.Sentiments {
		p.Sentiments = append(p.Sentiments, types.Sentiment{
			Text:       s.Text,
			Sentiment:  s.Sentiment,
			Confidence: s.Confidence,
			Speaker:    s.Speaker,
			Start:      s.Start,
			End:        s.End,
		})
	}

	if t.ContentSafety != nil {
		for _, r := range t.ContentSafety.Results {
			label := types.SafetyLabel{
				Text:      r.Text,
				Timestamp: types.Span{Start: r.Timestamp.Start, End: r.Timestamp.End},
			}
			for _, l := range r.Labels {
				label.Labels = append(label.Labels, types.SafetyScore{
					Label:      l.Label,
					Confidence: l.Confidence,
					Severity:   l.Severity,
				})
			}
			p.ContentSafety = append(p.ContentSafety, label)
		}
	}

	return p
}
