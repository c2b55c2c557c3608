package assemblyai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/embano1/transcribe-longform/internal/types"
)

const maxErrorBody = 4 << 10

// StatusError is returned for non-2xx API responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("assemblyai: status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatusCode returns the response status code.
func (e *StatusError) HTTPStatusCode() int { return e.StatusCode }

// Client talks to the AssemblyAI v2 REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates an AssemblyAI client. Request deadlines come from the
// caller's context, so httpClient should not set a global timeout.
func NewClient(cfg types.AssemblyAIConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

// Upload streams the segment file to AssemblyAI in chunkSize writes.
func (c *Client) Upload(ctx context.Context, seg types.Segment, chunkSize int) (types.UploadHandle, error) {
	f, err := os.Open(seg.Path)
	if err != nil {
		return types.UploadHandle{}, fmt.Errorf("open segment: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(copyChunked(pw, f, chunkSize))
	}()
	defer pr.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/upload", pr)
	if err != nil {
		return types.UploadHandle{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var out uploadResponse
	if err := c.do(req, &out); err != nil {
		return types.UploadHandle{}, fmt.Errorf("upload: %w", err)
	}
	if out.UploadURL == "" {
		return types.UploadHandle{}, errors.New("upload: response has no upload_url")
	}
	return types.UploadHandle{SegmentIndex: seg.Index, Ref: out.UploadURL}, nil
}

func copyChunked(w io.Writer, r io.Reader, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = 5 << 20
	}
	buf := make([]byte, chunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

type speakerOptions struct {
	MaxSpeakersExpected int `json:"max_speakers_expected,omitempty"`
}

type transcriptRequest struct {
	AudioURL          string          `json:"audio_url"`
	LanguageCode      string          `json:"language_code,omitempty"`
	SpeakerLabels     bool            `json:"speaker_labels"`
	SpeakerOptions    *speakerOptions `json:"speaker_options,omitempty"`
	Punctuate         bool            `json:"punctuate"`
	FormatText        bool            `json:"format_text"`
	WordBoost         []string        `json:"word_boost,omitempty"`
	AutoHighlights    bool            `json:"auto_highlights"`
	AutoChapters      bool            `json:"auto_chapters"`
	SentimentAnalysis bool            `json:"sentiment_analysis"`
	EntityDetection   bool            `json:"entity_detection"`
	ContentSafety     bool            `json:"content_safety"`
}

// Submit starts a transcript for an uploaded segment and returns its ID.
func (c *Client) Submit(ctx context.Context, handle types.UploadHandle, features types.FeatureConfig) (string, error) {
	body := transcriptRequest{
		AudioURL:          handle.Ref,
		LanguageCode:      languageCode(features.LanguageCode),
		SpeakerLabels:     features.SpeakerDiarization,
		Punctuate:         features.Punctuate,
		FormatText:        features.FormatText,
		WordBoost:         features.KeywordBoost,
		AutoHighlights:    features.AutoHighlights,
		AutoChapters:      features.AutoChapters,
		SentimentAnalysis: features.SentimentAnalysis,
		EntityDetection:   features.EntityDetection,
		ContentSafety:     features.ContentSafety,
	}
	if features.SpeakerDiarization && features.MaxSpeakers > 0 {
		body.SpeakerOptions = &speakerOptions{MaxSpeakersExpected: features.MaxSpeakers}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/transcript", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out transcript
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("start transcript: %w", err)
	}
	log.Printf("[submit] segment %d: assemblyai transcript %s (%s)", handle.SegmentIndex, out.ID, out.Status)
	return out.ID, nil
}

// Status fetches the transcript and maps it onto the job state machine.
func (c *Client) Status(ctx context.Context, jobID string) (types.JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/transcript/"+jobID, nil)
	if err != nil {
		return types.JobStatus{}, fmt.Errorf("create request: %w", err)
	}

	var out transcript
	if err := c.do(req, &out); err != nil {
		return types.JobStatus{}, err
	}

	switch out.Status {
	case "queued":
		return types.JobStatus{State: types.JobStateQueued}, nil
	case "processing":
		return types.JobStatus{State: types.JobStateProcessing}, nil
	case "completed":
		return types.JobStatus{State: types.JobStateCompleted, Partial: out.toPartial()}, nil
	case "error":
		return types.JobStatus{State: types.JobStateFailed, ErrorMessage: out.Error}, nil
	default:
		return types.JobStatus{}, fmt.Errorf("unknown transcript status %q", out.Status)
	}
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// languageCode converts a BCP-47 tag such as en-US to AssemblyAI's en_us.
func languageCode(code string) string {
	return strings.ToLower(strings.ReplaceAll(code, "-", "_"))
}
