package upload

import (
	"context"
	"log"
	"time"

	"github.com/embano1/transcribe-longform/internal/types"
)

const (
	defaultChunkSize    = 5 << 20
	defaultMinChunkSize = 512 << 10
)

// Uploader transfers one segment to provider storage, streaming it in
// chunkSize pieces.
type Uploader interface {
	Upload(ctx context.Context, seg types.Segment, chunkSize int) (types.UploadHandle, error)
}

// AttemptFunc is called before every upload attempt.
type AttemptFunc func(segmentIndex, attempt, chunkSize int)

// Manager uploads segments under a bounded retry policy.
type Manager struct {
	uploader  Uploader
	cfg       types.UploadConfig
	onAttempt AttemptFunc
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithAttemptHook registers a callback fired before every attempt.
func WithAttemptHook(fn AttemptFunc) Option {
	return func(m *Manager) {
		m.onAttempt = fn
	}
}

// WithSleep replaces the wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) {
		m.sleep = fn
	}
}

// NewManager creates an upload Manager.
func NewManager(u Uploader, cfg types.UploadConfig, opts ...Option) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = defaultMinChunkSize
	}

	m := &Manager{
		uploader: u,
		cfg:      cfg,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Upload transfers seg and returns its handle. Transient failures are retried
// with growing waits and shrinking chunks; a fatal failure or exhausting all
// attempts returns *types.UploadError.
func (m *Manager) Upload(ctx context.Context, seg types.Segment) (types.UploadHandle, error) {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		chunk := ChunkSize(m.cfg.ChunkSize, m.cfg.MinChunkSize, attempt)
		if m.onAttempt != nil {
			m.onAttempt(seg.Index, attempt, chunk)
		}
		log.Printf("[upload] segment %d attempt %d/%d (%d bytes, chunk %d)", seg.Index, attempt, m.cfg.MaxAttempts, seg.Size, chunk)

		handle, err := m.attempt(ctx, seg, chunk)
		if err == nil {
			handle.SegmentIndex = seg.Index
			log.Printf("[upload] segment %d uploaded: %s", seg.Index, handle.Ref)
			return handle, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return types.UploadHandle{}, &types.UploadError{SegmentIndex: seg.Index, Kind: types.KindFatal, Attempts: attempt, Err: ctx.Err()}
		}
		if kind := types.Classify(err); kind == types.KindFatal {
			log.Printf("[upload] segment %d attempt %d failed permanently: %v", seg.Index, attempt, err)
			return types.UploadHandle{}, &types.UploadError{SegmentIndex: seg.Index, Kind: kind, Attempts: attempt, Err: err}
		}

		log.Printf("[upload] segment %d attempt %d failed: %v", seg.Index, attempt, err)
		if attempt == m.cfg.MaxAttempts {
			break
		}

		wait := Backoff(m.cfg.BackoffBase, m.cfg.BackoffMax, attempt)
		log.Printf("[upload] segment %d waiting %s before retry", seg.Index, wait)
		if err := m.sleep(ctx, wait); err != nil {
			return types.UploadHandle{}, &types.UploadError{SegmentIndex: seg.Index, Kind: types.KindFatal, Attempts: attempt, Err: err}
		}
	}

	return types.UploadHandle{}, &types.UploadError{SegmentIndex: seg.Index, Kind: types.KindTransient, Attempts: m.cfg.MaxAttempts, Err: lastErr}
}

func (m *Manager) attempt(ctx context.Context, seg types.Segment, chunk int) (types.UploadHandle, error) {
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}
	return m.uploader.Upload(ctx, seg, chunk)
}

// Backoff returns the wait after the given failed attempt: base*attempt,
// capped at limit.
func Backoff(base, limit time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt <= 0 {
		return 0
	}
	wait := base * time.Duration(attempt)
	if limit > 0 && wait > limit {
		return limit
	}
	return wait
}

// ChunkSize halves the initial chunk size on every retry, never going below floor.
func ChunkSize(initial, floor, attempt int) int {
	size := initial
	for i := 1; i < attempt && size > floor; i++ {
		size /= 2
	}
	if size < floor {
		return floor
	}
	return size
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
