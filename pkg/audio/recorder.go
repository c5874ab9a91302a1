package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default recorder parameters.
const (
	DefaultChunkDuration    = 10 * time.Second
	DefaultBufferDuration   = 2 * time.Minute
	DefaultMinChunkDuration = time.Second
	DefaultMinChunkFrames   = 10
)

// Discard reasons reported through [RecorderConfig.OnDiscard].
const (
	DiscardTooShort  = "too_short"
	DiscardTooFew    = "too_few_frames"
	DiscardIOFailure = "io_failure"
)

// RecorderConfig configures a [Recorder].
type RecorderConfig struct {
	// Dir holds the transient chunk files. It is created if missing.
	// Defaults to a fresh directory under [os.TempDir].
	Dir string

	// ChunkDuration is the rotation interval. Defaults to 10s.
	ChunkDuration time.Duration

	// BufferDuration is how long finalized chunks are retained. Defaults to 2m.
	BufferDuration time.Duration

	// MinDuration and MinFrames are the thresholds a chunk must reach to be
	// kept. Defaults to 1s and 10 frames.
	MinDuration time.Duration
	MinFrames   int

	// OnChunk receives every finalized chunk in order. It runs outside the
	// recorder's lock and may block; blocking delays the next rotation.
	OnChunk func(Chunk)

	// OnDiscard is told why a chunk was thrown away. May be nil.
	OnDiscard func(reason string)

	// Now overrides the wall clock. Used in tests.
	Now func() time.Time
}

// Recorder rotates a continuous stream of frames into bounded WAV chunks.
//
// Active audio is written straight into an uncompressed WAV file whose header
// is patched when the chunk is finalized, so rotation never has an encoder to
// flush. Rotation happens every ChunkDuration and whenever the input format
// changes; the previous chunk is always finalized before the next is opened.
//
// All methods are safe for concurrent use.
type Recorder struct {
	dir         string
	chunkDur    time.Duration
	bufferDur   time.Duration
	minDuration time.Duration
	minFrames   int
	onChunk     func(Chunk)
	onDiscard   func(string)
	now         func() time.Time

	// deliverMu keeps OnChunk calls sequential and in finalize order.
	deliverMu sync.Mutex

	mu      sync.Mutex
	running bool
	active  *activeChunk
	chunks  []Chunk
	pending []Chunk
	stop    chan struct{}
	kick    chan struct{}
	wg      sync.WaitGroup
}

type activeChunk struct {
	id        string
	w         *WAVWriter
	startedAt time.Time
	frames    int
}

// NewRecorder validates cfg, creates the chunk directory and returns an idle
// Recorder.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	dir := cfg.Dir
	if dir == "" {
		d, err := os.MkdirTemp("", "ambient-chunks-")
		if err != nil {
			return nil, fmt.Errorf("recorder: create temp dir: %w", err)
		}
		dir = d
	} else if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("recorder: create dir: %w", err)
	}

	r := &Recorder{
		dir:         dir,
		chunkDur:    cfg.ChunkDuration,
		bufferDur:   cfg.BufferDuration,
		minDuration: cfg.MinDuration,
		minFrames:   cfg.MinFrames,
		onChunk:     cfg.OnChunk,
		onDiscard:   cfg.OnDiscard,
		now:         cfg.Now,
	}
	if r.chunkDur <= 0 {
		r.chunkDur = DefaultChunkDuration
	}
	if r.bufferDur <= 0 {
		r.bufferDur = DefaultBufferDuration
	}
	if r.minDuration <= 0 {
		r.minDuration = DefaultMinChunkDuration
	}
	if r.minFrames <= 0 {
		r.minFrames = DefaultMinChunkFrames
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Dir returns the directory holding chunk files.
func (r *Recorder) Dir() string { return r.dir }

// Start begins a new chunk and the rotation timer. The chunk file is created
// when the first frame arrives, because only then is the format known.
// Calling Start on a running recorder is a no-op.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	r.kick = make(chan struct{}, 1)
	r.wg.Add(1)
	go r.loop(r.stop, r.kick)
}

// Write appends a frame to the active chunk. Frames written while the recorder
// is stopped are ignored. A frame whose format differs from the active chunk
// finalizes that chunk first.
func (r *Recorder) Write(f Frame) error {
	if !f.Format().Valid() || len(f.Data) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}

	if r.active != nil && r.active.w.Format() != f.Format() {
		slog.Info("recorder: input format changed, rotating chunk",
			"from", r.active.w.Format().String(),
			"to", f.Format().String(),
		)
		r.finalizeLocked()
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}

	if r.active == nil {
		if err := r.openLocked(f.Format()); err != nil {
			return err
		}
	}

	if _, err := r.active.w.Write(f.Data); err != nil {
		slog.Warn("recorder: write failed, dropping chunk", "chunk_id", r.active.id, "err", err)
		r.discardLocked(r.active, DiscardIOFailure)
		r.active = nil
		return fmt.Errorf("recorder: write: %w", err)
	}
	r.active.frames++
	return nil
}

// Rotate finalizes the active chunk, delivers it if it qualifies, and lets the
// next frame open a new one.
func (r *Recorder) Rotate() {
	r.mu.Lock()
	r.finalizeLocked()
	r.mu.Unlock()
	r.deliverPending()
}

// Stop finalizes and delivers the active chunk, halts rotation, then removes
// every retained chunk file. Safe to call on a stopped recorder.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stop)
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	r.finalizeLocked()
	r.mu.Unlock()
	r.deliverPending()

	r.mu.Lock()
	chunks := r.chunks
	r.chunks = nil
	r.mu.Unlock()

	var errs []error
	for _, c := range chunks {
		if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("recorder: stop: %w", err)
	}
	return nil
}

// Chunks returns a snapshot of the retained chunks, oldest first.
func (r *Recorder) Chunks() []Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Chunk, len(r.chunks))
	copy(out, r.chunks)
	return out
}

// Recent returns the retained chunks captured within the last d, oldest
// first.
func (r *Recorder) Recent(d time.Duration) []Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-d)
	var out []Chunk
	for _, c := range r.chunks {
		if !c.CapturedAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out
}

func (r *Recorder) loop(stop <-chan struct{}, kick <-chan struct{}) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.chunkDur)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.Rotate()
		case <-kick:
			r.deliverPending()
		}
	}
}

func (r *Recorder) openLocked(f Format) error {
	id := uuid.NewString()
	path := filepath.Join(r.dir, "chunk-"+id+".wav")
	w, err := CreateWAV(path, f)
	if err != nil {
		return fmt.Errorf("recorder: open chunk: %w", err)
	}
	r.active = &activeChunk{id: id, w: w, startedAt: r.now()}
	return nil
}

// finalizeLocked closes the active chunk and, if it meets the thresholds,
// appends it to the retained list, prunes and queues it for delivery.
func (r *Recorder) finalizeLocked() {
	a := r.active
	r.active = nil
	if a == nil {
		return
	}

	if err := a.w.Close(); err != nil {
		slog.Warn("recorder: finalize failed", "chunk_id", a.id, "err", err)
		r.discardLocked(a, DiscardIOFailure)
		return
	}

	f := a.w.Format()
	dur := f.Duration(a.w.Size())
	switch {
	case dur < r.minDuration:
		r.discardLocked(a, DiscardTooShort)
		return
	case a.frames < r.minFrames:
		r.discardLocked(a, DiscardTooFew)
		return
	}

	data, err := os.ReadFile(a.w.Path())
	if err != nil {
		slog.Warn("recorder: read chunk failed", "chunk_id", a.id, "err", err)
		r.discardLocked(a, DiscardIOFailure)
		return
	}

	c := Chunk{
		ID:         a.id,
		Data:       data,
		Duration:   dur,
		CapturedAt: a.startedAt,
		Path:       a.w.Path(),
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Frames:     a.frames,
	}
	r.chunks = append(r.chunks, c)
	r.pruneLocked(r.now())
	r.pending = append(r.pending, c)

	slog.Debug("recorder: chunk finalized",
		"chunk_id", c.ID,
		"duration", c.Duration,
		"frames", c.Frames,
		"retained", len(r.chunks),
	)
}

func (r *Recorder) discardLocked(a *activeChunk, reason string) {
	_ = a.w.Close()
	if err := os.Remove(a.w.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("recorder: remove discarded chunk", "chunk_id", a.id, "err", err)
	}
	slog.Debug("recorder: chunk discarded", "chunk_id", a.id, "reason", reason, "frames", a.frames)
	if r.onDiscard != nil {
		r.onDiscard(reason)
	}
}

// pruneLocked drops every chunk older than the retention window and deletes
// its file.
func (r *Recorder) pruneLocked(now time.Time) {
	kept := r.chunks[:0]
	for _, c := range r.chunks {
		if now.Sub(c.CapturedAt) <= r.bufferDur {
			kept = append(kept, c)
			continue
		}
		if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("recorder: remove pruned chunk", "chunk_id", c.ID, "err", err)
		}
	}
	clear(r.chunks[len(kept):])
	r.chunks = kept
}

func (r *Recorder) deliverPending() {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()
	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.mu.Unlock()
			return
		}
		c := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()

		if r.onChunk != nil {
			r.onChunk(c)
		}
	}
}
