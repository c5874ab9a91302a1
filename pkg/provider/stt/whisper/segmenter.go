package whisper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/ambient/pkg/audio"
	"github.com/MrWong99/ambient/pkg/provider/stt"
)

const (
	// defaultSilenceLevel is the normalised RMS level below which audio is
	// considered silent. 300 in 16-bit PCM units is near-silence.
	defaultSilenceLevel = 300.0 / 32768

	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000

	finalFlushTimeout = 30 * time.Second
)

// inferFunc transcribes one buffered utterance.
type inferFunc func(ctx context.Context, pcm []byte, f audio.Format, language string) (string, error)

// segmenterConfig holds the silence-detection parameters shared by the HTTP
// and native providers.
type segmenterConfig struct {
	format              audio.Format
	language            string
	silenceThresholdMs  int
	maxBufferDurationMs int
	infer               inferFunc
}

// session simulates a streaming engine on top of a batch one. It buffers
// incoming PCM, applies an energy-based silence detector to segment
// utterances, and submits each completed utterance for inference.
//
// All mutable buffer state is confined to the processLoop goroutine.
type session struct {
	cfg segmenterConfig

	audioCh chan []byte
	events  chan stt.Event

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

var _ stt.SessionHandle = (*session)(nil)

func startSession(ctx context.Context, cfg segmenterConfig) *session {
	s := &session{
		cfg:     cfg,
		audioCh: make(chan []byte, 256),
		events:  make(chan stt.Event, 64),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.processLoop(ctx)
	return s
}

// SendAudio queues a chunk of raw 16-bit little-endian signed PCM audio for
// silence analysis and buffering. Calling SendAudio after Close returns
// [stt.ErrSessionClosed].
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return fmt.Errorf("whisper: %w", stt.ErrSessionClosed)
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return fmt.Errorf("whisper: %w", stt.ErrSessionClosed)
	}
}

// Events returns the session's event channel. Each committed utterance yields
// a speech-start event when its first loud chunk arrives, a speech-end event
// when trailing silence is reached, and a final transcript once inference
// returns. The channel is closed when the session ends.
func (s *session) Events() <-chan stt.Event { return s.events }

// Close terminates the session, flushes any pending speech audio for a final
// transcription, closes the event channel, and releases all associated
// resources. Calling Close more than once is safe and returns nil.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// emit never blocks; the channel is buffered and a full channel means the
// consumer has stopped reading.
func (s *session) emit(ev stt.Event) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *session) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)

	var (
		buffer    []byte // accumulated PCM for the current utterance
		hadSpeech bool   // true once any high-energy chunk has been buffered
		silenceMs int    // consecutive silence accumulated after speech (ms)
	)

	bytesPerMs := s.cfg.format.BytesPerSecond() / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32 // 16 kHz, mono, 16-bit
	}
	maxBufferBytes := s.cfg.maxBufferDurationMs * bytesPerMs

	doFlush := func(flushCtx context.Context) {
		if len(buffer) == 0 || !hadSpeech {
			buffer = nil
			hadSpeech = false
			silenceMs = 0
			return
		}

		pcm := buffer
		buffer = nil
		hadSpeech = false
		silenceMs = 0

		text, err := s.cfg.infer(flushCtx, pcm, s.cfg.format, s.cfg.language)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.emit(stt.Event{Kind: stt.EventError, Err: err})
			}
			return
		}
		if text == "" {
			return
		}
		s.emit(stt.Event{
			Kind: stt.EventTranscript,
			Transcript: stt.Transcript{
				Text:     text,
				IsFinal:  true,
				Duration: s.cfg.format.Duration(len(pcm)),
			},
		})
	}

	// The caller-supplied ctx may already be cancelled on shutdown.
	flushWithTimeout := func() {
		fc, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
		defer cancel()
		doFlush(fc)
	}

	for {
		select {
		case <-ctx.Done():
			flushWithTimeout()
			return

		case <-s.done:
			flushWithTimeout()
			return

		case chunk := <-s.audioCh:
			chunkMs := int(s.cfg.format.Duration(len(chunk)).Milliseconds())

			if audio.RMS(chunk) < defaultSilenceLevel {
				// Leading silence before any speech is discarded.
				if !hadSpeech {
					continue
				}
				silenceMs += chunkMs
				buffer = append(buffer, chunk...)
				if silenceMs >= s.cfg.silenceThresholdMs {
					s.emit(stt.Event{
						Kind:    stt.EventSpeechEnded,
						Silence: time.Duration(silenceMs) * time.Millisecond,
					})
					doFlush(ctx)
				}
				continue
			}

			if !hadSpeech {
				s.emit(stt.Event{Kind: stt.EventSpeechStarted})
			}
			hadSpeech = true
			silenceMs = 0
			buffer = append(buffer, chunk...)
			if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes {
				doFlush(ctx)
			}
		}
	}
}

// streamFormat resolves the session format from cfg and provider defaults.
func streamFormat(cfg stt.StreamConfig, defaultRate int) audio.Format {
	f := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if f.SampleRate <= 0 {
		f.SampleRate = defaultRate
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	return f
}
