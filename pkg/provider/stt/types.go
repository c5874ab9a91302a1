package stt

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/MrWong99/ambient/pkg/audio"
)

// Transcript represents a speech-to-text result. Both hypothesis (interim)
// and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal reports whether the engine will revise this text further.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). Zero if the engine
	// does not report confidence.
	Confidence float64

	// Words contains per-word detail when available.
	Words []WordDetail

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail holds per-word metadata from engines that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost represents a keyword to boost in recognition.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "talkie").
	Keyword string

	// Boost is the intensity of the boost (engine-specific scale).
	Boost float64
}

// EventKind classifies an [Event].
type EventKind int

const (
	// EventTranscript carries a hypothesis or final transcript.
	EventTranscript EventKind = iota

	// EventSpeechStarted signals that the engine detected the start of speech.
	EventSpeechStarted

	// EventSpeechEnded signals the end of an utterance; Silence holds the
	// trailing silence that triggered it.
	EventSpeechEnded

	// EventError reports a non-terminal engine error. Session loss is signalled
	// by closing the Events channel, not by an error event.
	EventError
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventTranscript:
		return "transcript"
	case EventSpeechStarted:
		return "speech_started"
	case EventSpeechEnded:
		return "speech_ended"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one item on a [SessionHandle] event channel.
type Event struct {
	Kind EventKind

	// Transcript is set for EventTranscript.
	Transcript Transcript

	// Silence is set for EventSpeechEnded.
	Silence time.Duration

	// Err is set for EventError.
	Err error
}

// Priority orders concurrent batch requests on engines that can only serve
// one at a time.
type Priority int

const (
	// PriorityLow is used for ambient transcription.
	PriorityLow Priority = iota

	// PriorityNormal is the default for unlabelled requests.
	PriorityNormal

	// PriorityHigh is used for user-initiated transcription.
	PriorityHigh
)

// String returns the human-readable name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// Request describes one batch transcription.
type Request struct {
	// Audio holds little-endian int16 PCM. When nil, Path is read instead.
	Audio []byte

	// Path names a WAV file holding the audio.
	Path string

	// SampleRate and Channels describe Audio. Ignored when reading Path.
	SampleRate int
	Channels   int

	// Language is the BCP-47 language tag; empty lets the engine choose.
	Language string

	// Priority is the scheduling hint.
	Priority Priority
}

// PCM returns the request audio as PCM together with its format, reading and
// decoding Path when Audio is nil.
func (r Request) PCM() ([]byte, audio.Format, error) {
	if r.Audio != nil {
		f := audio.Format{SampleRate: r.SampleRate, Channels: r.Channels}
		if !f.Valid() {
			return nil, audio.Format{}, fmt.Errorf("stt: request: invalid format %s", f)
		}
		return r.Audio, f, nil
	}
	if r.Path == "" {
		return nil, audio.Format{}, errors.New("stt: request: neither audio nor path set")
	}
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("stt: request: %w", err)
	}
	pcm, f, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("stt: request: %w", err)
	}
	return pcm, f, nil
}

// Result is the outcome of a batch transcription.
type Result struct {
	// Text is the transcribed speech; empty when nothing was recognised.
	Text string

	// Language is the detected or requested language, when known.
	Language string
}
