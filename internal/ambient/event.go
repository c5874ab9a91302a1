package ambient

import "time"

// EventType discriminates [Event].
type EventType int

const (
	// EventReady is emitted once the engine is connected and listening.
	EventReady EventType = iota

	// EventSpeechStart and EventSpeechEnd mirror the engine's voice
	// activity signals. Only streaming engines produce them.
	EventSpeechStart
	EventSpeechEnd

	// EventTranscript carries every non-empty transcript, before phrase
	// detection runs on it.
	EventTranscript

	EventWakeDetected
	EventEndDetected
	EventCancelDetected

	// EventError reports an engine failure. Fatal errors leave the provider
	// in [StateError].
	EventError
)

// String returns the event name.
func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventSpeechStart:
		return "speechStart"
	case EventSpeechEnd:
		return "speechEnd"
	case EventTranscript:
		return "transcript"
	case EventWakeDetected:
		return "wakeDetected"
	case EventEndDetected:
		return "endDetected"
	case EventCancelDetected:
		return "cancelDetected"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is something a provider observed. Only the fields relevant to Type
// are set. Events are comparable with ==.
type Event struct {
	Type EventType

	// MemoryEstimate is the engine's resident size in bytes (ready). Zero
	// when unknown.
	MemoryEstimate int64

	// Silence is the trailing silence that ended an utterance (speechEnd).
	Silence time.Duration

	// Text, Confidence and IsFinal describe a transcript. Confidence is
	// zero when the engine does not report one.
	Text       string
	Confidence float64
	IsFinal    bool

	// Phrase is the configured wake phrase and TextAfter the transcript
	// text that followed it (wakeDetected).
	Phrase    string
	TextAfter string

	// Command is the text spoken between wake and end phrase (endDetected).
	Command string

	// Message and Fatal describe an error.
	Message string
	Fatal   bool
}

// ReadyEvent returns a ready event.
func ReadyEvent(memoryEstimate int64) Event {
	return Event{Type: EventReady, MemoryEstimate: memoryEstimate}
}

// SpeechStartEvent returns a speechStart event.
func SpeechStartEvent() Event { return Event{Type: EventSpeechStart} }

// SpeechEndEvent returns a speechEnd event.
func SpeechEndEvent(silence time.Duration) Event {
	return Event{Type: EventSpeechEnd, Silence: silence}
}

// TranscriptEvent returns a transcript event.
func TranscriptEvent(text string, confidence float64, isFinal bool) Event {
	return Event{Type: EventTranscript, Text: text, Confidence: confidence, IsFinal: isFinal}
}

// WakeEvent returns a wakeDetected event.
func WakeEvent(phrase, textAfter string) Event {
	return Event{Type: EventWakeDetected, Phrase: phrase, TextAfter: textAfter}
}

// EndEvent returns an endDetected event.
func EndEvent(command string) Event {
	return Event{Type: EventEndDetected, Command: command}
}

// CancelEvent returns a cancelDetected event.
func CancelEvent() Event { return Event{Type: EventCancelDetected} }

// ErrorEvent returns an error event.
func ErrorEvent(message string, fatal bool) Event {
	return Event{Type: EventError, Message: message, Fatal: fatal}
}
