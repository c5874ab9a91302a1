package ambient

import (
	"strings"
	"time"

	"github.com/MrWong99/ambient/pkg/phrase"
)

// phraseSession is the wake/command state machine shared by the batch and
// streaming providers. It is not safe for concurrent use; providers call it
// under their own lock.
type phraseSession struct {
	cfg Config
	det *phrase.Detector

	inCommand bool
	startedAt time.Time
	buf       string

	// wakeFromHypothesis is set while the utterance that carried the wake
	// phrase has not been finalized yet. Its later transcripts repeat the
	// wake phrase, which is stripped before accumulation.
	wakeFromHypothesis bool

	// skipUntilFinal is set when a command closed on a hypothesis. The rest
	// of that utterance, including its final, is ignored.
	skipUntilFinal bool
}

func newPhraseSession(cfg Config) *phraseSession {
	return &phraseSession{cfg: cfg, det: cfg.detector()}
}

// state returns listening or command.
func (s *phraseSession) state() State {
	if s.inCommand {
		return State{Kind: StateCommand, StartedAt: s.startedAt}
	}
	return State{Kind: StateListening}
}

// command returns the text accumulated since the wake phrase.
func (s *phraseSession) command() string { return s.buf }

func (s *phraseSession) enterCommand(now time.Time) {
	s.inCommand = true
	s.startedAt = now
	s.buf = ""
}

func (s *phraseSession) exitCommand() {
	s.inCommand = false
	s.startedAt = time.Time{}
	s.buf = ""
	s.wakeFromHypothesis = false
}

func (s *phraseSession) reset() {
	s.exitCommand()
	s.skipUntilFinal = false
}

// batch handles one final transcript of a recorded chunk. The whole
// accumulated buffer is matched for end and cancel phrases.
func (s *phraseSession) batch(text string, now time.Time) []Event {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !s.inCommand {
		m := s.det.Wake(text)
		if m == nil {
			return nil
		}
		s.enterCommand(now)
		evs := []Event{WakeEvent(s.cfg.WakePhrase, m.TextAfter)}
		if m.TextAfter != "" {
			evs = append(evs, s.step(m.TextAfter, true)...)
		}
		return evs
	}
	return s.step(text, true)
}

// streaming handles one hypothesis or final transcript. Wake, end and cancel
// phrases are detected on every transcript; only finals are accumulated.
func (s *phraseSession) streaming(text string, final bool, now time.Time) []Event {
	text = strings.TrimSpace(text)
	if s.skipUntilFinal {
		if final {
			s.skipUntilFinal = false
		}
		return nil
	}
	if text == "" {
		return nil
	}

	if !s.inCommand {
		m := s.det.Wake(text)
		if m == nil {
			return nil
		}
		s.enterCommand(now)
		s.wakeFromHypothesis = !final
		evs := []Event{WakeEvent(s.cfg.WakePhrase, m.TextAfter)}
		if m.TextAfter != "" {
			evs = append(evs, s.streamStep(m.TextAfter, final)...)
		}
		return evs
	}

	if s.wakeFromHypothesis {
		if m := s.det.Wake(text); m != nil {
			text = m.TextAfter
		}
		if final {
			s.wakeFromHypothesis = false
		}
		if text == "" {
			return nil
		}
	}
	return s.streamStep(text, final)
}

func (s *phraseSession) streamStep(text string, final bool) []Event {
	evs := s.step(text, final)
	if !s.inCommand && !final {
		s.skipUntilFinal = true
	}
	return evs
}

// step matches the buffer extended by text. Cancel wins over end. When
// neither matches and commit is set, text is appended to the buffer.
func (s *phraseSession) step(text string, commit bool) []Event {
	candidate := joinText(s.buf, text)
	if s.det.Cancel(candidate) != nil {
		s.exitCommand()
		return []Event{CancelEvent()}
	}
	if m := s.det.End(candidate); m != nil {
		cmd := m.TextBefore
		s.exitCommand()
		if cmd == "" {
			return nil
		}
		return []Event{EndEvent(cmd)}
	}
	if commit {
		s.buf = candidate
	}
	return nil
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
