package ambient_test

import (
	"testing"
	"time"

	"github.com/MrWong99/ambient/internal/ambient"
	"github.com/MrWong99/ambient/pkg/audio"
)

const eventTimeout = 2 * time.Second

// next returns the next event or fails the test.
func next(t *testing.T, p ambient.Provider) ambient.Event {
	t.Helper()
	select {
	case ev, ok := <-p.Events():
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for event")
	}
	return ambient.Event{}
}

// expect asserts that the next events equal want, in order.
func expect(t *testing.T, p ambient.Provider, want ...ambient.Event) {
	t.Helper()
	for i, w := range want {
		if got := next(t, p); got != w {
			t.Fatalf("event %d = %+v, want %+v", i, got, w)
		}
	}
}

func waitState(t *testing.T, p ambient.Provider, kind ambient.StateKind) {
	t.Helper()
	deadline := time.Now().Add(eventTimeout)
	for p.State().Kind != kind {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want %v", p.State(), kind)
		}
		time.Sleep(time.Millisecond)
	}
}

// testChunk returns a one-second chunk of 16 kHz mono silence.
func testChunk(id string) audio.Chunk {
	f := audio.Format{SampleRate: 16000, Channels: 1}
	return audio.Chunk{
		ID:         id,
		Data:       audio.EncodeWAV(make([]byte, f.BytesPerSecond()), f),
		Duration:   time.Second,
		CapturedAt: time.Now(),
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Frames:     50,
	}
}
