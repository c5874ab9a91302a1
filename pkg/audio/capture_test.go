package audio_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/ambient/pkg/audio"
	audiomock "github.com/MrWong99/ambient/pkg/audio/mock"
)

func TestNewCapture_RequiresSource(t *testing.T) {
	t.Parallel()

	if _, err := audio.NewCapture(audio.CaptureConfig{}); err == nil {
		t.Fatal("expected error without source")
	}
}

func TestCapture_DispatchesFramesInOrder(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{FormatResult: audio.Format{SampleRate: 48000, Channels: 1}}
	frames := make(chan audio.Frame, 8)
	c, err := audio.NewCapture(audio.CaptureConfig{
		Source:  src,
		OnFrame: func(f audio.Frame) { frames <- f },
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if err := c.Start(context.Background()); !errors.Is(err, audio.ErrCaptureRunning) {
		t.Errorf("second Start err = %v, want ErrCaptureRunning", err)
	}

	for i := range 3 {
		src.Emit(constPCM(480, 1, int16(1000*(i+1))))
	}
	for i := range 3 {
		select {
		case f := <-frames:
			if f.SampleRate != 48000 || f.Channels != 1 {
				t.Errorf("frame %d format = %v", i, f.Format())
			}
			want := constPCM(480, 1, int16(1000*(i+1)))
			if string(f.Data) != string(want) {
				t.Errorf("frame %d out of order or corrupted", i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d not dispatched", i)
		}
	}

	wantLevel := 3000.0 / 32768
	if got := c.Level(); math.Abs(got-wantLevel) > 1e-9 {
		t.Errorf("Level = %f, want %f", got, wantLevel)
	}
	if got := c.Format(); got.SampleRate != 48000 {
		t.Errorf("Format = %v", got)
	}
}

func TestCapture_DropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{FormatResult: audio.Format{SampleRate: 16000, Channels: 1}}
	gate := make(chan struct{})
	c, err := audio.NewCapture(audio.CaptureConfig{
		Source:      src,
		QueueFrames: 1,
		OnFrame:     func(audio.Frame) { <-gate },
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	for range 5 {
		src.Emit(constPCM(160, 1, 1))
	}
	if got := c.Dropped(); got < 3 {
		t.Errorf("Dropped = %d, want >= 3", got)
	}
	close(gate)
	if err := c.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestCapture_RestartsAfterDeviceLoss(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{
		FormatResult: audio.Format{SampleRate: 16000, Channels: 1},
		OpenErrors:   []error{nil, errors.New("device busy"), nil},
	}
	restarted := make(chan audio.Format, 1)
	c, err := audio.NewCapture(audio.CaptureConfig{
		Source:      src,
		MaxRestarts: 3,
		Backoff:     time.Millisecond,
		OnRestart:   func(f audio.Format) { restarted <- f },
		OnError:     func(err error) { t.Errorf("unexpected fatal error: %v", err) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	src.SetFormat(audio.Format{SampleRate: 44100, Channels: 2})
	src.Fail(errors.New("unplugged"))

	select {
	case f := <-restarted:
		if f.SampleRate != 44100 || f.Channels != 2 {
			t.Errorf("restart format = %v, want 44100Hz stereo", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not restart")
	}
	if src.OpenCalls != 3 {
		t.Errorf("OpenCalls = %d, want 3", src.OpenCalls)
	}
	if !src.IsOpen() || !c.Running() {
		t.Error("capture not running after restart")
	}
}

func TestCapture_FatalAfterRestartsExhausted(t *testing.T) {
	t.Parallel()

	deviceErr := errors.New("no such device")
	src := &audiomock.Source{
		FormatResult: audio.Format{SampleRate: 16000, Channels: 1},
		OpenErrors:   []error{nil},
		OpenError:    deviceErr,
	}
	fatal := make(chan error, 1)
	c, err := audio.NewCapture(audio.CaptureConfig{
		Source:      src,
		MaxRestarts: 2,
		Backoff:     time.Millisecond,
		OnError:     func(err error) { fatal <- err },
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	c.Restart()

	select {
	case err := <-fatal:
		if !errors.Is(err, deviceErr) {
			t.Errorf("fatal err = %v, want wrapping %v", err, deviceErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fatal error after exhausting restarts")
	}
	if c.Running() {
		t.Error("capture still running after fatal error")
	}
	if err := c.Stop(); err != nil {
		t.Errorf("Stop after fatal: %v", err)
	}
	if src.OpenCalls != 3 {
		t.Errorf("OpenCalls = %d, want 3 (initial + 2 restarts)", src.OpenCalls)
	}
}

func TestCapture_NoFramesAfterStop(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{FormatResult: audio.Format{SampleRate: 16000, Channels: 1}}
	c, err := audio.NewCapture(audio.CaptureConfig{Source: src})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if src.Emit(constPCM(10, 1, 1)) {
		t.Error("source still delivering after Stop")
	}
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	c.Restart() // no-op while stopped
	if src.OpenCalls != 1 {
		t.Errorf("OpenCalls = %d, want 1", src.OpenCalls)
	}
}

func TestCapture_StartError(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{OpenError: errors.New("denied")}
	c, err := audio.NewCapture(audio.CaptureConfig{Source: src})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected Start error")
	}
	if c.Running() {
		t.Error("Running after failed Start")
	}
}
