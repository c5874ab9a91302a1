package audio_test

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/ambient/pkg/audio"
)

func TestEncodeDecodeWAV(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 16000, Channels: 2}
	pcm := constPCM(160, 2, 1234)
	wav := audio.EncodeWAV(pcm, f)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}

	got, gotFmt, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if gotFmt != f {
		t.Errorf("format = %v, want %v", gotFmt, f)
	}
	if string(got) != string(pcm) {
		t.Error("pcm payload mismatch")
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	t.Parallel()

	if _, _, err := audio.DecodeWAV([]byte("not a wav file at all")); !errors.Is(err, audio.ErrInvalidWAV) {
		t.Errorf("err = %v, want ErrInvalidWAV", err)
	}
}

func TestWAVWriter_PatchesHeaderOnClose(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.wav")
	f := audio.Format{SampleRate: 8000, Channels: 1}
	w, err := audio.CreateWAV(path, f)
	if err != nil {
		t.Fatalf("CreateWAV: %v", err)
	}
	for range 3 {
		if _, err := w.Write(constPCM(800, 1, 7)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if w.Size() != 4800 {
		t.Errorf("Size = %d, want 4800", w.Size())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := w.Write([]byte{0, 0}); !errors.Is(err, os.ErrClosed) {
		t.Errorf("Write after Close err = %v, want os.ErrClosed", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	pcm, gotFmt, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if gotFmt != f || len(pcm) != 4800 {
		t.Errorf("decoded %v with %d bytes, want %v with 4800", gotFmt, len(pcm), f)
	}
}

func TestCreateWAV_InvalidFormat(t *testing.T) {
	t.Parallel()

	if _, err := audio.CreateWAV(filepath.Join(t.TempDir(), "x.wav"), audio.Format{}); err == nil {
		t.Error("expected error for zero format")
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 48000, Channels: 2}
	if got := f.Duration(192000); got != time.Second {
		t.Errorf("Duration = %v, want 1s", got)
	}
	if got := f.String(); got != "48000Hz stereo" {
		t.Errorf("String = %q", got)
	}
	if (audio.Format{}).Duration(100) != 0 {
		t.Error("zero format duration should be 0")
	}
}

func TestFloatPCMRoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.5, -0.5, 1, -1, 2, -2}
	pcm := audio.FloatToPCM16(in)
	out := audio.PCM16ToMonoFloat(pcm, 1)
	want := []float32{0, 0.5, -0.5, 1, -1, 1, -1}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-3 {
			t.Errorf("sample %d: got %f, want %f", i, out[i], want[i])
		}
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %f, want 0", got)
	}
	if got := audio.RMS(constPCM(100, 1, 16384)); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS(const 0.5) = %f, want 0.5", got)
	}
}
