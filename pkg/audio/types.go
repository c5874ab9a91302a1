package audio

import "time"

// Frame is one buffer of interleaved little-endian int16 PCM as delivered by
// a [Source]. Frames are the atomic unit of capture; their size is decided by
// the device period.
type Frame struct {
	// Data holds interleaved int16 PCM samples. The slice is owned by the
	// frame; sources must not reuse the backing array after delivery.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for most built-in microphones).
	SampleRate int

	// Channels is the interleaved channel count.
	Channels int

	// Timestamp is the capture offset relative to the start of the stream.
	Timestamp time.Duration
}

// Format returns the sample rate and channel count of the frame.
func (f Frame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Samples returns the number of sample frames (one sample per channel) in f.
func (f Frame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / (2 * f.Channels)
}

// Packet is a short run of mono float32 samples at a fixed rate, produced by
// the [Resampler] for streaming speech engines. Packets are transient.
type Packet struct {
	// Samples in the range [-1, 1].
	Samples []float32

	// SampleRate of Samples in Hz, 16000 by default.
	SampleRate int

	// Timestamp is the offset of the first sample relative to the start of
	// the resampled stream.
	Timestamp time.Duration
}

// Duration returns the playback length of p.
func (p Packet) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(p.Samples)) * time.Second / time.Duration(p.SampleRate)
}

// Chunk is a finalized, bounded-duration segment of recorded audio. Chunks are
// immutable once the [Recorder] hands them out.
type Chunk struct {
	// ID uniquely identifies the chunk.
	ID string

	// Data is the complete WAV file (44-byte header followed by PCM).
	Data []byte

	// Duration is the audio length derived from the PCM payload.
	Duration time.Duration

	// CapturedAt is the wall-clock time the first frame of the chunk was
	// written.
	CapturedAt time.Time

	// Path is the backing file. It is removed when the chunk is pruned or the
	// recorder stops.
	Path string

	// SampleRate and Channels describe the PCM payload.
	SampleRate int
	Channels   int

	// Frames is the number of capture frames written into the chunk.
	Frames int
}

// PCM returns the raw PCM payload of the chunk without the WAV header.
func (c Chunk) PCM() []byte {
	if len(c.Data) < wavHeaderSize {
		return nil
	}
	return c.Data[wavHeaderSize:]
}

// Format returns the format of the chunk's PCM payload.
func (c Chunk) Format() Format {
	return Format{SampleRate: c.SampleRate, Channels: c.Channels}
}
