package audio

import (
	"log/slog"
	"sync"
	"time"
)

// Default resampler parameters: 100 ms packets of 16 kHz mono.
const (
	DefaultPacketRate    = 16000
	DefaultPacketSamples = 1600
)

// ResamplerOption configures a [Resampler].
type ResamplerOption func(*Resampler)

// WithTargetRate sets the output sample rate. Default: 16000.
func WithTargetRate(hz int) ResamplerOption {
	return func(r *Resampler) {
		if hz > 0 {
			r.target = hz
		}
	}
}

// WithPacketSamples sets the number of samples per emitted packet.
// Default: 1600.
func WithPacketSamples(n int) ResamplerOption {
	return func(r *Resampler) {
		if n > 0 {
			r.packetSize = n
		}
	}
}

// Resampler converts frames of any int16 PCM format into fixed-rate mono
// float32 [Packet] values of a fixed size.
//
// Conversion is stateful linear interpolation, so packet boundaries do not
// introduce discontinuities. When the input format changes the converter is
// recreated for the new format; samples already buffered are kept.
//
// All methods are safe for concurrent use. onPacket is called synchronously
// from Write and Flush, in order.
type Resampler struct {
	target     int
	packetSize int
	onPacket   func(Packet)

	mu      sync.Mutex
	in      Format
	conv    *linearConverter
	buf     []float32
	emitted int64 // samples emitted so far, for packet timestamps
}

// NewResampler returns a Resampler delivering packets to onPacket.
func NewResampler(onPacket func(Packet), opts ...ResamplerOption) *Resampler {
	r := &Resampler{
		target:     DefaultPacketRate,
		packetSize: DefaultPacketSamples,
		onPacket:   onPacket,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Write converts f and emits as many full packets as are available.
func (r *Resampler) Write(f Frame) {
	if !f.Format().Valid() || len(f.Data) == 0 {
		return
	}

	r.mu.Lock()
	if r.conv == nil || f.Format() != r.in {
		if r.conv != nil {
			slog.Info("resampler: input format changed",
				"from", r.in.String(),
				"to", f.Format().String(),
			)
		}
		r.in = f.Format()
		r.conv = newLinearConverter(f.SampleRate, r.target)
	}
	mono := PCM16ToMonoFloat(f.Data, f.Channels)
	r.buf = r.conv.process(mono, r.buf)

	var out []Packet
	for len(r.buf) >= r.packetSize {
		out = append(out, r.packetLocked(r.packetSize))
	}
	r.mu.Unlock()

	r.deliver(out)
}

// Flush emits any buffered remainder as a final, possibly short packet and
// resets the converter state. It is a no-op when nothing is buffered.
func (r *Resampler) Flush() {
	r.mu.Lock()
	var out []Packet
	if len(r.buf) > 0 {
		out = append(out, r.packetLocked(len(r.buf)))
	}
	r.conv = nil
	r.in = Format{}
	r.mu.Unlock()

	r.deliver(out)
}

// Reset discards buffered samples and timestamps without emitting them.
func (r *Resampler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = r.buf[:0]
	r.conv = nil
	r.in = Format{}
	r.emitted = 0
}

func (r *Resampler) packetLocked(n int) Packet {
	samples := make([]float32, n)
	copy(samples, r.buf[:n])
	r.buf = append(r.buf[:0], r.buf[n:]...)

	p := Packet{
		Samples:    samples,
		SampleRate: r.target,
		Timestamp:  time.Duration(r.emitted) * time.Second / time.Duration(r.target),
	}
	r.emitted += int64(n)
	return p
}

func (r *Resampler) deliver(ps []Packet) {
	if r.onPacket == nil {
		return
	}
	for _, p := range ps {
		r.onPacket(p)
	}
}

// linearConverter resamples a continuous mono stream by linear
// interpolation, carrying the last input sample and the fractional read
// position across calls.
type linearConverter struct {
	step float64 // input samples advanced per output sample
	pos  float64 // read position relative to the next input block; -1 addresses prev
	prev float32
}

func newLinearConverter(srcRate, dstRate int) *linearConverter {
	return &linearConverter{step: float64(srcRate) / float64(dstRate)}
}

// process appends the converted samples of in to out and returns it.
func (c *linearConverter) process(in []float32, out []float32) []float32 {
	n := len(in)
	if n == 0 {
		return out
	}
	for {
		i := int(c.pos)
		if c.pos < 0 {
			i = -1
		}
		if i+1 >= n {
			break
		}
		s0 := c.prev
		if i >= 0 {
			s0 = in[i]
		}
		s1 := in[i+1]
		frac := float32(c.pos - float64(i))
		out = append(out, s0+(s1-s0)*frac)
		c.pos += c.step
	}
	c.pos -= float64(n)
	c.prev = in[n-1]
	return out
}
