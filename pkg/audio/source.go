// Package audio captures microphone audio and shapes it for speech engines.
//
// The pipeline is built from three pieces:
//
//   - [Source]: a live input device delivering PCM buffers on its own
//     real-time thread. Adapters live in subpackages (audio/miniaudio).
//   - [Capture]: owns a Source, moves frames off the device thread onto a
//     bounded queue, tracks the input level and restarts the device with
//     bounded retries when it disappears.
//   - Consumers fed by Capture: the [Recorder] rotates frames into WAV chunks
//     for batch transcription, the [Resampler] turns them into 16 kHz mono
//     packets for streaming transcription.
//
// This package lives under pkg/ because device adapters and speech engine
// adapters outside this module are expected to produce and consume its types.
package audio

import "context"

// Source is a live audio input device.
//
// Implementations must be safe for concurrent use. Open may be called again
// after Close to reacquire the device, which is how [Capture] restarts it.
type Source interface {
	// Open starts the device and returns the negotiated format.
	//
	// onData is invoked on the device's real-time thread with each captured
	// buffer of interleaved int16 PCM. The slice is only valid for the
	// duration of the call; onData must copy it and must not block.
	//
	// onStop is invoked at most once per Open if the device stops on its own
	// (unplugged, route changed, driver error). It is not invoked by Close.
	Open(ctx context.Context, onData func(pcm []byte), onStop func(error)) (Format, error)

	// Close stops the device. No onData calls happen after Close returns.
	// Calling Close on a closed source returns nil.
	Close() error
}
