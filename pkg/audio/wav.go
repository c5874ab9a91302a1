package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
)

// ErrInvalidWAV is returned by [DecodeWAV] for input that is not a canonical
// 16-bit PCM WAV file.
var ErrInvalidWAV = errors.New("audio: invalid wav data")

// EncodeWAV wraps raw int16 PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	buf := make([]byte, wavHeaderSize+len(pcm))
	putWAVHeader(buf, f, len(pcm))
	copy(buf[wavHeaderSize:], pcm)
	return buf
}

// DecodeWAV returns the PCM payload and format of a canonical 16-bit PCM WAV
// file as produced by [EncodeWAV] or [WAVWriter].
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < wavHeaderSize ||
		string(data[0:4]) != "RIFF" ||
		string(data[8:12]) != "WAVE" ||
		string(data[36:40]) != "data" {
		return nil, Format{}, ErrInvalidWAV
	}
	if binary.LittleEndian.Uint16(data[20:22]) != 1 || binary.LittleEndian.Uint16(data[34:36]) != bitsPerSample {
		return nil, Format{}, fmt.Errorf("%w: not 16-bit pcm", ErrInvalidWAV)
	}
	f := Format{
		Channels:   int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate: int(binary.LittleEndian.Uint32(data[24:28])),
	}
	size := int(binary.LittleEndian.Uint32(data[40:44]))
	if size > len(data)-wavHeaderSize {
		size = len(data) - wavHeaderSize
	}
	return data[wavHeaderSize : wavHeaderSize+size], f, nil
}

func putWAVHeader(buf []byte, f Format, dataSize int) {
	byteRate := f.SampleRate * f.Channels * bitsPerSample / 8
	blockAlign := f.Channels * bitsPerSample / 8

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
}

// WAVWriter streams int16 PCM into a WAV file. The header is written with zero
// sizes on creation and patched on [WAVWriter.Close], so the file on disk is
// only valid after Close returns.
//
// Not safe for concurrent use.
type WAVWriter struct {
	f      *os.File
	format Format
	size   int
	closed bool
}

// CreateWAV creates (or truncates) path and writes a placeholder header.
func CreateWAV(path string, f Format) (*WAVWriter, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("audio: create wav: invalid format %s", f)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audio: create wav: %w", err)
	}
	hdr := make([]byte, wavHeaderSize)
	putWAVHeader(hdr, f, 0)
	if _, err := file.Write(hdr); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("audio: create wav: write header: %w", err)
	}
	return &WAVWriter{f: file, format: f}, nil
}

// Write appends PCM bytes to the data section.
func (w *WAVWriter) Write(pcm []byte) (int, error) {
	if w.closed {
		return 0, os.ErrClosed
	}
	n, err := w.f.Write(pcm)
	w.size += n
	return n, err
}

// Size returns the number of PCM bytes written so far.
func (w *WAVWriter) Size() int { return w.size }

// Format returns the format the file was created with.
func (w *WAVWriter) Format() Format { return w.format }

// Path returns the backing file name.
func (w *WAVWriter) Path() string { return w.f.Name() }

// Close patches the RIFF and data sizes and closes the file. Calling Close more
// than once returns nil.
func (w *WAVWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	hdr := make([]byte, wavHeaderSize)
	putWAVHeader(hdr, w.format, w.size)
	_, err := w.f.Seek(0, io.SeekStart)
	if err == nil {
		_, err = w.f.Write(hdr)
	}
	return errors.Join(err, w.f.Close())
}
