package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrUnsupportedWAV is returned by [DecodeWAV] for containers that are not
// 16-bit integer PCM.
var ErrUnsupportedWAV = errors.New("audio: unsupported wav format")

// WAV is a decoded RIFF/WAVE file.
type WAV struct {
	Format
	// Samples are interleaved when Channels > 1.
	Samples []int16
}

// Mono returns the samples downmixed to a single channel.
func (w WAV) Mono() []int16 {
	return Downmix(w.Samples, w.Channels)
}

// EncodeWAV wraps 16-bit little-endian PCM in a canonical 44-byte RIFF/WAVE
// header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bps = 16
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bps)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV parses a RIFF/WAVE stream holding 16-bit integer PCM. Chunks other
// than "fmt " and "data" are skipped.
func DecodeWAV(r io.Reader) (WAV, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return WAV{}, fmt.Errorf("audio: read riff header: %w", err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return WAV{}, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrUnsupportedWAV)
	}

	var (
		w       WAV
		haveFmt bool
	)
	for {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return WAV{}, fmt.Errorf("%w: no data chunk", ErrUnsupportedWAV)
			}
			return WAV{}, fmt.Errorf("audio: read chunk header: %w", err)
		}
		id := string(ch[0:4])
		size := int64(binary.LittleEndian.Uint32(ch[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return WAV{}, fmt.Errorf("%w: fmt chunk of %d bytes", ErrUnsupportedWAV, size)
			}
			// Only the leading PCM fields are used; extension bytes are skipped
			// so the declared size never drives an allocation.
			var body [16]byte
			if _, err := io.ReadFull(r, body[:]); err != nil {
				return WAV{}, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			if _, err := io.CopyN(io.Discard, r, size-16+size%2); err != nil {
				return WAV{}, fmt.Errorf("audio: skip fmt extension: %w", err)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			// 0xFFFE is WAVE_FORMAT_EXTENSIBLE; accepted when it carries 16-bit samples.
			if (format != 1 && format != 0xFFFE) || bits != 16 {
				return WAV{}, fmt.Errorf("%w: format tag %d, %d bits", ErrUnsupportedWAV, format, bits)
			}
			w.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			w.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			if w.Channels <= 0 || w.SampleRate <= 0 {
				return WAV{}, fmt.Errorf("%w: %s", ErrUnsupportedWAV, w.Format)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAV{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrUnsupportedWAV)
			}
			data, err := io.ReadAll(io.LimitReader(r, size))
			if err != nil {
				return WAV{}, fmt.Errorf("audio: read data chunk: %w", err)
			}
			w.Samples = BytesToInt16s(data)
			return w, nil
		default:
			// RIFF chunks are word aligned.
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return WAV{}, fmt.Errorf("audio: skip %q chunk: %w", id, err)
			}
		}
	}
}
