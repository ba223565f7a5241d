// Package opus decodes Opus packets into mono PCM frames for the endpoint
// detector.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/voxend/pkg/audio"
)

// maxFrameMs is the longest frame duration an Opus packet can carry.
const maxFrameMs = 120

// Decoder decodes packets of a single Opus stream. Decoder state carries
// across packets, so each stream needs its own Decoder.
type Decoder struct {
	dec        *gopus.Decoder
	sampleRate int
	channels   int
	maxSamples int
}

// NewDecoder creates a decoder producing PCM at sampleRate with the given
// channel count. Opus supports 8, 12, 16, 24 and 48 kHz output.
func NewDecoder(sampleRate, channels int) (*Decoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("opus: unsupported channel count %d", channels)
	}
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder (%d Hz, %d ch): %w", sampleRate, channels, err)
	}
	return &Decoder{
		dec:        dec,
		sampleRate: sampleRate,
		channels:   channels,
		maxSamples: sampleRate * maxFrameMs / 1000,
	}, nil
}

// Decode decodes one packet into mono samples.
func (d *Decoder) Decode(packet []byte) ([]int16, error) {
	pcm, err := d.dec.Decode(packet, d.maxSamples, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return audio.Downmix(pcm, d.channels), nil
}

// SampleRate returns the decoder output rate.
func (d *Decoder) SampleRate() int { return d.sampleRate }
