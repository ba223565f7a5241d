package whisper

import (
	"fmt"

	"github.com/MrWong99/voxend/pkg/audio"
)

// pcmToModelInput converts 16-bit little-endian mono PCM at sampleRate into
// the normalised 16 kHz float32 samples whisper models consume.
func pcmToModelInput(pcm []byte, sampleRate int) ([]float32, error) {
	samples := audio.BytesToInt16s(pcm)
	if sampleRate != modelSampleRate {
		var err error
		samples, err = audio.Resample(samples, sampleRate, modelSampleRate)
		if err != nil {
			return nil, fmt.Errorf("whisper: %w", err)
		}
	}
	return audio.Int16sToFloat32(samples), nil
}
