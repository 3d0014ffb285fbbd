package wav

import (
	"errors"
	"fmt"
	"io"

	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/audio/resample"
)

// DecodeMono decodes a WAV file into normalised mono samples at rate Hz,
// resampling and down-mixing as needed.
func DecodeMono(data []byte, rate int) ([]float32, error) {
	clip, err := Decode(data)
	if err != nil {
		return nil, err
	}

	pcm := clip.Samples
	if clip.Format.SampleRate != rate {
		src, err := resample.NewSource(NewSource(clip, false, false), rate)
		if err != nil {
			return nil, fmt.Errorf("wav: %w", err)
		}
		defer src.Close()
		if pcm, err = readAll(src); err != nil {
			return nil, fmt.Errorf("wav: resample: %w", err)
		}
	}

	mono := audio.DownmixInt16(pcm, clip.Format.Channels)
	return audio.Int16ToFloat32(make([]float32, len(mono)), mono), nil
}

func readAll(src audio.Source) ([]int16, error) {
	var out []int16
	buf := make([]int16, 4096)
	for {
		n, err := src.Read(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
