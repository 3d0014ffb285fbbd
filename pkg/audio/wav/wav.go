// Package wav reads and writes 16-bit PCM RIFF/WAVE files and provides a
// file-backed [audio.Device] for replaying recordings through the pipeline.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/MrWong99/voicegate/pkg/audio"
)

const (
	headerSize    = 44
	bitsPerSample = 16
	formatPCM     = 1
	formatExt     = 0xFFFE
)

// ErrInvalid is returned (wrapped) for data that is not a 16-bit PCM WAV file.
var ErrInvalid = errors.New("wav: invalid file")

// Clip is decoded PCM audio.
type Clip struct {
	Format audio.Format

	// Samples are interleaved when Format.Channels > 1.
	Samples []int16
}

// Decode parses a RIFF/WAVE container holding 16-bit PCM samples. Chunks
// other than "fmt " and "data" are skipped.
func Decode(data []byte) (Clip, error) {
	if len(data) < 12 {
		return Clip{}, fmt.Errorf("%w: too short for a RIFF header", ErrInvalid)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Clip{}, fmt.Errorf("%w: missing RIFF/WAVE identifier", ErrInvalid)
	}

	var (
		format  audio.Format
		foundFt bool
	)
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return Clip{}, fmt.Errorf("%w: truncated fmt chunk", ErrInvalid)
			}
			tag := binary.LittleEndian.Uint16(data[body : body+2])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if (tag != formatPCM && tag != formatExt) || bits != bitsPerSample {
				return Clip{}, fmt.Errorf("%w: unsupported encoding (format %d, %d bits)", ErrInvalid, tag, bits)
			}
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			if format.Channels <= 0 || format.SampleRate <= 0 {
				return Clip{}, fmt.Errorf("%w: %s", ErrInvalid, format)
			}
			foundFt = true

		case "data":
			if !foundFt {
				return Clip{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalid)
			}
			end := min(body+size, len(data))
			pcm := data[body:end]
			samples := make([]int16, len(pcm)/2)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
			}
			// Drop a trailing partial frame.
			samples = samples[:len(samples)/format.Channels*format.Channels]
			return Clip{Format: format, Samples: samples}, nil
		}

		// Chunks are word-aligned.
		offset = body + size
		if size%2 != 0 {
			offset++
		}
	}
	return Clip{}, fmt.Errorf("%w: missing data chunk", ErrInvalid)
}

// Encode wraps samples in a canonical 44-byte-header WAV container.
func Encode(samples []int16, format audio.Format) []byte {
	dataSize := len(samples) * 2
	blockAlign := format.Channels * bitsPerSample / 8
	buf := make([]byte, headerSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(format.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[headerSize+i*2:], uint16(s))
	}
	return buf
}
