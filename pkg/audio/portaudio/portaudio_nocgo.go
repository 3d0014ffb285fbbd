//go:build !cgo

package portaudio

import (
	"context"
	"fmt"

	"github.com/MrWong99/voicegate/pkg/audio"
)

// Open implements [audio.Device]. Without cgo there is no PortAudio backend.
func (d *Device) Open(context.Context) (audio.Source, error) {
	return nil, fmt.Errorf("%w: portaudio requires a cgo build", audio.ErrDeviceUnavailable)
}
