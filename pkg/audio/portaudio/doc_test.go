package portaudio

import (
	"testing"

	"github.com/MrWong99/voicegate/pkg/audio"
)

func TestNew_AppliesDefaults(t *testing.T) {
	d := New(Config{})
	if d.cfg.Format != audio.Mono16k {
		t.Errorf("Format: got %s, want %s", d.cfg.Format, audio.Mono16k)
	}
	if d.cfg.BufferFrames != 512 {
		t.Errorf("BufferFrames: got %d, want 512", d.cfg.BufferFrames)
	}
}

func TestNew_KeepsExplicitValues(t *testing.T) {
	want := audio.Format{SampleRate: 48000, Channels: 2}
	d := New(Config{DeviceName: "USB Mic", Format: want, BufferFrames: 960})
	if d.cfg.Format != want || d.cfg.BufferFrames != 960 || d.cfg.DeviceName != "USB Mic" {
		t.Errorf("config overwritten: %+v", d.cfg)
	}
}
