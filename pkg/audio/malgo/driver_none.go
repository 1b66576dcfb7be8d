//go:build !cgo || noaudio

// This driver is only used in cgo-less and noaudio builds.

package malgo

import "github.com/MrWong99/racecomm/pkg/audio"

func init() {
	newDriver = func() (driver, error) { return nullDriver{}, nil }
}

type nullDriver struct{}

func (nullDriver) name() string { return "none" }

func (nullDriver) devices(audio.Direction) ([]audio.Device, error) {
	return nil, ErrAudioUnavailable
}

func (nullDriver) openCapture(string, audio.Format, func([]byte, int)) (device, error) {
	return nil, ErrAudioUnavailable
}

func (nullDriver) openPlayback(string, audio.Format, func([]byte, int)) (device, error) {
	return nil, ErrAudioUnavailable
}

func (nullDriver) free() error { return nil }
