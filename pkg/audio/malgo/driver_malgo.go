//go:build cgo && !noaudio

package malgo

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	ma "github.com/gen2brain/malgo"

	"github.com/MrWong99/racecomm/pkg/audio"
)

func init() {
	newDriver = newMalgoDriver
}

// malgoDriver offloads device work to miniaudio.
type malgoDriver struct {
	ctx *ma.AllocatedContext
}

func newMalgoDriver() (driver, error) {
	ctx, err := ma.InitContext(nil, ma.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &malgoDriver{ctx: ctx}, nil
}

func (d *malgoDriver) name() string { return "malgo" }

func deviceType(dir audio.Direction) ma.DeviceType {
	if dir == audio.Capture {
		return ma.Capture
	}
	return ma.Playback
}

// encodeID renders a device id as hex. The id array is zero padded, so the
// trailing zeros carry no information.
func encodeID(id ma.DeviceID) string {
	return hex.EncodeToString(bytes.TrimRight(id[:], "\x00"))
}

func decodeID(s string) (ma.DeviceID, error) {
	var id ma.DeviceID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("malgo: invalid device id %q: %w", s, err)
	}
	if len(b) > len(id) {
		return id, fmt.Errorf("malgo: device id %q too long", s)
	}
	copy(id[:], b)
	return id, nil
}

func (d *malgoDriver) devices(dir audio.Direction) ([]audio.Device, error) {
	typ := deviceType(dir)
	infos, err := d.ctx.Devices(typ)
	if err != nil {
		return nil, err
	}
	res := make([]audio.Device, 0, len(infos))
	seen := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		full, err := d.ctx.DeviceInfo(typ, info.ID, ma.Shared)
		if err != nil {
			slog.Warn("malgo: unable to get audio device info", "device", info.Name(), "err", err)
			full = info
		}
		id := encodeID(full.ID)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		res = append(res, audio.Device{
			ID:        id,
			Name:      full.Name(),
			Direction: dir,
			IsDefault: full.IsDefault == 1,
		})
	}
	return res, nil
}

func (d *malgoDriver) config(typ ma.DeviceType, id string, f audio.Format) (ma.DeviceConfig, error) {
	if f.BitDepth != 16 {
		return ma.DeviceConfig{}, fmt.Errorf("malgo: unsupported bit depth %d", f.BitDepth)
	}
	cfg := ma.DefaultDeviceConfig(typ)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.PeriodSizeInMilliseconds = uint32(Period / time.Millisecond)
	cfg.Alsa.NoMMap = 1
	sub := &cfg.Capture
	if typ == ma.Playback {
		sub = &cfg.Playback
	}
	sub.Format = ma.FormatS16
	sub.Channels = uint32(f.Channels)
	if id != "" {
		mid, err := decodeID(id)
		if err != nil {
			return cfg, err
		}
		sub.DeviceID = mid.Pointer()
	}
	return cfg, nil
}

func (d *malgoDriver) openCapture(id string, f audio.Format, cb func(in []byte, frames int)) (device, error) {
	cfg, err := d.config(ma.Capture, id, f)
	if err != nil {
		return nil, err
	}
	return ma.InitDevice(d.ctx.Context, cfg, ma.DeviceCallbacks{
		Data: func(_, in []byte, frames uint32) { cb(in, int(frames)) },
	})
}

func (d *malgoDriver) openPlayback(id string, f audio.Format, cb func(out []byte, frames int)) (device, error) {
	cfg, err := d.config(ma.Playback, id, f)
	if err != nil {
		return nil, err
	}
	return ma.InitDevice(d.ctx.Context, cfg, ma.DeviceCallbacks{
		Data: func(out, _ []byte, frames uint32) { cb(out, int(frames)) },
	})
}

func (d *malgoDriver) free() error {
	if err := d.ctx.Uninit(); err != nil {
		return err
	}
	d.ctx.Free()
	return nil
}
