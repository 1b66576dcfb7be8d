package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/racecomm/internal/config"
	"github.com/MrWong99/racecomm/internal/recorder"
	"github.com/MrWong99/racecomm/pkg/audio"
)

// enqueueReload hands a reloaded config to the reload loop. Only the newest
// pending config is kept.
func (a *App) enqueueReload(_, cfg *config.Config) {
	for {
		select {
		case a.reloads <- cfg:
			return
		default:
		}
		select {
		case <-a.reloads:
		default:
		}
	}
}

func (a *App) reloadLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg := <-a.reloads:
			if err := a.ApplyConfig(ctx, cfg); err != nil {
				a.log.Error("config reload incomplete", "err", err)
			}
		}
	}
}

// ApplyConfig brings the running subsystems in line with cfg. The log level,
// the detector thresholds and the monitoring switch change in place; device
// changes rebuild the pipeline. Keys that need a restart are logged and
// otherwise ignored. It must not be called concurrently with itself.
func (a *App) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	d := config.Diff(a.applied, cfg)
	if d.IsZero() {
		return nil
	}
	var errs []error

	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.SlogLevel())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.StatusIntervalChanged {
		a.statusInterval.Store(int64(cfg.Server.StatusInterval))
		a.log.Info("status interval changed", "interval", cfg.Server.StatusInterval)
	}

	if d.DetectionChanged {
		if err := a.engine.SetThresholds(thresholds(cfg.Detection)); err != nil {
			errs = append(errs, err)
		} else {
			a.log.Info("detection thresholds changed",
				"threshold", cfg.Detection.Threshold,
				"start_debounce", cfg.Detection.StartDebounce,
				"stop_debounce", cfg.Detection.StopDebounce,
			)
		}
	}

	if d.DevicesChanged {
		if err := a.configureDevices(ctx, cfg.Audio, false); err != nil {
			errs = append(errs, err)
		}
	}

	if d.MonitorChanged {
		if err := a.setMonitoring(cfg.Audio.MonitorEnabled()); err != nil {
			errs = append(errs, err)
		}
	}

	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes take effect after a restart", "keys", strings.Join(d.RestartRequired, ","))
	}

	a.applied = cfg
	return errors.Join(errs...)
}

func (a *App) setMonitoring(on bool) error {
	var err error
	if on {
		err = a.engine.StartMonitoring()
	} else {
		err = a.engine.StopMonitoring()
	}
	if errors.Is(err, recorder.ErrNotConfigured) {
		// Applies with the next Configure.
		return nil
	}
	if err != nil {
		return fmt.Errorf("app: set monitoring %t: %w", on, err)
	}
	a.log.Info("monitoring changed", "enabled", on)
	return nil
}

// configureDevices selects the devices named in ac and rebuilds the
// pipeline. Device lists are refreshed so newly plugged devices are found.
func (a *App) configureDevices(ctx context.Context, ac config.AudioConfig, force bool) error {
	in, err := a.resolveDevice(ctx, audio.Capture, ac.InputDevice, force)
	if err != nil {
		return err
	}
	out, err := a.resolveDevice(ctx, audio.Render, ac.OutputDevice, force)
	if err != nil {
		return err
	}
	if err := a.engine.SelectInput(in); err != nil {
		return err
	}
	if err := a.engine.SelectOutput(out); err != nil {
		return err
	}
	if err := a.engine.Configure(ctx); err != nil {
		return fmt.Errorf("app: configure pipeline: %w", err)
	}
	a.log.Info("recording pipeline live", "input", in, "output", out)
	return nil
}

// resolveDevice finds want by ID, then by name. Empty selects the system
// default.
func (a *App) resolveDevice(ctx context.Context, dir audio.Direction, want string, force bool) (*audio.Device, error) {
	if err := a.engine.Enumerate(ctx, dir, force); err != nil {
		return nil, err
	}
	c := a.engine.Catalog()
	if want == "" {
		return c.Default(dir)
	}
	if dev, err := c.FindByID(dir, want); err == nil {
		return dev, nil
	}
	if !force {
		// A device plugged in since the last refresh.
		if err := a.engine.Enumerate(ctx, dir, true); err != nil {
			return nil, err
		}
		if dev, err := c.FindByID(dir, want); err == nil {
			return dev, nil
		}
	}
	return c.FindByName(dir, want)
}

// ─── One-shot commands ───────────────────────────────────────────────────────

// Devices returns the capture and render devices of the backend.
func (a *App) Devices(ctx context.Context) (in, out []*audio.Device, err error) {
	if err := a.engine.Enumerate(ctx, audio.Capture, true); err != nil {
		return nil, nil, err
	}
	if err := a.engine.Enumerate(ctx, audio.Render, true); err != nil {
		return nil, nil, err
	}
	c := a.engine.Catalog()
	return c.Devices(audio.Capture), c.Devices(audio.Render), nil
}

// Play plays the recording called name (with or without extension) on the
// configured output device and waits until it ends or ctx is done.
func (a *App) Play(ctx context.Context, name string) error {
	ts, err := recorder.ParseRecordingName(name)
	if err != nil {
		return fmt.Errorf("app: %w: %q", recorder.ErrFileNotFound, name)
	}
	out, err := a.resolveDevice(ctx, audio.Render, a.cfg.Audio.OutputDevice, true)
	if err != nil {
		return err
	}
	if err := a.engine.SelectOutput(out); err != nil {
		return err
	}
	if err := a.engine.Play(ctx, ts); err != nil {
		return err
	}
	a.log.Info("playing", "file", name, "output", out)
	err = a.engine.WaitPlayback(ctx)
	if errors.Is(err, context.Canceled) {
		a.engine.StopPlayback()
	}
	return err
}
