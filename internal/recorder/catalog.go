package recorder

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/racecomm/pkg/audio"
)

// Catalog caches the capture and render devices and the current selection
// for each direction. Devices are handed out as pointers into the cache and
// selections compare by pointer identity.
type Catalog struct {
	enum audio.Enumerator
	bus  *Bus

	mu       sync.Mutex
	devices  [2][]*audio.Device
	selected [2]*audio.Device
}

// NewCatalog returns an empty catalog backed by enum. Notifications go to
// bus.
func NewCatalog(enum audio.Enumerator, bus *Bus) *Catalog {
	return &Catalog{enum: enum, bus: bus}
}

func checkDirection(dir audio.Direction) error {
	if dir != audio.Capture && dir != audio.Render {
		return fmt.Errorf("recorder: unknown direction %d", dir)
	}
	return nil
}

// Enumerate refreshes the device list for dir when it is empty or force is
// set, and is a no-op otherwise. An empty result is valid. The selection is
// left alone; a selected device that disappeared stays selected.
func (c *Catalog) Enumerate(ctx context.Context, dir audio.Direction, force bool) error {
	if err := checkDirection(dir); err != nil {
		return err
	}
	c.mu.Lock()
	cached := len(c.devices[dir]) > 0
	c.mu.Unlock()
	if cached && !force {
		return nil
	}

	list, err := c.enum.ListDevices(ctx, dir)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDeviceEnumeration, dir, err)
	}
	devs := make([]*audio.Device, len(list))
	for i := range list {
		d := list[i]
		d.Direction = dir
		devs[i] = &d
	}

	c.mu.Lock()
	c.devices[dir] = devs
	c.mu.Unlock()

	kind := EventInputDevicesEnumerated
	if dir == audio.Render {
		kind = EventOutputDevicesEnumerated
	}
	c.bus.Publish(Event{Kind: kind, Count: len(devs)})
	return nil
}

// Devices returns the cached devices for dir in enumeration order.
func (c *Catalog) Devices(dir audio.Direction) []*audio.Device {
	if checkDirection(dir) != nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.devices[dir])
}

// Selected returns the selected device for dir, or nil.
func (c *Catalog) Selected(dir audio.Direction) *audio.Device {
	if checkDirection(dir) != nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected[dir]
}

// Select makes dev the selection for dir. dev must come from [Catalog.Devices]
// or a Find method; nil clears the selection. Selecting the current device
// is a no-op. EventRecordingEnabledChanged is published only when
// [Catalog.CanStartRecording] flips.
func (c *Catalog) Select(dir audio.Direction, dev *audio.Device) error {
	if err := checkDirection(dir); err != nil {
		return err
	}
	c.mu.Lock()
	if c.selected[dir] == dev {
		c.mu.Unlock()
		return nil
	}
	if dev != nil && !slices.Contains(c.devices[dir], dev) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s device %q is not in the catalog", ErrInvalidDeviceSelection, dir, dev.Name)
	}
	before := c.canStartLocked()
	c.selected[dir] = dev
	after := c.canStartLocked()
	c.mu.Unlock()

	if before != after {
		c.bus.Publish(Event{Kind: EventRecordingEnabledChanged, Enabled: after})
	}
	return nil
}

// CanStartRecording reports whether both an input and an output device are
// selected.
func (c *Catalog) CanStartRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canStartLocked()
}

func (c *Catalog) canStartLocked() bool {
	return c.selected[audio.Capture] != nil && c.selected[audio.Render] != nil
}

// FindByID returns the cached device for dir with the given ID.
func (c *Catalog) FindByID(dir audio.Direction, id string) (*audio.Device, error) {
	return c.find(dir, "id", id, func(d *audio.Device) bool { return d.ID == id })
}

// FindByName returns the first cached device for dir whose name equals name,
// ignoring case.
func (c *Catalog) FindByName(dir audio.Direction, name string) (*audio.Device, error) {
	return c.find(dir, "name", name, func(d *audio.Device) bool { return strings.EqualFold(d.Name, name) })
}

// Default returns the device flagged as system default for dir, falling back
// to the first device.
func (c *Catalog) Default(dir audio.Direction) (*audio.Device, error) {
	devs := c.Devices(dir)
	if len(devs) == 0 {
		return nil, fmt.Errorf("%w: no %s devices", ErrInvalidDeviceSelection, dir)
	}
	for _, d := range devs {
		if d.IsDefault {
			return d, nil
		}
	}
	return devs[0], nil
}

func (c *Catalog) find(dir audio.Direction, field, value string, match func(*audio.Device) bool) (*audio.Device, error) {
	for _, d := range c.Devices(dir) {
		if match(d) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: no %s device with %s %q", ErrInvalidDeviceSelection, dir, field, value)
}
