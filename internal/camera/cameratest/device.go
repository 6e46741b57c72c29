// Package cameratest provides an in-memory camera device.
package cameratest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"

	"github.com/dj-oyu/checklist-camera/internal/camera"
)

// Device serves synthetic frames. The left half of every frame is red and the
// right half blue, so a horizontal flip is observable.
type Device struct {
	mu       sync.Mutex
	Width    int
	Height   int
	Fail     map[camera.FacingMode]error // Open fails for these modes
	ReadErr  error
	open     int
	maxOpen  int
	opened   []camera.FacingMode
	closed   int
	released int
}

// NewDevice returns a device producing w x h frames.
func NewDevice(w, h int) *Device {
	return &Device{Width: w, Height: h, Fail: map[camera.FacingMode]error{}}
}

// Open implements camera.Device.
func (d *Device) Open(ctx context.Context, facing camera.FacingMode) (camera.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.Fail[facing]; err != nil {
		return nil, err
	}
	d.open++
	if d.open > d.maxOpen {
		d.maxOpen = d.open
	}
	d.opened = append(d.opened, facing)
	return &stream{dev: d}, nil
}

// SetSize changes the size of subsequent frames.
func (d *Device) SetSize(w, h int) {
	d.mu.Lock()
	d.Width, d.Height = w, h
	d.mu.Unlock()
}

// SetFail makes Open fail for facing.
func (d *Device) SetFail(facing camera.FacingMode, err error) {
	d.mu.Lock()
	d.Fail[facing] = err
	d.mu.Unlock()
}

// OpenStreams returns the number of streams not yet closed.
func (d *Device) OpenStreams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// MaxOpen returns the largest number of simultaneously open streams.
func (d *Device) MaxOpen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxOpen
}

// Opened returns the facing modes passed to Open in order.
func (d *Device) Opened() []camera.FacingMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]camera.FacingMode(nil), d.opened...)
}

// Released returns how many frames were released.
func (d *Device) Released() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

var (
	Left  = color.NRGBA{R: 255, A: 255}
	Right = color.NRGBA{B: 255, A: 255}
)

type stream struct {
	dev    *Device
	closed bool
}

func (s *stream) Read() (image.Image, func(), error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()

	if s.closed {
		return nil, nil, errors.New("stream closed")
	}
	if s.dev.ReadErr != nil {
		return nil, nil, s.dev.ReadErr
	}
	w, h := s.dev.Width, s.dev.Height
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.SetNRGBA(x, y, Left)
			} else {
				img.SetNRGBA(x, y, Right)
			}
		}
	}
	release := func() {
		s.dev.mu.Lock()
		s.dev.released++
		s.dev.mu.Unlock()
	}
	return img, release, nil
}

func (s *stream) Close() error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dev.open--
	s.dev.closed++
	return nil
}
