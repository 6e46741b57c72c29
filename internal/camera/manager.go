// Package camera owns the camera stream: acquisition, facing-mode switching,
// counter-mirrored capture and overlay resize notifications.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"go.uber.org/multierr"

	"github.com/dj-oyu/checklist-camera/internal/logger"
)

// FacingMode selects the physical camera.
type FacingMode string

const (
	FacingUser        FacingMode = "user"        // Front camera, previewed mirrored
	FacingEnvironment FacingMode = "environment" // Back camera
)

// Opposite returns the other facing mode.
func (f FacingMode) Opposite() FacingMode {
	if f == FacingUser {
		return FacingEnvironment
	}
	return FacingUser
}

// Mirrored reports whether the preview of f is mirrored.
func (f FacingMode) Mirrored() bool {
	return f == FacingUser
}

// ParseFacingMode accepts "user"/"front" and "environment"/"back".
func ParseFacingMode(s string) (FacingMode, error) {
	switch s {
	case "user", "front":
		return FacingUser, nil
	case "environment", "back", "":
		return FacingEnvironment, nil
	default:
		return FacingEnvironment, fmt.Errorf("invalid facing mode: %s", s)
	}
}

var (
	// ErrAcquire is returned when no stream could be opened.
	ErrAcquire = errors.New("camera acquisition failed")
	// ErrNotStarted is returned by Capture when no stream is active.
	ErrNotStarted = errors.New("camera not started")
)

// Stream is an open camera stream.
type Stream interface {
	// Read returns the next frame. release must be called once the image is no longer used.
	Read() (img image.Image, release func(), err error)
	// Close stops every track of the stream.
	Close() error
}

// Device opens streams for a facing mode.
type Device interface {
	Open(ctx context.Context, facing FacingMode) (Stream, error)
}

// Size is an overlay surface size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Manager holds at most one stream at a time.
type Manager struct {
	dev Device

	mu      sync.Mutex
	facing  FacingMode
	stream  Stream
	size    Size
	frame   Size // Intrinsic size of the last captured frame
	onSize  []func(w, h int)
	streams int // Opened minus closed; 0 or 1
}

// NewManager returns a stopped manager.
func NewManager(dev Device, facing FacingMode) *Manager {
	if facing == "" {
		facing = FacingEnvironment
	}
	return &Manager{dev: dev, facing: facing}
}

// OnResize registers an overlay surface to be resized with the video.
func (m *Manager) OnResize(fn func(w, h int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSize = append(m.onSize, fn)
}

// Start opens a stream for the current facing mode. It is a no-op when a stream is active.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil {
		return nil
	}
	return m.openLocked(ctx, m.facing)
}

// Stop closes the active stream, if any.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

// SwitchFacing releases the current stream, then opens the opposite facing mode.
// When the opposite mode cannot be opened the previous mode is reacquired.
func (m *Manager) SwitchFacing(ctx context.Context) (FacingMode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.facing
	next := prev.Opposite()
	closeErr := m.closeLocked()

	err := m.openLocked(ctx, next)
	if err == nil {
		m.facing = next
		logger.Info("Camera", "Switched facing mode %s -> %s", prev, next)
		return next, closeErr
	}

	logger.Warn("Camera", "Switch to %s failed, reacquiring %s: %v", next, prev, err)
	if reErr := m.openLocked(ctx, prev); reErr != nil {
		return prev, multierr.Combine(err, reErr, closeErr)
	}
	return prev, multierr.Append(err, closeErr)
}

// Capture reads one frame. Front-facing frames are flipped horizontally so the
// result has real-world orientation.
func (m *Manager) Capture(ctx context.Context) (*image.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return nil, ErrNotStarted
	}

	img, release, err := m.stream.Read()
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	var out *image.NRGBA
	if m.facing.Mirrored() {
		out = imaging.FlipH(img)
	} else {
		out = imaging.Clone(img)
	}
	if release != nil {
		release()
	}

	// Only a change of intrinsic size resizes; a client Resize sticks until then.
	b := out.Bounds()
	if fs := (Size{Width: b.Dx(), Height: b.Dy()}); fs != m.frame {
		m.frame = fs
		m.resizeLocked(fs)
	}
	return out, nil
}

// Resize sets the overlay size and notifies every registered surface. The size
// holds until the stream's intrinsic frame size changes.
func (m *Manager) Resize(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("invalid overlay size %dx%d", w, h)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resizeLocked(Size{Width: w, Height: h})
	return nil
}

func (m *Manager) Facing() FacingMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.facing
}

func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil
}

// OpenStreams returns the number of streams currently held (0 or 1).
func (m *Manager) OpenStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams
}

func (m *Manager) OverlaySize() Size {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

func (m *Manager) openLocked(ctx context.Context, facing FacingMode) error {
	s, err := m.dev.Open(ctx, facing)
	if err != nil {
		return fmt.Errorf("%w (%s): %w", ErrAcquire, facing, err)
	}
	m.stream = s
	m.streams++
	m.frame = Size{}
	logger.Debug("Camera", "Stream opened (facing=%s)", facing)
	return nil
}

func (m *Manager) closeLocked() error {
	if m.stream == nil {
		return nil
	}
	err := m.stream.Close()
	m.stream = nil
	m.streams--
	logger.Debug("Camera", "Stream closed")
	return err
}

func (m *Manager) resizeLocked(s Size) {
	if s == m.size {
		return
	}
	m.size = s
	logger.Debug("Camera", "Overlay resized to %dx%d", s.Width, s.Height)
	for _, fn := range m.onSize {
		fn(s.Width, s.Height)
	}
}
