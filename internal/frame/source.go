// Package frame produces drawable frames from the camera, a still capture or an uploaded image.
package frame

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"

	"github.com/dj-oyu/checklist-camera/pkg/types"
)

var (
	// ErrNoFrame is returned when the camera has no frame to give.
	ErrNoFrame = errors.New("no camera frame available")
	// ErrNoUpload is returned when no uploaded image is loaded.
	ErrNoUpload = errors.New("no uploaded image")
)

// Capturer yields the current camera frame, already counter-mirrored.
type Capturer interface {
	Capture(ctx context.Context) (*image.NRGBA, error)
}

// Source draws frames onto canvases sized to the live video overlay.
type Source struct {
	cam Capturer
	clk clock.Clock

	mu     sync.Mutex
	width  int // Video canvas size
	height int
	upload image.Image
	seq    uint64
}

// NewSource returns a source reading from cam. cam may be nil when only
// uploaded images are processed.
func NewSource(cam Capturer, clk clock.Clock) *Source {
	if clk == nil {
		clk = clock.New()
	}
	return &Source{cam: cam, clk: clk}
}

// Resize sets the video canvas size. It is the camera resize hook.
func (s *Source) Resize(w, h int) {
	s.mu.Lock()
	s.width, s.height = w, h
	s.mu.Unlock()
}

// CanvasSize returns the video canvas size.
func (s *Source) CanvasSize() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// Live draws the current camera frame onto the video canvas.
func (s *Source) Live(ctx context.Context) (*types.Frame, error) {
	return s.fromCamera(ctx, types.FrameCamera)
}

// Still captures one camera frame onto a scratch canvas.
func (s *Source) Still(ctx context.Context) (*types.Frame, error) {
	return s.fromCamera(ctx, types.FrameCapturedStill)
}

func (s *Source) fromCamera(ctx context.Context, kind types.FrameKind) (*types.Frame, error) {
	if s.cam == nil {
		return nil, ErrNoFrame
	}
	// The camera may call Resize while capturing; s.mu is not held here.
	img, err := s.cam.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoFrame, err)
	}
	return s.draw(img, kind), nil
}

// LoadUpload decodes an image and keeps it until ReleaseUpload.
func (s *Source) LoadUpload(r io.Reader) error {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode upload: %w", err)
	}
	s.mu.Lock()
	s.upload = img
	s.mu.Unlock()
	return nil
}

// ReleaseUpload drops the uploaded image.
func (s *Source) ReleaseUpload() {
	s.mu.Lock()
	s.upload = nil
	s.mu.Unlock()
}

func (s *Source) HasUpload() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upload != nil
}

// Uploaded draws the uploaded image at the video canvas size.
func (s *Source) Uploaded(ctx context.Context) (*types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	img := s.upload
	s.mu.Unlock()
	if img == nil {
		return nil, ErrNoUpload
	}
	return s.draw(img, types.FrameUploadedImage), nil
}

// draw scales img onto a canvas of the video size. Before the video size is
// known the image keeps its own size.
func (s *Source) draw(img image.Image, kind types.FrameKind) *types.Frame {
	s.mu.Lock()
	w, h := s.width, s.height
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	var canvas *image.NRGBA
	b := img.Bounds()
	if w <= 0 || h <= 0 || (b.Dx() == w && b.Dy() == h) {
		canvas = imaging.Clone(img)
	} else {
		canvas = imaging.Resize(img, w, h, imaging.Linear)
	}

	cb := canvas.Bounds()
	return &types.Frame{
		Image:      canvas,
		Width:      cb.Dx(),
		Height:     cb.Dy(),
		Kind:       kind,
		Seq:        seq,
		CapturedAt: s.clk.Now(),
	}
}
