package types

import (
	"image"
	"time"
)

// FrameKind tags where a frame came from
type FrameKind int

const (
	FrameCamera        FrameKind = iota // Live camera stream
	FrameCapturedStill                  // Single still capture
	FrameUploadedImage                  // Decoded uploaded image
)

var frameKindNames = map[FrameKind]string{
	FrameCamera:        "camera",
	FrameCapturedStill: "captured_still",
	FrameUploadedImage: "uploaded_image",
}

// String returns the wire name of the frame kind
func (k FrameKind) String() string {
	if name, ok := frameKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Frame is a drawable surface handed to one inference pass
type Frame struct {
	Image      *image.NRGBA // Drawing surface (postprocess may draw on it)
	Width      int          // Surface width in pixels
	Height     int          // Surface height in pixels
	Kind       FrameKind    // Source tag
	Seq        uint64       // Sequential frame number
	CapturedAt time.Time    // Capture timestamp
}

// Tensor is a fixed-shape float buffer consumed or produced by a model.
// It is never mutated after creation.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Dim returns the size of dimension i, or 0 when the tensor has fewer dimensions
func (t *Tensor) Dim(i int) int64 {
	if t == nil || i < 0 || i >= len(t.Shape) {
		return 0
	}
	return t.Shape[i]
}

// BoundingBox is an axis-aligned box in surface pixels
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection is one object found in an output tensor
type Detection struct {
	ClassID    int         `json:"class_id"`
	Label      string      `json:"class_name"`
	Confidence float64     `json:"confidence"` // In [0,1]
	BBox       BoundingBox `json:"bbox"`
}

// Percent returns the confidence scaled for display
func (d Detection) Percent() float64 {
	return d.Confidence * 100
}
