package onnx

import (
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"

	"github.com/dj-oyu/checklist-camera/internal/classtable"
	"github.com/dj-oyu/checklist-camera/internal/inference/inferencetest"
	"github.com/dj-oyu/checklist-camera/pkg/types"
)

func filled(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestPreprocessLayout(t *testing.T) {
	pre := &Preprocessor{Width: 4, Height: 2}
	src := filled(8, 4, color.NRGBA{R: 255, G: 0, B: 51, A: 255})

	in, err := pre.Preprocess(src)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, in.Shape, test.ShouldResemble, []int64{1, 3, 2, 4})
	test.That(t, in.Data, test.ShouldHaveLength, 24)
	test.That(t, float64(in.Data[0]), test.ShouldAlmostEqual, 1.0, 1e-6)
	test.That(t, float64(in.Data[8]), test.ShouldAlmostEqual, 0.0, 1e-6)
	test.That(t, float64(in.Data[16]), test.ShouldAlmostEqual, 0.2, 1e-6)

	// The source surface is untouched.
	test.That(t, src.Bounds().Dx(), test.ShouldEqual, 8)
	test.That(t, src.NRGBAAt(0, 0).R, test.ShouldEqual, uint8(255))
}

func TestPreprocessRejectsBadInput(t *testing.T) {
	_, err := (&Preprocessor{}).Preprocess(filled(2, 2, color.NRGBA{A: 255}))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = (&Preprocessor{Width: 2, Height: 2}).Preprocess(image.NewNRGBA(image.Rectangle{}))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPostprocessDrawsBoxes(t *testing.T) {
	post := &Postprocessor{Classes: classtable.Default(), Width: 64, Height: 64}
	surface := filled(128, 128, color.NRGBA{A: 255})

	out := inferencetest.Rows([7]float32{0, 8, 8, 40, 40, 16, 0.9})
	overlay, err := post.Postprocess(out, 12, surface)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, overlay, test.ShouldNotBeNil)
	test.That(t, overlay.Boxes, test.ShouldEqual, 1)
	test.That(t, overlay.Summary, test.ShouldContainSubstring, "1 objects")

	// Right edge of the box at x=80 after scaling by 2.
	c := surface.NRGBAAt(80, 60)
	test.That(t, int(c.G), test.ShouldBeGreaterThan, 100)
	test.That(t, surface.NRGBAAt(120, 120).G, test.ShouldEqual, uint8(0))
}

func TestPostprocessNothingToRender(t *testing.T) {
	post := &Postprocessor{Classes: classtable.Default(), Width: 64, Height: 64}
	surface := filled(32, 32, color.NRGBA{A: 255})

	overlay, err := post.Postprocess(&types.Tensor{Shape: []int64{0, 7}}, 5, surface)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, overlay, test.ShouldBeNil)

	_, err = post.Postprocess(&types.Tensor{Shape: []int64{2, 7}, Data: make([]float32, 7)}, 5, surface)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNewModelWiresTriple(t *testing.T) {
	m := NewModel("yolov7-tiny_256x256", inferencetest.NewSession(nil, 0), classtable.Default(), 256, 256)
	test.That(t, m.Name, test.ShouldEqual, "yolov7-tiny_256x256")
	test.That(t, m.Pre.(*Preprocessor).Width, test.ShouldEqual, 256)
	test.That(t, m.Post.(*Postprocessor).Height, test.ShouldEqual, 256)
}
