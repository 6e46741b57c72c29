package onnx

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/dj-oyu/checklist-camera/internal/classtable"
	"github.com/dj-oyu/checklist-camera/internal/inference"
	"github.com/dj-oyu/checklist-camera/internal/matcher"
	"github.com/dj-oyu/checklist-camera/pkg/types"
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Preprocessor resizes a surface to the model input and lays it out as
// NCHW float32 in [0,1].
type Preprocessor struct {
	Width  int
	Height int
}

func (p *Preprocessor) Preprocess(img image.Image) (*types.Tensor, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("invalid model input size %dx%d", p.Width, p.Height)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	resized := imaging.Resize(img, p.Width, p.Height, imaging.Linear)
	plane := p.Width * p.Height
	data := make([]float32, 3*plane)
	for y := 0; y < p.Height; y++ {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+p.Width*4]
		for x := 0; x < p.Width; x++ {
			i := y*p.Width + x
			data[i] = float32(row[x*4]) / 255
			data[plane+i] = float32(row[x*4+1]) / 255
			data[2*plane+i] = float32(row[x*4+2]) / 255
		}
	}
	return &types.Tensor{
		Shape: []int64{1, 3, int64(p.Height), int64(p.Width)},
		Data:  data,
	}, nil
}

// Postprocessor draws detection boxes and labels on the surface. Box
// coordinates are scaled from the model input size to the surface size.
type Postprocessor struct {
	Classes *classtable.Table
	Width   int // Model input width
	Height  int // Model input height
}

var (
	boxColor  = color.NRGBA{R: 0x00, G: 0xe6, B: 0x76, A: 0xff}
	textColor = color.NRGBA{R: 0x10, G: 0x10, B: 0x10, A: 0xff}
)

func (p *Postprocessor) Postprocess(out *types.Tensor, inferenceMs float64, surface *image.NRGBA) (*inference.Overlay, error) {
	records, err := matcher.Parse(out)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 || surface == nil {
		return nil, nil
	}

	b := surface.Bounds()
	sx := float64(b.Dx()) / float64(p.Width)
	sy := float64(b.Dy()) / float64(p.Height)
	fontSize := math.Max(12, float64(b.Dy())/32)

	dc := gg.NewContextForImage(surface)
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: fontSize}))
	dc.SetLineWidth(math.Max(2, float64(b.Dx())/320))

	for _, r := range records {
		x0 := math.Min(float64(r.X0), float64(r.X1)) * sx
		y0 := math.Min(float64(r.Y0), float64(r.Y1)) * sy
		w := math.Abs(float64(r.X1-r.X0)) * sx
		h := math.Abs(float64(r.Y1-r.Y0)) * sy

		dc.SetColor(boxColor)
		dc.DrawRectangle(x0, y0, w, h)
		dc.Stroke()

		label, ok := p.Classes.Label(r.ClassID)
		if !ok {
			label = matcher.UnknownLabel
		}
		text := fmt.Sprintf("%s %.1f%%", label, float64(r.Score)*100)
		tw, th := dc.MeasureString(text)
		ty := math.Max(y0, th+4)
		dc.SetColor(boxColor)
		dc.DrawRectangle(x0, ty-th-4, tw+6, th+4)
		dc.Fill()
		dc.SetColor(textColor)
		dc.DrawString(text, x0+3, ty-3)
	}

	draw.Draw(surface, b, dc.Image(), image.Point{}, draw.Src)
	return &inference.Overlay{
		Summary: fmt.Sprintf("%d objects in %.0fms", len(records), inferenceMs),
		Boxes:   len(records),
	}, nil
}

// NewModel assembles the adapter triple for a YOLOv7 end-to-end model.
func NewModel(name string, sess inference.Session, classes *classtable.Table, width, height int) *inference.Model {
	return &inference.Model{
		Name:    name,
		Pre:     &Preprocessor{Width: width, Height: height},
		Session: sess,
		Post:    &Postprocessor{Classes: classes, Width: width, Height: height},
	}
}
