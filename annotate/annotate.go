// Package annotate draws detection boxes and their labels onto images.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/Tutortoise/helmet-detection-service/models"
)

const (
	// LabelClass prefixes every label.
	LabelClass = "helmet"
	// LineWidth of box outlines, in pixels.
	LineWidth = 3
	// LabelOffset is the gap between a label's top and its box's top edge.
	LabelOffset = 10
	// FontSize of labels, in points.
	FontSize = 11
)

// BoxColor is used for outlines and labels.
var BoxColor = color.RGBA{R: 255, A: 255}

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Label returns the text drawn for a detection.
func Label(confidence float32) string {
	return fmt.Sprintf("%s %.2f", LabelClass, confidence)
}

// Canvas is a surface boxes and labels are drawn on.
type Canvas interface {
	DrawRectangle(x1, y1, x2, y2 float64)
	// DrawLabel draws text with its top-left corner at (x, y).
	DrawLabel(text string, x, y float64)
}

// Annotate draws every detection in order. Later boxes may cover earlier
// labels.
func Annotate(c Canvas, dets []models.Detection) {
	for _, d := range dets {
		x1, y1 := float64(d.Box[0]), float64(d.Box[1])
		x2, y2 := float64(d.Box[2]), float64(d.Box[3])
		c.DrawRectangle(x1, y1, x2, y2)
		c.DrawLabel(Label(d.Confidence), x1, y1-LabelOffset)
	}
}

// Draw returns a copy of img with dets drawn on it. img itself is not
// modified.
func Draw(img image.Image, dets []models.Detection) image.Image {
	c := NewGGCanvas(img)
	Annotate(c, dets)
	return c.Image()
}

// GGCanvas draws with a gg context. It is not safe for concurrent use.
type GGCanvas struct {
	dc *gg.Context
}

// NewGGCanvas copies img into a new RGBA drawing context.
func NewGGCanvas(img image.Image) *GGCanvas {
	dc := gg.NewContextForImage(img)
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: FontSize}))
	dc.SetColor(BoxColor)
	dc.SetLineWidth(LineWidth)
	return &GGCanvas{dc: dc}
}

func (g *GGCanvas) DrawRectangle(x1, y1, x2, y2 float64) {
	g.dc.DrawRectangle(x1, y1, x2-x1, y2-y1)
	g.dc.Stroke()
}

func (g *GGCanvas) DrawLabel(text string, x, y float64) {
	g.dc.DrawStringAnchored(text, x, y, 0, 1)
}

func (g *GGCanvas) Image() image.Image {
	return g.dc.Image()
}
