package detections

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"go.viam.com/test"
)

func TestPreprocessLetterbox(t *testing.T) {
	img := imaging.New(1280, 720, color.NRGBA{255, 0, 0, 255})
	p := NewPreprocessor(640, 640)
	buf := make([]float32, 3*640*640)

	lb := p.Process(img, buf)
	test.That(t, lb.scale, test.ShouldEqual, float32(0.5))
	test.That(t, lb.padX, test.ShouldEqual, float32(0))
	test.That(t, lb.padY, test.ShouldEqual, float32(140))

	channel := 640 * 640
	pad := float32(LetterboxFill) / 255
	for _, c := range []int{0, 1, 2} {
		test.That(t, buf[c*channel], test.ShouldEqual, pad)
	}

	center := 320*640 + 320
	test.That(t, buf[center], test.ShouldEqual, float32(1))
	test.That(t, buf[channel+center], test.ShouldEqual, float32(0))
	test.That(t, buf[2*channel+center], test.ShouldEqual, float32(0))
}

func TestLetterboxToSource(t *testing.T) {
	lb := letterbox{scale: 0.5, padX: 10, padY: 20}
	x, y := lb.toSource(60, 120)
	test.That(t, x, test.ShouldEqual, float32(100))
	test.That(t, y, test.ShouldEqual, float32(200))
}

func TestPreprocessTinyImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 1, 3))
	p := NewPreprocessor(64, 64)
	buf := make([]float32, 3*64*64)
	lb := p.Process(img, buf)
	test.That(t, lb.scale, test.ShouldBeGreaterThan, float32(1))
}
