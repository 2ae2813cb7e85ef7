package detections

import (
	"testing"

	ort "github.com/yalue/onnxruntime_go"
	"go.viam.com/test"

	"github.com/Tutortoise/helmet-detection-service/models"
)

// headOutput lays out anchors as a [4+classes, anchors] channel-major slice.
func headOutput(numClasses int, anchors [][]float32) []float32 {
	n := len(anchors)
	out := make([]float32, (boxChannels+numClasses)*n)
	for i, a := range anchors {
		for c, v := range a {
			out[c*n+i] = v
		}
	}
	return out
}

func TestDecodeOutput(t *testing.T) {
	layout := modelLayout{Width: 640, Height: 640, NumClasses: 2, NumAnchors: 3}
	lb := letterbox{scale: 0.5, padX: 0, padY: 140}
	preds := headOutput(2, [][]float32{
		{320, 320, 100, 50, 0.1, 0.9},
		{100, 200, 10, 10, 0.2, 0.1},
		{10, 150, 40, 20, 0.5, 0.3},
	})

	dets, err := decodeOutput(preds, layout, lb, 1280, 720, 0.25)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets, test.ShouldHaveLength, 2)

	test.That(t, dets[0].Class, test.ShouldEqual, 1)
	test.That(t, dets[0].Confidence, test.ShouldEqual, float32(0.9))
	test.That(t, dets[0].Box, test.ShouldResemble, [4]float32{540, 310, 740, 410})

	test.That(t, dets[1].Class, test.ShouldEqual, 0)
	test.That(t, dets[1].Confidence, test.ShouldEqual, float32(0.5))
	test.That(t, dets[1].Box, test.ShouldResemble, [4]float32{0, 0, 60, 40})
}

func TestDecodeOutputBadLength(t *testing.T) {
	layout := modelLayout{NumClasses: 1, NumAnchors: 8400}
	_, err := decodeOutput(make([]float32, 10), layout, letterbox{scale: 1}, 10, 10, 0.25)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unexpected predictions length")
}

func TestNonMaxSuppression(t *testing.T) {
	dets := []models.Detection{
		{Box: [4]float32{0, 0, 100, 100}, Confidence: 0.6, Class: 0},
		{Box: [4]float32{5, 5, 105, 105}, Confidence: 0.9, Class: 0},
		{Box: [4]float32{5, 5, 105, 105}, Confidence: 0.7, Class: 1},
		{Box: [4]float32{300, 300, 340, 340}, Confidence: 0.3, Class: 0},
	}

	kept := nonMaxSuppression(dets, 0.7, MaxDetections)
	test.That(t, kept, test.ShouldHaveLength, 3)
	test.That(t, kept[0].Confidence, test.ShouldEqual, float32(0.9))
	test.That(t, kept[1].Class, test.ShouldEqual, 1)
	test.That(t, kept[2].Confidence, test.ShouldEqual, float32(0.3))

	test.That(t, nonMaxSuppression(nil, 0.7, MaxDetections), test.ShouldBeEmpty)
	test.That(t, nonMaxSuppression(dets, 0.7, 1), test.ShouldHaveLength, 1)
}

func TestCalculateIOU(t *testing.T) {
	a := models.Detection{Box: [4]float32{0, 0, 10, 10}}
	test.That(t, calculateIOU(a, a), test.ShouldEqual, float32(1))
	test.That(t, calculateIOU(a, models.Detection{Box: [4]float32{20, 20, 30, 30}}), test.ShouldEqual, float32(0))
	test.That(t, calculateIOU(a, models.Detection{Box: [4]float32{5, 0, 15, 10}}), test.ShouldAlmostEqual, 1.0/3.0, 1e-6)
	test.That(t, calculateIOU(a, models.Detection{Box: [4]float32{0, 0, 5, 10}}), test.ShouldAlmostEqual, 0.5, 1e-6)
}

func TestNewModelLayout(t *testing.T) {
	inputs := []ort.InputOutputInfo{{Name: "images", Dimensions: ort.NewShape(1, 3, 640, 640)}}
	outputs := []ort.InputOutputInfo{{Name: "output0", Dimensions: ort.NewShape(1, 5, 8400)}}

	layout, err := newModelLayout(inputs, outputs)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, layout, test.ShouldResemble, modelLayout{
		InputName:  "images",
		OutputName: "output0",
		Width:      640,
		Height:     640,
		NumClasses: 1,
		NumAnchors: 8400,
	})

	dynamic := []ort.InputOutputInfo{{Name: "images", Dimensions: ort.NewShape(1, 3, -1, -1)}}
	dynOut := []ort.InputOutputInfo{{Name: "output0", Dimensions: ort.NewShape(1, 6, -1)}}
	layout, err = newModelLayout(dynamic, dynOut)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, layout.Width, test.ShouldEqual, DefaultInputSize)
	test.That(t, layout.NumClasses, test.ShouldEqual, 2)
	test.That(t, layout.NumAnchors, test.ShouldEqual, 8400)

	_, err = newModelLayout(inputs, []ort.InputOutputInfo{{Name: "scores", Dimensions: ort.NewShape(1, 1000)}})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = newModelLayout(nil, outputs)
	test.That(t, err, test.ShouldNotBeNil)
}
