package detections

import (
	"fmt"

	"github.com/Tutortoise/helmet-detection-service/models"
)

// decodeOutput turns a YOLO detection head of shape [1, 4+classes, anchors]
// into boxes in the coordinates of the original image. Each anchor yields at
// most one detection, for its best scoring class.
func decodeOutput(predictions []float32, layout modelLayout, lb letterbox, origWidth, origHeight int, threshold float32) ([]models.Detection, error) {
	n := layout.NumAnchors
	expected := (boxChannels + layout.NumClasses) * n
	if len(predictions) != expected {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(predictions), expected)
	}

	detections := make([]models.Detection, 0, 100)
	for i := 0; i < n; i++ {
		class, confidence := -1, threshold
		for c := 0; c < layout.NumClasses; c++ {
			if score := predictions[(boxChannels+c)*n+i]; score >= confidence {
				class, confidence = c, score
			}
		}
		if class < 0 {
			continue
		}

		detections = append(detections, models.Detection{
			Box: calculateBBox(
				predictions[i],     // cx
				predictions[n+i],   // cy
				predictions[2*n+i], // w
				predictions[3*n+i], // h
				lb,
				float32(origWidth),
				float32(origHeight),
			),
			Confidence: confidence,
			Class:      class,
		})
	}
	return detections, nil
}

func calculateBBox(cx, cy, w, h float32, lb letterbox, origWidth, origHeight float32) [4]float32 {
	x1, y1 := lb.toSource(cx-w/2, cy-h/2)
	x2, y2 := lb.toSource(cx+w/2, cy+h/2)

	return [4]float32{
		clamp(x1, 0, origWidth),
		clamp(y1, 0, origHeight),
		clamp(x2, 0, origWidth),
		clamp(y2, 0, origHeight),
	}
}

func clamp(v, lo, hi float32) float32 {
	return max(lo, min(hi, v))
}
