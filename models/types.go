package models

import (
	"context"
	"time"
)

// Detection is one bounding box reported by a detector. Box holds the corners
// (x1, y1, x2, y2) in pixel coordinates of the image passed to the detector.
type Detection struct {
	Box        [4]float32 `json:"box"`
	Confidence float32    `json:"confidence"`
	Class      int        `json:"class"`
}

// Width of the box in pixels.
func (d Detection) Width() float32 {
	return d.Box[2] - d.Box[0]
}

// Height of the box in pixels.
func (d Detection) Height() float32 {
	return d.Box[3] - d.Box[1]
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Annotate    time.Duration
	Encode      time.Duration
	Total       time.Duration
}

type timingsKey struct{}

// WithTimings attaches t to ctx so detectors can fill in their stages.
func WithTimings(ctx context.Context, t *ProcessingTimings) context.Context {
	return context.WithValue(ctx, timingsKey{}, t)
}

// TimingsFromContext returns the timings attached to ctx, or a throwaway value
// when none were attached.
func TimingsFromContext(ctx context.Context) *ProcessingTimings {
	if t, ok := ctx.Value(timingsKey{}).(*ProcessingTimings); ok && t != nil {
		return t
	}
	return &ProcessingTimings{}
}
