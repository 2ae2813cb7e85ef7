package detections

import (
	"context"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"go.viam.com/test"

	"github.com/Tutortoise/helmet-detection-service/models"
)

func TestRemoteDetector(t *testing.T) {
	var gotWidth int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/predict":
			file, _, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			defer file.Close()
			img, err := imaging.Decode(file)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			gotWidth = img.Bounds().Dx()
			json.NewEncoder(w).Encode(remoteResponse{Detections: []models.Detection{
				{Box: [4]float32{1, 2, 3, 4}, Confidence: 0.75, Class: 0},
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	det := NewRemoteDetector(srv.URL+"/predict", srv.Client(), zap.NewNop())
	defer det.Close()

	test.That(t, det.CheckHealth(context.Background()), test.ShouldBeNil)

	timings := &models.ProcessingTimings{}
	ctx := models.WithTimings(context.Background(), timings)
	dets, err := det.Detect(ctx, imaging.New(32, 16, color.White))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gotWidth, test.ShouldEqual, 32)
	test.That(t, dets, test.ShouldResemble, []models.Detection{
		{Box: [4]float32{1, 2, 3, 4}, Confidence: 0.75, Class: 0},
	})
	test.That(t, timings.Inference, test.ShouldBeGreaterThan, time.Duration(0))
}

func TestRemoteDetectorFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	det := NewRemoteDetector(srv.URL+"/predict", srv.Client(), zap.NewNop())
	_, err := det.Detect(context.Background(), imaging.New(8, 8, color.Black))
	test.That(t, err, test.ShouldNotBeNil)

	var perr *ProcessingError
	test.That(t, err, test.ShouldHaveSameTypeAs, perr)
	test.That(t, err.Error(), test.ShouldContainSubstring, "status: 500")

	test.That(t, det.CheckHealth(context.Background()), test.ShouldNotBeNil)
}
