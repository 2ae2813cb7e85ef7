package server

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Tutortoise/helmet-detection-service/annotate"
	"github.com/Tutortoise/helmet-detection-service/detections"
	"github.com/Tutortoise/helmet-detection-service/models"
)

type healthResponse struct {
	OK    bool   `json:"ok"`
	Model string `json:"model"`
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, healthResponse{OK: true, Model: s.cfg.ModelPath})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	reporter, ok := s.detector.(detections.MetricsReporter)
	if !ok {
		sendErrorResponse(w, CodeNotFound, MsgNoMetrics, "", http.StatusNotFound)
		return
	}
	sendJSON(w, reporter.Metrics())
}

func (s *Server) handlePredictImage(w http.ResponseWriter, r *http.Request) {
	startTotal := time.Now()
	timings := &models.ProcessingTimings{RequestID: requestIDFromContext(r.Context())}
	ctx := models.WithTimings(r.Context(), timings)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
	imgBytes, err := readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendErrorResponse(w, CodeTooLarge, MsgUploadTooLarge,
				"limit is "+units.BytesSize(float64(tooLarge.Limit)), http.StatusRequestEntityTooLarge)
			return
		}
		sendErrorResponse(w, CodeInvalidRequest, MsgMissingFile, err.Error(), http.StatusBadRequest)
		return
	}

	decodeStart := time.Now()
	img, err := decodeImage(imgBytes)
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		sendErrorResponse(w, CodeInvalidImage, MsgInvalidImage, err.Error(), http.StatusBadRequest)
		return
	}

	boxes, err := s.detector.Detect(ctx, img)
	if err != nil {
		s.logger.Error("detection failed", zap.String("request_id", timings.RequestID), zap.Error(err))
		sendErrorResponse(w, CodeDetection, MsgDetectionFailed, err.Error(), http.StatusInternalServerError)
		return
	}

	annotateStart := time.Now()
	annotated := annotate.Draw(img, boxes)
	timings.Annotate = time.Since(annotateStart)

	// Encode fully before writing so a failure never leaves a partial image.
	encodeStart := time.Now()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, annotated, imaging.JPEG, imaging.JPEGQuality(s.cfg.JPEGQuality)); err != nil {
		sendErrorResponse(w, CodeEncode, MsgEncodeFailed, err.Error(), http.StatusInternalServerError)
		return
	}
	timings.Encode = time.Since(encodeStart)
	timings.Total = time.Since(startTotal)
	s.logTimings(timings, len(boxes))

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func readUpload(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

// decodeImage decodes data honouring EXIF orientation and drops any alpha
// channel, leaving three meaningful colour channels.
func decodeImage(data []byte) (*image.NRGBA, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	img := imaging.Clone(src)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img, nil
}

func (s *Server) logTimings(t *models.ProcessingTimings, boxes int) {
	s.logger.Debug("processing times",
		zap.String("request_id", t.RequestID),
		zap.Int("boxes", boxes),
		zap.Duration("image_decode", t.ImageDecode),
		zap.Duration("preprocess", t.Preprocess),
		zap.Duration("inference", t.Inference),
		zap.Duration("postprocess", t.Postprocess),
		zap.Duration("annotate", t.Annotate),
		zap.Duration("encode", t.Encode),
		zap.Duration("total", t.Total),
	)
}
