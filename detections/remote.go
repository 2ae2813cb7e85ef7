package detections

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/Tutortoise/helmet-detection-service/models"
)

// RemoteDetector delegates inference to an HTTP service that accepts a
// multipart "file" upload and answers with JSON detections.
type RemoteDetector struct {
	inferenceURL string
	client       *http.Client
	logger       *zap.Logger
}

type remoteResponse struct {
	Detections []models.Detection `json:"detections"`
}

func NewRemoteDetector(inferenceURL string, client *http.Client, logger *zap.Logger) *RemoteDetector {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &RemoteDetector{
		inferenceURL: inferenceURL,
		client:       client,
		logger:       logger,
	}
}

func (m *RemoteDetector) Detect(ctx context.Context, img image.Image) ([]models.Detection, error) {
	timings := models.TimingsFromContext(ctx)

	prepStart := time.Now()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if err := imaging.Encode(part, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}
	timings.Preprocess = time.Since(prepStart)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.inferenceURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	inferStart := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &ProcessingError{Message: "send request", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProcessingError{Message: fmt.Sprintf("inference failed with status: %d", resp.StatusCode)}
	}

	var result remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ProcessingError{Message: "decode response", Cause: err}
	}
	timings.Inference = time.Since(inferStart)

	m.logger.Debug("remote inference done",
		zap.Int("detections", len(result.Detections)),
		zap.Duration("elapsed", timings.Inference),
	)
	return result.Detections, nil
}

// CheckHealth probes the /health path on the inference host.
func (m *RemoteDetector) CheckHealth(ctx context.Context) error {
	u, err := url.Parse(m.inferenceURL)
	if err != nil {
		return fmt.Errorf("parse inference url: %w", err)
	}
	u.Path = "/health"
	u.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ml service unhealthy: %d", resp.StatusCode)
	}
	return nil
}

func (m *RemoteDetector) Close() error {
	m.client.CloseIdleConnections()
	return nil
}
