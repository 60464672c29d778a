package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/streamsight/streamsight/internal/device"
	"github.com/streamsight/streamsight/internal/models"
)

// HTTPDetector talks to a model server running next to each device. Every
// worker endpoint serves /health, /load and /predict; /predict takes a JPEG
// frame as multipart form data and answers with raw detections.
type HTTPDetector struct {
	client       *http.Client
	inferTimeout time.Duration
}

func NewHTTPDetector(inferTimeout time.Duration) *HTTPDetector {
	if inferTimeout <= 0 {
		inferTimeout = 10 * time.Second
	}
	return &HTTPDetector{
		client:       &http.Client{},
		inferTimeout: inferTimeout,
	}
}

func (d *HTTPDetector) LoadModel(ctx context.Context, w *device.Worker) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint+"/load", nil)
	if err != nil {
		return &ModelLoadError{Device: w.ID, Err: err}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return &ModelLoadError{Device: w.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &ModelLoadError{Device: w.ID, Err: fmt.Errorf("bad status: %s, error: %s", resp.Status, body)}
	}
	return nil
}

func (d *HTTPDetector) Infer(ctx context.Context, w *device.Worker, frame *models.Frame) ([]models.RawDetection, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, &InferenceError{Device: w.ID, Err: fmt.Errorf("create form part: %w", err)}
	}
	if _, err := part.Write(frame.Data); err != nil {
		return nil, &InferenceError{Device: w.ID, Err: fmt.Errorf("write frame data: %w", err)}
	}
	if err := writer.Close(); err != nil {
		return nil, &InferenceError{Device: w.ID, Err: fmt.Errorf("close writer: %w", err)}
	}

	// A call that outruns the per-call timeout is an inference error like
	// any other; the service loop drops the frame.
	callCtx, cancel := context.WithTimeout(ctx, d.inferTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, w.Endpoint+"/predict", &buf)
	if err != nil {
		return nil, &InferenceError{Device: w.ID, Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &InferenceError{Device: w.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &InferenceError{Device: w.ID, Err: fmt.Errorf("bad status: %s, error: %s", resp.Status, body)}
	}

	var detections []models.RawDetection
	if err := json.NewDecoder(resp.Body).Decode(&detections); err != nil {
		return nil, &InferenceError{Device: w.ID, Err: fmt.Errorf("decode detections: %w", err)}
	}
	return detections, nil
}

func (d *HTTPDetector) Ping(ctx context.Context, w *device.Worker) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.Endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}
	return nil
}

func (d *HTTPDetector) Release() error {
	d.client.CloseIdleConnections()
	return nil
}
