package detector

import (
	"context"
	"fmt"

	"github.com/streamsight/streamsight/internal/device"
	"github.com/streamsight/streamsight/internal/models"
)

// ModelLoadError is fatal at service start: the model runtime could not be
// initialized on a worker.
type ModelLoadError struct {
	Device string
	Err    error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model on device %s: %v", e.Device, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// InferenceError is a per-frame runtime fault. The frame is dropped and the
// failure counts toward the worker's failover threshold.
type InferenceError struct {
	Device string
	Err    error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference on device %s: %v", e.Device, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// Detector is the capability boundary around the external model runtime.
// The engine never sees detection math, only raw detections and this error
// envelope.
type Detector interface {
	// LoadModel prepares the model on one worker. Failures are
	// *ModelLoadError and surface at service start.
	LoadModel(ctx context.Context, w *device.Worker) error

	// Infer runs detection for one frame on the assigned worker.
	Infer(ctx context.Context, w *device.Worker, frame *models.Frame) ([]models.RawDetection, error)

	// Ping checks that a worker's runtime is responsive. The pool's health
	// monitor uses it to bring workers back into rotation.
	Ping(ctx context.Context, w *device.Worker) error

	Release() error
}
