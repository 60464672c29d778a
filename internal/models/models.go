package models

import "time"

// ServiceStatus is the lifecycle state of one detection service.
type ServiceStatus string

const (
	StatusStarting ServiceStatus = "starting"
	StatusRunning  ServiceStatus = "running"
	StatusStopping ServiceStatus = "stopping"
	StatusStopped  ServiceStatus = "stopped"
	StatusFailed   ServiceStatus = "failed"
)

type CommandAction string

const (
	CommandStart CommandAction = "start"
	CommandStop  CommandAction = "stop"
)

// Frame is one decoded frame pulled from a stream provider. The frame queue
// owns it until the processing loop takes it.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Data      []byte
}

// BoundingBox holds pixel coordinates of a detected object.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (b BoundingBox) Width() float64  { return b.X2 - b.X1 }
func (b BoundingBox) Height() float64 { return b.Y2 - b.Y1 }
func (b BoundingBox) Area() float64   { return b.Width() * b.Height() }

func (b BoundingBox) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// RawDetection is what the external model runtime returns for one object,
// before any policy filtering.
type RawDetection struct {
	Class string    `json:"class"`
	Score float64   `json:"score"`
	Box   []float64 `json:"box"` // [x1, y1, x2, y2]
}

// Detection is a raw detection that survived the policy layer. Immutable
// once emitted.
type Detection struct {
	Box          BoundingBox `json:"box"`
	Confidence   float64     `json:"confidence"`
	Class        string      `json:"class"`
	SubClass     string      `json:"sub_class,omitempty"`
	SizeCategory string      `json:"size_category,omitempty"`
	TrackID      int64       `json:"track_id,omitempty"`
}

// DetectionResult is the per-frame outcome appended to a service's result
// buffer.
type DetectionResult struct {
	Seq         uint64         `json:"seq"`
	Timestamp   time.Time      `json:"timestamp"`
	Detections  []Detection    `json:"detections"`
	ClassCounts map[string]int `json:"class_counts"`
	TrackCount  int            `json:"track_count"`
}

// ServiceCommand is the Kafka control message that starts or stops a service
// remotely.
type ServiceCommand struct {
	ServiceID string           `json:"service_id,omitempty"`
	Action    CommandAction    `json:"action"`
	Stream    *StreamConfig    `json:"stream,omitempty"`
	Detection *DetectionConfig `json:"detection,omitempty"`
}

// Heartbeat is published periodically while a service is running.
type Heartbeat struct {
	ServiceID string        `json:"service_id"`
	Status    ServiceStatus `json:"status"`
	Seq       uint64        `json:"seq"`
	Timestamp time.Time     `json:"timestamp"`
}

// StreamConfig describes one frame source.
type StreamConfig struct {
	URL        string  `json:"url" yaml:"url"`
	TargetFPS  float64 `json:"target_fps" yaml:"target_fps"`
	Width      int     `json:"width" yaml:"width"`
	Height     int     `json:"height" yaml:"height"`
	QueueDepth int     `json:"queue_depth" yaml:"queue_depth"`
}

// DetectionConfig describes the policy applied to raw detections.
type DetectionConfig struct {
	Classes            []string           `json:"classes" yaml:"classes"`
	Confidence         float64            `json:"confidence" yaml:"confidence"`
	ConfidenceByClass  map[string]float64 `json:"confidence_by_class" yaml:"confidence_by_class"`
	MinArea            float64            `json:"min_area" yaml:"min_area"`
	TrackingEnabled    bool               `json:"tracking_enabled" yaml:"tracking_enabled"`
	TrackHistorySize   int                `json:"track_history_size" yaml:"track_history_size"`
	SubClassifyEnabled bool               `json:"sub_classify_enabled" yaml:"sub_classify_enabled"`
}

// ServiceInfo is the status view returned by the control surface.
type ServiceInfo struct {
	ID        string        `json:"id"`
	Status    ServiceStatus `json:"status"`
	StreamURL string        `json:"stream_url"`
	CreatedAt time.Time     `json:"created_at"`
	UptimeSec float64       `json:"uptime_sec"`
	LastError string        `json:"last_error,omitempty"`
	Stats     ServiceStats  `json:"stats"`
}

// ServiceStats are per-service runtime counters. Transient per-frame errors
// show up here and in metrics, never in the lifecycle state.
type ServiceStats struct {
	FramesRead      uint64  `json:"frames_read"`
	FramesProcessed uint64  `json:"frames_processed"`
	FramesDropped   uint64  `json:"frames_dropped"`
	ErrorCount      uint64  `json:"error_count"`
	ProcessingFPS   float64 `json:"processing_fps"`
}

// DeviceInfo is the pool's view of one worker for the control surface.
type DeviceInfo struct {
	ID       string  `json:"id"`
	Health   string  `json:"health"`
	InFlight int64   `json:"in_flight"`
	Weight   float64 `json:"weight"`
	Fallback bool    `json:"fallback"`
}
