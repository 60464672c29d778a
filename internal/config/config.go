package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/streamsight/streamsight/internal/models"
)

// ValidationError reports a rejected configuration value. Services never
// start with one pending.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config field %q: %s", e.Field, e.Reason)
}

// Duration parses "500ms"/"5s" style values from both YAML and env.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// DeviceConfig registers one accelerator (or CPU) worker at startup.
type DeviceConfig struct {
	ID            string  `yaml:"id"`
	Endpoint      string  `yaml:"endpoint"`
	Weight        float64 `yaml:"weight"`
	MaxConcurrent int     `yaml:"max_concurrent"`
	Fallback      bool    `yaml:"fallback"`
}

// EngineConfig bounds the orchestration core.
type EngineConfig struct {
	ResultBufferSize  int      `yaml:"result_buffer_size" env:"RESULT_BUFFER_SIZE"`
	SubscriberBuffer  int      `yaml:"subscriber_buffer" env:"SUBSCRIBER_BUFFER"`
	FrameQueueDepth   int      `yaml:"frame_queue_depth" env:"FRAME_QUEUE_DEPTH"`
	FailureThreshold  int      `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	ReconnectAttempts int      `yaml:"reconnect_attempts" env:"RECONNECT_ATTEMPTS"`
	ReconnectInitial  Duration `yaml:"reconnect_initial" env:"RECONNECT_INITIAL"`
	ReconnectMax      Duration `yaml:"reconnect_max" env:"RECONNECT_MAX"`
	ConnectTimeout    Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	ReadTimeout       Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	InferenceTimeout  Duration `yaml:"inference_timeout" env:"INFERENCE_TIMEOUT"`
	StopGrace         Duration `yaml:"stop_grace" env:"STOP_GRACE"`
	Retention         Duration `yaml:"retention" env:"SERVICE_RETENTION"`
	HealthInterval    Duration `yaml:"health_interval" env:"HEALTH_INTERVAL"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	TrackIoU          float64  `yaml:"track_iou" env:"TRACK_IOU"`
	TrackMissLimit    int      `yaml:"track_miss_limit" env:"TRACK_MISS_LIMIT"`
}

type Config struct {
	Server struct {
		Addr string `yaml:"addr" env:"SERVER_ADDR"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level" env:"LOG_LEVEL"`
		Format string `yaml:"format" env:"LOG_FORMAT"`
	} `yaml:"log"`

	Postgres struct {
		DSN string `yaml:"dsn" env:"DATABASE_DSN"`
	} `yaml:"postgres"`

	Minio struct {
		Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
		AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
		UseSSL    bool   `yaml:"use_ssl" env:"MINIO_USE_SSL"`
	} `yaml:"minio"`

	Kafka struct {
		Brokers        []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
		GroupID        string   `yaml:"group_id" env:"KAFKA_GROUP_ID"`
		CommandTopic   string   `yaml:"command_topic" env:"COMMAND_TOPIC"`
		ResultTopic    string   `yaml:"result_topic" env:"RESULT_TOPIC"`
		HeartbeatTopic string   `yaml:"heartbeat_topic" env:"HEARTBEAT_TOPIC"`
	} `yaml:"kafka"`

	Devices []DeviceConfig `yaml:"devices"`

	Engine EngineConfig `yaml:"engine"`

	// DefaultDetection fills unset per-service detection options.
	DefaultDetection models.DetectionConfig `yaml:"default_detection"`
}

// Load reads the YAML file (optional) and overlays environment variables.
func Load(filename string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Server.Addr = ":8002"
	c.Log.Level = "info"
	c.Log.Format = "json"

	c.Engine = EngineConfig{
		ResultBufferSize:  100,
		SubscriberBuffer:  16,
		FrameQueueDepth:   1,
		FailureThreshold:  3,
		ReconnectAttempts: 5,
		ReconnectInitial:  Duration(500 * time.Millisecond),
		ReconnectMax:      Duration(30 * time.Second),
		ConnectTimeout:    Duration(10 * time.Second),
		ReadTimeout:       Duration(15 * time.Second),
		InferenceTimeout:  Duration(10 * time.Second),
		StopGrace:         Duration(5 * time.Second),
		Retention:         Duration(60 * time.Second),
		HealthInterval:    Duration(30 * time.Second),
		HeartbeatInterval: Duration(5 * time.Second),
		TrackIoU:          0.3,
		TrackMissLimit:    5,
	}

	c.DefaultDetection = models.DetectionConfig{
		Classes:          []string{"car", "truck", "bus", "motorcycle", "bicycle"},
		Confidence:       0.5,
		MinArea:          100,
		TrackingEnabled:  true,
		TrackHistorySize: 30,
	}
}

func (c *Config) validate() error {
	if len(c.Devices) == 0 {
		return &ValidationError{Field: "devices", Reason: "at least one device is required"}
	}
	seen := map[string]bool{}
	for i, d := range c.Devices {
		field := fmt.Sprintf("devices[%d]", i)
		if d.ID == "" {
			return &ValidationError{Field: field + ".id", Reason: "must not be empty"}
		}
		if seen[d.ID] {
			return &ValidationError{Field: field + ".id", Reason: "duplicate device id " + d.ID}
		}
		seen[d.ID] = true
		if d.Endpoint == "" {
			return &ValidationError{Field: field + ".endpoint", Reason: "must not be empty"}
		}
		if d.Weight < 0 {
			return &ValidationError{Field: field + ".weight", Reason: "must not be negative"}
		}
		if d.MaxConcurrent < 0 {
			return &ValidationError{Field: field + ".max_concurrent", Reason: "must not be negative"}
		}
	}
	if c.Engine.ResultBufferSize <= 0 {
		return &ValidationError{Field: "engine.result_buffer_size", Reason: "must be positive"}
	}
	if c.Engine.FrameQueueDepth <= 0 {
		return &ValidationError{Field: "engine.frame_queue_depth", Reason: "must be positive"}
	}
	if c.Engine.FailureThreshold <= 0 {
		return &ValidationError{Field: "engine.failure_threshold", Reason: "must be positive"}
	}
	return ValidateDetection(&c.DefaultDetection)
}

// ValidateStream checks a per-service stream configuration at start time.
func ValidateStream(sc *models.StreamConfig) error {
	if sc.URL == "" {
		return &ValidationError{Field: "stream.url", Reason: "must not be empty"}
	}
	u, err := url.Parse(sc.URL)
	if err != nil {
		return &ValidationError{Field: "stream.url", Reason: "not a valid URL"}
	}
	switch u.Scheme {
	case "http", "https", "s3", "file", "":
	default:
		return &ValidationError{Field: "stream.url", Reason: "unsupported protocol " + u.Scheme}
	}
	if sc.TargetFPS < 0 {
		return &ValidationError{Field: "stream.target_fps", Reason: "must not be negative"}
	}
	if sc.QueueDepth < 0 {
		return &ValidationError{Field: "stream.queue_depth", Reason: "must not be negative"}
	}
	return nil
}

// ValidateDetection checks a per-service detection configuration.
func ValidateDetection(dc *models.DetectionConfig) error {
	if len(dc.Classes) == 0 {
		return &ValidationError{Field: "detection.classes", Reason: "category set must not be empty"}
	}
	for _, c := range dc.Classes {
		if strings.TrimSpace(c) == "" {
			return &ValidationError{Field: "detection.classes", Reason: "category labels must not be blank"}
		}
	}
	if dc.Confidence < 0 || dc.Confidence > 1 {
		return &ValidationError{Field: "detection.confidence", Reason: "must be within [0, 1]"}
	}
	for class, th := range dc.ConfidenceByClass {
		if th < 0 || th > 1 {
			return &ValidationError{Field: "detection.confidence_by_class." + class, Reason: "must be within [0, 1]"}
		}
	}
	if dc.MinArea < 0 {
		return &ValidationError{Field: "detection.min_area", Reason: "must not be negative"}
	}
	if dc.TrackHistorySize < 0 {
		return &ValidationError{Field: "detection.track_history_size", Reason: "must not be negative"}
	}
	return nil
}
