package kafka

import (
	"context"

	"github.com/streamsight/streamsight/internal/models"
)

// Sink publishes detection results to the result topic. It satisfies the
// service result sink interface.
type Sink struct {
	producer *Producer
}

func NewSink(producer *Producer) *Sink {
	return &Sink{producer: producer}
}

func (s *Sink) Name() string { return "kafka" }

func (s *Sink) Publish(_ context.Context, serviceID string, result models.DetectionResult) error {
	return s.producer.PublishResult(serviceID, result)
}
