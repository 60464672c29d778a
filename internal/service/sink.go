package service

import (
	"context"

	"github.com/streamsight/streamsight/internal/models"
)

// ResultSink is a storage or transport collaborator that receives every
// appended DetectionResult. Publishing is best effort: a failing sink is
// logged and counted, never stalls the processing loop, and never affects
// the service lifecycle.
type ResultSink interface {
	Name() string
	Publish(ctx context.Context, serviceID string, r models.DetectionResult) error
}
