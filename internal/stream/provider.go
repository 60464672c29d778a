package stream

import (
	"context"
	"net/url"
	"time"

	"github.com/streamsight/streamsight/internal/models"
	"github.com/streamsight/streamsight/internal/s3"
)

// Provider yields frames from one live or file source. Frames are delivered
// in arrival order with a provider-assigned monotonic sequence number; the
// provider itself never buffers more than the frame being read.
type Provider interface {
	// Connect establishes the source connection. A failure here is a
	// *ConnectionError.
	Connect(ctx context.Context) error

	// NextFrame blocks until a frame is available. It returns ErrStreamEnded
	// when the source is exhausted, or a *TransientError on a retryable read
	// fault. After a transient error the caller reconnects before reading
	// again.
	NextFrame(ctx context.Context) (*models.Frame, error)

	Close() error
}

// Options carries process-level dependencies and timeouts into providers.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// S3 is required for s3:// sources.
	S3 *s3.Client
}

// NewProvider selects a provider implementation by URL scheme.
func NewProvider(cfg models.StreamConfig, opts Options) (Provider, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, &ConnectionError{URL: cfg.URL, Err: err}
	}

	switch u.Scheme {
	case "http", "https":
		return newMJPEGProvider(cfg, opts), nil
	case "s3":
		return newS3Provider(cfg, opts)
	default:
		// Bare paths and file:// URLs read frames from a local directory.
		return newFileProvider(cfg, u.Path)
	}
}
