package stream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/streamsight/streamsight/internal/models"
	"github.com/streamsight/streamsight/internal/s3"
)

// s3Provider reads pre-extracted frames from an object-store folder,
// s3://bucket/prefix, in key order.
type s3Provider struct {
	cfg    models.StreamConfig
	client *s3.Client
	bucket string
	prefix string

	keys []string
	next int
	seq  uint64
	last time.Time
}

func newS3Provider(cfg models.StreamConfig, opts Options) (*s3Provider, error) {
	if opts.S3 == nil {
		return nil, &ConnectionError{URL: cfg.URL, Err: fmt.Errorf("no object store configured")}
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, &ConnectionError{URL: cfg.URL, Err: err}
	}
	bucket := u.Host
	prefix := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || prefix == "" {
		return nil, &ConnectionError{URL: cfg.URL, Err: fmt.Errorf("expected s3://bucket/prefix")}
	}

	return &s3Provider{
		cfg:    cfg,
		client: opts.S3,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func (p *s3Provider) Connect(ctx context.Context) error {
	keys, err := p.client.ListKeys(ctx, p.bucket, p.prefix)
	if err != nil {
		return &ConnectionError{URL: p.cfg.URL, Err: err}
	}
	if len(keys) == 0 {
		return &ConnectionError{URL: p.cfg.URL, Err: fmt.Errorf("no frames under %s/%s", p.bucket, p.prefix)}
	}
	p.keys = keys
	return nil
}

func (p *s3Provider) NextFrame(ctx context.Context) (*models.Frame, error) {
	if p.next >= len(p.keys) {
		return nil, ErrStreamEnded
	}

	if p.cfg.TargetFPS > 0 {
		interval := time.Duration(float64(time.Second) / p.cfg.TargetFPS)
		if wait := interval - time.Since(p.last); wait > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		p.last = time.Now()
	}

	data, err := p.client.GetObject(ctx, p.bucket, p.keys[p.next])
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: err}
	}
	p.next++
	p.seq++

	return &models.Frame{
		Seq:       p.seq,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

func (p *s3Provider) Close() error {
	p.keys = nil
	return nil
}
