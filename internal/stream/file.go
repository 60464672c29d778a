package stream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/streamsight/streamsight/internal/models"
)

// fileProvider replays a directory of JPEG frames at the configured fps.
// Mostly used for recorded footage and tests.
type fileProvider struct {
	cfg  models.StreamConfig
	path string

	files []string
	next  int
	seq   uint64
	last  time.Time
}

func newFileProvider(cfg models.StreamConfig, path string) (*fileProvider, error) {
	if path == "" {
		path = cfg.URL
	}
	return &fileProvider{cfg: cfg, path: path}, nil
}

func (p *fileProvider) Connect(_ context.Context) error {
	info, err := os.Stat(p.path)
	if err != nil {
		return &ConnectionError{URL: p.cfg.URL, Err: err}
	}
	if !info.IsDir() {
		return &ConnectionError{URL: p.cfg.URL, Err: fmt.Errorf("%s is not a frame directory", p.path)}
	}

	entries, err := os.ReadDir(p.path)
	if err != nil {
		return &ConnectionError{URL: p.cfg.URL, Err: err}
	}

	p.files = p.files[:0]
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			p.files = append(p.files, filepath.Join(p.path, e.Name()))
		}
	}
	sort.Strings(p.files)

	if len(p.files) == 0 {
		return &ConnectionError{URL: p.cfg.URL, Err: fmt.Errorf("no frames in %s", p.path)}
	}
	return nil
}

func (p *fileProvider) NextFrame(ctx context.Context) (*models.Frame, error) {
	if p.next >= len(p.files) {
		return nil, ErrStreamEnded
	}

	if err := p.pace(ctx); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p.files[p.next])
	if err != nil {
		p.next++
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

// pace spaces reads so a directory replay behaves like a live source.
func (p *fileProvider) pace(ctx context.Context) error {
	if p.cfg.TargetFPS <= 0 {
		return nil
	}
	interval := time.Duration(float64(time.Second) / p.cfg.TargetFPS)
	if wait := interval - time.Since(p.last); wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	p.last = time.Now()
	return nil
}

func (p *fileProvider) Close() error {
	p.files = nil
	return nil
}
