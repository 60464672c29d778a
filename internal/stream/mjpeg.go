package stream

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/streamsight/streamsight/internal/models"
)

// mjpegProvider reads an MJPEG stream served as multipart/x-mixed-replace,
// the format IP cameras expose over HTTP.
type mjpegProvider struct {
	cfg  models.StreamConfig
	opts Options

	client *http.Client
	resp   *http.Response
	reader *multipart.Reader
	cancel context.CancelFunc
	seq    uint64
}

func newMJPEGProvider(cfg models.StreamConfig, opts Options) *mjpegProvider {
	return &mjpegProvider{
		cfg:    cfg,
		opts:   opts,
		client: &http.Client{},
	}
}

func (p *mjpegProvider) Connect(ctx context.Context) error {
	p.closeResponse()

	// The response body outlives the connect call, so the request context
	// must not be a child of ctx; ctx only bounds the dial itself.
	reqCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		cancel()
		return &ConnectionError{URL: p.cfg.URL, Err: err}
	}

	connectTimeout := p.opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	connectTimer := time.AfterFunc(connectTimeout, cancel)
	stopWatch := context.AfterFunc(ctx, cancel)
	resp, err := p.client.Do(req)
	connectTimer.Stop()
	stopWatch()
	if err != nil {
		cancel()
		return &ConnectionError{URL: p.cfg.URL, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return &ConnectionError{URL: p.cfg.URL, Err: fmt.Errorf("bad status: %s", resp.Status)}
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		cancel()
		return &ConnectionError{URL: p.cfg.URL, Err: fmt.Errorf("not an MJPEG stream: content-type %q", resp.Header.Get("Content-Type"))}
	}

	p.resp = resp
	p.cancel = cancel
	p.reader = multipart.NewReader(resp.Body, params["boundary"])
	return nil
}

func (p *mjpegProvider) NextFrame(ctx context.Context) (*models.Frame, error) {
	if p.reader == nil {
		return nil, &TransientError{Err: fmt.Errorf("stream %s not connected", p.cfg.URL)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The multipart reader has no deadline support; closing the body unblocks
	// a stuck read on timeout or cancellation.
	readTimeout := p.opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	body := p.resp.Body
	readTimer := time.AfterFunc(readTimeout, func() { body.Close() })
	stopWatch := context.AfterFunc(ctx, func() { body.Close() })

	part, err := p.reader.NextPart()
	if err != nil {
		readTimer.Stop()
		stopWatch()
		if err == io.EOF {
			return nil, ErrStreamEnded
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: err}
	}

	data, err := io.ReadAll(part)
	part.Close()
	readTimer.Stop()
	stopWatch()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: err}
	}

	p.seq++
	return &models.Frame{
		Seq:       p.seq,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

func (p *mjpegProvider) Close() error {
	p.closeResponse()
	return nil
}

func (p *mjpegProvider) closeResponse() {
	if p.resp != nil {
		p.resp.Body.Close()
		p.resp = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.reader = nil
}
