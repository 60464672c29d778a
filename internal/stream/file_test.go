package stream

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/streamsight/streamsight/internal/models"
)

func frameDir(t *testing.T, names map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestFileProviderReadsSortedFrames(t *testing.T) {
	dir := frameDir(t, map[string]string{
		"frame_0002.jpg": "second",
		"frame_0001.jpg": "first",
		"frame_0003.jpg": "third",
		"notes.txt":      "ignored",
	})

	p, err := newFileProvider(models.StreamConfig{URL: dir}, dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer p.Close()

	want := []string{"first", "second", "third"}
	for i, content := range want {
		frame, err := p.NextFrame(context.Background())
		if err != nil {
			t.Fatalf("NextFrame %d: %v", i, err)
		}
		if frame.Seq != uint64(i+1) {
			t.Errorf("frame %d: seq %d", i, frame.Seq)
		}
		if string(frame.Data) != content {
			t.Errorf("frame %d: expected %q, got %q", i, content, frame.Data)
		}
	}

	if _, err := p.NextFrame(context.Background()); !errors.Is(err, ErrStreamEnded) {
		t.Errorf("expected ErrStreamEnded, got %v", err)
	}
}

func TestFileProviderEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	p, err := newFileProvider(models.StreamConfig{URL: dir}, dir)
	if err != nil {
		t.Fatal(err)
	}

	connErr := p.Connect(context.Background())
	var ce *ConnectionError
	if !errors.As(connErr, &ce) {
		t.Errorf("expected ConnectionError for empty directory, got %v", connErr)
	}
}

func TestFileProviderMissingDirectory(t *testing.T) {
	p, err := newFileProvider(models.StreamConfig{URL: "/does/not/exist"}, "/does/not/exist")
	if err != nil {
		t.Fatal(err)
	}

	connErr := p.Connect(context.Background())
	var ce *ConnectionError
	if !errors.As(connErr, &ce) {
		t.Errorf("expected ConnectionError, got %v", connErr)
	}
}

func TestNewProviderSelectsByScheme(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"http://camera/stream", "*stream.mjpegProvider"},
		{"https://camera/stream", "*stream.mjpegProvider"},
		{"/data/frames", "*stream.fileProvider"},
		{"file:///data/frames", "*stream.fileProvider"},
	}

	for _, c := range cases {
		p, err := NewProvider(models.StreamConfig{URL: c.url}, Options{})
		if err != nil {
			t.Errorf("%s: %v", c.url, err)
			continue
		}
		var got string
		switch p.(type) {
		case *mjpegProvider:
			got = "*stream.mjpegProvider"
		case *fileProvider:
			got = "*stream.fileProvider"
		default:
			got = "unknown"
		}
		if got != c.want {
			t.Errorf("%s: expected %s, got %s", c.url, c.want, got)
		}
	}
}
