// Package source defines the MediaSource interface and its implementations.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"audiofetch/internal/consts"
	"audiofetch/internal/entity"
)

// MediaSource retrieves item metadata, collection listings and audio streams.
//
// Errors wrap errs.ErrSourceUnavailable (listings), errs.ErrItemUnavailable
// (permanent per-item problems) or errs.ErrTransientFetch (worth retrying).
type MediaSource interface {
	ProbeItem(ctx context.Context, rawURL string) (entity.ItemDescriptor, error)
	ListCollection(ctx context.Context, rawURL string, kind entity.CollectionKind) ([]entity.ItemDescriptor, error)
	OpenStream(ctx context.Context, item entity.ItemDescriptor) (*Stream, error)
}

// Stream is an open audio byte stream. Size is the expected length, <= 0 when unknown.
type Stream struct {
	Body io.ReadCloser
	Size int64
}

// Close closes the body.
func (s *Stream) Close() error {
	if s == nil || s.Body == nil {
		return nil
	}

	return s.Body.Close()
}

// Options holds what concrete sources need besides a logger.
type Options struct {
	// HTTPClient is used by the native source and for yt-dlp resolved stream URLs.
	HTTPClient *http.Client
	// YTdlpPath is the yt-dlp executable; empty means PATH lookup.
	YTdlpPath string
	// FFmpegPath lets yt-dlp find ffmpeg for merged formats.
	FFmpegPath string
	CacheDir   string
	CookieFile string
	// Proxy is passed to yt-dlp as --proxy.
	Proxy string
	// MixItemCap bounds yt-dlp mix listings.
	MixItemCap int
}

// New builds the source registered under name.
func New(name string, log *slog.Logger, opts Options) (MediaSource, error) {
	switch name {
	case consts.SourceYouTube:
		return NewYouTube(log, opts.HTTPClient), nil
	case consts.SourceYTdlp:
		return NewYTdlp(log, opts), nil
	case consts.SourceMock:
		return NewDemoMock(log), nil
	default:
		return nil, fmt.Errorf("unknown source %q", name)
	}
}

func classifyContextError(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "process"
	}
}
