package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"audiofetch/internal/consts"
	"audiofetch/internal/entity"
	"audiofetch/internal/errs"

	"github.com/kkdai/youtube/v2"
)

// YouTube is a native MediaSource talking to YouTube without external binaries.
type YouTube struct {
	log    *slog.Logger
	client *youtube.Client
}

// NewYouTube creates a native source. A nil httpClient uses http.DefaultClient.
func NewYouTube(log *slog.Logger, httpClient *http.Client) *YouTube {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &YouTube{
		log:    log.With(slog.String("package", "source"), slog.String("source", consts.SourceYouTube)),
		client: &youtube.Client{HTTPClient: httpClient},
	}
}

// ProbeItem fetches the metadata of a single item.
func (y *YouTube) ProbeItem(ctx context.Context, rawURL string) (entity.ItemDescriptor, error) {
	video, err := y.client.GetVideoContext(ctx, rawURL)
	if err != nil {
		return entity.ItemDescriptor{}, fmt.Errorf("probe %q: %w: %w", rawURL, errs.ErrItemUnavailable, err)
	}

	return entity.ItemDescriptor{
		ID:            video.ID,
		Title:         video.Title,
		Author:        video.Author,
		SourceLocator: fmt.Sprintf(consts.WatchURLFormat, video.ID),
	}, nil
}

// ListCollection enumerates a playlist. The library resolves mixes the same way as playlists.
func (y *YouTube) ListCollection(ctx context.Context, rawURL string, kind entity.CollectionKind) ([]entity.ItemDescriptor, error) {
	playlist, err := y.client.GetPlaylistContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("list %s %q: %w: %w", kind, rawURL, errs.ErrSourceUnavailable, err)
	}

	items := make([]entity.ItemDescriptor, 0, len(playlist.Videos))

	for i, entry := range playlist.Videos {
		if entry == nil {
			continue
		}

		items = append(items, entity.ItemDescriptor{
			ID:            entry.ID,
			Title:         entryTitle(entry),
			Author:        entry.Author,
			SourceLocator: fmt.Sprintf(consts.WatchURLFormat, entry.ID),
			Ordinal:       i,
		})
	}

	y.log.DebugContext(ctx, "collection listed",
		slog.String("url", rawURL),
		slog.String("title", playlist.Title),
		slog.Int("items", len(items)))

	return items, nil
}

// OpenStream opens the best audio-only format of the item.
func (y *YouTube) OpenStream(ctx context.Context, item entity.ItemDescriptor) (*Stream, error) {
	video, err := y.client.GetVideoContext(ctx, item.SourceLocator)
	if err != nil {
		return nil, y.wrapError(ctx, "get video", err)
	}

	format, err := pickAudioFormat(video)
	if err != nil {
		return nil, err
	}

	body, size, err := y.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, y.wrapError(ctx, "get stream", err)
	}

	y.log.DebugContext(ctx, "stream opened",
		slog.Any("item", item),
		slog.String("mime", format.MimeType),
		slog.Int("bitrate", bitrateForFormat(format)),
		slog.Int64("size", size))

	return &Stream{Body: body, Size: size}, nil
}

func (y *YouTube) wrapError(ctx context.Context, op string, err error) error {
	if isRestricted(err) {
		return fmt.Errorf("%s: %w: %w", op, errs.ErrItemUnavailable, err)
	}

	y.log.DebugContext(ctx, "transient source error",
		slog.String("op", op),
		slog.String("error_type", classifyContextError(err)),
		slog.Any("error", err))

	return fmt.Errorf("%s: %w: %w", op, errs.ErrTransientFetch, err)
}

// isRestricted reports errors that no retry can fix.
func isRestricted(err error) bool {
	switch {
	case errors.Is(err, youtube.ErrLoginRequired),
		errors.Is(err, youtube.ErrVideoPrivate),
		errors.Is(err, youtube.ErrNotPlayableInEmbed),
		errors.Is(err, youtube.ErrInvalidCharactersInVideoID),
		errors.Is(err, youtube.ErrVideoIDMinLength):
		return true
	}

	var statusErr *youtube.ErrPlayabiltyStatus

	return errors.As(err, &statusErr)
}

// pickAudioFormat returns the highest bitrate audio-only format,
// falling back to any format carrying audio.
func pickAudioFormat(video *youtube.Video) (*youtube.Format, error) {
	var best, fallback *youtube.Format

	for i := range video.Formats {
		format := &video.Formats[i]
		if format.AudioChannels == 0 {
			continue
		}

		if format.Width == 0 && format.Height == 0 && strings.HasPrefix(format.MimeType, "audio/") {
			if best == nil || bitrateForFormat(format) > bitrateForFormat(best) {
				best = format
			}

			continue
		}

		if fallback == nil || bitrateForFormat(format) > bitrateForFormat(fallback) {
			fallback = format
		}
	}

	if best != nil {
		return best, nil
	}

	if fallback != nil {
		return fallback, nil
	}

	return nil, fmt.Errorf("no audio formats for %q: %w", video.ID, errs.ErrItemUnavailable)
}

func bitrateForFormat(f *youtube.Format) int {
	if f.Bitrate > 0 {
		return f.Bitrate
	}

	return f.AverageBitrate
}

func entryTitle(entry *youtube.PlaylistEntry) string {
	if entry.Title != "" {
		return entry.Title
	}

	return entry.ID
}
