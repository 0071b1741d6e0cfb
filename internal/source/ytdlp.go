package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"audiofetch/internal/consts"
	"audiofetch/internal/entity"
	"audiofetch/internal/errs"

	"github.com/lrstanley/go-ytdlp"
)

var (
	maxJSONSize = 10 * 1024 * 1024 // 10 MiB scanner buffer
	bufSize     = 4096             // 4 KiB buffer size
	reStreamURL = regexp.MustCompile(`^https?://\S+$`)

	// lower-cased stderr fragments that mean the item is gone for good
	restrictedMarkers = []string{
		"private video",
		"sign in",
		"members only",
		"premium",
		"copyright",
		"video unavailable",
		"content unavailable",
		"age-restricted",
		"not available",
		"has been removed",
	}
)

// YTdlp is a MediaSource backed by the yt-dlp binary.
// Metadata comes from yt-dlp, bytes are fetched over HTTP from the URL it resolves.
type YTdlp struct {
	log    *slog.Logger
	opts   Options
	client *http.Client
}

// NewYTdlp creates a new yt-dlp source instance.
func NewYTdlp(log *slog.Logger, opts Options) *YTdlp {
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &YTdlp{
		log:    log.With(slog.String("package", "source"), slog.String("source", consts.SourceYTdlp)),
		opts:   opts,
		client: client,
	}
}

func (d *YTdlp) command() *ytdlp.Command {
	command := ytdlp.New().
		Quiet().
		NoWarnings()

	if d.opts.YTdlpPath != "" {
		command = command.SetExecutable(d.opts.YTdlpPath)
	}

	if d.opts.FFmpegPath != "" {
		command = command.FFmpegLocation(d.opts.FFmpegPath)
	}

	if d.opts.CacheDir != "" {
		command = command.CacheDir(d.opts.CacheDir)
	}

	if d.opts.Proxy != "" {
		command = command.Proxy(d.opts.Proxy)
	}

	if d.opts.CookieFile != "" {
		command = command.Cookies(d.opts.CookieFile)
	}

	return command
}

// ProbeItem dumps the metadata of a single item.
func (d *YTdlp) ProbeItem(ctx context.Context, rawURL string) (entity.ItemDescriptor, error) {
	res, err := d.command().NoPlaylist().DumpJSON().Run(ctx, rawURL)
	if err != nil {
		d.log.DebugContext(ctx, "ytdlp probe", slog.Any("error", err), slog.Any("result", Result{res}))

		return entity.ItemDescriptor{}, fmt.Errorf("probe %q: %w: %w", rawURL, errs.ErrItemUnavailable, err)
	}

	results, err := ParseYtdlpStdout(res.Stdout)
	if err != nil || len(results) == 0 || results[0].ID == "" {
		return entity.ItemDescriptor{}, fmt.Errorf("probe %q: %w: no metadata", rawURL, errs.ErrItemUnavailable)
	}

	info := results[0]

	return entity.ItemDescriptor{
		ID:            info.ID,
		Title:         info.Title,
		Author:        info.Author(),
		SourceLocator: locator(info.WebpageURL, info.ID),
	}, nil
}

// ListCollection enumerates a collection without resolving each entry.
// Mixes are infinite on the service side, so the listing is bounded at the source too.
func (d *YTdlp) ListCollection(ctx context.Context, rawURL string, kind entity.CollectionKind) ([]entity.ItemDescriptor, error) {
	command := d.command().FlatPlaylist().DumpSingleJSON()

	if kind == entity.AlgorithmicMix {
		limit := d.opts.MixItemCap
		if limit <= 0 {
			limit = consts.DefaultMixItemCap
		}

		command = command.PlaylistItems(fmt.Sprintf("1:%d", limit))
	}

	res, err := command.Run(ctx, rawURL)
	if err != nil {
		d.log.ErrorContext(ctx, "ytdlp list",
			slog.String("error_type", classifyContextError(err)),
			slog.Any("error", err),
			slog.Any("result", Result{res}))

		return nil, fmt.Errorf("list %s %q: %w: %w", kind, rawURL, errs.ErrSourceUnavailable, err)
	}

	results, err := ParseYtdlpStdout(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("list %s %q: %w: %w", kind, rawURL, errs.ErrSourceUnavailable, err)
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("list %s %q: %w: empty output", kind, rawURL, errs.ErrSourceUnavailable)
	}

	listing := results[0]
	items := make([]entity.ItemDescriptor, 0, len(listing.Entries))

	for i, entry := range listing.Entries {
		items = append(items, entity.ItemDescriptor{
			ID:            entry.ID,
			Title:         entry.Title,
			Author:        entry.Author(),
			SourceLocator: locator(entry.URL, entry.ID),
			Ordinal:       i,
		})
	}

	d.log.DebugContext(ctx, "collection listed",
		slog.String("url", rawURL),
		slog.String("title", listing.Title),
		slog.Int("items", len(items)))

	return items, nil
}

// OpenStream resolves the best audio URL with yt-dlp and opens it over HTTP.
func (d *YTdlp) OpenStream(ctx context.Context, item entity.ItemDescriptor) (*Stream, error) {
	res, err := d.command().NoPlaylist().Format("bestaudio/best").GetURL().Run(ctx, item.SourceLocator)
	if err != nil {
		stderr := ""
		if res != nil {
			stderr = res.Stderr
		}

		return nil, d.wrapError(ctx, "resolve stream url", stderr, err)
	}

	streamURL := firstStreamURL(res.Stdout)
	if streamURL == "" {
		return nil, fmt.Errorf("resolve stream url: %w: empty output", errs.ErrTransientFetch)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w: %w", errs.ErrItemUnavailable, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get stream: %w: %w", errs.ErrTransientFetch, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		resp.Body.Close()

		return nil, fmt.Errorf("get stream: %w: status %d", errs.ErrItemUnavailable, resp.StatusCode)
	default:
		resp.Body.Close()

		return nil, fmt.Errorf("get stream: %w: status %d", errs.ErrTransientFetch, resp.StatusCode)
	}

	d.log.DebugContext(ctx, "stream opened", slog.Any("item", item), slog.Int64("size", resp.ContentLength))

	return &Stream{Body: resp.Body, Size: resp.ContentLength}, nil
}

func (d *YTdlp) wrapError(ctx context.Context, op, stderr string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	if isRestrictedMessage(stderr) || isRestrictedMessage(err.Error()) {
		return fmt.Errorf("%s: %w: %w", op, errs.ErrItemUnavailable, err)
	}

	d.log.DebugContext(ctx, "transient ytdlp error", slog.String("op", op), slog.Any("error", err))

	return fmt.Errorf("%s: %w: %w", op, errs.ErrTransientFetch, err)
}

func isRestrictedMessage(msg string) bool {
	msg = strings.ToLower(msg)

	for _, marker := range restrictedMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}

func locator(u, id string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}

	return fmt.Sprintf(consts.WatchURLFormat, id)
}

// firstStreamURL returns the first URL line printed by --get-url.
func firstStreamURL(stdout string) string {
	for line := range strings.Lines(stdout) {
		line = strings.TrimSpace(line)
		if reStreamURL.MatchString(line) {
			return line
		}
	}

	return ""
}

// ParseYtdlpStdout parses the JSON lines printed by yt-dlp, skipping anything else.
func ParseYtdlpStdout(stdout string) ([]ResultJSON, error) {
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, bufSize), maxJSONSize)

	var res []ResultJSON

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] != '{' {
			continue
		}

		var r ResultJSON
		if err := json.Unmarshal([]byte(line), &r); err == nil {
			res = append(res, r)
		}
	}

	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("scan yt-dlp stdout: %w", err)
	}

	return res, nil
}
