package source

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/lrstanley/go-ytdlp"
)

// Result wraps ytdlp.Result for custom logging.
type Result struct {
	*ytdlp.Result
}

// LogValue implements the slog.LogValuer interface for custom logging of Result.
func (r Result) LogValue() slog.Value {
	if r.Result == nil {
		return slog.GroupValue(slog.String("error", "nil result"))
	}

	var outputLogs strings.Builder
	for _, log := range r.OutputLogs {
		fmt.Fprintf(&outputLogs, "%s\n", log)
	}

	return slog.GroupValue(
		slog.String("executable", r.Executable),
		slog.String("args", fmt.Sprintf("%v", r.Args)),
		slog.Int("stdout_bytes", len(r.Stdout)),
		slog.String("stderr", r.Stderr),
		slog.String("output_logs", outputLogs.String()),
	)
}

// ResultJSON represents the JSON output from yt-dlp.
type ResultJSON struct {
	Type          string    `json:"_type"`
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Channel       string    `json:"channel"`
	Uploader      string    `json:"uploader"`
	Entries       []Entries `json:"entries"`
	WebpageURL    string    `json:"webpage_url"`
	OriginalURL   string    `json:"original_url"`
	Extractor     string    `json:"extractor"`
	PlaylistCount int       `json:"playlist_count"`
	Filesize      int64     `json:"filesize"`
	URL           string    `json:"url"`
}

// Author returns the best available author name.
func (r ResultJSON) Author() string {
	if r.Uploader != "" {
		return r.Uploader
	}

	return r.Channel
}

// Entries represents an entry in a playlist or multiple entries result.
type Entries struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Channel       string  `json:"channel"`
	Uploader      string  `json:"uploader"`
	Duration      float64 `json:"duration"`
	URL           string  `json:"url"`
	WebpageURL    string  `json:"webpage_url"`
	PlaylistIndex int     `json:"playlist_index"`
}

// Author returns the best available author name.
func (e Entries) Author() string {
	if e.Uploader != "" {
		return e.Uploader
	}

	return e.Channel
}
