// Package tagger writes ID3 metadata into finished MP3 files.
package tagger

import (
	"fmt"
	"log/slog"
	"strconv"

	"audiofetch/internal/entity"

	"github.com/bogem/id3v2"
)

// Tagger writes title, artist and track number frames.
type Tagger struct {
	log *slog.Logger
}

// New creates a Tagger.
func New(log *slog.Logger) *Tagger {
	return &Tagger{log: log.With(slog.String("package", "tagger"))}
}

// Tag writes the item's metadata into the file at path.
// total > 1 also writes the TRCK frame as "<ordinal+1>/<total>".
func (t *Tagger) Tag(path string, item entity.ItemDescriptor, total int) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("open tag: %w", err)
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)

	// Title (TIT2)
	tag.SetTitle(item.Title)

	// Artist (TPE1)
	if item.Author != "" {
		tag.SetArtist(item.Author)
	}

	// Track Number (TRCK)
	if total > 1 {
		tag.AddTextFrame("TRCK", id3v2.EncodingUTF8, strconv.Itoa(item.Ordinal+1)+"/"+strconv.Itoa(total))
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("save tag: %w", err)
	}

	t.log.Debug("tagged", slog.String("path", path), slog.Any("item", item))

	return nil
}
