// Package expander turns a collection URL into an ordered list of items.
package expander

import (
	"context"
	"fmt"
	"log/slog"

	"audiofetch/internal/classifier"
	"audiofetch/internal/consts"
	"audiofetch/internal/entity"
	"audiofetch/internal/errs"
	"audiofetch/internal/source"
)

// Expander enumerates collections through a MediaSource.
type Expander struct {
	log    *slog.Logger
	src    source.MediaSource
	mixCap int
}

// New creates an Expander. mixCap <= 0 uses the default cap.
func New(log *slog.Logger, src source.MediaSource, mixCap int) *Expander {
	if mixCap <= 0 {
		mixCap = consts.DefaultMixItemCap
	}

	return &Expander{
		log:    log.With(slog.String("package", "expander")),
		src:    src,
		mixCap: mixCap,
	}
}

// Expand lists the collection identified by id and returns its items in source order,
// with ordinals reassigned from 0. Mixes are truncated to the cap.
// Any listing problem is fatal: there is no partial expansion.
func (e *Expander) Expand(ctx context.Context, kind entity.CollectionKind, id, rawURL string) ([]entity.ItemDescriptor, error) {
	if !kind.IsCollection() {
		return nil, fmt.Errorf("expand %q: %w", rawURL, errs.ErrNotACollection)
	}

	listingURL := classifier.ListingURL(kind, id, rawURL)

	log := e.log.With(slog.String("kind", kind.String()), slog.String("collection_id", id))

	listed, err := e.src.ListCollection(ctx, listingURL, kind)
	if err != nil {
		log.ErrorContext(ctx, "listing failed", slog.Any("error", err))

		return nil, fmt.Errorf("expand %s %q: %w: %w", kind, id, errs.ErrSourceUnavailable, err)
	}

	if len(listed) == 0 {
		return nil, fmt.Errorf("expand %s %q: %w: %w", kind, id, errs.ErrSourceUnavailable, errs.ErrEmptyCollection)
	}

	if kind == entity.AlgorithmicMix && len(listed) > e.mixCap {
		log.DebugContext(ctx, "mix truncated", slog.Int("listed", len(listed)), slog.Int("cap", e.mixCap))

		listed = listed[:e.mixCap]
	}

	items := make([]entity.ItemDescriptor, 0, len(listed))

	for i, item := range listed {
		if item.ID == "" || item.SourceLocator == "" {
			return nil, fmt.Errorf("expand %s %q: %w: malformed entry at %d", kind, id, errs.ErrSourceUnavailable, i)
		}

		if item.Title == "" {
			item.Title = item.ID
		}

		item.Ordinal = i
		items = append(items, item)
	}

	log.InfoContext(ctx, "collection expanded", slog.Int("items", len(items)))

	return items, nil
}
