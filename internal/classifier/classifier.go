// Package classifier decides whether an input URL names a single item or a collection.
package classifier

import (
	"fmt"
	"strings"

	"audiofetch/internal/consts"
	"audiofetch/internal/entity"
	"audiofetch/pkg/urls"
)

// Classify reports the collection kind of raw and, for collections, its identifier.
// It never fails: anything without a usable collection parameter is a single item.
func Classify(raw string) (entity.CollectionKind, string) {
	id := strings.TrimSpace(urls.QueryParam(raw, consts.CollectionQueryParam))
	if id == "" {
		return entity.NotACollection, ""
	}

	if strings.HasPrefix(id, consts.MixIDPrefix) {
		return entity.AlgorithmicMix, id
	}

	return entity.OrdinaryCollection, id
}

// CollectionURL rebuilds the canonical listing URL of a collection.
func CollectionURL(id string) string {
	return fmt.Sprintf(consts.CollectionURLFormat, id)
}

// ListingURL returns the URL a source has to enumerate for the given kind.
// Mixes are generated relative to their seed item, so the original URL is kept.
func ListingURL(kind entity.CollectionKind, id, raw string) string {
	if kind == entity.OrdinaryCollection {
		return CollectionURL(id)
	}

	return raw
}
