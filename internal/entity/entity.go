// Package entity defines the core entities used in the application.
package entity

import (
	"log/slog"
)

// CollectionKind tells how an input URL has to be expanded.
type CollectionKind int

const (
	// NotACollection is a single item.
	NotACollection CollectionKind = iota
	// OrdinaryCollection is a playlist with a stable, complete listing.
	OrdinaryCollection
	// AlgorithmicMix is a service-generated collection; its listing is capped.
	AlgorithmicMix
)

// String returns the string representation of CollectionKind.
func (k CollectionKind) String() string {
	switch k {
	case NotACollection:
		return "single"
	case OrdinaryCollection:
		return "collection"
	case AlgorithmicMix:
		return "mix"
	default:
		return "unknown"
	}
}

// IsCollection reports whether the kind needs expansion.
func (k CollectionKind) IsCollection() bool {
	return k == OrdinaryCollection || k == AlgorithmicMix
}

// ItemDescriptor identifies one downloadable unit. It is immutable once produced.
type ItemDescriptor struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Author        string `json:"author,omitempty"`
	SourceLocator string `json:"sourceLocator"`
	// Ordinal is the 0-based position in the collection, for messages only.
	Ordinal int `json:"ordinal"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (d ItemDescriptor) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", d.ID),
		slog.String("title", d.Title),
		slog.String("source", d.SourceLocator),
		slog.Int("ordinal", d.Ordinal),
	)
}
