// Package errs defines common error variables used across the application.
package errs

import "errors"

// Source errors.
var (
	// ErrSourceUnavailable indicates that a collection could not be enumerated.
	// It is fatal to the whole run.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrItemUnavailable indicates that a single item cannot be probed or opened.
	// Retrying does not help.
	ErrItemUnavailable = errors.New("item unavailable")
	// ErrTransientFetch indicates a network or service hiccup while retrieving a stream.
	ErrTransientFetch = errors.New("transient fetch failure")
)

// Fetch errors.
var (
	// ErrConversionFailed indicates that the transcoder could not produce the target file.
	ErrConversionFailed = errors.New("conversion failed")
	// ErrExhaustedRetries indicates that the retry budget for an item was spent.
	ErrExhaustedRetries = errors.New("exhausted retries")
	// ErrFetcherPanic indicates that a fetcher terminated unexpectedly.
	ErrFetcherPanic = errors.New("fetcher panicked")
	// ErrOutputUnavailable indicates that the output directory cannot be written.
	ErrOutputUnavailable = errors.New("output not writable")
	// ErrShortRead indicates that a stream ended before its announced size.
	ErrShortRead = errors.New("stream ended early")
)

// Input errors.
var (
	// ErrInvalidURL indicates that the input URL is not an http(s) URL.
	ErrInvalidURL = errors.New("invalid url")
	// ErrNotACollection indicates that a collection operation got a single-item kind.
	ErrNotACollection = errors.New("not a collection")
	// ErrEmptyCollection indicates that a collection listing returned no entries.
	ErrEmptyCollection = errors.New("collection is empty")
)

// Dependency errors.
var (
	// ErrBinaryNotFound indicates that the required binary was not found.
	ErrBinaryNotFound = errors.New("binary not found")
	// ErrUnsupportedPlatform indicates that the current platform is not supported.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// Proxy errors.
var (
	// ErrNoProxiesAvailable indicates that no proxies are available.
	ErrNoProxiesAvailable = errors.New("no proxies available")
)
