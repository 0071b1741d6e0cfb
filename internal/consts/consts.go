// Package consts defines application-wide constants.
package consts

import "time"

const (
	// DefaultSingleMaxRetries is the attempt budget for a single-item run.
	DefaultSingleMaxRetries = 2
	// DefaultCollectionMaxRetries is the attempt budget for each item of a collection run.
	DefaultCollectionMaxRetries = 3
	// DefaultRetryDelay is the pause between two attempts of the same item.
	DefaultRetryDelay = 5 * time.Second
	// DefaultMaxConcurrentFetches bounds the number of fetchers running at once.
	DefaultMaxConcurrentFetches = 4
	// DefaultMixItemCap bounds the enumeration of algorithmic mixes.
	DefaultMixItemCap = 25
	// DefaultEventBuffer is the capacity of the outward notification channel.
	DefaultEventBuffer = 64
	// DefaultOutputDir is where files land when no directory is given.
	DefaultOutputDir = "./Music"
	// DefaultProbeTimeout bounds metadata lookups (probe and listing).
	DefaultProbeTimeout = 30 * time.Second
)

// Target audio format.
const (
	// TargetCodec is the output container/codec.
	TargetCodec = "mp3"
	// TargetBitrateKbps is the output quality target.
	TargetBitrateKbps = 192
	// TargetExt is the output file extension.
	TargetExt = ".mp3"
)

// Collection identifiers.
const (
	// CollectionQueryParam is the query parameter carrying a collection id.
	CollectionQueryParam = "list"
	// MixIDPrefix marks algorithmically generated collections.
	MixIDPrefix = "RD"
	// CollectionURLFormat rebuilds the canonical collection URL from its id.
	CollectionURLFormat = "https://www.youtube.com/playlist?list=%s"
	// WatchURLFormat rebuilds an item URL from its id.
	WatchURLFormat = "https://www.youtube.com/watch?v=%s"
)

// Status messages.
const (
	// MsgAllSucceeded is reported when every item finished.
	MsgAllSucceeded = "All items downloaded successfully!"
	// MsgPartialFailure is reported when some items failed.
	MsgPartialFailure = "Finished with errors: %d of %d failed"
	// MsgErrorPrefix prefixes every failure message.
	MsgErrorPrefix = "Error: "
	// MsgSizeUnknown is appended while the stream size is not known yet.
	MsgSizeUnknown = " (size unknown)"
)

// Source identifiers.
const (
	// SourceYouTube is the native YouTube source identifier.
	SourceYouTube = "youtube"
	// SourceYTdlp is the yt-dlp backed source identifier.
	SourceYTdlp = "ytdlp"
	// SourceMock is the in-memory source identifier for testing and dry runs.
	SourceMock = "mock"
)

// Transcoder identifiers.
const (
	// TranscoderFFmpeg converts with the ffmpeg binary.
	TranscoderFFmpeg = "ffmpeg"
	// TranscoderMock copies bytes unchanged.
	TranscoderMock = "mock"
)
