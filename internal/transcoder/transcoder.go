// Package transcoder converts audio streams into the target file format.
package transcoder

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"audiofetch/internal/consts"
)

// Format describes the target encoding.
type Format struct {
	Codec       string
	BitrateKbps int
}

// DefaultFormat is MP3 at 192 kbps.
func DefaultFormat() Format {
	return Format{Codec: consts.TargetCodec, BitrateKbps: consts.TargetBitrateKbps}
}

// Transcoder decodes src and writes the encoded result to targetPath.
// Failures wrap errs.ErrConversionFailed.
type Transcoder interface {
	Convert(ctx context.Context, src io.Reader, targetPath string, f Format) error
}

// New builds the transcoder registered under name.
func New(name string, log *slog.Logger, ffmpegPath string) (Transcoder, error) {
	switch name {
	case consts.TranscoderFFmpeg:
		return NewFFmpeg(log, ffmpegPath), nil
	case consts.TranscoderMock:
		return NewMock(log), nil
	default:
		return nil, fmt.Errorf("unknown transcoder %q", name)
	}
}
