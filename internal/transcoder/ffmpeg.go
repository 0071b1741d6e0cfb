package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"audiofetch/internal/consts"
	"audiofetch/internal/errs"
	"audiofetch/pkg/shellquote"
)

const maxStderr = 2048

// FFmpeg pipes the source into an ffmpeg process.
type FFmpeg struct {
	log *slog.Logger
	bin string
}

// NewFFmpeg creates an ffmpeg transcoder. An empty bin means "ffmpeg" from PATH.
func NewFFmpeg(log *slog.Logger, bin string) *FFmpeg {
	if bin == "" {
		bin = consts.TranscoderFFmpeg
	}

	return &FFmpeg{
		log: log.With(slog.String("package", "transcoder"), slog.String("transcoder", consts.TranscoderFFmpeg)),
		bin: bin,
	}
}

// Args returns the ffmpeg arguments for converting stdin into targetPath.
func Args(targetPath string, f Format) []string {
	codec := f.Codec
	if codec == "" {
		codec = consts.TargetCodec
	}

	bitrate := f.BitrateKbps
	if bitrate <= 0 {
		bitrate = consts.TargetBitrateKbps
	}

	encoder := codec
	if codec == consts.TargetCodec {
		encoder = "libmp3lame"
	}

	return []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-y",
		"-i", "pipe:0",
		"-vn",
		"-codec:a", encoder,
		"-b:a", strconv.Itoa(bitrate) + "k",
		"-f", codec,
		targetPath,
	}
}

// Convert implements Transcoder.
func (t *FFmpeg) Convert(ctx context.Context, src io.Reader, targetPath string, f Format) error {
	args := Args(targetPath, f)

	log := t.log.With(slog.String("target", targetPath))
	log.DebugContext(ctx, "running ffmpeg", slog.String("cmd", shellquote.Join(t.bin, args)))

	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, t.bin, args...)
	cmd.Stdin = src
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("ffmpeg: %w", ctxErr)
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ffmpeg: %w: %w: %w", errs.ErrConversionFailed, errs.ErrBinaryNotFound, err)
	}

	msg := strings.TrimSpace(stderr.String())
	if len(msg) > maxStderr {
		msg = msg[len(msg)-maxStderr:]
	}

	log.ErrorContext(ctx, "ffmpeg failed", slog.Any("error", err), slog.String("stderr", msg))

	return fmt.Errorf("ffmpeg: %w: %w: %s", errs.ErrConversionFailed, err, msg)
}
