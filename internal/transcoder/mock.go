package transcoder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"audiofetch/internal/consts"
	"audiofetch/internal/errs"
)

const filePerm = 0o644

// Mock copies the source bytes unchanged into the target file.
type Mock struct {
	log *slog.Logger

	mu    sync.Mutex
	fail  map[string]bool
	calls int
}

// NewMock creates a pass-through transcoder.
func NewMock(log *slog.Logger) *Mock {
	return &Mock{
		log:  log.With(slog.String("package", "transcoder"), slog.String("transcoder", consts.TranscoderMock)),
		fail: make(map[string]bool),
	}
}

// FailOn makes conversions fail when the target file name contains name.
func (m *Mock) FailOn(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fail[name] = true
}

func (m *Mock) shouldFail(base string) bool {
	for name := range m.fail {
		if strings.Contains(base, name) {
			return true
		}
	}

	return false
}

// Calls returns the number of Convert invocations.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

// Convert implements Transcoder.
func (m *Mock) Convert(ctx context.Context, src io.Reader, targetPath string, _ Format) error {
	m.mu.Lock()
	m.calls++
	fail := m.shouldFail(filepath.Base(targetPath))
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if fail {
		return fmt.Errorf("mock convert %q: %w", targetPath, errs.ErrConversionFailed)
	}

	out, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("mock convert: %w: %w", errs.ErrConversionFailed, err)
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()

		return fmt.Errorf("mock convert: %w: %w", errs.ErrConversionFailed, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("mock convert: %w: %w", errs.ErrConversionFailed, err)
	}

	m.log.DebugContext(ctx, "converted", slog.String("target", targetPath))

	return nil
}
