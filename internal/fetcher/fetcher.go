// Package fetcher retrieves one item, converts it and retries transient failures.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"audiofetch/internal/consts"
	"audiofetch/internal/entity"
	"audiofetch/internal/errs"
	"audiofetch/internal/observability"
	"audiofetch/internal/source"
	"audiofetch/internal/tagger"
	"audiofetch/internal/transcoder"
	"audiofetch/pkg/fsname"
)

const (
	stagePattern  = ".audiofetch-*.part"
	partialSuffix = ".part"
)

// Reporter receives progress events of one item, in order.
type Reporter func(entity.ProgressEvent)

// Options configures a Fetcher.
type Options struct {
	// MaxRetries is the attempt budget, including the first attempt.
	MaxRetries int
	RetryDelay time.Duration
	Format     transcoder.Format
	// Tag writes ID3 frames into finished files.
	Tag bool
	// Total is the number of items in the run, used for the track number frame.
	Total int
}

// Fetcher runs the attempt loop for single items.
type Fetcher struct {
	log     *slog.Logger
	src     source.MediaSource
	conv    transcoder.Transcoder
	tagger  *tagger.Tagger
	metrics *observability.Metrics
	opts    Options
}

// New creates a Fetcher. Zero options fall back to the collection defaults.
func New(log *slog.Logger,
	src source.MediaSource,
	conv transcoder.Transcoder,
	metrics *observability.Metrics,
	opts Options,
) *Fetcher {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = consts.DefaultCollectionMaxRetries
	}

	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}

	if opts.Format == (transcoder.Format{}) {
		opts.Format = transcoder.DefaultFormat()
	}

	f := &Fetcher{
		log:     log.With(slog.String("package", "fetcher")),
		src:     src,
		conv:    conv,
		metrics: metrics,
		opts:    opts,
	}

	if opts.Tag {
		f.tagger = tagger.New(log)
	}

	return f
}

// Options returns the effective options.
func (f *Fetcher) Options() Options {
	return f.opts
}

// Fetch retrieves item into outDir, retrying transient failures up to the attempt budget.
// The last event passed to report is always PhaseDone or PhaseFailed.
func (f *Fetcher) Fetch(ctx context.Context, item entity.ItemDescriptor, outDir string, report Reporter) entity.FetchAttempt {
	if report == nil {
		report = func(entity.ProgressEvent) {}
	}

	log := f.log.With(slog.Any("item", item))

	f.metrics.RecordItemStarted()
	observeDuration := observability.Timer(f.metrics.ItemDuration)

	var result entity.FetchAttempt

	for attempt := 1; ; attempt++ {
		path, err := f.attempt(ctx, item, outDir, attempt, report)
		result = outcome(ctx, item.ID, attempt, path, err)

		f.metrics.RecordAttempt(result.Outcome)

		if err != nil {
			f.metrics.RecordFetchError(err)
		}

		if result.Outcome != entity.AttemptTransientFailure {
			break
		}

		if attempt >= f.opts.MaxRetries {
			result.Outcome = entity.AttemptExhaustedRetries
			result.Reason = fmt.Errorf("%w after %d attempts: %w", errs.ErrExhaustedRetries, attempt, err)

			break
		}

		log.WarnContext(ctx, "transient failure, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", f.opts.MaxRetries),
			slog.Duration("delay", f.opts.RetryDelay),
			slog.Any("error", err))

		if err := sleep(ctx, f.opts.RetryDelay); err != nil {
			result.Outcome = entity.AttemptFailed
			result.Reason = fmt.Errorf("retry wait: %w", err)

			break
		}
	}

	observeDuration()
	f.metrics.RecordItemFinished(result.Outcome)

	event := entity.ProgressEvent{
		ItemOrdinal: item.Ordinal,
		ItemTitle:   item.Title,
		Attempt:     result.AttemptNumber,
	}

	if result.Outcome == entity.AttemptSuccess {
		event.Phase = entity.PhaseDone
		event.Fraction = 1
		event.Known = true

		log.InfoContext(ctx, "item finished", slog.Any("attempt", result))
	} else {
		event.Phase = entity.PhaseFailed
		event.Err = result.Reason

		log.ErrorContext(ctx, "item failed", slog.Any("attempt", result))
	}

	report(event)

	return result
}

// attempt runs one open → stage → convert cycle and returns the final file path.
func (f *Fetcher) attempt(ctx context.Context,
	item entity.ItemDescriptor,
	outDir string,
	attempt int,
	report Reporter,
) (string, error) {
	stream, err := f.src.OpenStream(ctx, item)
	if err != nil {
		return "", fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	emit := func(phase entity.Phase, fraction float64, known bool) {
		report(entity.ProgressEvent{
			ItemOrdinal: item.Ordinal,
			ItemTitle:   item.Title,
			Fraction:    fraction,
			Known:       known,
			Phase:       phase,
			Attempt:     attempt,
		})
	}

	emit(entity.PhaseFetching, 0, stream.Size > 0)

	stage, err := os.CreateTemp(outDir, stagePattern)
	if err != nil {
		return "", fmt.Errorf("create staging file: %w: %w", errs.ErrOutputUnavailable, err)
	}
	defer os.Remove(stage.Name())
	defer stage.Close()

	counter := newProgressReader(stream.Body, stream.Size, f.metrics.RecordBytes, func(fraction float64, known bool) {
		emit(entity.PhaseFetching, fraction, known)
	})

	received, err := io.Copy(stage, counter)
	if err != nil {
		if counter.err != nil {
			return "", fmt.Errorf("read stream: %w", transient(counter.err))
		}

		return "", fmt.Errorf("write staging file: %w: %w", errs.ErrOutputUnavailable, err)
	}

	if stream.Size > 0 && received < stream.Size {
		return "", fmt.Errorf("read stream: %w: %w: got %d of %d bytes",
			errs.ErrTransientFetch, errs.ErrShortRead, received, stream.Size)
	}

	// release the network side before the transcoder runs
	stream.Close()

	if _, err := stage.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind staging file: %w: %w", errs.ErrOutputUnavailable, err)
	}

	emit(entity.PhaseConverting, 1, true)

	target := filepath.Join(outDir, fsname.Sanitize(item.Title)+consts.TargetExt)
	partial := target + partialSuffix

	observeConversion := observability.Timer(f.metrics.ConversionDuration)

	err = f.conv.Convert(ctx, stage, partial, f.opts.Format)

	observeConversion()

	if err != nil {
		os.Remove(partial)

		return "", conversionError(err)
	}

	if err := os.Rename(partial, target); err != nil {
		os.Remove(partial)

		return "", fmt.Errorf("move into place: %w: %w", errs.ErrOutputUnavailable, err)
	}

	if f.tagger != nil {
		if err := f.tagger.Tag(target, item, f.opts.Total); err != nil {
			f.log.WarnContext(ctx, "tagging failed", slog.String("path", target), slog.Any("error", err))
		}
	}

	return target, nil
}

// outcome classifies the error of one attempt.
func outcome(ctx context.Context, itemID string, attempt int, path string, err error) entity.FetchAttempt {
	result := entity.FetchAttempt{
		ItemID:        itemID,
		AttemptNumber: attempt,
		Reason:        err,
		OutputPath:    path,
	}

	switch {
	case err == nil:
		result.Outcome = entity.AttemptSuccess
	case ctx.Err() != nil:
		result.Outcome = entity.AttemptFailed
		result.Reason = fmt.Errorf("%w: %w", ctx.Err(), err)
	case errors.Is(err, context.Canceled),
		errors.Is(err, errs.ErrItemUnavailable),
		errors.Is(err, errs.ErrConversionFailed),
		errors.Is(err, errs.ErrOutputUnavailable):
		result.Outcome = entity.AttemptFailed
	default:
		result.Outcome = entity.AttemptTransientFailure
	}

	return result
}

// transient marks unknown stream errors as retryable.
func transient(err error) error {
	if errors.Is(err, errs.ErrTransientFetch) || errors.Is(err, errs.ErrItemUnavailable) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("%w: %w", errs.ErrTransientFetch, err)
}

func conversionError(err error) error {
	if errors.Is(err, errs.ErrConversionFailed) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("convert: %w", err)
	}

	return fmt.Errorf("convert: %w: %w", errs.ErrConversionFailed, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
