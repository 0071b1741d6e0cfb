package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strconv"

	"audiofetch/internal/classifier"
	"audiofetch/internal/config"
	"audiofetch/internal/consts"
	"audiofetch/internal/entity"
	"audiofetch/internal/errs"
	"audiofetch/internal/expander"
	"audiofetch/internal/fetcher"
	"audiofetch/internal/observability"
	"audiofetch/internal/progress"
	"audiofetch/internal/source"
	"audiofetch/internal/transcoder"
	"audiofetch/pkg/fsname"
	"audiofetch/pkg/gen"
	"audiofetch/pkg/urls"

	"golang.org/x/sync/errgroup"
)

const dirPerm = 0o755

// RunState is a stage of one download run.
type RunState string

const (
	StateClassifying        RunState = "classifying"
	StateExpanding          RunState = "expanding"
	StateDispatching        RunState = "dispatching"
	StateAwaitingCompletion RunState = "awaiting_completion"
	StateFinalizing         RunState = "finalizing"
)

// Coordinator drives a run from an input URL to a DownloadResult.
type Coordinator interface {
	// Run starts a run and returns its notifications. The last one carries
	// the result, then the channel is closed. The channel must be drained.
	Run(ctx context.Context, rawURL, outDir string) <-chan entity.Notification
	// Download runs to completion, calling notify for every notification.
	Download(ctx context.Context, rawURL, outDir string, notify func(entity.Notification)) entity.DownloadResult
}

var _ Coordinator = (*coordinator)(nil)

type coordinator struct {
	log      *slog.Logger
	cfg      *config.Config
	src      source.MediaSource
	conv     transcoder.Transcoder
	expander *expander.Expander
	metrics  *observability.Metrics
}

// New creates a Coordinator.
func New(cfg *config.Config,
	log *slog.Logger,
	src source.MediaSource,
	conv transcoder.Transcoder,
	metrics *observability.Metrics,
) Coordinator {
	return &coordinator{
		log:      log.With(slog.String("package", "service")),
		cfg:      cfg,
		src:      src,
		conv:     conv,
		expander: expander.New(log, src, cfg.Fetch.MixItemCap),
		metrics:  metrics,
	}
}

// run is the state of one Run call.
type run struct {
	id     string
	rawURL string
	outDir string
	log    *slog.Logger
	out    chan entity.Notification
	agg    *progress.Aggregator
}

func (r *run) transition(ctx context.Context, state RunState) {
	r.log.InfoContext(ctx, "run state", slog.String("state", string(state)))
}

func (svc *coordinator) Run(ctx context.Context, rawURL, outDir string) <-chan entity.Notification {
	r := &run{
		id:     gen.RunID(),
		rawURL: urls.Normalize(rawURL),
		outDir: outDir,
		out:    make(chan entity.Notification, max(svc.cfg.Fetch.EventBuffer, 1)),
		agg:    progress.New(),
	}
	r.log = svc.log.With(slog.String("run_id", r.id), slog.String("url", r.rawURL))

	go func() {
		defer close(r.out)

		svc.metrics.RecordRunStarted()
		observeDuration := observability.Timer(svc.metrics.RunDuration)

		res := svc.execute(ctx, r)

		r.transition(ctx, StateFinalizing)
		r.out <- r.agg.Finish(res)

		observeDuration()
		svc.metrics.RecordRunFinished(res.Outcome)

		r.log.InfoContext(ctx, "run finished", slog.Any("result", res))
	}()

	return r.out
}

func (svc *coordinator) Download(ctx context.Context,
	rawURL, outDir string,
	notify func(entity.Notification),
) entity.DownloadResult {
	var res entity.DownloadResult

	for n := range svc.Run(ctx, rawURL, outDir) {
		if notify != nil {
			notify(n)
		}

		if n.IsFinal() {
			res = *n.Result
		}
	}

	return res
}

// execute runs every state up to Finalizing and returns the result.
func (svc *coordinator) execute(ctx context.Context, r *run) entity.DownloadResult {
	r.transition(ctx, StateClassifying)

	// anything non-empty goes on: bare ids and odd URLs are single items the source may still resolve
	if r.rawURL == "" {
		return entity.NewDownloadResult(r.id, 0, 0, nil, fmt.Errorf("%w: empty input", errs.ErrInvalidURL))
	}

	kind, collectionID := classifier.Classify(r.rawURL)
	r.log.DebugContext(ctx, "classified", slog.String("kind", kind.String()), slog.String("collection_id", collectionID))

	var (
		items      []entity.ItemDescriptor
		maxRetries int
		err        error
	)

	if kind.IsCollection() {
		r.transition(ctx, StateExpanding)

		items, err = svc.expand(ctx, kind, collectionID, r.rawURL)
		if err != nil {
			return entity.NewDownloadResult(r.id, 0, 0, nil, err)
		}

		items = disambiguate(items)
		maxRetries = svc.cfg.Fetch.CollectionMaxRetries
	} else {
		item, err := svc.probe(ctx, r.rawURL)
		if err != nil {
			failed := entity.ItemDescriptor{ID: r.rawURL, Title: r.rawURL, SourceLocator: r.rawURL}

			return entity.NewDownloadResult(r.id, 1, 0, []entity.ItemDescriptor{failed}, err)
		}

		items = []entity.ItemDescriptor{item}
		maxRetries = svc.cfg.Fetch.SingleMaxRetries
	}

	if err := os.MkdirAll(r.outDir, dirPerm); err != nil {
		return entity.NewDownloadResult(r.id, len(items), 0, items,
			fmt.Errorf("create output dir: %w: %w", errs.ErrOutputUnavailable, err))
	}

	r.transition(ctx, StateDispatching)

	results := svc.dispatch(ctx, r, items, maxRetries)

	succeeded := 0
	failed := make([]entity.ItemDescriptor, 0)

	for i, attempt := range results {
		if attempt.Outcome == entity.AttemptSuccess {
			succeeded++

			continue
		}

		failed = append(failed, items[i])
	}

	var cause error

	switch {
	case ctx.Err() != nil && len(failed) > 0:
		cause = fmt.Errorf("run interrupted: %w", ctx.Err())
	case len(items) == 1 && len(failed) == 1:
		cause = results[0].Reason
	}

	return entity.NewDownloadResult(r.id, len(items), succeeded, failed, cause)
}

func (svc *coordinator) probe(ctx context.Context, rawURL string) (entity.ItemDescriptor, error) {
	ctx, cancel := svc.metadataContext(ctx)
	defer cancel()

	item, err := svc.src.ProbeItem(ctx, rawURL)
	if err != nil {
		return entity.ItemDescriptor{}, fmt.Errorf("probe: %w", err)
	}

	if item.Title == "" {
		item.Title = item.ID
	}

	item.Ordinal = 0

	return item, nil
}

func (svc *coordinator) expand(ctx context.Context,
	kind entity.CollectionKind,
	collectionID, rawURL string,
) ([]entity.ItemDescriptor, error) {
	ctx, cancel := svc.metadataContext(ctx)
	defer cancel()

	return svc.expander.Expand(ctx, kind, collectionID, rawURL)
}

func (svc *coordinator) metadataContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if svc.cfg.Fetch.ProbeTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, svc.cfg.Fetch.ProbeTimeout)
}

// dispatch runs one fetcher per item with at most MaxConcurrent in flight
// and returns the terminal attempt of every item, by position.
func (svc *coordinator) dispatch(ctx context.Context,
	r *run,
	items []entity.ItemDescriptor,
	maxRetries int,
) []entity.FetchAttempt {
	r.agg.Start(len(items))

	events := make(chan entity.ProgressEvent, max(svc.cfg.Fetch.EventBuffer, 1))
	aggregated := make(chan struct{})

	go func() {
		defer close(aggregated)

		for e := range events {
			n, ok := r.agg.Map(e)
			if !ok {
				r.log.DebugContext(ctx, "late event dropped", slog.Any("event", e))

				continue
			}

			r.notify(ctx, n, e.Phase.IsTerminal())
		}
	}()

	f := fetcher.New(svc.log, svc.src, svc.conv, svc.metrics, fetcher.Options{
		MaxRetries: maxRetries,
		RetryDelay: svc.cfg.Fetch.RetryDelay,
		Format:     transcoder.Format{Codec: consts.TargetCodec, BitrateKbps: svc.cfg.Fetch.BitrateKbps},
		Tag:        svc.cfg.Fetch.Tag,
		Total:      len(items),
	})

	results := make([]entity.FetchAttempt, len(items))

	var g errgroup.Group

	g.SetLimit(max(svc.cfg.Fetch.MaxConcurrent, 1))

	for i, item := range items {
		g.Go(func() error {
			results[i] = svc.fetchItem(ctx, r, f, item, events)

			// never fail the group: siblings keep running
			return nil
		})
	}

	r.transition(ctx, StateAwaitingCompletion)

	_ = g.Wait()

	close(events)
	<-aggregated

	return results
}

// fetchItem runs one fetcher and turns a panic into a failed attempt.
func (svc *coordinator) fetchItem(ctx context.Context,
	r *run,
	f *fetcher.Fetcher,
	item entity.ItemDescriptor,
	events chan<- entity.ProgressEvent,
) (result entity.FetchAttempt) {
	terminal := false
	report := func(e entity.ProgressEvent) {
		terminal = terminal || e.Phase.IsTerminal()
		events <- e
	}

	fail := func(attempt int, reason error) entity.FetchAttempt {
		if !terminal {
			report(entity.ProgressEvent{
				ItemOrdinal: item.Ordinal,
				ItemTitle:   item.Title,
				Phase:       entity.PhaseFailed,
				Attempt:     attempt,
				Err:         reason,
			})
		}

		return entity.FetchAttempt{ItemID: item.ID, AttemptNumber: attempt, Outcome: entity.AttemptFailed, Reason: reason}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.ErrorContext(ctx, "fetcher panicked",
				slog.Any("item", item),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))

			svc.metrics.RecordItemFinished(entity.AttemptFailed)

			result = fail(1, fmt.Errorf("%w: %v", errs.ErrFetcherPanic, rec))
		}
	}()

	if err := ctx.Err(); err != nil {
		return fail(0, fmt.Errorf("not started: %w", err))
	}

	return f.Fetch(ctx, item, r.outDir, report)
}

// notify forwards a progress notification. Intermediate ones are dropped
// when the consumer lags, terminal ones always get through.
func (r *run) notify(ctx context.Context, n entity.Notification, terminal bool) {
	if terminal {
		r.out <- n

		return
	}

	select {
	case r.out <- n:
	default:
		r.log.DebugContext(ctx, "notification dropped, consumer is slow", slog.String("message", n.Message))
	}
}

// disambiguate suffixes repeated titles with their position so every item gets its own file.
// Names are compared after sanitizing, and a suffixed name that is itself taken gets another suffix.
func disambiguate(items []entity.ItemDescriptor) []entity.ItemDescriptor {
	taken := make(map[string]bool, len(items))
	out := make([]entity.ItemDescriptor, len(items))

	for i, item := range items {
		base := item.Title

		for n := 0; taken[fsname.Sanitize(item.Title)]; n++ {
			suffix := strconv.Itoa(item.Ordinal + 1)
			if n > 0 {
				suffix += "." + strconv.Itoa(n)
			}

			item.Title = base + " (" + suffix + ")"
		}

		taken[fsname.Sanitize(item.Title)] = true
		out[i] = item
	}

	return out
}
