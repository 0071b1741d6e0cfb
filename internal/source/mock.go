package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"audiofetch/internal/consts"
	"audiofetch/internal/entity"
	"audiofetch/internal/errs"
	"audiofetch/pkg/gen"
)

const (
	demoItems     = 3
	demoSize      = 256 * 1024
	demoChunk     = 16 * 1024
	demoChunkTime = 50 * time.Millisecond
)

// MockItem scripts the behaviour of one item served by Mock.
type MockItem struct {
	Descriptor entity.ItemDescriptor
	Payload    []byte
	// UnknownSize reports Size = -1 for the stream.
	UnknownSize bool
	// TransientFailures is how many OpenStream calls fail before one succeeds; < 0 fails forever.
	TransientFailures int
	// FailMidStream makes failing attempts break halfway through the body instead of at open.
	FailMidStream bool
	// Unavailable makes probe and open fail permanently.
	Unavailable bool
	// Delay is spent inside OpenStream before answering.
	Delay time.Duration
	// Panic makes OpenStream panic.
	Panic bool
}

// Mock is an in-memory MediaSource with scripted behaviour.
type Mock struct {
	log  *slog.Logger
	demo bool

	mu          sync.Mutex
	items       map[string]*MockItem // by URL and by ID
	collections map[string][]string  // listing URL -> item IDs
	listErrs    map[string]error
	opens       map[string]int
	inflight    int
	maxInflight int
}

// NewMock creates an empty scripted source.
func NewMock(log *slog.Logger) *Mock {
	return &Mock{
		log:         log.With(slog.String("package", "source"), slog.String("source", consts.SourceMock)),
		items:       make(map[string]*MockItem),
		collections: make(map[string][]string),
		listErrs:    make(map[string]error),
		opens:       make(map[string]int),
	}
}

// NewDemoMock creates a source that answers every URL with synthetic items, for dry runs.
func NewDemoMock(log *slog.Logger) *Mock {
	m := NewMock(log)
	m.demo = true

	return m
}

// AddItem registers a single item reachable at rawURL.
func (m *Mock) AddItem(rawURL string, item MockItem) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item.Descriptor.SourceLocator == "" {
		item.Descriptor.SourceLocator = rawURL
	}

	m.items[rawURL] = &item
	m.items[item.Descriptor.ID] = &item
}

// AddCollection registers a listing reachable at rawURL, in order.
func (m *Mock) AddCollection(rawURL string, items ...MockItem) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(items))

	for i := range items {
		item := items[i]
		if item.Descriptor.SourceLocator == "" {
			item.Descriptor.SourceLocator = fmt.Sprintf(consts.WatchURLFormat, item.Descriptor.ID)
		}

		m.items[item.Descriptor.SourceLocator] = &item
		m.items[item.Descriptor.ID] = &item
		ids = append(ids, item.Descriptor.ID)
	}

	m.collections[rawURL] = ids
}

// FailListing makes ListCollection for rawURL fail with err.
func (m *Mock) FailListing(rawURL string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listErrs[rawURL] = err
}

// Opens returns how many times OpenStream was called for the item ID.
func (m *Mock) Opens(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.opens[id]
}

// MaxConcurrent returns the highest number of streams open at the same time.
func (m *Mock) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.maxInflight
}

// ProbeItem implements MediaSource.
func (m *Mock) ProbeItem(ctx context.Context, rawURL string) (entity.ItemDescriptor, error) {
	if m.demo {
		return demoDescriptor(rawURL, 0), nil
	}

	m.mu.Lock()
	item, ok := m.items[rawURL]
	m.mu.Unlock()

	if !ok || item.Unavailable {
		return entity.ItemDescriptor{}, fmt.Errorf("probe %q: %w", rawURL, errs.ErrItemUnavailable)
	}

	m.log.DebugContext(ctx, "probed", slog.Any("item", item.Descriptor))

	return item.Descriptor, nil
}

// ListCollection implements MediaSource.
func (m *Mock) ListCollection(ctx context.Context, rawURL string, kind entity.CollectionKind) ([]entity.ItemDescriptor, error) {
	if m.demo {
		items := make([]entity.ItemDescriptor, 0, demoItems)
		for i := range demoItems {
			items = append(items, demoDescriptor(rawURL, i))
		}

		return items, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.listErrs[rawURL]; ok {
		return nil, fmt.Errorf("list %s %q: %w: %w", kind, rawURL, errs.ErrSourceUnavailable, err)
	}

	ids, ok := m.collections[rawURL]
	if !ok {
		return nil, fmt.Errorf("list %s %q: %w", kind, rawURL, errs.ErrSourceUnavailable)
	}

	items := make([]entity.ItemDescriptor, 0, len(ids))
	for _, id := range ids {
		items = append(items, m.items[id].Descriptor)
	}

	m.log.DebugContext(ctx, "listed", slog.String("url", rawURL), slog.Int("items", len(items)))

	return items, nil
}

// OpenStream implements MediaSource.
func (m *Mock) OpenStream(ctx context.Context, item entity.ItemDescriptor) (*Stream, error) {
	if m.demo {
		return &Stream{Body: newDemoBody(ctx), Size: demoSize}, nil
	}

	m.mu.Lock()

	script, ok := m.items[item.ID]
	m.opens[item.ID]++
	attempt := m.opens[item.ID]
	m.inflight++
	m.maxInflight = max(m.maxInflight, m.inflight)

	m.mu.Unlock()

	release := sync.OnceFunc(func() {
		m.mu.Lock()
		m.inflight--
		m.mu.Unlock()
	})

	if !ok {
		release()

		return nil, fmt.Errorf("open %q: %w", item.ID, errs.ErrItemUnavailable)
	}

	if script.Panic {
		release()
		panic(fmt.Sprintf("mock source: scripted panic for %q", item.ID))
	}

	if script.Delay > 0 {
		select {
		case <-ctx.Done():
			release()

			return nil, ctx.Err()
		case <-time.After(script.Delay):
		}
	}

	if script.Unavailable {
		release()

		return nil, fmt.Errorf("open %q: %w", item.ID, errs.ErrItemUnavailable)
	}

	size := int64(len(script.Payload))
	if script.UnknownSize {
		size = -1
	}

	failing := script.TransientFailures < 0 || attempt <= script.TransientFailures

	switch {
	case failing && !script.FailMidStream:
		release()

		return nil, fmt.Errorf("open %q attempt %d: %w", item.ID, attempt, errs.ErrTransientFetch)
	case failing:
		return &Stream{
			Body: &mockBody{r: bytes.NewReader(script.Payload), failAt: len(script.Payload) / 2, release: release},
			Size: size,
		}, nil
	default:
		return &Stream{
			Body: &mockBody{r: bytes.NewReader(script.Payload), failAt: -1, release: release},
			Size: size,
		}, nil
	}
}

type mockBody struct {
	r       io.Reader
	read    int
	failAt  int
	release func()
}

func (b *mockBody) Read(p []byte) (int, error) {
	if b.failAt >= 0 {
		if b.read >= b.failAt {
			return 0, fmt.Errorf("read: %w: connection reset", errs.ErrTransientFetch)
		}

		p = p[:min(len(p), b.failAt-b.read)]
	}

	n, err := b.r.Read(p)
	b.read += n

	return n, err
}

func (b *mockBody) Close() error {
	b.release()

	return nil
}

func demoDescriptor(rawURL string, i int) entity.ItemDescriptor {
	id := gen.UUIDv5(rawURL, fmt.Sprint(i))

	return entity.ItemDescriptor{
		ID:            id,
		Title:         fmt.Sprintf("Demo item %d", i+1),
		Author:        "audiofetch",
		SourceLocator: fmt.Sprintf(consts.WatchURLFormat, id),
		Ordinal:       i,
	}
}

// demoBody yields demoSize zero bytes in chunks paced by a ticker.
type demoBody struct {
	ctx    context.Context //nolint:containedctx // body reads have no ctx of their own
	ticker *time.Ticker
	left   int
}

func newDemoBody(ctx context.Context) *demoBody {
	return &demoBody{ctx: ctx, ticker: time.NewTicker(demoChunkTime), left: demoSize}
}

func (b *demoBody) Read(p []byte) (int, error) {
	if b.left <= 0 {
		return 0, io.EOF
	}

	select {
	case <-b.ctx.Done():
		return 0, b.ctx.Err()
	case <-b.ticker.C:
	}

	n := min(len(p), demoChunk, b.left)
	clear(p[:n])
	b.left -= n

	return n, nil
}

func (b *demoBody) Close() error {
	b.ticker.Stop()

	return nil
}
