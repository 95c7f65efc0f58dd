// Package pagecache keeps paginated query results keyed by query key.
//
// Every page of one logical query lives in a single entry addressed by the
// key's series (the key without its page param). Entries move through
// idle -> loading -> success|error, keep their last good pages on error and
// are only ever written by the cache itself.
//
// Loads are tagged with an issue sequence taken when the request is made. A
// resolution older than the latest one applied to the entry is dropped, so a
// slow earlier-page response never reorders pages that resolved after it.
package pagecache

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/totegamma/domainbay"
	"github.com/totegamma/domainbay/internal/domain"
	"github.com/totegamma/domainbay/internal/querykey"
	"github.com/totegamma/domainbay/internal/utils"
)

var tracer = otel.Tracer("pagecache")

const defaultFetchTimeout = 30 * time.Second

// Fetcher loads one page of a query.
type Fetcher[T any] func(ctx context.Context, page int) (domainbay.Page[T], error)

type Options[T any] struct {
	// Identity de-duplicates items across pages. Required.
	Identity func(T) string
	// StaleAfter marks success entries stale; zero means never.
	StaleAfter time.Duration
	// FetchTimeout bounds a fetch once it has been detached from its caller.
	FetchTimeout time.Duration
	Clock        func() time.Time
}

type Cache[T any] struct {
	opts    Options[T]
	store   *cache.Cache
	group   singleflight.Group
	mu      sync.Mutex
	entryID atomic.Uint64
}

func New[T any](opts Options[T]) *Cache[T] {
	if opts.Identity == nil {
		panic("pagecache: Identity is required")
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Cache[T]{
		opts:  opts,
		store: cache.New(cache.NoExpiration, 0),
	}
}

type entry[T any] struct {
	id  uint64
	key querykey.Key

	mu        sync.Mutex
	status    domain.FetchStatus
	pages     map[int]domainbay.Page[T]
	err       error
	updatedAt time.Time
	issued    uint64
	applied   uint64
	fetchedAt map[int]time.Time
	failed    map[int]bool
	inflight  int
	pending   int
	observers map[uint64]func(Snapshot[T])
	nextObs   uint64
}

// entry returns the entry for a series key, creating it on first use.
func (c *Cache[T]) entry(series querykey.Key) *entry[T] {
	k := series.String()
	if v, ok := c.store.Get(k); ok {
		return v.(*entry[T])
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.store.Get(k); ok {
		return v.(*entry[T])
	}
	e := &entry[T]{
		id:        c.entryID.Add(1),
		key:       series,
		status:    domain.StatusIdle,
		pages:     map[int]domainbay.Page[T]{},
		fetchedAt: map[int]time.Time{},
		failed:    map[int]bool{},
		observers: map[uint64]func(Snapshot[T]){},
	}
	c.store.Set(k, e, cache.NoExpiration)
	return e
}

func (c *Cache[T]) lookup(series querykey.Key) (*entry[T], bool) {
	v, ok := c.store.Get(series.String())
	if !ok {
		return nil, false
	}
	return v.(*entry[T]), true
}

// Peek returns the current snapshot for key without fetching.
func (c *Cache[T]) Peek(key querykey.Key) Snapshot[T] {
	e, ok := c.lookup(key.Series())
	if !ok {
		return idleSnapshot[T](key.Series())
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return c.snapshotLocked(e)
}

// Fetch returns the entry for key, loading the key's page (default 1) unless
// it is already cached and fresh.
func (c *Cache[T]) Fetch(ctx context.Context, key querykey.Key, fetcher Fetcher[T]) (Snapshot[T], error) {
	if !key.Enabled() {
		return idleSnapshot[T](key.Series()), nil
	}

	page := key.Int(querykey.ParamPage, 1)
	e := c.entry(key.Series())

	e.mu.Lock()
	if c.freshLocked(e, page) {
		snap := c.snapshotLocked(e)
		e.mu.Unlock()
		return snap, nil
	}
	e.mu.Unlock()

	return c.load(ctx, e, page, fetcher)
}

// Refetch reloads every page the entry holds, ignoring freshness. A page that
// is already loading is joined rather than requested again.
func (c *Cache[T]) Refetch(ctx context.Context, key querykey.Key, fetcher Fetcher[T]) (Snapshot[T], error) {
	if !key.Enabled() {
		return idleSnapshot[T](key.Series()), nil
	}

	e := c.entry(key.Series())

	e.mu.Lock()
	pages := make([]int, 0, len(e.pages))
	for p := range e.pages {
		pages = append(pages, p)
	}
	e.mu.Unlock()
	if len(pages) == 0 {
		pages = append(pages, key.Int(querykey.ParamPage, 1))
	}

	eg, gctx := errgroup.WithContext(ctx)
	for _, p := range pages {
		eg.Go(func() error {
			_, err := c.load(gctx, e, p, fetcher)
			return err
		})
	}
	err := eg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	return c.snapshotLocked(e), err
}

// FetchNext loads the page after the highest one held. It is a no-op unless
// that page reported a next page.
func (c *Cache[T]) FetchNext(ctx context.Context, key querykey.Key, fetcher Fetcher[T]) (Snapshot[T], error) {
	if !key.Enabled() {
		return idleSnapshot[T](key.Series()), nil
	}

	e := c.entry(key.Series())

	e.mu.Lock()
	if len(e.pages) == 0 {
		e.mu.Unlock()
		return c.Fetch(ctx, key, fetcher)
	}
	last := slices.Max(pageNumbers(e.pages))
	if !e.pages[last].HasNextPage {
		snap := c.snapshotLocked(e)
		e.mu.Unlock()
		return snap, nil
	}
	e.mu.Unlock()

	return c.load(ctx, e, last+1, fetcher)
}

// FetchPrevious loads the page before the lowest one held, when there is one.
func (c *Cache[T]) FetchPrevious(ctx context.Context, key querykey.Key, fetcher Fetcher[T]) (Snapshot[T], error) {
	if !key.Enabled() {
		return idleSnapshot[T](key.Series()), nil
	}

	e := c.entry(key.Series())

	e.mu.Lock()
	if len(e.pages) == 0 {
		e.mu.Unlock()
		return c.Fetch(ctx, key, fetcher)
	}
	first := slices.Min(pageNumbers(e.pages))
	if !e.pages[first].HasPreviousPage || first <= 1 {
		snap := c.snapshotLocked(e)
		e.mu.Unlock()
		return snap, nil
	}
	e.mu.Unlock()

	return c.load(ctx, e, first-1, fetcher)
}

// Subscribe registers fn for every state change of key's entry.
func (c *Cache[T]) Subscribe(key querykey.Key, fn func(Snapshot[T])) (cancel func()) {
	e := c.entry(key.Series())

	e.mu.Lock()
	e.nextObs++
	id := e.nextObs
	e.observers[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.observers, id)
		e.mu.Unlock()
	}
}

// Reset drops every entry. In-flight fetches complete against entries that
// are no longer reachable.
func (c *Cache[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Flush()
}

func (c *Cache[T]) Len() int {
	return c.store.ItemCount()
}

func (c *Cache[T]) load(ctx context.Context, e *entry[T], page int, fetcher Fetcher[T]) (Snapshot[T], error) {
	flightKey := strconv.FormatUint(e.id, 10) + "|" + strconv.Itoa(page)

	e.mu.Lock()
	e.pending++
	e.status = domain.StatusLoading
	// the sequence is only consumed when this call starts the flight; a
	// caller that joins a running one leaves a gap, which is harmless
	e.issued++
	seq := e.issued
	// joining under e.mu keeps pending and issue order in step with DoChan
	ch := c.group.DoChan(flightKey, func() (any, error) {
		return nil, c.run(ctx, e, seq, page, fetcher)
	})
	snap, observers := c.changedLocked(e)
	e.mu.Unlock()
	notify(observers, snap)

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case res := <-ch:
		err = res.Err
	}

	e.mu.Lock()
	e.pending--
	snap = c.snapshotLocked(e)
	e.mu.Unlock()

	return snap, err
}

func (c *Cache[T]) run(ctx context.Context, e *entry[T], seq uint64, page int, fetcher Fetcher[T]) error {
	e.mu.Lock()
	e.inflight++
	e.mu.Unlock()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.FetchTimeout)
	defer cancel()

	fctx, span := tracer.Start(fctx, "PageCache.Fetch", trace.WithAttributes(spanAttributes(e.key, page, seq)...))
	defer span.End()

	result, err := fetcher(fctx, page)
	if err != nil {
		span.RecordError(err)
	}

	c.apply(fctx, e, seq, page, result, err)
	return err
}

func (c *Cache[T]) apply(ctx context.Context, e *entry[T], seq uint64, page int, result domainbay.Page[T], err error) {
	e.mu.Lock()
	e.inflight--

	if seq < e.applied {
		latest := e.applied
		c.settleLocked(e)
		snap, observers := c.changedLocked(e)
		e.mu.Unlock()
		notify(observers, snap)
		slog.DebugContext(
			ctx, "discarding out-of-order page",
			slog.String("key", e.key.String()),
			slog.String("key.hash", hashString(e.key)),
			slog.Int("page", page),
			slog.Uint64("seq", seq),
			slog.Uint64("applied", latest),
			slog.String("module", "pagecache"),
		)
		return
	}
	e.applied = seq

	if err != nil {
		e.err = err
		e.failed[page] = true
		slog.WarnContext(
			ctx, "page fetch failed",
			slog.String("key", e.key.String()),
			slog.String("key.hash", hashString(e.key)),
			slog.Int("page", page),
			slog.String("error", err.Error()),
			slog.String("module", "pagecache"),
		)
	} else {
		now := c.opts.Clock()
		e.pages[page] = result
		e.fetchedAt[page] = now
		delete(e.failed, page)
		e.err = nil
		e.updatedAt = now
	}
	c.settleLocked(e)

	snap, observers := c.changedLocked(e)
	e.mu.Unlock()
	notify(observers, snap)
}

// settleLocked derives the status once a fetch has resolved: loading while
// others are still out, then error or success.
func (c *Cache[T]) settleLocked(e *entry[T]) {
	switch {
	case e.inflight > 0:
		e.status = domain.StatusLoading
	case e.err != nil:
		e.status = domain.StatusError
	case len(e.pages) > 0:
		e.status = domain.StatusSuccess
	default:
		e.status = domain.StatusIdle
	}
}

func (c *Cache[T]) staleLocked(e *entry[T]) bool {
	return c.expired(e.updatedAt)
}

// freshLocked reports whether page can be served without a load. Other pages
// of the entry loading or failing do not matter.
func (c *Cache[T]) freshLocked(e *entry[T], page int) bool {
	if _, ok := e.pages[page]; !ok || e.failed[page] {
		return false
	}
	return !c.expired(e.fetchedAt[page])
}

func (c *Cache[T]) expired(at time.Time) bool {
	if c.opts.StaleAfter <= 0 || at.IsZero() {
		return false
	}
	return c.opts.Clock().Sub(at) > c.opts.StaleAfter
}

func hashString(key querykey.Key) string {
	return strconv.FormatUint(key.Hash(), 16)
}

func spanAttributes(key querykey.Key, page int, seq uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("key", key.String()),
		attribute.String("key.hash", hashString(key)),
		attribute.Int("page", page),
		attribute.Int64("seq", int64(seq)),
	}
}

func (c *Cache[T]) changedLocked(e *entry[T]) (Snapshot[T], []func(Snapshot[T])) {
	observers := make([]func(Snapshot[T]), 0, len(e.observers))
	for _, fn := range e.observers {
		observers = append(observers, fn)
	}
	return c.snapshotLocked(e), observers
}

func notify[T any](observers []func(Snapshot[T]), snap Snapshot[T]) {
	for _, fn := range observers {
		fn(snap)
	}
}

func (c *Cache[T]) snapshotLocked(e *entry[T]) Snapshot[T] {
	numbers := pageNumbers(e.pages)
	slices.Sort(numbers)

	pages := make([]domainbay.Page[T], 0, len(numbers))
	merged := utils.OrderedKVMap[T]{}
	for _, n := range numbers {
		p := e.pages[n]
		p.Items = slices.Clone(p.Items)
		pages = append(pages, p)
		for _, item := range p.Items {
			merged.SetIfAbsent(c.opts.Identity(item), item)
		}
	}

	return Snapshot[T]{
		Key:       e.key,
		Status:    e.status,
		Pages:     pages,
		Items:     merged.Values(),
		Err:       e.err,
		UpdatedAt: e.updatedAt,
		Stale:     c.staleLocked(e),
		Pending:   e.pending,
	}
}

func pageNumbers[T any](pages map[int]domainbay.Page[T]) []int {
	numbers := make([]int, 0, len(pages))
	for n := range pages {
		numbers = append(numbers, n)
	}
	return numbers
}
