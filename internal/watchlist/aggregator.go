// Package watchlist assembles a user's watched names into a single page by
// looking every name up concurrently and settling each lookup on its own.
package watchlist

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/totegamma/domainbay"
	"github.com/totegamma/domainbay/internal/domain"
)

var tracer = otel.Tracer("watchlist")

const defaultLookupTimeout = 10 * time.Second

// Lookup fetches a single name. A nil record with a nil error means the name
// does not exist.
type Lookup interface {
	FetchName(ctx context.Context, name string) (*domainbay.DomainRecord, error)
}

// RecordCache keeps the last good record per name so a failed live lookup can
// still be shown.
type RecordCache interface {
	Get(ctx context.Context, name string) (*domainbay.DomainRecord, error)
	Set(ctx context.Context, record domainbay.DomainRecord) error
}

type Options struct {
	LookupTimeout time.Duration
	Fallback      RecordCache
}

type Aggregator struct {
	lookup Lookup
	opts   Options
}

func NewAggregator(lookup Lookup, opts Options) *Aggregator {
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = defaultLookupTimeout
	}
	return &Aggregator{
		lookup: lookup,
		opts:   opts,
	}
}

// Aggregate never fails because of individual lookups: failed, timed out and
// missing names are left out. The result is a single page in input order.
func (a *Aggregator) Aggregate(ctx context.Context, names []string) (domainbay.Page[domainbay.DomainRecord], error) {
	names = Normalize(names)
	if len(names) == 0 {
		return domainbay.EmptyPage[domainbay.DomainRecord](), nil
	}

	ctx, span := tracer.Start(ctx, "Watchlist.Aggregate", trace.WithAttributes(
		attribute.Int("names", len(names)),
	))
	defer span.End()

	loader := dataloader.NewBatchedLoader(
		a.batch,
		dataloader.WithBatchCapacity[string, *domainbay.DomainRecord](len(names)),
		dataloader.WithWait[string, *domainbay.DomainRecord](time.Millisecond),
		dataloader.WithCache[string, *domainbay.DomainRecord](&dataloader.NoCache[string, *domainbay.DomainRecord]{}),
	)

	records, errs := loader.LoadMany(ctx, names)()

	items := make([]domainbay.DomainRecord, 0, len(records))
	failed := 0
	for i, record := range records {
		if i < len(errs) && errs[i] != nil {
			failed++
			continue
		}
		if record == nil {
			failed++
			continue
		}
		items = append(items, *record)
	}

	if len(items) == 0 {
		slog.WarnContext(
			ctx, "every watched name failed to resolve",
			slog.Int("requested", len(names)),
			slog.Int("failed", failed),
			slog.String("module", "watchlist"),
		)
	} else if failed > 0 {
		slog.InfoContext(
			ctx, "some watched names were left out",
			slog.Int("requested", len(names)),
			slog.Int("failed", failed),
			slog.String("module", "watchlist"),
		)
	}
	span.SetAttributes(attribute.Int("resolved", len(items)), attribute.Int("failed", failed))

	return domainbay.NewPage(items, 1, len(items), len(items)), nil
}

// batch runs one lookup per key in parallel; each result settles alone.
func (a *Aggregator) batch(ctx context.Context, keys []string) []*dataloader.Result[*domainbay.DomainRecord] {
	results := make([]*dataloader.Result[*domainbay.DomainRecord], len(keys))

	var wg sync.WaitGroup
	for i, name := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record, err := a.resolve(ctx, name)
			results[i] = &dataloader.Result[*domainbay.DomainRecord]{Data: record, Error: err}
		}()
	}
	wg.Wait()

	return results
}

func (a *Aggregator) resolve(ctx context.Context, name string) (*domainbay.DomainRecord, error) {
	lctx, cancel := context.WithTimeout(ctx, a.opts.LookupTimeout)
	defer cancel()

	record, err := a.lookup.FetchName(lctx, name)
	if err == nil {
		if record != nil && a.opts.Fallback != nil {
			if serr := a.opts.Fallback.Set(ctx, *record); serr != nil {
				slog.DebugContext(
					ctx, "failed to store fallback record",
					slog.String("name", name),
					slog.String("error", serr.Error()),
					slog.String("module", "watchlist"),
				)
			}
		}
		return record, nil
	}

	slog.DebugContext(
		ctx, "watched name lookup failed",
		slog.String("name", name),
		slog.String("error", err.Error()),
		slog.String("module", "watchlist"),
	)

	if a.opts.Fallback != nil && !errors.Is(err, domain.ErrNotFound) {
		cached, ferr := a.opts.Fallback.Get(ctx, name)
		if ferr == nil && cached != nil {
			return cached, nil
		}
	}
	return nil, err
}

// Normalize lower-cases names and drops blanks and repeats, keeping the
// first occurrence of each.
func Normalize(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = domainbay.NormalizeName(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
