package pagecache

import (
	"time"

	"github.com/totegamma/domainbay"
	"github.com/totegamma/domainbay/internal/domain"
	"github.com/totegamma/domainbay/internal/querykey"
)

// Snapshot is an immutable copy of one cache entry.
type Snapshot[T any] struct {
	Key       querykey.Key        `json:"-"`
	Status    domain.FetchStatus  `json:"status"`
	Pages     []domainbay.Page[T] `json:"pages"`
	Items     []T                 `json:"items"`
	Err       error               `json:"-"`
	UpdatedAt time.Time           `json:"updatedAt"`
	Stale     bool                `json:"stale"`
	// Pending counts callers currently waiting on a load for this entry.
	Pending int `json:"-"`
}

func idleSnapshot[T any](key querykey.Key) Snapshot[T] {
	return Snapshot[T]{
		Key:    key,
		Status: domain.StatusIdle,
		Pages:  []domainbay.Page[T]{},
		Items:  []T{},
	}
}

// LastPage is the highest page held, or an empty page.
func (s Snapshot[T]) LastPage() domainbay.Page[T] {
	if len(s.Pages) == 0 {
		return domainbay.EmptyPage[T]()
	}
	return s.Pages[len(s.Pages)-1]
}

func (s Snapshot[T]) FirstPage() domainbay.Page[T] {
	if len(s.Pages) == 0 {
		return domainbay.EmptyPage[T]()
	}
	return s.Pages[0]
}

func (s Snapshot[T]) HasNextPage() bool {
	return s.LastPage().HasNextPage
}

func (s Snapshot[T]) HasPreviousPage() bool {
	return s.FirstPage().HasPreviousPage
}

func (s Snapshot[T]) TotalCount() int {
	return s.LastPage().TotalCount
}

// Page returns page n when it is held.
func (s Snapshot[T]) Page(n int) (domainbay.Page[T], bool) {
	for _, p := range s.Pages {
		if p.CurrentPage == n {
			return p, true
		}
	}
	return domainbay.Page[T]{}, false
}

func (s Snapshot[T]) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}
