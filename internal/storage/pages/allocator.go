package pages

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/xtxerr/nibbled/internal/errors"
)

// Allocator hands out fixed-size pages to the store.
type Allocator interface {
	// Alloc returns a zeroed page of the given size or an error wrapping
	// errors.ErrAllocation.
	Alloc(size int) ([]byte, error)

	// Free returns a page previously obtained from Alloc.
	Free(page []byte)

	// Live returns the number of pages currently allocated.
	Live() int
}

// PoolAllocator recycles pages through a sync.Pool and enforces an optional
// budget on live pages. A zero budget means unlimited.
type PoolAllocator struct {
	size     int
	maxPages int
	pool     sync.Pool
	live     atomic.Int64
}

// NewPoolAllocator creates an allocator for pages of size bytes.
func NewPoolAllocator(size, maxPages int) *PoolAllocator {
	a := &PoolAllocator{
		size:     size,
		maxPages: maxPages,
	}
	a.pool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return a
}

// Alloc implements Allocator.
func (a *PoolAllocator) Alloc(size int) ([]byte, error) {
	if size != a.size {
		return nil, fmt.Errorf("page size %d, allocator serves %d: %w", size, a.size, errors.ErrAllocation)
	}

	for {
		live := a.live.Load()
		if a.maxPages > 0 && live >= int64(a.maxPages) {
			return nil, fmt.Errorf("page budget of %d exhausted: %w", a.maxPages, errors.ErrAllocation)
		}
		if a.live.CompareAndSwap(live, live+1) {
			break
		}
	}

	page := *(a.pool.Get().(*[]byte))
	clear(page)
	return page, nil
}

// Free implements Allocator.
func (a *PoolAllocator) Free(page []byte) {
	if cap(page) < a.size {
		return
	}
	page = page[:a.size]
	a.live.Add(-1)
	a.pool.Put(&page)
}

// Live implements Allocator.
func (a *PoolAllocator) Live() int {
	return int(a.live.Load())
}

// MaxPages returns the page budget, 0 if unlimited.
func (a *PoolAllocator) MaxPages() int {
	return a.maxPages
}
