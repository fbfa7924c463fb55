// Package pages implements the paged backing store: an ordered sequence of
// fixed-size pages that grows at the tail and shrinks at the head.
package pages

import (
	"fmt"
	"log/slog"

	"github.com/xtxerr/nibbled/internal/logging"
)

// Store holds resident bytes in fixed-size pages.
//
// Store is not safe for concurrent use. The device serializes the ingest
// worker (the only caller of AppendPage/WriteAt) and the reader (the only
// caller of RemoveHeadPage) with a single mutex.
type Store struct {
	pageSize int
	pages    [][]byte // pages[0] is the head, pages[len-1] the tail
	dataSize int      // bytes resident, read or unread
	alloc    Allocator
	log      *slog.Logger

	// Statistics
	stats Stats
}

// Stats holds store statistics.
type Stats struct {
	PagesAllocated int64
	PagesFreed     int64
	AllocFailures  int64
	BytesWritten   int64
	BytesEvicted   int64
}

// New creates an empty store. A nil allocator gets an unbounded pool.
func New(pageSize int, alloc Allocator, log *slog.Logger) *Store {
	if alloc == nil {
		alloc = NewPoolAllocator(pageSize, 0)
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Store{
		pageSize: pageSize,
		alloc:    alloc,
		log:      log,
	}
}

// PageSize returns the size of every page.
func (s *Store) PageSize() int {
	return s.pageSize
}

// NumPages returns the number of resident pages.
func (s *Store) NumPages() int {
	return len(s.pages)
}

// DataSize returns the number of resident bytes.
func (s *Store) DataSize() int {
	return s.dataSize
}

// AppendPage allocates a new page and links it at the tail.
func (s *Store) AppendPage() error {
	page, err := s.alloc.Alloc(s.pageSize)
	if err != nil {
		s.stats.AllocFailures++
		return fmt.Errorf("append page %d: %w", len(s.pages), err)
	}

	s.pages = append(s.pages, page)
	s.stats.PagesAllocated++
	s.log.Debug("page appended", "num_pages", len(s.pages))

	return nil
}

// HeadPage returns the oldest page.
func (s *Store) HeadPage() ([]byte, bool) {
	if len(s.pages) == 0 {
		return nil, false
	}
	return s.pages[0], true
}

// TailPage returns the newest page.
func (s *Store) TailPage() ([]byte, bool) {
	if len(s.pages) == 0 {
		return nil, false
	}
	return s.pages[len(s.pages)-1], true
}

// WriteAt stores b at offset within the tail page and counts it resident.
func (s *Store) WriteAt(offset int, b byte) error {
	tail, ok := s.TailPage()
	if !ok {
		return fmt.Errorf("write at %d: no tail page", offset)
	}
	if offset < 0 || offset >= s.pageSize {
		return fmt.Errorf("write at %d: offset outside page of %d bytes", offset, s.pageSize)
	}

	tail[offset] = b
	s.dataSize++
	s.stats.BytesWritten++

	return nil
}

// HeadHeld returns how many resident bytes the head page holds. Every page
// but the tail is full, so only a lone head page can be partial.
func (s *Store) HeadHeld() int {
	switch len(s.pages) {
	case 0:
		return 0
	case 1:
		return s.dataSize
	default:
		return s.pageSize
	}
}

// RemoveHeadPage unlinks and frees the head page, subtracting exactly the
// bytes that page held. Returns the number of bytes evicted.
func (s *Store) RemoveHeadPage() (int, bool) {
	if len(s.pages) == 0 {
		return 0, false
	}

	held := s.HeadHeld()
	head := s.pages[0]
	s.pages[0] = nil
	s.pages = s.pages[1:]
	s.alloc.Free(head)

	s.dataSize -= held
	s.stats.PagesFreed++
	s.stats.BytesEvicted += int64(held)
	s.log.Debug("head page removed", "held", held, "num_pages", len(s.pages))

	return held, true
}

// Reset frees every page.
func (s *Store) Reset() {
	for len(s.pages) > 0 {
		s.RemoveHeadPage()
	}
	s.pages = nil
	s.dataSize = 0
}

// Stats returns store statistics.
func (s *Store) Stats() Stats {
	return s.stats
}
