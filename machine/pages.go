package machine

import "fmt"

// PageAllocator hands out fixed-size, size-aligned pages from a region of
// memory. Pages are never returned.
type PageAllocator struct {
	mem       *Memory
	size      uint32
	next      uint32
	end       uint32
	allocated int
}

// NewPageAllocator manages the pages that fit entirely inside [start, end).
func NewPageAllocator(mem *Memory, start, end, pageSize uint32) (*PageAllocator, error) {
	if pageSize == 0 || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("machine: page size %d is not a power of two", pageSize)
	}
	first := (uint64(start) + uint64(pageSize) - 1) &^ (uint64(pageSize) - 1)
	if first >= uint64(end) || !mem.Contains(start, end-start) {
		return nil, fmt.Errorf("machine: no page fits in [%08x, %08x)", start, end)
	}
	return &PageAllocator{mem: mem, size: pageSize, next: uint32(first), end: end}, nil
}

// PageSize returns the size of every page.
func (a *PageAllocator) PageSize() uint32 { return a.size }

// AllocatePage returns the address of a zeroed page.
func (a *PageAllocator) AllocatePage() (uint32, error) {
	if uint64(a.next)+uint64(a.size) > uint64(a.end) {
		return 0, fmt.Errorf("%w: %d pages of %d bytes in use", ErrOutOfPages, a.allocated, a.size)
	}
	page := a.next
	a.next += a.size
	a.allocated++
	a.mem.Zero(page, a.size)
	return page, nil
}

// Free returns the number of pages still available.
func (a *PageAllocator) Free() int {
	if a.next >= a.end {
		return 0
	}
	return int((a.end - a.next) / a.size)
}

// Allocated returns the number of pages handed out.
func (a *PageAllocator) Allocated() int { return a.allocated }
