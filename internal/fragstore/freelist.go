package fragstore

import "sort"

// extent is a contiguous byte range in the data region.
type extent struct {
	offset uint64
	length uint64
}

func (e extent) end() uint64 { return e.offset + e.length }

// freeList is a sorted, coalescing list of free byte ranges in the data
// region (spec §4.2). Entries are pairwise disjoint and non-adjacent.
type freeList struct {
	extents   []extent
	liveBytes uint64
}

// usedExtent is one live (allocated) byte range, as reconstructed from the
// index on open or after index growth.
type usedExtent struct {
	offset uint64
	length uint64
}

// rebuild replaces the free list with the gaps between dataStart and
// dataEnd not covered by used. used need not be sorted.
func (f *freeList) rebuild(dataStart, dataEnd uint64, used []usedExtent) {
	sorted := make([]usedExtent, len(used))
	copy(sorted, used)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].offset < sorted[j].offset })

	f.extents = f.extents[:0]
	f.liveBytes = 0

	cursor := dataStart

	for _, u := range sorted {
		if u.offset > cursor {
			f.extents = append(f.extents, extent{offset: cursor, length: u.offset - cursor})
		}

		cursor = u.offset + u.length
		f.liveBytes += u.length
	}

	if cursor < dataEnd {
		f.extents = append(f.extents, extent{offset: cursor, length: dataEnd - cursor})
	}
}

// allocate finds the first free extent able to hold need bytes, splitting
// it if it is larger than required. Returns the allocated offset and false
// if no extent is large enough.
func (f *freeList) allocate(need uint64) (uint64, bool) {
	for i, e := range f.extents {
		if e.length < need {
			continue
		}

		offset := e.offset

		if e.length == need {
			f.extents = append(f.extents[:i], f.extents[i+1:]...)
		} else {
			f.extents[i] = extent{offset: e.offset + need, length: e.length - need}
		}

		f.liveBytes += need

		return offset, true
	}

	return 0, false
}

// release returns [offset, offset+length) to the free list, coalescing it
// with any touching or overlapping neighbors. The caller must ensure the
// released range does not overlap any still-live extent.
func (f *freeList) release(offset, length uint64) {
	if length == 0 {
		return
	}

	if f.liveBytes >= length {
		f.liveBytes -= length
	} else {
		f.liveBytes = 0
	}

	newExt := extent{offset: offset, length: length}

	idx := sort.Search(len(f.extents), func(i int) bool { return f.extents[i].offset >= newExt.offset })

	merged := make([]extent, 0, len(f.extents)+1)
	merged = append(merged, f.extents[:idx]...)
	merged = append(merged, newExt)
	merged = append(merged, f.extents[idx:]...)

	// Coalesce left-to-right in a single pass.
	out := merged[:0]
	for _, e := range merged {
		if len(out) > 0 && out[len(out)-1].end() >= e.offset {
			last := &out[len(out)-1]
			if newEnd := e.end(); newEnd > last.end() {
				last.length = newEnd - last.offset
			}

			continue
		}

		out = append(out, e)
	}

	f.extents = out
}

// trimTail pops free extents touching dataEnd, lowering dataEnd. Returns
// the new dataEnd and whether any trimming occurred.
func (f *freeList) trimTail(dataEnd uint64) (uint64, bool) {
	trimmed := false

	for len(f.extents) > 0 {
		last := f.extents[len(f.extents)-1]
		if last.end() != dataEnd {
			break
		}

		dataEnd = last.offset
		f.extents = f.extents[:len(f.extents)-1]
		trimmed = true
	}

	return dataEnd, trimmed
}

// tailTouchesEnd reports whether the last free extent is adjacent to
// dataEnd, used by the compactor's cheap-tail-compaction trigger.
func (f *freeList) tailTouchesEnd(dataEnd uint64) bool {
	if len(f.extents) == 0 {
		return false
	}

	return f.extents[len(f.extents)-1].end() == dataEnd
}
