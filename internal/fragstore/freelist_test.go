package fragstore

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFreeListRebuildFindsGaps(t *testing.T) {
	t.Parallel()

	var f freeList
	f.rebuild(100, 200, []usedExtent{
		{offset: 120, length: 10}, // gap [100,120)
		{offset: 150, length: 20}, // gap [130,150), then [170,200) at tail
	})

	want := []extent{
		{offset: 100, length: 20},
		{offset: 130, length: 20},
		{offset: 170, length: 30},
	}

	if diff := cmp.Diff(want, f.extents, cmp.AllowUnexported(extent{})); diff != "" {
		t.Fatalf("extents mismatch (-want +got):\n%s", diff)
	}

	if f.liveBytes != 30 {
		t.Fatalf("liveBytes = %d, want 30", f.liveBytes)
	}
}

func TestFreeListRebuildUnsortedInput(t *testing.T) {
	t.Parallel()

	var f freeList
	f.rebuild(0, 30, []usedExtent{
		{offset: 20, length: 10},
		{offset: 0, length: 5},
	})

	want := []extent{{offset: 5, length: 15}}
	if diff := cmp.Diff(want, f.extents, cmp.AllowUnexported(extent{})); diff != "" {
		t.Fatalf("extents mismatch (-want +got):\n%s", diff)
	}
}

func TestFreeListAllocateFirstFit(t *testing.T) {
	t.Parallel()

	f := freeList{extents: []extent{{offset: 0, length: 5}, {offset: 10, length: 20}}}

	off, ok := f.allocate(8)
	if !ok {
		t.Fatalf("allocate(8) failed, want success")
	}

	if off != 10 {
		t.Fatalf("allocate(8) offset = %d, want 10 (first-fit skips too-small extent)", off)
	}

	want := []extent{{offset: 0, length: 5}, {offset: 18, length: 12}}
	if diff := cmp.Diff(want, f.extents, cmp.AllowUnexported(extent{})); diff != "" {
		t.Fatalf("extents after split mismatch (-want +got):\n%s", diff)
	}

	if f.liveBytes != 8 {
		t.Fatalf("liveBytes = %d, want 8", f.liveBytes)
	}
}

func TestFreeListAllocateExactConsumesExtent(t *testing.T) {
	t.Parallel()

	f := freeList{extents: []extent{{offset: 0, length: 16}}}

	off, ok := f.allocate(16)
	if !ok || off != 0 {
		t.Fatalf("allocate(16) = (%d, %v), want (0, true)", off, ok)
	}

	if len(f.extents) != 0 {
		t.Fatalf("extents = %v, want empty after exact consumption", f.extents)
	}
}

func TestFreeListAllocateNoFit(t *testing.T) {
	t.Parallel()

	f := freeList{extents: []extent{{offset: 0, length: 4}}}

	if _, ok := f.allocate(5); ok {
		t.Fatalf("allocate(5) succeeded, want failure: no extent large enough")
	}
}

func TestFreeListReleaseCoalescesBothNeighbors(t *testing.T) {
	t.Parallel()

	f := freeList{
		extents:   []extent{{offset: 0, length: 10}, {offset: 20, length: 10}},
		liveBytes: 10,
	}

	f.release(10, 10)

	want := []extent{{offset: 0, length: 30}}
	if diff := cmp.Diff(want, f.extents, cmp.AllowUnexported(extent{})); diff != "" {
		t.Fatalf("extents after release mismatch (-want +got):\n%s", diff)
	}

	if f.liveBytes != 0 {
		t.Fatalf("liveBytes = %d, want 0", f.liveBytes)
	}
}

func TestFreeListReleaseNoNeighbors(t *testing.T) {
	t.Parallel()

	f := freeList{extents: []extent{{offset: 0, length: 10}, {offset: 100, length: 10}}, liveBytes: 80}

	f.release(50, 5)

	want := []extent{{offset: 0, length: 10}, {offset: 50, length: 5}, {offset: 100, length: 10}}
	if diff := cmp.Diff(want, f.extents, cmp.AllowUnexported(extent{})); diff != "" {
		t.Fatalf("extents after release mismatch (-want +got):\n%s", diff)
	}
}

func TestFreeListReleaseZeroLengthNoop(t *testing.T) {
	t.Parallel()

	f := freeList{extents: []extent{{offset: 0, length: 10}}, liveBytes: 5}
	f.release(20, 0)

	if len(f.extents) != 1 || f.extents[0] != (extent{offset: 0, length: 10}) {
		t.Fatalf("release(_, 0) mutated extents: %v", f.extents)
	}
}

func TestFreeListTrimTail(t *testing.T) {
	t.Parallel()

	f := freeList{extents: []extent{{offset: 0, length: 5}, {offset: 90, length: 10}}}

	newEnd, trimmed := f.trimTail(100)
	if !trimmed || newEnd != 90 {
		t.Fatalf("trimTail(100) = (%d, %v), want (90, true)", newEnd, trimmed)
	}

	if len(f.extents) != 1 {
		t.Fatalf("extents after trim = %v, want only the untouched leading extent", f.extents)
	}

	newEnd, trimmed = f.trimTail(newEnd)
	if trimmed {
		t.Fatalf("trimTail should not trim a non-tail-adjacent extent")
	}

	if newEnd != 90 {
		t.Fatalf("trimTail returned %d when nothing trimmed, want unchanged 90", newEnd)
	}
}

func TestFreeListTailTouchesEnd(t *testing.T) {
	t.Parallel()

	f := freeList{extents: []extent{{offset: 50, length: 50}}}

	if !f.tailTouchesEnd(100) {
		t.Fatalf("tailTouchesEnd(100) = false, want true")
	}

	if f.tailTouchesEnd(101) {
		t.Fatalf("tailTouchesEnd(101) = true, want false")
	}

	empty := freeList{}
	if empty.tailTouchesEnd(0) {
		t.Fatalf("tailTouchesEnd on empty free list = true, want false")
	}
}
