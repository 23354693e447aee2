package fragstore

import "sort"

// IDs returns every stored fragment id as its lowercase hex text form,
// sorted ascending. Intended for tooling that needs to enumerate a store
// (fragctl dump, the REPL's ids command) rather than for the hot upsert/get
// path.
func (e *Engine) IDs() []string {
	ids := make([]uint16, 0, len(e.idx.idToSlot))

	for id := range e.idx.idToSlot {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = FormatFragmentID(id)
	}

	return out
}

// Stats summarizes the store's current size and compaction health, for
// diagnostic commands.
type Stats struct {
	FragmentCount int
	DataStart     uint64
	DataEnd       uint64
	LiveBytes     uint64
	FreeExtents   int
}

// Stat reports the engine's current Stats.
func (e *Engine) Stat() Stats {
	return Stats{
		FragmentCount: len(e.idx.idToSlot),
		DataStart:     e.hdr.dataStart,
		DataEnd:       e.hdr.dataEnd,
		LiveBytes:     e.free.liveBytes,
		FreeExtents:   len(e.free.extents),
	}
}
