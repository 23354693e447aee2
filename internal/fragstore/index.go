package fragstore

// fragIndex is the in-memory, dense array of index slots plus the
// reconstructible id->slot accelerator (spec §3, §4.1, §9 "Identifier
// map"). It mirrors exactly the first indexUsed*indexEntrySize bytes of
// the on-disk index region; capacity beyond that is zero-padded on disk
// and not held in memory until a slot is appended into it.
type fragIndex struct {
	slots    []indexSlot // len == used
	capacity uint32      // indexSize / indexEntrySize
	idToSlot map[uint16]int
}

// newFragIndex builds a fragIndex from the raw bytes of the used portion of
// the on-disk index and rebuilds the id->slot map by scanning it.
func newFragIndex(buf []byte, used uint32, capacity uint32) fragIndex {
	idx := fragIndex{
		slots:    make([]indexSlot, used),
		capacity: capacity,
		idToSlot: make(map[uint16]int, used),
	}

	for i := uint32(0); i < used; i++ {
		s := decodeIndexSlot(buf[i*indexEntrySize : (i+1)*indexEntrySize])
		idx.slots[i] = s

		if s.used() {
			idx.idToSlot[s.id] = int(i)
		}
	}

	return idx
}

// lookup returns the slot position for id, or (0, false) if unknown.
func (idx *fragIndex) lookup(id uint16) (int, bool) {
	pos, ok := idx.idToSlot[id]
	return pos, ok
}

// set overwrites the slot at pos and keeps idToSlot consistent.
func (idx *fragIndex) set(pos int, s indexSlot) {
	idx.slots[pos] = s

	if s.used() {
		idx.idToSlot[s.id] = pos
	} else {
		delete(idx.idToSlot, s.id)
	}
}

// append adds a new slot at the end, returning its position. Caller must
// have already verified capacity via needsGrowth.
func (idx *fragIndex) append(s indexSlot) int {
	pos := len(idx.slots)
	idx.slots = append(idx.slots, s)

	if s.used() {
		idx.idToSlot[s.id] = pos
	}

	return pos
}

// needsGrowth reports whether appending n more slots would exceed capacity.
func (idx *fragIndex) needsGrowth(n int) bool {
	return uint32(len(idx.slots)+n) > idx.capacity
}

// usedExtents returns the live (non-tombstone) extents currently recorded
// in the index, for freeList.rebuild.
func (idx *fragIndex) usedExtents() []usedExtent {
	out := make([]usedExtent, 0, len(idx.slots))

	for _, s := range idx.slots {
		if s.used() {
			out = append(out, usedExtent{offset: uint64(s.dataOffset), length: uint64(s.dataLength)})
		}
	}

	return out
}

// encodeAll serializes every slot (including tombstones) in scan order,
// used when writing the full index after a growth pass.
func (idx *fragIndex) encodeAll() []byte {
	buf := make([]byte, len(idx.slots)*indexEntrySize)

	for i, s := range idx.slots {
		copy(buf[i*indexEntrySize:(i+1)*indexEntrySize], encodeIndexSlot(s))
	}

	return buf
}
