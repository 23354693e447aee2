package fragstore

// maybeCompact runs at most one incremental compaction step per call, per
// spec §4.3. It is re-entrancy-guarded: a compaction step's own write never
// recurses into another compaction.
func (e *Engine) maybeCompact() error {
	if e.compacting {
		return nil
	}

	if !e.shouldCompact() {
		return nil
	}

	e.compacting = true
	defer func() { e.compacting = false }()

	return e.compactStep()
}

// shouldCompact implements the trigger policy from spec §4.3.
func (e *Engine) shouldCompact() bool {
	if e.free.tailTouchesEnd(e.hdr.dataEnd) {
		return true
	}

	span := e.hdr.dataEnd - e.hdr.dataStart
	if span < compactionMinBytes {
		return false
	}

	if len(e.idx.idToSlot) < compactionMinFragments {
		return false
	}

	density := float64(e.free.liveBytes) / float64(span)

	return density < compactionDensityThreshold
}

// compactStep performs one relocation (or tail trim) per spec §4.3.
func (e *Engine) compactStep() error {
	e.trimDataEnd()

	if len(e.free.extents) == 0 {
		return e.persistHeaderAndSync()
	}

	pos, ok := e.selectRelocationCandidate()
	if !ok {
		return nil
	}

	return e.relocate(pos)
}

// selectRelocationCandidate picks a live slot whose data lies after the
// start of some free extent big enough (and small enough) to receive it,
// breaking ties toward the largest dataOffset (spec §4.3 step 2).
func (e *Engine) selectRelocationCandidate() (int, bool) {
	bestPos := -1
	var bestOffset uint32

	for pos, s := range e.idx.slots {
		if !s.used() {
			continue
		}

		// spec's INCREMENTAL_COMPACTION_MAX_BYTES bound on a relocated
		// slot's size holds unconditionally here: dataLength is a uint16
		// (max 65535, per maxChunkLength), well under the 524288-byte
		// bound, so no slot can ever fail it.

		for _, ext := range e.free.extents {
			if ext.offset >= uint64(s.dataOffset) {
				continue
			}

			if uint64(s.dataLength) > ext.length {
				continue
			}

			if bestPos == -1 || s.dataOffset > bestOffset {
				bestPos = pos
				bestOffset = s.dataOffset
			}

			break
		}
	}

	return bestPos, bestPos != -1
}

// relocate moves the chunk at pos through the free-list allocator with
// forceMove set, releasing its old extent unconditionally (spec §9 open
// question: never special-case in-place reuse while forcing a move).
func (e *Engine) relocate(pos int) error {
	slot := e.idx.slots[pos]

	chunk, err := e.readChunk(slot)
	if err != nil {
		return err
	}

	payload := chunk[4:]

	newOffset, err := e.writeChunk(&slot, payload, true)
	if err != nil {
		return err
	}

	newSlot := indexSlot{id: slot.id, flags: slot.flags, dataOffset: uint32(newOffset), dataLength: slot.dataLength}
	e.idx.set(pos, newSlot)

	return e.writeSlotAt(pos, newSlot)
}
