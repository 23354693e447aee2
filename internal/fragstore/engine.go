// Package fragstore implements the single-file, crash-tolerant,
// variable-length fragment store described by the storage engine spec: a
// bespoke packed binary format with an in-place index, a free-extent
// allocator, and an online compactor.
//
// The package is not safe for concurrent use: callers must serialize all
// operations against one *Engine, and the process is expected to hold
// whatever external advisory lock is appropriate (see
// github.com/getrafty/fragments/internal/fsutil for one such lock).
package fragstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Options configures Open.
type Options struct {
	// Path is the filesystem path to the fragment store file.
	Path string

	// Versions is the ordered version table used only when creating a new
	// file. Ignored when the file already exists.
	Versions []string

	// ActiveVersion is the initially active version, used only when
	// creating a new file. If empty, Versions[0] is used.
	ActiveVersion string
}

// Engine is the storage engine handle. The zero value is not usable; use
// Open.
type Engine struct {
	path string
	file *os.File

	hdr  header
	idx  fragIndex
	free freeList

	isOpen     bool
	compacting bool

	scratch []byte
}

// Open creates or loads a fragment store at opts.Path. It returns only
// after the file is internally consistent.
func Open(opts Options) (*Engine, error) {
	if dir := filepath.Dir(opts.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create parent directories: %w", err)
		}
	}

	info, statErr := os.Stat(opts.Path)

	switch {
	case statErr == nil:
		return openExisting(opts.Path, info.Size())
	case os.IsNotExist(statErr):
		return createNew(opts)
	default:
		return nil, fmt.Errorf("stat %s: %w", opts.Path, statErr)
	}
}

func createNew(opts Options) (*Engine, error) {
	if len(opts.Versions) == 0 {
		return nil, ErrNoVersions
	}

	if len(opts.Versions) > MaxVersions {
		return nil, fmt.Errorf("%d versions exceeds max %d: %w", len(opts.Versions), MaxVersions, ErrTooManyVersions)
	}

	for _, v := range opts.Versions {
		if v == "" || len(v) >= versionEntrySize {
			return nil, fmt.Errorf("version name %q: %w", v, ErrBadVersionName)
		}
	}

	activeName := opts.ActiveVersion
	if activeName == "" {
		activeName = opts.Versions[0]
	}

	activeIdx := -1

	for i, v := range opts.Versions {
		if v == activeName {
			activeIdx = i
			break
		}
	}

	if activeIdx < 0 {
		return nil, fmt.Errorf("active version %q not in version table: %w", activeName, ErrUnknownVersion)
	}

	f, err := os.OpenFile(opts.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", opts.Path, err)
	}

	dataStart := uint64(headerSize + initialIndexCapacity*indexEntrySize)

	hdr := header{
		formatVersion: formatVersion,
		flags:         0,
		activeVersion: uint8(activeIdx),
		versionsCount: uint8(len(opts.Versions)),
		indexOffset:   headerSize,
		indexSize:     initialIndexCapacity * indexEntrySize,
		indexUsed:     0,
		dataStart:     dataStart,
		dataEnd:       dataStart,
		versions:      append([]string(nil), opts.Versions...),
	}

	if err := writeAt(f, encodeHeader(&hdr), 0); err != nil {
		f.Close()
		return nil, err
	}

	if err := writeAt(f, make([]byte, hdr.indexSize), int64(hdr.indexOffset)); err != nil {
		f.Close()
		return nil, err
	}

	if err := f.Truncate(int64(dataStart)); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate: %w", err)
	}

	if err := datasync(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("sync: %w", err)
	}

	e := &Engine{
		path:   opts.Path,
		file:   f,
		hdr:    hdr,
		idx:    newFragIndex(nil, 0, initialIndexCapacity),
		isOpen: true,
	}
	e.free.rebuild(hdr.dataStart, hdr.dataEnd, nil)

	return e, nil
}

func openExisting(path string, size int64) (*Engine, error) {
	if size == 0 {
		return nil, fmt.Errorf("open %s: empty file: %w", path, os.ErrInvalid)
	}

	if size < headerSize {
		return nil, fmt.Errorf("file size %d smaller than header: %w", size, ErrBadHeader)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	hdr, err := loadHeader(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	if uint64(size) < hdr.dataEnd {
		f.Close()
		return nil, fmt.Errorf("file size %d smaller than dataEnd %d: %w", size, hdr.dataEnd, ErrBadHeader)
	}

	capacity := uint32(hdr.indexSize / indexEntrySize)

	indexBuf := make([]byte, hdr.indexUsed*indexEntrySize)
	if hdr.indexUsed > 0 {
		if err := readAt(f, indexBuf, int64(hdr.indexOffset)); err != nil {
			f.Close()
			return nil, err
		}
	}

	idx := newFragIndex(indexBuf, hdr.indexUsed, capacity)

	e := &Engine{
		path:   path,
		file:   f,
		hdr:    hdr,
		idx:    idx,
		isOpen: true,
	}
	e.free.rebuild(hdr.dataStart, hdr.dataEnd, idx.usedExtents())

	return e, nil
}

func loadHeader(f *os.File) (header, error) {
	buf := make([]byte, headerSize)
	if err := readAt(f, buf, 0); err != nil {
		return header{}, err
	}

	if !hasMagic(buf) {
		return header{}, ErrInvalidFormat
	}

	hdr := decodeHeader(buf)

	if hdr.formatVersion != formatVersion {
		return header{}, fmt.Errorf("format version %d: %w", hdr.formatVersion, ErrUnsupportedVersion)
	}

	if hdr.flags&headerFlagEncrypted != 0 {
		return header{}, fmt.Errorf("encrypted stores are not supported: %w", ErrUnsupportedVersion)
	}

	declaredHeaderSize := binary.BigEndian.Uint32(buf[offHeaderSize:])
	if declaredHeaderSize != headerSize {
		return header{}, fmt.Errorf("header size %d: %w", declaredHeaderSize, ErrBadHeader)
	}

	if hdr.versionsCount == 0 || int(hdr.versionsCount) > MaxVersions {
		return header{}, fmt.Errorf("version count %d: %w", hdr.versionsCount, ErrBadHeader)
	}

	if hdr.activeVersion >= hdr.versionsCount {
		return header{}, fmt.Errorf("active version index %d: %w", hdr.activeVersion, ErrBadHeader)
	}

	if hdr.indexOffset != headerSize {
		return header{}, fmt.Errorf("index offset %d: %w", hdr.indexOffset, ErrBadHeader)
	}

	if hdr.indexSize == 0 || hdr.indexSize%indexEntrySize != 0 {
		return header{}, fmt.Errorf("index size %d: %w", hdr.indexSize, ErrBadHeader)
	}

	if hdr.dataStart != hdr.indexOffset+hdr.indexSize {
		return header{}, fmt.Errorf("data start %d: %w", hdr.dataStart, ErrBadHeader)
	}

	if hdr.dataEnd < hdr.dataStart {
		return header{}, fmt.Errorf("data end %d before data start %d: %w", hdr.dataEnd, hdr.dataStart, ErrBadHeader)
	}

	capacity := hdr.indexSize / indexEntrySize
	if uint64(hdr.indexUsed) > capacity {
		return header{}, fmt.Errorf("index used %d exceeds capacity %d: %w", hdr.indexUsed, capacity, ErrBadHeader)
	}

	return hdr, nil
}

// IsOpen reports whether the engine holds an open file handle.
func (e *Engine) IsOpen() bool {
	return e.isOpen
}

// Close releases the file handle and clears all in-memory structures. It is
// idempotent.
func (e *Engine) Close() error {
	if !e.isOpen {
		return nil
	}

	err := e.file.Close()
	e.file = nil
	e.idx = fragIndex{}
	e.free = freeList{}
	e.hdr = header{}
	e.scratch = nil
	e.isOpen = false

	if err != nil {
		return fmt.Errorf("close %s: %w", e.path, err)
	}

	return nil
}

// GetActiveVersion returns the name of the currently active version.
func (e *Engine) GetActiveVersion() string {
	return e.hdr.versions[e.hdr.activeVersion]
}

// GetAvailableVersions returns a copy of the version table, in table order.
func (e *Engine) GetAvailableVersions() []string {
	return append([]string(nil), e.hdr.versions...)
}

// SetActiveVersion switches the active version. The header is persisted
// before returning.
func (e *Engine) SetActiveVersion(name string) error {
	if !e.isOpen {
		return ErrClosed
	}

	idx, ok := e.versionIndex(name)
	if !ok {
		return fmt.Errorf("version %q: %w", name, ErrUnknownVersion)
	}

	e.hdr.activeVersion = uint8(idx)

	return e.persistHeaderAndSync()
}

// versionIndex returns the table position of name, or false if unknown.
func (e *Engine) versionIndex(name string) (int, bool) {
	for i, v := range e.hdr.versions {
		if v == name {
			return i, true
		}
	}

	return 0, false
}

// Upsert implements spec §4.1's upsert algorithm.
//
//   - version == "" and no existing fragment: create a new fragment, filling
//     the active version with content and every other version empty.
//   - version == "" and an existing fragment: no-op.
//   - version != "" and no existing fragment: ErrFragmentNotFound.
//   - version != "" and an existing fragment: replace that version's bytes,
//     leaving other versions untouched.
func (e *Engine) Upsert(idText string, content string, version string) error {
	if !e.isOpen {
		return ErrClosed
	}

	id, err := ParseFragmentID(idText)
	if err != nil {
		return err
	}

	pos, exists := e.idx.lookup(id)

	var versionIdx int

	if version != "" {
		idx, ok := e.versionIndex(version)
		if !ok {
			return fmt.Errorf("version %q: %w", version, ErrUnknownVersion)
		}

		if !exists {
			return fmt.Errorf("fragment %s: %w", idText, ErrFragmentNotFound)
		}

		versionIdx = idx
	} else {
		if exists {
			return nil
		}

		versionIdx = int(e.hdr.activeVersion)
	}

	byVersion, err := e.decodeExistingPayload(pos, exists)
	if err != nil {
		return err
	}

	byVersion[uint8(versionIdx)] = []byte(content)

	payload := encodePayload(byVersion, int(e.hdr.versionsCount))
	if 4+len(payload) > maxChunkLength {
		return fmt.Errorf("chunk length %d: %w", 4+len(payload), ErrPayloadTooLarge)
	}

	if !exists && e.idx.needsGrowth(1) {
		if err := e.growIndex(); err != nil {
			return err
		}
	}

	var existingSlot *indexSlot
	if exists {
		s := e.idx.slots[pos]
		existingSlot = &s
	}

	newOffset, err := e.writeChunk(existingSlot, payload, false)
	if err != nil {
		return err
	}

	newSlot := indexSlot{id: id, flags: indexSlotFlagUsed, dataOffset: uint32(newOffset), dataLength: uint16(4 + len(payload))}

	if exists {
		e.idx.set(pos, newSlot)

		if err := e.writeSlotAt(pos, newSlot); err != nil {
			return err
		}
	} else {
		newPos := e.idx.append(newSlot)
		e.hdr.indexUsed = uint32(len(e.idx.slots))

		if err := e.writeSlotAt(newPos, newSlot); err != nil {
			return err
		}
	}

	e.trimDataEnd()

	if err := e.maybeCompact(); err != nil {
		return err
	}

	return e.persistHeaderAndSync()
}

// decodeExistingPayload reads and decodes the current payload for the
// fragment at pos, or returns an empty map for a brand new fragment.
func (e *Engine) decodeExistingPayload(pos int, exists bool) (map[uint8][]byte, error) {
	if !exists {
		return make(map[uint8][]byte, e.hdr.versionsCount), nil
	}

	slot := e.idx.slots[pos]

	chunk, err := e.readChunk(slot)
	if err != nil {
		return nil, err
	}

	return decodePayload(chunk[4:], int(e.hdr.versionsCount))
}

// readChunk reads the full [length-prefix | payload] chunk for slot.
func (e *Engine) readChunk(slot indexSlot) ([]byte, error) {
	buf := make([]byte, slot.dataLength)
	if err := readAt(e.file, buf, int64(slot.dataOffset)); err != nil {
		return nil, err
	}

	return buf, nil
}

// writeChunk writes [length-prefix | payload] to a chosen offset, reusing
// existing's extent in place when it still fits (and forceMove is false),
// else allocating from the free list or appending to the tail. If existing
// is non-nil and not reused in place, its old extent is released to the
// free list -- unconditionally when forceMove is set, per the compactor's
// "no special-casing in-place reuse while forcing a move" contract.
func (e *Engine) writeChunk(existing *indexSlot, payload []byte, forceMove bool) (uint64, error) {
	newLen := uint64(4 + len(payload))

	var (
		writeOffset uint64
		reusedInPlace bool
	)

	switch {
	case existing != nil && !forceMove && uint64(existing.dataLength) >= newLen:
		writeOffset = uint64(existing.dataOffset)
		reusedInPlace = true

		if leftover := uint64(existing.dataLength) - newLen; leftover > 0 {
			e.free.release(writeOffset+newLen, leftover)
		}
	default:
		if off, ok := e.free.allocate(newLen); ok {
			writeOffset = off
		} else {
			writeOffset = e.hdr.dataEnd
			e.hdr.dataEnd += newLen
			e.free.liveBytes += newLen
		}
	}

	chunk := make([]byte, newLen)
	binary.BigEndian.PutUint32(chunk[0:4], uint32(len(payload)))
	copy(chunk[4:], payload)

	if err := writeAt(e.file, chunk, int64(writeOffset)); err != nil {
		return 0, err
	}

	if existing != nil && !reusedInPlace {
		e.free.release(uint64(existing.dataOffset), uint64(existing.dataLength))
	}

	return writeOffset, nil
}

// writeSlotAt persists the 10-byte index record at slot position pos.
func (e *Engine) writeSlotAt(pos int, s indexSlot) error {
	offset := int64(e.hdr.indexOffset) + int64(pos)*indexEntrySize
	return writeAt(e.file, encodeIndexSlot(s), offset)
}

// trimDataEnd pops trailing free extents, shrinking dataEnd and truncating
// the file. A Truncate error is not reported to the caller; dataEnd is
// lowered only when the truncate succeeds.
func (e *Engine) trimDataEnd() {
	newEnd, trimmed := e.free.trimTail(e.hdr.dataEnd)
	if !trimmed {
		return
	}

	if err := e.file.Truncate(int64(newEnd)); err == nil {
		e.hdr.dataEnd = newEnd
	}
}

// persistHeaderAndSync writes the header and datasyncs the file handle.
func (e *Engine) persistHeaderAndSync() error {
	if err := writeAt(e.file, encodeHeader(&e.hdr), 0); err != nil {
		return err
	}

	if err := datasync(e.file); err != nil {
		return fmt.Errorf("sync %s: %w", e.path, err)
	}

	return nil
}

// growIndex doubles the index capacity enough to fit one more slot, per
// spec §4.1 "Index growth": the data region is shifted forward by the
// capacity delta, highest offset first, in fixed-size chunks.
func (e *Engine) growIndex() error {
	required := uint32(len(e.idx.slots) + 1)

	newCapacity := e.idx.capacity
	if newCapacity == 0 {
		newCapacity = initialIndexCapacity
	}

	for newCapacity < required {
		newCapacity *= 2
	}

	growth := uint64(newCapacity-e.idx.capacity) * indexEntrySize

	oldStart, oldEnd := e.hdr.dataStart, e.hdr.dataEnd
	newStart, newEnd := oldStart+growth, oldEnd+growth

	if err := e.shiftDataRegion(oldStart, oldEnd, growth); err != nil {
		return err
	}

	for i := range e.idx.slots {
		e.idx.slots[i].dataOffset += uint32(growth)
	}

	e.hdr.indexSize = uint64(newCapacity) * indexEntrySize
	e.hdr.dataStart = newStart
	e.hdr.dataEnd = newEnd
	e.idx.capacity = newCapacity

	indexBuf := make([]byte, e.hdr.indexSize)
	copy(indexBuf, e.idx.encodeAll())

	if err := writeAt(e.file, indexBuf, int64(e.hdr.indexOffset)); err != nil {
		return err
	}

	if err := e.persistHeaderAndSync(); err != nil {
		return err
	}

	e.free.rebuild(e.hdr.dataStart, e.hdr.dataEnd, e.idx.usedExtents())

	return nil
}

// shiftDataRegion moves the data region [oldStart, oldEnd) forward by
// growth bytes, highest offset first, so that overlapping source and
// destination ranges never clobber unread bytes.
func (e *Engine) shiftDataRegion(oldStart, oldEnd, growth uint64) error {
	if oldEnd <= oldStart || growth == 0 {
		return nil
	}

	buf := make([]byte, dataShiftChunkSize)

	chunkEnd := oldEnd

	for chunkEnd > oldStart {
		chunkStart := chunkEnd - dataShiftChunkSize
		if chunkStart < oldStart {
			chunkStart = oldStart
		}

		n := int(chunkEnd - chunkStart)

		if err := readAt(e.file, buf[:n], int64(chunkStart)); err != nil {
			return err
		}

		if err := writeAt(e.file, buf[:n], int64(chunkStart+growth)); err != nil {
			return err
		}

		chunkEnd = chunkStart
	}

	return nil
}

// Get returns the stored UTF-8 string for (id, version). found is false
// only when id is unknown; a known id with no bytes for version yields an
// empty string with found=true.
func (e *Engine) Get(idText string, version string) (value string, found bool, err error) {
	if !e.isOpen {
		return "", false, ErrClosed
	}

	id, err := ParseFragmentID(idText)
	if err != nil {
		return "", false, err
	}

	versionIdx, ok := e.versionIndex(version)
	if !ok {
		return "", false, fmt.Errorf("version %q: %w", version, ErrUnknownVersion)
	}

	pos, exists := e.idx.lookup(id)
	if !exists {
		return "", false, nil
	}

	slot := e.idx.slots[pos]

	chunk, err := e.readChunk(slot)
	if err != nil {
		return "", false, err
	}

	length := binary.BigEndian.Uint32(chunk[0:4])
	if length == 0 || uint64(4+length) != uint64(slot.dataLength) {
		return "", false, fmt.Errorf("fragment %s: %w", idText, ErrCorruptPayload)
	}

	byVersion, err := decodePayload(chunk[4:], int(e.hdr.versionsCount))
	if err != nil {
		return "", false, fmt.Errorf("fragment %s: %w", idText, err)
	}

	return string(byVersion[uint8(versionIdx)]), true, nil
}

// ParseFragmentID converts a caller-chosen textual identifier (e.g. a
// lowercase 4-character hex string) into the 16-bit identifier used on
// disk.
func ParseFragmentID(text string) (uint16, error) {
	v, err := strconv.ParseUint(text, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", text, ErrBadFragmentId)
	}

	return uint16(v), nil
}

// FormatFragmentID renders id as a lowercase 4-character hex string.
func FormatFragmentID(id uint16) string {
	return fmt.Sprintf("%04x", id)
}

func readAt(f *os.File, buf []byte, offset int64) error {
	if _, err := f.ReadAt(buf, offset); err != nil {
		return fmt.Errorf("read at %d: %w", offset, err)
	}

	return nil
}

func writeAt(f *os.File, buf []byte, offset int64) error {
	if _, err := f.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("write at %d: %w", offset, err)
	}

	return nil
}
