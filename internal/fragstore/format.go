package fragstore

import "encoding/binary"

// Header field offsets (bytes from file start). All integer fields are
// big-endian, per spec §6.1 and §4.5.
const (
	offMagic         = 0x00 // [4]byte
	offFormatVersion = 0x04 // uint8
	offHeaderSize    = 0x05 // uint32
	offFlags         = 0x09 // uint8
	offActiveVersion = 0x0A // uint8
	offVersionsCount = 0x0B // uint8
	offIndexOffset   = 0x0C // uint64
	offIndexSize     = 0x14 // uint64
	offIndexUsed     = 0x1C // uint32
	offDataStart     = 0x20 // uint64
	offDataEnd       = 0x28 // uint64
	// versionTableOffset (0x40) onward: MaxVersions * versionEntrySize
	// fixed-width, zero-padded UTF-8 slots.
)

// header is a decoded, in-memory view of the 256-byte file header.
type header struct {
	formatVersion uint8
	flags         uint8
	activeVersion uint8
	versionsCount uint8
	indexOffset   uint64
	indexSize     uint64
	indexUsed     uint32
	dataStart     uint64
	dataEnd       uint64
	versions      []string
}

// encodeHeader serializes h into a fresh headerSize-byte buffer.
func encodeHeader(h *header) []byte {
	buf := make([]byte, headerSize)

	copy(buf[offMagic:], magic)
	buf[offFormatVersion] = h.formatVersion
	binary.BigEndian.PutUint32(buf[offHeaderSize:], headerSize)
	buf[offFlags] = h.flags
	buf[offActiveVersion] = h.activeVersion
	buf[offVersionsCount] = h.versionsCount
	binary.BigEndian.PutUint64(buf[offIndexOffset:], h.indexOffset)
	binary.BigEndian.PutUint64(buf[offIndexSize:], h.indexSize)
	binary.BigEndian.PutUint32(buf[offIndexUsed:], h.indexUsed)
	binary.BigEndian.PutUint64(buf[offDataStart:], h.dataStart)
	binary.BigEndian.PutUint64(buf[offDataEnd:], h.dataEnd)

	for i, name := range h.versions {
		slot := buf[versionTableOffset+i*versionEntrySize : versionTableOffset+(i+1)*versionEntrySize]
		copy(slot, name)
	}

	return buf
}

// decodeHeader parses a headerSize-byte buffer into a header. It does not
// validate the magic or any bounds; callers validate separately so that
// validation errors can be distinguished from decode mechanics.
func decodeHeader(buf []byte) header {
	var h header

	h.formatVersion = buf[offFormatVersion]
	h.flags = buf[offFlags]
	h.activeVersion = buf[offActiveVersion]
	h.versionsCount = buf[offVersionsCount]
	h.indexOffset = binary.BigEndian.Uint64(buf[offIndexOffset:])
	h.indexSize = binary.BigEndian.Uint64(buf[offIndexSize:])
	h.indexUsed = binary.BigEndian.Uint32(buf[offIndexUsed:])
	h.dataStart = binary.BigEndian.Uint64(buf[offDataStart:])
	h.dataEnd = binary.BigEndian.Uint64(buf[offDataEnd:])

	h.versions = make([]string, h.versionsCount)
	for i := range h.versions {
		slot := buf[versionTableOffset+i*versionEntrySize : versionTableOffset+(i+1)*versionEntrySize]
		h.versions[i] = decodeVersionName(slot)
	}

	return h
}

// decodeVersionName trims the zero padding from a fixed-width version slot.
func decodeVersionName(slot []byte) string {
	end := 0
	for end < len(slot) && slot[end] != 0 {
		end++
	}

	return string(slot[:end])
}

func hasMagic(buf []byte) bool {
	return len(buf) >= 4 && string(buf[offMagic:offMagic+4]) == magic
}

// indexSlot is the decoded view of one 10-byte index entry.
//
//	id:u16, flags:u8, dataOffset:u32, dataLength:u16, pad:u8 = 0
type indexSlot struct {
	id         uint16
	flags      uint8
	dataOffset uint32
	dataLength uint16
}

func (s indexSlot) used() bool {
	return s.flags&indexSlotFlagUsed != 0
}

func (s indexSlot) encrypted() bool {
	return s.flags&indexSlotFlagEncrypted != 0
}

// encodeIndexSlot serializes one index entry into a fresh 10-byte buffer.
func encodeIndexSlot(s indexSlot) []byte {
	buf := make([]byte, indexEntrySize)
	binary.BigEndian.PutUint16(buf[0:2], s.id)
	buf[2] = s.flags
	binary.BigEndian.PutUint32(buf[3:7], s.dataOffset)
	binary.BigEndian.PutUint16(buf[7:9], s.dataLength)
	buf[9] = 0

	return buf
}

// decodeIndexSlot parses one 10-byte index entry.
func decodeIndexSlot(buf []byte) indexSlot {
	return indexSlot{
		id:         binary.BigEndian.Uint16(buf[0:2]),
		flags:      buf[2],
		dataOffset: binary.BigEndian.Uint32(buf[3:7]),
		dataLength: binary.BigEndian.Uint16(buf[7:9]),
	}
}
