package fragstore

import (
	"encoding/binary"
	"fmt"
)

// Payload wire format (spec §4.4):
//
//	payload := entryCount:u16
//	          entry[entryCount]
//	          data[*]
//	entry   := versionIndex:u8
//	          length:u32
//	data    := length bytes per entry, in entry order
//
// Entries appear in ascending versionIndex. A version absent from the entry
// list decodes to the empty byte slice. The empty-payload sentinel is
// entryCount=0, a 2-byte payload.

// encodePayload builds the payload for versionCount versions given a map of
// versionIndex -> bytes. Versions with no entry (including nil/empty byte
// slices) are omitted, per the "missing versions decode to empty" rule;
// there is no behavioral difference between "omitted" and "present with
// zero length" on decode, so the encoder omits zero-length entries to keep
// payloads small.
func encodePayload(byVersion map[uint8][]byte, versionCount int) []byte {
	entries := make([]uint8, 0, versionCount)

	for v := uint8(0); int(v) < versionCount; v++ {
		if len(byVersion[v]) > 0 {
			entries = append(entries, v)
		}
	}

	size := 2
	for _, v := range entries {
		size += 1 + 4 + len(byVersion[v])
	}

	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(entries)))

	pos := 2
	for _, v := range entries {
		data := byVersion[v]
		buf[pos] = v
		pos++
		binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(len(data)))
		pos += 4
		copy(buf[pos:pos+len(data)], data)
		pos += len(data)
	}

	return buf
}

// decodePayload parses a payload into a versionIndex -> bytes map. Unknown
// version indices (>= versionCount) are dropped per spec §4.4. Returns
// ErrCorruptPayload if any entry's data would run past the end of buf.
func decodePayload(buf []byte, versionCount int) (map[uint8][]byte, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("payload shorter than entry count field: %w", ErrCorruptPayload)
	}

	entryCount := binary.BigEndian.Uint16(buf[0:2])
	result := make(map[uint8][]byte, entryCount)

	pos := 2

	for i := uint16(0); i < entryCount; i++ {
		if pos+5 > len(buf) {
			return nil, fmt.Errorf("truncated entry header at byte %d: %w", pos, ErrCorruptPayload)
		}

		versionIndex := buf[pos]
		length := binary.BigEndian.Uint32(buf[pos+1 : pos+5])
		pos += 5

		end := pos + int(length)
		if end < pos || end > len(buf) {
			return nil, fmt.Errorf("entry data runs past payload end: %w", ErrCorruptPayload)
		}

		data := buf[pos:end]
		pos = end

		if int(versionIndex) < versionCount {
			result[versionIndex] = data
		}
	}

	return result, nil
}
