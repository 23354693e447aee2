package fragstore

// On-disk format constants (spec §6.1). These are bit-exact and must never
// change without a format version bump.
const (
	magic         = "FRAG"
	formatVersion = 2

	headerSize         = 256
	versionTableOffset = 64
	versionEntrySize   = 32
	// MaxVersions is floor((headerSize-versionTableOffset)/versionEntrySize).
	MaxVersions = (headerSize - versionTableOffset) / versionEntrySize

	indexEntrySize         = 10
	initialIndexCapacity   = 1024
	headerFlagEncrypted    = 0x01
	indexSlotFlagUsed      = 0x01
	indexSlotFlagEncrypted = 0x02

	compactionDensityThreshold    = 0.6
	compactionMinFragments        = 8
	compactionMinBytes            = 65536
	incrementalCompactionMaxBytes = 524288

	// maxChunkLength is the largest encodable chunk (length prefix + payload).
	maxChunkLength = 0xFFFF
)

// dataShiftChunkSize is the chunk size used when shifting the data region
// forward during index growth (spec §4.1, "Index growth").
const dataShiftChunkSize = 1 << 16
