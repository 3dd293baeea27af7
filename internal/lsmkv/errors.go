package lsmkv

import "errors"

// Error kinds the engine reports. Callers should use errors.Is against
// these, since every returned error is wrapped with fmt.Errorf("...: %w").
var (
	// ErrDurability means a WAL append or fsync failed; the write was not
	// acknowledged and the memtable was not mutated.
	ErrDurability = errors.New("lsmkv: write could not be made durable")

	// ErrCorruption means a WAL record failed its checksum mid-segment or
	// an SSTable failed validation at open. A missing key is never this
	// error; only a file the engine could not trust is.
	ErrCorruption = errors.New("lsmkv: on-disk data is corrupt")

	// ErrIO is a generic storage failure outside of the durability and
	// corruption cases above (e.g. a compaction write failed).
	ErrIO = errors.New("lsmkv: storage i/o failure")

	// ErrInvalidArgument means a key or value exceeded a configured limit.
	ErrInvalidArgument = errors.New("lsmkv: invalid argument")

	// ErrClosed is returned by any operation on an engine after Close.
	ErrClosed = errors.New("lsmkv: engine is closed")
)
