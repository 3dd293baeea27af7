package lsmkv

import (
	engine "github.com/nilkv/lsmkv/internal/lsmkv"
)

// Error kinds returned by DB methods. Use errors.Is against these; every
// returned error is wrapped with additional context via fmt.Errorf("...: %w").
// A missing key is never an error — Get and Scan report absence through
// their boolean/slice results.
var (
	ErrDurability      = engine.ErrDurability
	ErrCorruption      = engine.ErrCorruption
	ErrIO              = engine.ErrIO
	ErrInvalidArgument = engine.ErrInvalidArgument
	ErrClosed          = engine.ErrClosed
)

// MaxKeySize and MaxValueSize are the hard limits enforced on Put/BatchPut
// before any write-ahead log append is attempted.
const (
	MaxKeySize   = engine.MaxKeySize
	MaxValueSize = engine.MaxValueSize
)
