package lsmkv

import (
	"log/slog"
	"time"

	engine "github.com/nilkv/lsmkv/internal/lsmkv"
)

// Options configures a DB. Every field has a documented default; the zero
// value of Options (aside from DataDir, which is required) falls back to
// that default at Open.
type Options struct {
	// DataDir is the directory the engine reads from and writes to. It is
	// created if it does not already exist. Required.
	DataDir string

	// MemTableFlushEntries triggers a flush once the active memtable holds
	// this many keys. Default 50.
	MemTableFlushEntries int

	// MemTableFlushBytes triggers a flush once the active memtable's
	// tracked byte size reaches this many bytes. Default 4 MiB.
	MemTableFlushBytes int64

	// BloomFPR is the target false-positive rate for each SSTable's Bloom
	// filter. Default 0.01.
	BloomFPR float64

	// L0FileThreshold is the number of Level-0 files that trips a
	// Level-0-to-Level-1 compaction. Default 4.
	L0FileThreshold int

	// LevelSizeMultiplier is each level's byte budget relative to the
	// level above it. Default 10.
	LevelSizeMultiplier int64

	// Level1BaseBytes is Level-1's byte budget. Default 100 KiB.
	Level1BaseBytes int64

	// CompactionInterval is how often the background scheduler checks for
	// compaction work. Default 5s.
	CompactionInterval time.Duration

	// MaxLevel is the deepest level the tree may grow into. Default 6.
	MaxLevel int

	// Logger receives the engine's structured log output. Default: a JSON
	// handler writing to stderr at Info level.
	Logger *slog.Logger
}

// DefaultOptions returns the documented defaults for dataDir.
func DefaultOptions(dataDir string) Options {
	d := engine.DefaultConfig(dataDir)
	return Options{
		DataDir:              d.DataDir,
		MemTableFlushEntries: d.MemTableFlushEntries,
		MemTableFlushBytes:   d.MemTableFlushBytes,
		BloomFPR:             d.BloomFPR,
		L0FileThreshold:      d.L0FileThreshold,
		LevelSizeMultiplier:  d.LevelSizeMultiplier,
		Level1BaseBytes:      d.Level1BaseBytes,
		CompactionInterval:   d.CompactionInterval,
		MaxLevel:             d.MaxLevel,
	}
}

func (o Options) toConfig() engine.Config {
	return engine.Config{
		DataDir:              o.DataDir,
		MemTableFlushEntries: o.MemTableFlushEntries,
		MemTableFlushBytes:   o.MemTableFlushBytes,
		BloomFPR:             o.BloomFPR,
		L0FileThreshold:      o.L0FileThreshold,
		LevelSizeMultiplier:  o.LevelSizeMultiplier,
		Level1BaseBytes:      o.Level1BaseBytes,
		CompactionInterval:   o.CompactionInterval,
		MaxLevel:             o.MaxLevel,
		Logger:               o.Logger,
	}
}
