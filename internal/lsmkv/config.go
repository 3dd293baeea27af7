package lsmkv

import (
	"log/slog"
	"time"
)

// Size limits enforced at the write boundary, ahead of any WAL write.
const (
	MaxKeySize   = 64 * 1024
	MaxValueSize = 4 * 1024 * 1024
)

// Config mirrors the engine's recognized configuration options.
type Config struct {
	DataDir string // required

	MemTableFlushEntries int           // default 50
	MemTableFlushBytes   int64         // default 4 MiB
	BloomFPR             float64       // default 0.01
	L0FileThreshold      int           // default 4
	LevelSizeMultiplier  int64         // default 10
	Level1BaseBytes      int64         // default 100 KiB
	CompactionInterval   time.Duration // default 5s
	MaxLevel             int           // default 6

	Logger *slog.Logger // default: JSON handler to stderr
}

// DefaultConfig returns the documented defaults for dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:              dataDir,
		MemTableFlushEntries: 50,
		MemTableFlushBytes:   4 * 1024 * 1024,
		BloomFPR:             0.01,
		L0FileThreshold:      4,
		LevelSizeMultiplier:  10,
		Level1BaseBytes:      100 * 1024,
		CompactionInterval:   5 * time.Second,
		MaxLevel:             6,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.DataDir)
	if c.MemTableFlushEntries > 0 {
		d.MemTableFlushEntries = c.MemTableFlushEntries
	}
	if c.MemTableFlushBytes > 0 {
		d.MemTableFlushBytes = c.MemTableFlushBytes
	}
	if c.BloomFPR > 0 {
		d.BloomFPR = c.BloomFPR
	}
	if c.L0FileThreshold > 0 {
		d.L0FileThreshold = c.L0FileThreshold
	}
	if c.LevelSizeMultiplier > 0 {
		d.LevelSizeMultiplier = c.LevelSizeMultiplier
	}
	if c.Level1BaseBytes > 0 {
		d.Level1BaseBytes = c.Level1BaseBytes
	}
	if c.CompactionInterval > 0 {
		d.CompactionInterval = c.CompactionInterval
	}
	if c.MaxLevel > 0 {
		d.MaxLevel = c.MaxLevel
	}
	d.Logger = c.Logger
	return d
}
