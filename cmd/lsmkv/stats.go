package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show memtable, level, and Bloom filter statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			s := db.Stats()
			fmt.Println("=== lsmkv statistics ===")
			fmt.Printf("MemTable entries:   %d\n", s.MemTableEntries)
			fmt.Printf("MemTable bytes:     %s\n", formatBytes(s.MemTableBytes))
			fmt.Printf("Reads:              %d\n", s.Reads)
			fmt.Printf("Writes:             %d\n", s.Writes)
			fmt.Printf("Bloom hits/misses:  %d/%d\n", s.BloomHits, s.BloomMisses)
			fmt.Printf("Last flush:         %s\n", s.LastFlushDuration)
			fmt.Printf("Last compaction:    %s\n", s.LastCompactionDuration)
			fmt.Printf("Compacting now:     %t\n", s.IsCompacting)

			if len(s.LevelFileCounts) > 0 {
				fmt.Println("Levels:")
				levels := make([]int, 0, len(s.LevelFileCounts))
				for level := range s.LevelFileCounts {
					levels = append(levels, level)
				}
				sort.Ints(levels)
				for _, level := range levels {
					fmt.Printf("  L%d: %d files, %s\n", level, s.LevelFileCounts[level], formatBytes(s.LevelByteSizes[level]))
				}
			}
			return nil
		},
	}
}
