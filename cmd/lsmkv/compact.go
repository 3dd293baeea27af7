package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Run compaction jobs immediately, rather than waiting on the background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			start := time.Now()
			if err := db.Compact(); err != nil {
				return fmt.Errorf("compact: %w", err)
			}
			fmt.Printf("compaction complete (%s)\n", time.Since(start))
			return nil
		},
	}
}
