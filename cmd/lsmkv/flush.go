package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Force the active memtable to disk as a new SSTable",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			start := time.Now()
			if err := db.Flush(); err != nil {
				return fmt.Errorf("flush: %w", err)
			}
			fmt.Printf("flush complete (%s)\n", time.Since(start))
			return nil
		},
	}
}
