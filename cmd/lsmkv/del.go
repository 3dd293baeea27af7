package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func delCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "del <key>",
		Aliases: []string{"delete", "rm"},
		Short:   "Delete a key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			start := time.Now()
			if err := db.Delete([]byte(key)); err != nil {
				return fmt.Errorf("delete %q: %w", key, err)
			}
			fmt.Printf("OK (%s)\n", time.Since(start))
			return nil
		},
	}
}
