package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value...>",
		Short: "Store a key-value pair",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := strings.Join(args[1:], " ")

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			logVerbose("putting key %q (%d bytes)", key, len(value))
			start := time.Now()
			if err := db.Put([]byte(key), []byte(value)); err != nil {
				return fmt.Errorf("put %q: %w", key, err)
			}
			fmt.Printf("OK (%s)\n", time.Since(start))
			return nil
		},
	}
}
