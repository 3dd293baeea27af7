package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			start := time.Now()
			value, ok, err := db.Get([]byte(key))
			elapsed := time.Since(start)
			if err != nil {
				return fmt.Errorf("get %q: %w", key, err)
			}
			if !ok {
				fmt.Printf("(not found) (%s)\n", elapsed)
				return nil
			}
			fmt.Printf("%s (%s)\n", value, elapsed)
			return nil
		},
	}
}
