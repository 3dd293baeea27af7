package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func scanCmd() *cobra.Command {
	var lo, hi string
	var limit int

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List key-value pairs in a key range",
		Long: `Scan lists every live key in [--lo, --hi] (either bound may be omitted)
in ascending key order, up to --limit results.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			var loBytes, hiBytes []byte
			if lo != "" {
				loBytes = []byte(lo)
			}
			if hi != "" {
				hiBytes = []byte(hi)
			}

			kvs, err := db.Scan(loBytes, hiBytes, limit)
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			if len(kvs) == 0 {
				fmt.Println("(no matching keys)")
				return nil
			}
			for _, kv := range kvs {
				fmt.Printf("%s = %s\n", kv.Key, kv.Value)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&lo, "lo", "", "Lower key bound, inclusive (default: start)")
	cmd.Flags().StringVar(&hi, "hi", "", "Upper key bound, inclusive (default: end)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum results to return (0 = unbounded)")
	return cmd
}
