package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a guided walkthrough of puts, gets, delete, and update against the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			fmt.Println("1. Inserting demo data...")
			data := []struct{ key, value string }{
				{"user:1001", "Alice Johnson"},
				{"user:1002", "Bob Smith"},
				{"user:1003", "Carol Davis"},
				{"product:2001", "Laptop Computer"},
				{"product:2002", "Wireless Mouse"},
				{"order:3001", "Order for user:1001"},
			}
			for _, d := range data {
				if err := db.Put([]byte(d.key), []byte(d.value)); err != nil {
					return fmt.Errorf("put %s: %w", d.key, err)
				}
				fmt.Printf("  PUT %s = %s\n", d.key, d.value)
			}

			fmt.Println("\n2. Retrieving data...")
			for _, key := range []string{"user:1001", "product:2001", "nonexistent"} {
				value, ok, err := db.Get([]byte(key))
				if err != nil {
					return fmt.Errorf("get %s: %w", key, err)
				}
				if ok {
					fmt.Printf("  GET %s = %s\n", key, value)
				} else {
					fmt.Printf("  GET %s = <not found>\n", key)
				}
			}

			fmt.Println("\n3. Deleting a record...")
			if err := db.Delete([]byte("user:1002")); err != nil {
				return fmt.Errorf("delete user:1002: %w", err)
			}
			if _, ok, err := db.Get([]byte("user:1002")); err != nil {
				return err
			} else if ok {
				fmt.Println("  ERROR: user:1002 should be deleted")
			} else {
				fmt.Println("  VERIFIED: user:1002 is deleted")
			}

			fmt.Println("\n4. Updating a record...")
			if err := db.Put([]byte("user:1001"), []byte("Alice Johnson (Updated)")); err != nil {
				return fmt.Errorf("update user:1001: %w", err)
			}
			if value, ok, err := db.Get([]byte("user:1001")); err != nil {
				return err
			} else if ok {
				fmt.Printf("  VERIFIED: user:1001 = %s\n", value)
			}

			fmt.Println("\n5. Flushing and compacting...")
			if err := db.Flush(); err != nil {
				return fmt.Errorf("flush: %w", err)
			}
			if err := db.Compact(); err != nil {
				return fmt.Errorf("compact: %w", err)
			}

			fmt.Println("\n6. Final statistics:")
			s := db.Stats()
			fmt.Printf("  memtable entries: %d, reads: %d, writes: %d\n", s.MemTableEntries, s.Reads, s.Writes)

			fmt.Println("\nDemo complete.")
			return nil
		},
	}
}
