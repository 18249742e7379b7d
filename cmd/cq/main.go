// cq is the ChoreQuest command line client.
//
// It records reward entries in a local cache first and reconciles them
// with the shared family store in the background, so every command works
// offline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cq",
	Short: "Offline-first family reward tracker",
	Long: `ChoreQuest tracks reward points for family members.

Entries are written to a local cache (.chorequest/cache.db) immediately
and pushed to the shared remote store when connectivity allows, so cq
works on the school bus as well as on the couch.

Quick start:
  cq init                        # create a .chorequest workspace here
  cq add 10 Cleaned the kitchen  # record points
  cq list                        # show recent entries
  cq sync status                 # inspect the sync queue`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "entries", Title: "Entry Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
