package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chorequest/chorequest/internal/cache"
	"github.com/chorequest/chorequest/internal/ui"
)

var cacheCmd = &cobra.Command{
	Use:     "cache",
	GroupID: "advanced",
	Short:   "Local cache management",
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local cache status",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		owner := a.requireOwner()
		ctx := context.Background()

		info, err := os.Stat(a.store.Path())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error checking cache: %v\n", err)
			os.Exit(1)
		}

		sizeStr := fmt.Sprintf("%d bytes", info.Size())
		if info.Size() > 1024*1024 {
			sizeStr = fmt.Sprintf("%.1f MB", float64(info.Size())/(1024*1024))
		} else if info.Size() > 1024 {
			sizeStr = fmt.Sprintf("%.1f KB", float64(info.Size())/1024)
		}

		page, err := a.store.GetEntries(ctx, owner, cache.EntryFilter{PageSize: 1})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading cache: %v\n", err)
			os.Exit(1)
		}
		counts, err := a.store.SyncQueueCounts(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading queue: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s Cache Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Location: %s\n", a.store.Path())
		fmt.Printf("Size:     %s\n", sizeStr)
		fmt.Printf("Entries:  %d\n", page.TotalCount)
		fmt.Printf("Queue:    %s\n", ui.FormatQueueCounts(counts))
		fmt.Printf("Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		fmt.Println()
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Evict cached entries and custom categories",
	Long: `Remove the owner's cached entries and custom categories.

Default categories and the sync queue are kept. Synced data comes back
from the remote store on the next 'cq serve' run; unsynced local edits
still in the queue are pushed as usual.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		owner := a.requireOwner()
		ctx := context.Background()

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			ok, err := ui.Confirm(
				"Clear the local cache?",
				"Synced data is re-fetched from the family store; this device will look empty until then.")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if !ok {
				fmt.Println("Cancelled")
				return
			}
		}

		if err := a.store.ClearCache(ctx, owner); err != nil {
			fmt.Fprintf(os.Stderr, "Error clearing cache: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Cache cleared\n", ui.RenderPass("✓"))
	},
}

func init() {
	cacheClearCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
	cacheCmd.AddCommand(cacheStatusCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
