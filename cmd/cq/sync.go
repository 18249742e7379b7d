package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chorequest/chorequest/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Sync queue management",
}

var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Drain the sync queue immediately",
	Long: `Push all pending local mutations to the family store right now.

Normally the background daemon (cq serve) does this on its own schedule;
'cq sync now' forces a pass, for example right before closing a laptop.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		a.requireOwner()
		ctx := context.Background()

		eng, rs := a.engine()
		if rs == nil {
			fmt.Fprintf(os.Stderr, "Error: remote store not configured or unreachable\n")
			fmt.Fprintf(os.Stderr, "Set remote.url in %s/config.yaml\n", a.stateDir)
			os.Exit(1)
		}
		defer rs.Close()

		stats, err := eng.SyncNow(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Sync complete\n", ui.RenderPass("✓"))
		fmt.Printf("   Completed: %d\n", stats.Completed)
		if stats.Retried > 0 {
			fmt.Printf("   Retried:   %d\n", stats.Retried)
		}
		if stats.Failed > 0 {
			fmt.Printf("   %s  %d\n", ui.RenderFail("Failed:"), stats.Failed)
			fmt.Printf("   See 'cq sync status' for details\n")
		}
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync queue status",
	Long: `Display the state of the durable sync queue.

Shows pending and failed operations, the cached points total, and the
authoritative remote total when the store is reachable.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		owner := a.requireOwner()
		ctx := context.Background()

		eng, rs := a.engine()
		if rs != nil {
			defer rs.Close()
		}

		fmt.Printf("\n%s Sync Status\n\n", ui.RenderAccent("📊"))
		if rs != nil {
			fmt.Printf("Remote:  %s\n", ui.RenderPass("reachable"))
		} else {
			fmt.Printf("Remote:  %s\n", ui.RenderWarn("offline"))
		}

		counts, err := eng.QueueCounts(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading queue: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Queue:   %s\n", ui.FormatQueueCounts(counts))

		if total, err := eng.GetCachedTotalPoints(ctx, owner); err == nil {
			fmt.Printf("Local:   %d points\n", total)
		}
		if rs != nil {
			if total, err := eng.RemoteTotalPoints(ctx, owner); err == nil {
				fmt.Printf("Remote:  %d points\n", total)
			}
		}

		failed, err := eng.FailedOps(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading failed operations: %v\n", err)
			os.Exit(1)
		}
		if len(failed) > 0 {
			fmt.Printf("\n%s Permanently failed operations:\n", ui.RenderWarn("⚠"))
			for _, op := range failed {
				fmt.Printf("   %s\n", ui.FormatFailedOp(op))
			}
			fmt.Printf("\nRe-submit the mutation or run 'cq sync resync' to push current state\n")
		}
		fmt.Println()
	},
}

var syncResyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Push all cached entries to the remote store",
	Long: `Push every live cached entry to the family store in batches.

Use this to recover after the remote store was restored from a backup or
after queue operations failed permanently. Last writer wins; local state
overwrites remote state for the pushed entries.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		owner := a.requireOwner()
		ctx := context.Background()

		eng, rs := a.engine()
		if rs == nil {
			fmt.Fprintf(os.Stderr, "Error: remote store not configured or unreachable\n")
			os.Exit(1)
		}
		defer rs.Close()

		if err := eng.ResyncAll(ctx, owner); err != nil {
			fmt.Fprintf(os.Stderr, "Error during resync: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Resync complete\n", ui.RenderPass("✓"))
	},
}

func init() {
	syncCmd.AddCommand(syncNowCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncResyncCmd)
	rootCmd.AddCommand(syncCmd)
}
