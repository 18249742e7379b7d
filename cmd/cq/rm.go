package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chorequest/chorequest/internal/cache"
	"github.com/chorequest/chorequest/internal/ui"
)

var rmCmd = &cobra.Command{
	Use:     "rm <entry-id>",
	GroupID: "entries",
	Short:   "Delete a reward entry",
	Long: `Delete a reward entry by ID.

The entry disappears locally right away and the delete is queued for the
family store. Entry IDs show up in 'cq list' output and exports.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		a.requireOwner()
		ctx := context.Background()

		e, err := a.store.GetEntry(ctx, args[0])
		if err != nil {
			if errors.Is(err, cache.ErrNotFound) {
				fmt.Fprintf(os.Stderr, "Error: no entry with ID %s\n", args[0])
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			os.Exit(1)
		}

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			ok, err := ui.Confirm(
				fmt.Sprintf("Delete %q (%+d points)?", e.Description, e.Points),
				"The points will be removed from the total on every device.")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if !ok {
				fmt.Println("Cancelled")
				return
			}
		}

		eng, rs := a.engine()
		if rs != nil {
			defer rs.Close()
		}

		if err := eng.DeleteEntry(ctx, e); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting entry: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Deleted %q\n", ui.RenderPass("✓"), e.Description)
		if rs != nil {
			_, _ = eng.SyncNow(ctx)
		} else {
			fmt.Printf("  %s\n", ui.RenderMuted("offline, queued for sync"))
		}
	},
}

func init() {
	rmCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(rmCmd)
}
