package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chorequest/chorequest/internal/model"
	"github.com/chorequest/chorequest/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add <points> <description...>",
	GroupID: "entries",
	Short:   "Record a reward entry",
	Long: `Record points for a completed chore, good deed, or deduction.

The entry is saved locally right away and synced to the family store in
the background. Negative points record deductions.

Examples:
  cq add 10 Cleaned the kitchen
  cq add -5 Lost a library book
  cq add 15 Helped with groceries --category chores
  cq add 20 Finished book report --earned yesterday`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		owner := a.requireOwner()
		ctx := context.Background()

		points, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: points must be a number, got %q\n", args[0])
			os.Exit(1)
		}

		e := &model.RewardEntry{
			OwnerID:     owner,
			Description: strings.Join(args[1:], " "),
			Points:      points,
		}

		if catName, _ := cmd.Flags().GetString("category"); catName != "" {
			e.CategoryID = a.findCategory(ctx, owner, catName).ID
		}
		if earned, _ := cmd.Flags().GetString("earned"); earned != "" {
			t, err := parseWhen(earned, time.Now())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			e.EarnedAt = t
		}

		eng, rs := a.engine()
		if rs != nil {
			defer rs.Close()
		}

		if err := eng.AddEntry(ctx, e); err != nil {
			fmt.Fprintf(os.Stderr, "Error recording entry: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Recorded %s  %s\n", ui.RenderPass("✓"), ui.FormatPoints(points), e.Description)

		if rs != nil {
			stats, err := eng.SyncNow(ctx)
			if err == nil && stats.Completed > 0 {
				fmt.Printf("  %s\n", ui.RenderMuted("synced"))
			}
		} else {
			fmt.Printf("  %s\n", ui.RenderMuted("offline, queued for sync"))
		}

		if total, err := eng.GetCachedTotalPoints(ctx, owner); err == nil {
			fmt.Printf("  Total: %d points\n", total)
		}
	},
}

func init() {
	addCmd.Flags().StringP("category", "c", "", "Category name or ID")
	addCmd.Flags().StringP("earned", "e", "", "When it was earned (natural language or ISO date)")
	rootCmd.AddCommand(addCmd)
}
