package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chorequest/chorequest/internal/cache"
	"github.com/chorequest/chorequest/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "entries",
	Short:   "List reward entries from the local cache",
	Long: `List reward entries, newest first.

Reads only the local cache, so this works offline and reflects your own
writes immediately. Date filters accept natural language.

Examples:
  cq list
  cq list --since "last monday" --until yesterday
  cq list --category chores --search kitchen
  cq list --page 2 --page-size 50`,
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		owner := a.requireOwner()
		ctx := context.Background()

		filter := cache.EntryFilter{}
		filter.Page, _ = cmd.Flags().GetInt("page")
		filter.PageSize, _ = cmd.Flags().GetInt("page-size")
		filter.Search, _ = cmd.Flags().GetString("search")

		if catName, _ := cmd.Flags().GetString("category"); catName != "" {
			filter.CategoryID = a.findCategory(ctx, owner, catName).ID
		}
		now := time.Now()
		if since, _ := cmd.Flags().GetString("since"); since != "" {
			t, err := parseWhen(since, now)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			filter.From = &t
		}
		if until, _ := cmd.Flags().GetString("until"); until != "" {
			t, err := parseWhen(until, now)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			filter.To = &t
		}

		page, err := a.store.GetEntries(ctx, owner, filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing entries: %v\n", err)
			os.Exit(1)
		}

		if len(page.Items) == 0 {
			fmt.Println("No entries found")
			return
		}

		cats, err := a.store.GetCategories(ctx, owner)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing categories: %v\n", err)
			os.Exit(1)
		}

		fmt.Print(ui.FormatEntryTable(page.Items, cats))

		pageNum := filter.Page
		if pageNum < 1 {
			pageNum = 1
		}
		footer := fmt.Sprintf("%d of %d entries (page %d)", len(page.Items), page.TotalCount, pageNum)
		if page.HasNextPage {
			footer += ", more with --page " + fmt.Sprint(pageNum+1)
		}
		fmt.Println(ui.RenderMuted(footer))

		if total, err := a.store.GetTotalPoints(ctx, owner); err == nil {
			fmt.Printf("Total: %d points\n", total)
		}
	},
}

func init() {
	listCmd.Flags().String("since", "", "Only entries earned at or after this time")
	listCmd.Flags().String("until", "", "Only entries earned at or before this time")
	listCmd.Flags().StringP("category", "c", "", "Filter by category name or ID")
	listCmd.Flags().StringP("search", "s", "", "Case-insensitive description search")
	listCmd.Flags().Int("page", 1, "Page number")
	listCmd.Flags().Int("page-size", 20, "Entries per page")
	rootCmd.AddCommand(listCmd)
}
