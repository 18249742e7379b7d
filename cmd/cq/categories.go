package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chorequest/chorequest/internal/model"
	"github.com/chorequest/chorequest/internal/ui"
)

var categoriesCmd = &cobra.Command{
	Use:     "categories",
	Aliases: []string{"cat"},
	GroupID: "entries",
	Short:   "Manage entry categories",
}

var categoriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List categories",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		owner := a.requireOwner()

		cats, err := a.store.GetCategories(context.Background(), owner)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing categories: %v\n", err)
			os.Exit(1)
		}
		if len(cats) == 0 {
			fmt.Println("No categories yet; add one with 'cq categories add <name>'")
			return
		}
		fmt.Print(ui.FormatCategoryTable(cats))
	},
}

var categoriesAddCmd = &cobra.Command{
	Use:   "add <name...>",
	Short: "Add a category",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		owner := a.requireOwner()
		ctx := context.Background()

		name := strings.Join(args, " ")
		color, _ := cmd.Flags().GetString("color")

		cats, err := a.store.GetCategories(ctx, owner)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing categories: %v\n", err)
			os.Exit(1)
		}
		for _, c := range cats {
			if strings.EqualFold(c.Name, name) {
				fmt.Fprintf(os.Stderr, "Error: category %q already exists\n", c.Name)
				os.Exit(1)
			}
		}

		eng, rs := a.engine()
		if rs != nil {
			defer rs.Close()
		}

		c := &model.Category{OwnerID: owner, Name: name, Color: color}
		if err := eng.SaveCategory(ctx, c, true); err != nil {
			fmt.Fprintf(os.Stderr, "Error adding category: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Added category %q\n", ui.RenderPass("✓"), name)
		if rs != nil {
			_, _ = eng.SyncNow(ctx)
		}
	},
}

var categoriesRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Delete a category",
	Long: `Delete a category by name or ID.

A category still referenced by live entries cannot be deleted; reassign
or delete those entries first.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		owner := a.requireOwner()
		ctx := context.Background()

		c := a.findCategory(ctx, owner, args[0])

		inUse, err := a.store.IsCategoryInUse(ctx, c.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if inUse {
			fmt.Fprintf(os.Stderr, "Error: category %q is still used by entries\n", c.Name)
			fmt.Fprintf(os.Stderr, "Reassign or delete those entries first (cq list --category %q)\n", c.Name)
			os.Exit(1)
		}

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			ok, err := ui.Confirm(
				fmt.Sprintf("Delete category %q?", c.Name),
				"It will be removed on every device.")
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

		if err := eng.DeleteCategory(ctx, c); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting category: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Deleted category %q\n", ui.RenderPass("✓"), c.Name)
		if rs != nil {
			_, _ = eng.SyncNow(ctx)
		}
	},
}

func init() {
	categoriesAddCmd.Flags().String("color", "", "Display color (hex or ANSI name)")
	categoriesRmCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	categoriesCmd.AddCommand(categoriesListCmd)
	categoriesCmd.AddCommand(categoriesAddCmd)
	categoriesCmd.AddCommand(categoriesRmCmd)
	rootCmd.AddCommand(categoriesCmd)
}
