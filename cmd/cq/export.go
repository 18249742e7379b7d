package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chorequest/chorequest/internal/export"
	"github.com/chorequest/chorequest/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "advanced",
	Short:   "Export the local cache to a JSONL snapshot",
	Long: `Write all categories and entries to a JSONL file.

Snapshots are used for backups and for seeding a new device before its
first sync. The default output file is chorequest.jsonl.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		owner := a.requireOwner()

		path := "chorequest.jsonl"
		if len(args) == 1 {
			path = args[0]
		}

		res, err := export.ExportFile(context.Background(), a.store, owner, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Exported to %s\n", ui.RenderPass("✓"), path)
		fmt.Printf("   Entries:    %d\n", res.EntriesExported)
		fmt.Printf("   Categories: %d\n", res.CategoriesExported)
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "advanced",
	Short:   "Import a JSONL snapshot into the local cache",
	Long: `Load a snapshot produced by 'cq export' into the local cache.

Rows with matching IDs are replaced. Records marked dirty in the
snapshot stay dirty, so a following 'cq sync now' pushes them.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		a.requireOwner()

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")

		res, err := export.Import(context.Background(), a.store, export.ImportOptions{
			Path:   args[0],
			DryRun: dryRun,
			Backup: backup,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error importing: %v\n", err)
			os.Exit(1)
		}

		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d entries, %d categories\n",
			ui.RenderPass("✓"), verb, res.EntriesImported, res.CategoriesImported)
		if res.BackupCreated != "" {
			fmt.Printf("   Backup: %s\n", res.BackupCreated)
		}
		for _, msg := range res.Errors {
			fmt.Printf("   %s %s\n", ui.RenderWarn("⚠"), msg)
		}
	},
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "Parse and validate without writing")
	importCmd.Flags().Bool("backup", false, "Copy the input file aside first")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
