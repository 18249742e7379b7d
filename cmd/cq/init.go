package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chorequest/chorequest/internal/config"
	"github.com/chorequest/chorequest/internal/ui"
)

const configTemplate = `# ChoreQuest configuration.
# Every value can be overridden by a CHOREQUEST_* environment variable,
# e.g. CHOREQUEST_OWNER_ID or CHOREQUEST_REMOTE_URL.

# Family member whose entries this device records.
owner_id: ""

remote:
  # libSQL URL of the shared family store, e.g.
  # libsql://family-tracker.turso.io
  url: ""
  auth_token: ""

sync:
  interval: 5m
  batch_size: 50
  worker_limit: 4

log:
  level: info
`

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "advanced",
	Short:   "Create a ChoreQuest workspace in the current directory",
	Long: `Create a .chorequest directory with a starter config.

Commands run from anywhere below this directory will find and use it,
like a VCS root.`,
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		stateDir := filepath.Join(cwd, config.StateDirName)
		if _, err := os.Stat(stateDir); err == nil {
			fmt.Fprintf(os.Stderr, "Error: %s already exists\n", stateDir)
			os.Exit(1)
		}

		if err := os.MkdirAll(stateDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", stateDir, err)
			os.Exit(1)
		}

		configPath := filepath.Join(stateDir, "config.yaml")
		if err := os.WriteFile(configPath, []byte(configTemplate), 0600); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Initialized ChoreQuest workspace\n", ui.RenderPass("✓"))
		fmt.Printf("   Config: %s\n", configPath)
		fmt.Printf("\nNext steps:\n")
		fmt.Printf("   1. Set owner_id and remote.url in the config\n")
		fmt.Printf("   2. Record something: cq add 10 Made my bed\n")
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
