package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chorequest/chorequest/internal/config"
	"github.com/chorequest/chorequest/internal/connectivity"
	"github.com/chorequest/chorequest/internal/dashboard"
	"github.com/chorequest/chorequest/internal/remote"
	"github.com/chorequest/chorequest/internal/sync"
	"github.com/chorequest/chorequest/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the sync daemon (foreground)",
	Long: `Run the background reconciler in foreground mode.

The daemon:
  1. Probes connectivity and drains the queue whenever the device comes
     back online (touch the '.chorequest/offline' marker file to force
     offline mode)
  2. Drains the sync queue on a periodic schedule
  3. Watches the family store and folds other devices' changes into the
     local cache
  4. Serves a WebSocket dashboard with live sync telemetry

Example usage:
  cq serve                 # dashboard on the configured port
  cq serve --port 9000     # custom dashboard port
  cq serve --no-dashboard  # reconciler only

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		owner := a.requireOwner()

		if a.cfg.Remote.URL == "" {
			fmt.Fprintf(os.Stderr, "Error: remote.url is not configured\n")
			fmt.Fprintf(os.Stderr, "Set remote.url in %s/config.yaml\n", a.stateDir)
			os.Exit(1)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		monitor := connectivity.New(connectivity.Options{
			ProbeAddr:     a.cfg.Connectivity.ProbeAddr,
			ProbeInterval: a.cfg.Connectivity.ProbeInterval,
			OverridePath:  config.OfflineMarkerPath(a.stateDir),
			Logger:        a.log,
		})
		if err := monitor.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting connectivity monitor: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = monitor.Stop() }()

		// The remote store may be unreachable at startup; keep retrying so
		// a laptop that boots on the school bus still comes up.
		rs := a.openRemote()
		for rs == nil {
			fmt.Printf("%s Remote store unreachable, retrying...\n", ui.RenderWarn("⚠"))
			select {
			case <-ctx.Done():
				return
			case <-time.After(30 * time.Second):
			}
			rs = a.openRemote()
		}
		defer rs.Close()

		opts := a.syncOptions()
		opts.Connectivity = monitor

		var srv *dashboard.Server
		if noDash, _ := cmd.Flags().GetBool("no-dashboard"); !noDash {
			port, _ := cmd.Flags().GetInt("port")
			if port == 0 {
				port = a.cfg.Dashboard.Port
			}
			srv = dashboard.NewServer(dashboard.Config{
				Port:   port,
				Status: statusFunc(a, monitor, owner),
				Logger: a.log,
			})
			if err := srv.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
				os.Exit(1)
			}
			defer func() { _ = srv.Stop() }()
			opts.OnEvent = srv.EventSink()

			fmt.Printf("%s Dashboard: ws://localhost:%d/ws\n", ui.RenderAccent("📊"), port)
		}

		eng := sync.New(a.store, sync.Remote{Store: rs}, opts)

		stream := eng.WatchRemoteEntities(ctx, owner, remote.DefaultPollInterval)
		defer stream.Stop()

		fmt.Printf("%s ChoreQuest sync daemon running\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Cache:  %s\n", a.store.Path())
		fmt.Printf("   Remote: %s\n", a.cfg.Remote.URL)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("\nStopped")
	},
}

// statusFunc backs the dashboard's /api/status endpoint.
func statusFunc(a *app, monitor *connectivity.Monitor, owner string) dashboard.StatusFunc {
	return func(ctx context.Context) (dashboard.Status, error) {
		st := dashboard.Status{Online: monitor.IsOnline()}

		total, err := a.store.GetTotalPoints(ctx, owner)
		if err != nil {
			return st, err
		}
		st.TotalPoints = total

		counts, err := a.store.SyncQueueCounts(ctx)
		if err != nil {
			return st, err
		}
		st.Queue = make(map[string]int, len(counts))
		for k, v := range counts {
			st.Queue[string(k)] = v
		}
		st.FailedOps = st.Queue["failed"]
		return st, nil
	}
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "Dashboard port (default from config)")
	serveCmd.Flags().Bool("no-dashboard", false, "Run the reconciler without the dashboard")
	rootCmd.AddCommand(serveCmd)
}
