// Command plugin is a reference harness for the Plugin Coordinator
// (component J): it wires pkg/plugin.Coordinator against an in-memory mock
// P2P client so J's polling, scoring, and stall-detection logic has a
// runnable home in this repo, the same way cmd/ingest stood alone as a
// driver for the teacher's bulk-ingestion logic. The mock is not part of
// the production contract — a real host application substitutes its own
// p2pclient.Client implementation.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bitm4ncer/hydra-plus/pkg/config"
	"github.com/bitm4ncer/hydra-plus/pkg/p2pclient"
	"github.com/bitm4ncer/hydra-plus/pkg/plugin"
)

func main() {
	var (
		stateAddr  string
		workerAddr string
		downloadDir string
	)

	root := &cobra.Command{
		Use:   "plugin",
		Short: "Reference harness for the Hydra+ Plugin Coordinator, backed by a mock P2P client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(stateAddr, workerAddr, downloadDir)
		},
	}
	root.Flags().StringVar(&stateAddr, "state-addr", config.Env("HYDRA_STATE_ADDR", "127.0.0.1:3847"), "State Service base address")
	root.Flags().StringVar(&workerAddr, "worker-addr", config.Env("HYDRA_WORKER_ADDR", "127.0.0.1:3848"), "Worker Service base address")
	root.Flags().StringVar(&downloadDir, "download-dir", config.Env("HYDRA_DOWNLOAD_DIR", "."), "directory the mock P2P client drops completed downloads into")

	if err := root.Execute(); err != nil {
		slog.Error("plugin: startup failed", "err", err)
		os.Exit(1)
	}
}

func run(stateAddr, workerAddr, downloadDir string) error {
	mock := p2pclient.NewMock()
	coord := plugin.New(mock, "http://"+stateAddr, "http://"+workerAddr, downloadDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("plugin: coordinator running against mock P2P client", "state", stateAddr, "worker", workerAddr)
	coord.Run(ctx)
	return nil
}
