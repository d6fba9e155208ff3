// Command worker runs the Hydra+ Worker Service (component I): the
// loopback HTTP server that renames, moves, and tags completed downloads.
// Flag/signal/shutdown handling mirrors cmd/state, both grounded on the
// teacher's services/api/cmd/main.go.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/bitm4ncer/hydra-plus/pkg/config"
	"github.com/bitm4ncer/hydra-plus/services/worker"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var (
		port      int
		stateAddr string
		serverDir string
	)

	root := &cobra.Command{
		Use:   "worker",
		Short: "Hydra+ Worker Service: rename, organize, and tag completed downloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(fmt.Sprintf("127.0.0.1:%d", port), stateAddr, serverDir)
		},
	}
	root.Flags().IntVar(&port, "port", config.EnvInt("HYDRA_WORKER_PORT", 3848), "listen port (bound to 127.0.0.1 only, §6)")
	root.Flags().StringVar(&stateAddr, "state-addr", config.Env("HYDRA_STATE_ADDR", "127.0.0.1:3847"), "State Service base address, for progress/event callbacks")
	root.Flags().StringVar(&serverDir, "server-dir", config.Env("HYDRA_SERVER_DIR", "Server"), "directory for credentials JSON file")

	if err := root.Execute(); err != nil {
		slog.Error("worker: startup failed", "err", err)
		os.Exit(1)
	}
}

func run(addr, stateAddr, serverDir string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if host != "127.0.0.1" && host != "localhost" && host != "" {
		return fmt.Errorf("refusing non-loopback listen address %q (§6: bind loopback only)", addr)
	}

	svc, err := worker.New(worker.Config{
		Addr:            addr,
		StateBaseURL:    "http://" + stateAddr,
		CredentialsPath: filepath.Join(serverDir, "spotify-credentials.json"),
		DebugPath:       filepath.Join(serverDir, "debug-settings.json"),
	})
	if err != nil {
		return fmt.Errorf("init worker service: %w", err)
	}

	r := chi.NewRouter()
	svc.Routes(r)

	httpServer := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go svc.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("worker: listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	slog.Info("worker: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
