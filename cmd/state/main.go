// Command state runs the Hydra+ State Service (component D): the loopback
// HTTP server the browser extension and Plugin Coordinator both talk to.
// Flag/signal/shutdown handling is grounded on the teacher's
// services/api/cmd/main.go (chi.Router + signal.NotifyContext +
// http.Server.Shutdown), adapted to a cobra root command per Hydra+'s
// two-binary split.
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
	"github.com/bitm4ncer/hydra-plus/services/state"
)

// shutdownTimeout bounds how long graceful shutdown waits for in-flight
// requests to finish (§5).
const shutdownTimeout = 5 * time.Second

func main() {
	var (
		port      int
		serverDir string
	)

	root := &cobra.Command{
		Use:   "state",
		Short: "Hydra+ State Service: queue, events, progress, credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(fmt.Sprintf("127.0.0.1:%d", port), serverDir)
		},
	}
	root.Flags().IntVar(&port, "port", config.EnvInt("HYDRA_STATE_PORT", 3847), "listen port (bound to 127.0.0.1 only, §6)")
	root.Flags().StringVar(&serverDir, "server-dir", config.Env("HYDRA_SERVER_DIR", "Server"), "directory for queue/credentials/debug JSON files")

	if err := root.Execute(); err != nil {
		slog.Error("state: startup failed", "err", err)
		os.Exit(1)
	}
}

func run(addr, serverDir string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if host != "127.0.0.1" && host != "localhost" && host != "" {
		return fmt.Errorf("refusing non-loopback listen address %q (§6: bind loopback only)", addr)
	}

	svc, err := state.New(state.Config{
		Addr:            addr,
		QueuePath:       filepath.Join(serverDir, "nicotine-queue.json"),
		CredentialsPath: filepath.Join(serverDir, "spotify-credentials.json"),
		DebugPath:       filepath.Join(serverDir, "debug-settings.json"),
	})
	if err != nil {
		return fmt.Errorf("init state service: %w", err)
	}

	r := chi.NewRouter()
	svc.Routes(r)

	httpServer := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go svc.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("state: listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	slog.Info("state: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
