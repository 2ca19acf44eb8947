package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gematik/zero-pop/pkg"
	"github.com/gematik/zero-pop/pkg/attestapi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 5 * time.Second

func init() {
	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on (overrides config)")
	serveCmd.Flags().String("nonce-backend", "", "Nonce backend: memory, hashicorp or valkey")
	serveCmd.Flags().String("valkey-addr", "", "Valkey address for the valkey nonce backend")
	viper.BindPFlag("addr", serveCmd.Flags().Lookup("addr"))
	viper.BindPFlag("nonce_backend", serveCmd.Flags().Lookup("nonce-backend"))
	viper.BindPFlag("valkey_addr", serveCmd.Flags().Lookup("valkey-addr"))
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the attestation verifier",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			slog.Error("Failed to load config", "error", err)
			os.Exit(1)
		}

		server, err := attestapi.New(cfg)
		if err != nil {
			slog.Error("Failed to create server", "error", err)
			os.Exit(1)
		}
		slog.Info("Starting zero-pop", "version", pkg.Version, "nonce_backend", cfg.Nonce.Backend)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := serve(ctx, server, cfg.Address); err != nil {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	},
}

// serve runs server on address until ctx is done. The server is closed on
// every return path.
func serve(ctx context.Context, server *attestapi.Server, address string) error {
	defer server.Close()

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", address, err)
	}

	slog.Info("Listening", "addr", listener.Addr().String())
	return runHTTPServer(ctx, server, listener)
}

func newHTTPServer(server *attestapi.Server) *http.Server {
	return &http.Server{
		Handler:           server.Echo(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// runHTTPServer serves until ctx is done, then shuts down gracefully.
func runHTTPServer(ctx context.Context, server *attestapi.Server, listener net.Listener) error {
	httpServer := newHTTPServer(server)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down zero-pop")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
