package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/gematik/zero-pop/pkg/attest"
	"github.com/gematik/zero-pop/pkg/attestapi"
	"github.com/spf13/cobra"
)

var demoAddr string

func init() {
	demoCmd.Flags().StringVar(&demoAddr, "listen", "127.0.0.1:0", "Address the temporary verifier listens on")
	rootCmd.AddCommand(demoCmd)
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a verifier and a single holder attempt against it",
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

		submission, err := demo(server, demoAddr)
		if err != nil {
			slog.Error("Demo failed", "error", err)
			os.Exit(1)
		}
		printSubmission(submission)
	},
}

// demo serves server on listenAddr, proves once against it and shuts it
// down again. The server is closed on every return path.
func demo(server *attestapi.Server, listenAddr string) (*attest.Submission, error) {
	defer server.Close()

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", listenAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- runHTTPServer(ctx, server, listener)
	}()

	baseURL := "http://" + listener.Addr().String()
	slog.Info("Verifier listening", "url", baseURL)

	submission, proveErr := prove(ctx, baseURL)
	cancel()
	if err := <-serverDone; err != nil {
		slog.Error("Server failed", "error", err)
	}

	if proveErr != nil {
		return nil, proveErr
	}
	return submission, nil
}
