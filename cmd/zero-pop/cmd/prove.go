package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/gematik/zero-pop/pkg/attest"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	proveCmd.Flags().StringP("url", "u", "http://127.0.0.1:8080", "Base URL of the verifier")
	viper.BindPFlag("url", proveCmd.Flags().Lookup("url"))
	rootCmd.AddCommand(proveCmd)
}

var proveCmd = &cobra.Command{
	Use:   "prove",
	Short: "Prove possession of a fresh key to a running verifier",
	Run: func(cmd *cobra.Command, args []string) {
		submission, err := prove(cmd.Context(), viper.GetString("url"))
		if err != nil {
			slog.Error("Holder failed", "error", err)
			os.Exit(1)
		}
		printSubmission(submission)
	},
}

func prove(ctx context.Context, baseURL string) (*attest.Submission, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	client := attest.NewClient()
	return client.Prove(ctx, baseURL+"/nonce", baseURL+"/verify")
}

func printSubmission(submission *attest.Submission) {
	if submission.Success() {
		fmt.Printf("Verification response: %d %s\n", submission.StatusCode, submission.Status)
		return
	}
	fmt.Printf("Verification response: %d %s\n", submission.StatusCode, submission.Error)
}
