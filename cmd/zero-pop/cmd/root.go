package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/gematik/zero-pop/pkg/config"
	"github.com/gematik/zero-pop/pkg/nonce"
	"github.com/phsym/console-slog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var verbose = false
var workdir = ""

var (
	rootCmd = &cobra.Command{
		Use:   "zero-pop",
		Short: "Proof-of-possession attestation service and holder",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if workdir != "" {
				err := os.Chdir(workdir)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Failed to change working directory: %v\n", err)
					os.Exit(1)
				}
			}
			config.LoadEnv(".env")

			logLevel := slog.LevelInfo
			if verbose {
				logLevel = slog.LevelDebug
			}
			if os.Getenv("PRETTY_LOGS") != "false" {
				logger := slog.New(
					console.NewHandler(os.Stderr, &console.HandlerOptions{Level: logLevel}),
				)
				slog.SetDefault(logger)
			} else {
				slog.SetLogLoggerLevel(logLevel)
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("POP")
	persistentFlags := rootCmd.PersistentFlags()
	persistentFlags.StringVarP(&workdir, "workdir", "w", "", "working directory")
	persistentFlags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	persistentFlags.StringP("config-file", "f", "pop.yaml", "config file")
	viper.BindPFlag("config_file", persistentFlags.Lookup("config-file"))
}

// loadConfig reads the config file. A missing default file falls back to
// built-in defaults, an explicitly requested one is an error.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile := config.ExpandPath(viper.GetString("config_file"))

	explicit := false
	if f := cmd.Flag("config-file"); f != nil {
		explicit = f.Changed
	}

	var cfg *config.Config
	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) && !explicit {
		slog.Debug("Config file not found, using defaults", "config_file", configFile)
		cfg = config.Default()
	} else {
		cfg, err = config.LoadConfigFile(configFile)
		if err != nil {
			return nil, err
		}
	}

	if addr := viper.GetString("addr"); addr != "" {
		cfg.Address = addr
	}
	if backend := viper.GetString("nonce_backend"); backend != "" {
		cfg.Nonce.Backend = nonce.Backend(backend)
	}
	if valkeyAddr := viper.GetString("valkey_addr"); valkeyAddr != "" {
		cfg.Nonce.Valkey.Address = valkeyAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
