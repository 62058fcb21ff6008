package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rcourtman/fabricpulse/internal/config"
	"github.com/rcourtman/fabricpulse/internal/logging"
	"github.com/rcourtman/fabricpulse/internal/monitoring"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:           "fabricpulse",
	Short:         "FabricPulse - fabric controller poller",
	Long:          `FabricPulse polls network fabric controllers, forwards their faults to the monitoring system and writes interface statistics for it to ingest.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single poll cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll continuously at the configured interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, configPath)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Configuration OK: %s\n", cfg.Path)
		for _, c := range cfg.Controllers {
			fmt.Fprintf(out, "  %-20s %s\n", c.Name, c.Address)
		}
		fmt.Fprintf(out, "Concurrency: %d per controller\n", cfg.Concurrency)
		if cfg.RequestTimeout == 0 {
			fmt.Fprintln(out, "Request timeout: disabled")
		} else {
			fmt.Fprintf(out, "Request timeout: %s\n", cfg.RequestTimeout)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "FabricPulse %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Fprintf(out, "Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Fprintf(out, "Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the configuration file")
	runCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the run summary as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "fabricpulse",
	})
	defer logging.Shutdown()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func initLogging(cfg *config.Config) {
	logging.Init(logging.Config{
		Format:    cfg.Logging.Format,
		Level:     cfg.Logging.Level,
		Component: "fabricpulse",
		FilePath:  cfg.Logging.File,
	})
}

func runOnce(cmd *cobra.Command) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	initLogging(cfg)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	poller, err := monitoring.NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}

	log.Info().Strs("controllers", poller.Controllers()).Msg("Starting FabricPulse")
	summary, err := poller.Run(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	return nil
}
