// cmd/auspex/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signalnine/auspex/internal/agent"
	"github.com/signalnine/auspex/internal/config"
	"github.com/signalnine/auspex/internal/detector"
)

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "auspex",
	Short: "host/network telemetry anomaly detection and response",
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the host agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer log.Sync()

		cfg, err := config.LoadAgentConfig(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		return agent.New(cfg, log.Named("agent")).Run(signalContext())
	},
}

var detectorCmd = &cobra.Command{
	Use:   "detector",
	Short: "Run the central detector",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer log.Sync()

		cfg, err := config.LoadDetectorConfig(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		srv, err := detector.NewServer(cfg, log.Named("detector"))
		if err != nil {
			return err
		}
		return srv.Run(signalContext())
	},
}

func newLogger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()
	return ctx
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "auspex.yml", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(detectorCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
