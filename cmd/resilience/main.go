// Command resilience inspects resilience configurations and cache snapshots
// and serves the stack's metrics.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hallucifix/go-resilience/config"
	"github.com/hallucifix/go-resilience/logger"
	"github.com/spf13/cobra"
)

type app struct {
	stdout     io.Writer
	stderr     io.Writer
	configPath string
	logLevel   string
}

// loadConfig reads --config, falling back to $RESILIENCE_CONFIG. A missing
// default file yields the defaults.
func (a *app) loadConfig(cmd *cobra.Command) (config.Config, error) {
	if cmd.Flags().Changed("config") {
		return config.Load(a.configPath)
	}
	if path, ok := os.LookupEnv(config.EnvConfigPath); ok && path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(a.configPath); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(a.configPath)
}

func (a *app) logger(cfg config.Config) logger.Logger {
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	return cfg.Log.Logger()
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "resilience",
		Short:         "Inspect and run a resilience stack",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)
	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "resilience.yaml", "path to the configuration file")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level")

	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newSnapshotCmd(a))
	cmd.AddCommand(newServeCmd(a))
	return cmd
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	a := &app{stdout: os.Stdout, stderr: os.Stderr}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
