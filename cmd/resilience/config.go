package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/hallucifix/go-resilience/config"
	"github.com/hallucifix/go-resilience/tui"
	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate or print configuration",
	}
	cmd.AddCommand(newConfigCheckCmd(a))
	cmd.AddCommand(newConfigDefaultCmd(a))
	return cmd
}

func newConfigCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print a summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				tui.ShowError(a.stdout, "%s", err)
				return errors.New("invalid configuration")
			}
			printSummary(a, cfg)
			tui.ShowSuccess(a.stdout, "configuration is valid")
			return nil
		},
	}
}

func newConfigDefaultCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "default",
		Short: "Print the default configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.Marshal(config.Default())
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(data)
			return err
		},
	}
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return tui.Muted("disabled")
}

func orUnlimited(n float64, format func(float64) string) string {
	if n <= 0 {
		return tui.Muted("unlimited")
	}
	return format(n)
}

func dollars(v float64) string {
	return "$" + humanize.FormatFloat("#,###.##", v)
}

func count(v float64) string {
	return humanize.Comma(int64(v))
}

func printSummary(a *app, cfg config.Config) {
	fmt.Fprintln(a.stdout, tui.Banner("cache", tui.KeyValues(
		[2]string{"default ttl", cfg.Cache.DefaultTTL.String()},
		[2]string{"max size", humanize.IBytes(uint64(cfg.Cache.MaxSize))},
		[2]string{"max entries", humanize.Comma(int64(cfg.Cache.MaxEntries))},
	)))

	dedupLimit := tui.Muted("unlimited")
	if cfg.Dedup.MaxConcurrent > 0 {
		dedupLimit = strconv.Itoa(cfg.Dedup.MaxConcurrent)
	}
	fmt.Fprintln(a.stdout, tui.Banner("deduplication", tui.KeyValues(
		[2]string{"status", enabled(cfg.Optimizer.Deduplication)},
		[2]string{"ttl", cfg.Dedup.TTL.String()},
		[2]string{"max pending keys", dedupLimit},
	)))

	fmt.Fprintln(a.stdout, tui.Banner("recovery", tui.KeyValues(
		[2]string{"status", enabled(cfg.Recovery.Enabled)},
		[2]string{"max concurrent", strconv.Itoa(cfg.Recovery.MaxConcurrent)},
		[2]string{"cooldown", cfg.Recovery.Cooldown.String()},
		[2]string{"retries", strconv.Itoa(cfg.Retry.MaxRetries)},
		[2]string{"circuit breaker", enabled(cfg.Breaker.Enabled)},
	)))

	snapshots := [][2]string{{"driver", tui.Muted("disabled")}}
	switch cfg.Snapshot.Driver {
	case config.DriverSQLite:
		snapshots = [][2]string{{"driver", "sqlite"}, {"path", cfg.Snapshot.Path}}
	case config.DriverRedis:
		snapshots = [][2]string{{"driver", "redis"}, {"address", cfg.Snapshot.RedisAddr.String()}}
	}
	if cfg.Snapshot.Driver != "" {
		snapshots = append(snapshots,
			[2]string{"name", cfg.Snapshot.Name},
			[2]string{"restore on start", enabled(cfg.Snapshot.RestoreOnStart)},
		)
	}
	fmt.Fprintln(a.stdout, tui.Banner("snapshots", tui.KeyValues(snapshots...)))

	if cfg.Telemetry.Endpoint != "" {
		fmt.Fprintln(a.stdout, tui.Banner("telemetry", tui.KeyValues(
			[2]string{"endpoint", cfg.Telemetry.Endpoint},
			[2]string{"service", cfg.Telemetry.ServiceName},
			[2]string{"auth token", cfg.Telemetry.AuthToken.String()},
		)))
	}

	if len(cfg.Optimizer.Providers) == 0 {
		tui.ShowWarning(a.stdout, "no provider limits configured")
		return
	}
	names := make([]string, 0, len(cfg.Optimizer.Providers))
	for name := range cfg.Optimizer.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		l := cfg.Optimizer.Providers[name]
		rows = append(rows, []string{
			name,
			orUnlimited(float64(l.RequestsPerMinute), count),
			orUnlimited(float64(l.RequestsPerHour), count),
			orUnlimited(l.MaxCostPerRequest, dollars),
			orUnlimited(l.DailyCostLimit, dollars),
			orUnlimited(l.MonthlyCostLimit, dollars),
		})
	}
	tui.Table(a.stdout, []string{"Provider", "Per Minute", "Per Hour", "Per Request", "Daily", "Monthly"}, rows)
	if !cfg.Optimizer.EnforceCost {
		tui.ShowWarning(a.stdout, "cost limits are reported but not enforced")
	}
}
