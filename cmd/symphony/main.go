package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"symphonybacktest/cmd"
	"symphonybacktest/internal/domain"
	l2_service "symphonybacktest/internal/service/l2"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	source     string
	adjustment string
	debug      bool
	cacheOnly  bool
	refresh    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:          "symphony",
		Short:        "Evaluate and backtest symphony allocation scripts",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", os.Getenv("SYMPHONY_CONFIG"), "path to config yaml")
	root.PersistentFlags().StringVar(&flags.source, "source", "", "price source: memory, cache, csv, alpaca or yahoo")
	root.PersistentFlags().StringVar(&flags.adjustment, "adjustment", "", "price adjustment: raw, split, dividend or all")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "include evaluation reasoning")
	root.PersistentFlags().BoolVar(&flags.cacheOnly, "cache-only", false, "never call a remote price source")
	root.PersistentFlags().BoolVar(&flags.refresh, "refresh", false, "refetch prices even when the cache is fresh")

	root.AddCommand(
		newEvaluateCommand(flags),
		newBacktestCommand(flags),
		newServeCommand(flags),
		newScheduleCommand(flags),
	)
	return root
}

func initialize(flags *rootFlags) (*cmd.Dependencies, error) {
	return cmd.InitializeDependencies(flags.configPath)
}

// options layers the command line over the configured defaults.
func (f *rootFlags) options(base domain.Options) domain.Options {
	opts := base
	if f.source != "" {
		opts.PriceSource = domain.PriceSource(f.source)
	}
	if f.adjustment != "" {
		opts.DataAdjustment = domain.DataAdjustment(f.adjustment)
	}
	if f.debug {
		opts.Debug = true
	}
	if f.cacheOnly {
		opts.CacheOnly = true
	}
	if f.refresh {
		opts.PriceRefresh = true
	}
	return opts
}

// readStrategy loads a JSON raw tree from path, or stdin for "-".
func readStrategy(c *cobra.Command, path string) (*domain.Strategy, error) {
	var (
		script []byte
		err    error
	)
	if path == "-" {
		script, err = io.ReadAll(c.InOrStdin())
	} else {
		script, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return l2_service.ParseStrategy(l2_service.JSONParser{}, script)
}

func printJson(c *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.OutOrStdout(), string(out))
	return err
}
