package main

import (
	"fmt"
	"os"
	"time"

	"symphonybacktest/internal/domain"
	l3_service "symphonybacktest/internal/service/l3"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type backtestFlags struct {
	start           string
	end             string
	capital         float64
	costBps         float64
	rebalance       string
	threshold       float64
	benchmark       bool
	benchmarkSymbol string
	maxDays         int
	parity          bool
	quiet           bool
}

func (f backtestFlags) rebalancePolicy(c *cobra.Command) (*domain.RebalancePolicy, error) {
	if c.Flags().Changed("threshold") {
		p := domain.ThresholdRebalance(f.threshold)
		return &p, nil
	}
	if f.rebalance == "" {
		return nil, nil
	}
	frequency, err := domain.ParseRebalanceFrequency(f.rebalance)
	if err != nil {
		return nil, err
	}
	return &domain.RebalancePolicy{Frequency: frequency}, nil
}

// progressReporter draws a bar on stderr sized on the first simulated
// day, when the session count is known.
func progressReporter(description string) func(l3_service.DayProgress) {
	var bar *progressbar.ProgressBar
	return func(p l3_service.DayProgress) {
		if bar == nil {
			bar = progressbar.NewOptions(p.Total,
				progressbar.OptionSetDescription(description),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Add(1)
	}
}

func newBacktestCommand(flags *rootFlags) *cobra.Command {
	f := backtestFlags{}
	c := &cobra.Command{
		Use:   "backtest <script.json>",
		Short: "Simulate a strategy's daily NAV over a date range",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			strategy, err := readStrategy(c, args[0])
			if err != nil {
				return err
			}
			start, err := time.Parse(time.DateOnly, f.start)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			end := time.Now()
			if f.end != "" {
				end, err = time.Parse(time.DateOnly, f.end)
				if err != nil {
					return fmt.Errorf("invalid --end: %w", err)
				}
			}
			rebalance, err := f.rebalancePolicy(c)
			if err != nil {
				return err
			}

			deps, err := initialize(flags)
			if err != nil {
				return err
			}
			opts := flags.options(deps.Config.Options)
			opts.ParityMode = opts.ParityMode || f.parity

			in := l3_service.BacktestInput{
				Strategy:           strategy,
				Start:              start,
				End:                end,
				InitialCapital:     f.capital,
				TransactionCostBps: f.costBps,
				Options:            opts,
				Rebalance:          rebalance,
				IncludeBenchmark:   f.benchmark,
				BenchmarkSymbol:    f.benchmarkSymbol,
				MaxDays:            f.maxDays,
			}
			if !f.quiet {
				in.OnDay = progressReporter(fmt.Sprintf("backtesting %s", strategy.Name))
			}

			result, err := deps.BacktestService.RunBacktest(c.Context(), in)
			if err != nil {
				return err
			}
			return printJson(c, result)
		},
	}
	c.Flags().StringVar(&f.start, "start", "", "first simulated day (YYYY-MM-DD)")
	c.Flags().StringVar(&f.end, "end", "", "last simulated day (YYYY-MM-DD), defaults to today")
	c.Flags().Float64Var(&f.capital, "capital", 10000, "initial capital")
	c.Flags().Float64Var(&f.costBps, "cost-bps", 0, "transaction cost in basis points of turnover")
	c.Flags().StringVar(&f.rebalance, "rebalance", "", "override the script's rebalance frequency")
	c.Flags().Float64Var(&f.threshold, "threshold", 0, "rebalance only when turnover exceeds this fraction")
	c.Flags().BoolVar(&f.benchmark, "benchmark", false, "compare against a benchmark symbol")
	c.Flags().StringVar(&f.benchmarkSymbol, "benchmark-symbol", l3_service.DefaultBenchmarkSymbol, "benchmark symbol")
	c.Flags().IntVar(&f.maxDays, "max-days", l3_service.DefaultMaxBacktestDays, "largest allowed range in trading days")
	c.Flags().BoolVar(&f.parity, "parity", false, "decide each day on that day's close")
	c.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "hide the progress bar")
	_ = c.MarkFlagRequired("start")
	return c
}
