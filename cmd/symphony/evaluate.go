package main

import (
	"fmt"
	"time"

	"symphonybacktest/internal/domain"
	l3_service "symphonybacktest/internal/service/l3"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newEvaluateCommand(flags *rootFlags) *cobra.Command {
	var (
		budget          float64
		asOf            string
		current         bool
		wholeShares     bool
		allowFallback   bool
		requireComplete bool
	)
	c := &cobra.Command{
		Use:   "evaluate <script.json>",
		Short: "Compute the target allocation at a point in time",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			strategy, err := readStrategy(c, args[0])
			if err != nil {
				return err
			}
			deps, err := initialize(flags)
			if err != nil {
				return err
			}

			opts := flags.options(deps.Config.Options)
			if asOf != "" {
				t, err := time.Parse(time.DateOnly, asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of: %w", err)
				}
				opts.AsOf = t
			}
			if current {
				opts.AsOfMode = domain.AsOfMode_Current
			}
			opts.WholeShares = opts.WholeShares || wholeShares
			opts.AllowFallbackAllocations = opts.AllowFallbackAllocations || allowFallback
			opts.RequireCompleteUniverse = opts.RequireCompleteUniverse || requireComplete

			result, err := deps.EvaluationService.EvaluateAtPointInTime(c.Context(), l3_service.EvaluateInput{
				Strategy: strategy,
				Budget:   decimal.NewFromFloat(budget),
				Options:  opts,
			})
			if err != nil {
				return err
			}
			return printJson(c, result)
		},
	}
	c.Flags().Float64Var(&budget, "budget", 10000, "portfolio value to size positions against")
	c.Flags().StringVar(&asOf, "as-of", "", "evaluation date (YYYY-MM-DD), defaults to today")
	c.Flags().BoolVar(&current, "current", false, "use the latest quote instead of the previous close")
	c.Flags().BoolVar(&wholeShares, "whole-shares", false, "floor quantities to whole shares")
	c.Flags().BoolVar(&allowFallback, "allow-fallback", false, "equal weight available symbols when nothing is selected")
	c.Flags().BoolVar(&requireComplete, "require-complete", false, "fail when any symbol has no history")
	return c
}
