package main

import (
	"context"
	"os/signal"
	"syscall"

	"symphonybacktest/cmd"
	"symphonybacktest/internal/logger"

	"github.com/spf13/cobra"
)

func newServeCommand(flags *rootFlags) *cobra.Command {
	var port int
	c := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(c *cobra.Command, args []string) error {
			deps, err := initialize(flags)
			if err != nil {
				return err
			}
			defer cmd.CloseDependencies(deps)
			if port == 0 {
				port = deps.Config.Api.Port
			}
			logger.FromContext(c.Context()).Infof("listening on :%d", port)
			return deps.ApiHandler.StartApi(port)
		},
	}
	c.Flags().IntVar(&port, "port", 0, "listen port, defaults to the configured one")
	return c
}

func newScheduleCommand(flags *rootFlags) *cobra.Command {
	var runNow bool
	c := &cobra.Command{
		Use:   "schedule",
		Short: "Evaluate configured strategies on their cron schedules",
		RunE: func(c *cobra.Command, args []string) error {
			deps, err := initialize(flags)
			if err != nil {
				return err
			}
			defer cmd.CloseDependencies(deps)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if runNow {
				deps.ScheduledEvaluationApp.RunAll(ctx)
			}
			if err := deps.ScheduledEvaluationApp.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			deps.ScheduledEvaluationApp.Stop()
			return nil
		},
	}
	c.Flags().BoolVar(&runNow, "run-now", false, "evaluate every strategy once before waiting")
	return c
}
