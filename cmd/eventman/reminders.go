package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eventman/eventman-live/eventman/reminder"
)

func buildRemindersCmd(load func() (Config, error)) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Print reminders for registered events about to start",
		Long: `Watch the events you registered for and print a reminder once per event
when it starts within the reminder window.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			a := newApp(cfg, out, reminder.NotifierFunc(func(r reminder.Reminder) {
				fmt.Fprintln(out, r.Message())
			}))

			ctx := cmd.Context()
			a.serveMetrics(ctx)
			if _, err := a.authenticate(ctx); err != nil {
				return err
			}
			if once {
				defer a.session.Reminders.Stop()
				return a.session.RefreshReminders(ctx)
			}

			stop, err := a.session.WatchReminders(ctx, cfg.Reminders.Refresh)
			defer stop()
			if err != nil {
				return err
			}
			a.logger.Info("watching registrations",
				"window", cfg.Reminders.Window,
				"interval", cfg.Reminders.Interval,
				"refresh", cfg.Reminders.Refresh,
			)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Check once and exit")
	return cmd
}
