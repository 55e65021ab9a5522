// Command eventman is a terminal client for EventMan live events.
//
//	eventman login --email ada@example.com
//	eventman live <event-id>
//	eventman reminders
//
// Configuration is read from --config, EVENTMAN_CONFIG or
// ~/.eventman/config.yaml. The access token can also come from
// EVENTMAN_TOKEN.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "eventman",
		Short:        "EventMan live event client",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (or EVENTMAN_CONFIG)")

	load := func() (Config, error) { return readConfig(configPath) }
	root.AddCommand(
		buildLoginCmd(load),
		buildLiveCmd(load),
		buildRemindersCmd(load),
	)
	return root
}
