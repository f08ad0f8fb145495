package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	root := newRootCommand(loadConfig())
	if err := root.ExecuteContext(context.Background()); err != nil {
		zerolog.New(os.Stderr).With().Timestamp().Logger().
			Fatal().Err(err).Msg("farm-sim: exiting")
	}
}

func newRootCommand(cfg Config) *cobra.Command {
	root := &cobra.Command{
		Use:   "farm-sim",
		Short: "Closed-loop farm environment simulator",
		Long: `farm-sim drives a tick-based environment simulation (drift, device
effects, failures, crop growth), forwards sensor telemetry to the backend and
applies actuator commands received over MQTT, websocket, gRPC or HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfg.CatalogDir, "catalog-dir", cfg.CatalogDir, "catalog directory (default: embedded catalogs)")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "trace|debug|info|warn|error")
	pf.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "json|console")

	root.AddCommand(newRunCommand(&cfg))
	root.AddCommand(newValidateCommand(&cfg))
	root.AddCommand(newSendCommandCommand(&cfg))

	// run is the default
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return runSimulator(cmd.Context(), cfg)
	}
	return root
}
