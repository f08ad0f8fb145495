package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	sensor_simulator "github.com/LeonardoBeccarini/farm_simulator/internal/sensor-simulator"
)

func newValidateCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load config and catalogs and report fatal errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			cat, err := loadCatalog(cfg.CatalogDir)
			if err != nil {
				return err
			}
			// builds the engines: a bad drift model fails here
			sim, err := sensor_simulator.NewClosedLoopSimulation(sensor_simulator.Options{
				Catalog:            cat,
				FailureProbability: cfg.FailureProbability,
				Logger:             zerolog.Nop(),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "catalog ok\n")
			fmt.Fprintf(out, "  tick interval: %s\n", cat.Simulation.TickInterval)
			fmt.Fprintf(out, "  device types:  %s\n", strings.Join(cat.DeviceTypes(), ", "))
			fmt.Fprintf(out, "  crop types:    %s\n", strings.Join(cat.CropTypes(), ", "))
			fmt.Fprintf(out, "  devices:       %d\n", len(sim.GetDevices()))
			fmt.Fprintf(out, "  sensors:       %d\n", len(cat.Sensors))
			fmt.Fprintf(out, "config ok (protocol %s)\n", cfg.Protocol)
			return nil
		},
	}
}
