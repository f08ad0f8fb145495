package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/farm_simulator/internal/model/messages"
	"github.com/LeonardoBeccarini/farm_simulator/internal/services/command"
)

func newSendCommandCommand(cfg *Config) *cobra.Command {
	var (
		addr    string
		device  string
		status  string
		level   float64
		devType string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send-command [json]",
		Short: "Send a device command to a running simulator over gRPC",
		Example: `  farm-sim send-command --device heater-1 --status ON --level 0.5
  farm-sim send-command '{"deviceUuid":"x9","metadata":{"newValue":"on","deviceName":"Grow Light 2"}}'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := command.DialCommandClient(addr)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var applied bool
			switch {
			case len(args) == 1:
				applied, err = client.SendJSON(ctx, []byte(args[0]))
			case device != "":
				c := messages.DeviceCommand{DeviceID: device, Status: status, Type: devType}
				if cmd.Flags().Changed("level") {
					c.Level = &level
				}
				applied, err = client.Send(ctx, c)
			default:
				return errors.New("either a JSON command or --device is required")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied: %t\n", applied)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "localhost:"+strconv.Itoa(cfg.GRPCPort), "simulator gRPC address")
	f.StringVar(&device, "device", "", "device id")
	f.StringVar(&status, "status", "", "ON|OFF")
	f.Float64Var(&level, "level", 0, "device level")
	f.StringVar(&devType, "type", "", "device type")
	f.DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}
