package main

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/minefleet/asicscan/pkg/discovery"
)

func newCollectCommand(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "collect <ip>",
		Short: "Resolve one miner and print a telemetry snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ip := net.ParseIP(args[0])
			if ip == nil {
				return fmt.Errorf("invalid IP address %q", args[0])
			}

			opts := append(state.factoryOptions(), discovery.WithIPs(ip))
			factory, err := discovery.New(opts...)
			if err != nil {
				return err
			}

			m, err := factory.Resolve(cmd.Context(), ip)
			if err != nil {
				return err
			}
			if m == nil {
				return fmt.Errorf("no miner found at %s", ip)
			}

			data, err := m.Collect(cmd.Context())
			if err != nil {
				return err
			}

			raw, err := json.MarshalIndent(data, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(raw))
			return nil
		},
	}
}
