package main

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/minefleet/asicscan/pkg/discovery"
)

func newResolveCommand(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <ip>",
		Short: "Classify one address and print its identity",
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

			dev := m.DeviceInfo()
			cmd.Printf("ip:        %s\n", m.IP())
			cmd.Printf("make:      %s\n", dev.Make)
			cmd.Printf("model:     %s\n", dev.Model)
			cmd.Printf("firmware:  %s\n", dev.Firmware)
			cmd.Printf("algorithm: %s\n", dev.Algorithm)
			return nil
		},
	}
}
