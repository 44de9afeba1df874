package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/minefleet/asicscan/pkg/discovery"
	"github.com/minefleet/asicscan/pkg/miner"
)

func newScanCommand(state *rootState) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scan [subnet|range|host]...",
		Short: "Sweep the network and print every miner found",
		Long: `Sweep the given targets and print each miner as it resolves.

Targets may be CIDR subnets (192.168.1.0/24), dash ranges
(192.168.1.10-192.168.1.50, or 10.0.0-3.1-255 per octet), or single
hosts. With no arguments the subnets from the fleet config are used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := args
			if len(targets) == 0 {
				targets = state.cfg.Subnets
			}
			if len(targets) == 0 {
				return errors.New("no scan targets: pass a subnet or set one in the fleet config")
			}

			opts := state.factoryOptions()
			for _, target := range targets {
				opts = append(opts, targetOption(target))
			}
			factory, err := discovery.New(opts...)
			if err != nil {
				return err
			}

			session := uuid.NewString()
			start := time.Now()
			found := 0
			for m := range factory.ScanStream(cmd.Context()) {
				found++
				if asJSON {
					if err := printMinerJSON(cmd, m); err != nil {
						return err
					}
					continue
				}
				printMinerRow(cmd, m)
			}

			cmd.Printf("\nscan %s: %d addresses, %d miners, %s\n",
				session, len(factory.Addresses()), found,
				time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per miner")
	return cmd
}

// minerRow is the JSON line shape for scan output.
type minerRow struct {
	IP       string `json:"ip"`
	Make     string `json:"make"`
	Model    string `json:"model,omitempty"`
	Firmware string `json:"firmware,omitempty"`
}

func rowFor(m miner.Miner) minerRow {
	dev := m.DeviceInfo()
	return minerRow{
		IP:       m.IP().String(),
		Make:     string(dev.Make),
		Model:    dev.Model.Name,
		Firmware: string(dev.Firmware),
	}
}

func printMinerJSON(cmd *cobra.Command, m miner.Miner) error {
	raw, err := json.Marshal(rowFor(m))
	if err != nil {
		return err
	}
	cmd.Println(string(raw))
	return nil
}

func printMinerRow(cmd *cobra.Command, m miner.Miner) {
	row := rowFor(m)
	model := row.Model
	if model == "" {
		model = "unknown"
	}
	cmd.Println(fmt.Sprintf("%-15s  %-12s  %-20s  %s", row.IP, row.Make, model, row.Firmware))
}
