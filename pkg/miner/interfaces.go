// Package miner defines the shared vocabulary for miner interaction: device
// identity, the declarative command and field model, and the typed telemetry
// snapshot. These abstractions decouple discovery and collection from specific
// vendor backends like btminer or vnish.
package miner

import (
	"context"
	"net"
)

// Backend describes one vendor API generation declaratively. It carries no
// network state; the same Backend value serves every device of its kind.
type Backend interface {
	// DeviceInfo returns the identity this backend was resolved for.
	DeviceInfo() DeviceInfo

	// Locations lists where a field can be read, in preference order.
	// An empty slice means the vendor does not expose the field.
	Locations(field Field) []Location
}

// Miner is one reachable device bound to its backend and transports.
type Miner interface {
	Backend

	// IP returns the device address the miner was resolved at.
	IP() net.IP

	// Collect gathers a telemetry snapshot. Fields the device cannot supply
	// are left at their zero values; Collect fails only when no command
	// succeeds at all.
	Collect(ctx context.Context) (*MinerData, error)
}
