package discovery

import (
	"fmt"
	"net"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/minefleet/asicscan/pkg/backends/antminer"
	"github.com/minefleet/asicscan/pkg/backends/braiins"
	"github.com/minefleet/asicscan/pkg/backends/btminer"
	"github.com/minefleet/asicscan/pkg/backends/espminer"
	"github.com/minefleet/asicscan/pkg/backends/luxos"
	"github.com/minefleet/asicscan/pkg/backends/vnish"
	"github.com/minefleet/asicscan/pkg/miner"
)

// Protocol generation gates.
var (
	// WhatsMiner builds from November 2024 on replace the cgminer-style
	// socket API with the length-prefixed one.
	whatsMinerGen3Version = semver.MustParse("2024.11.0")

	// AxeOS grew its system API in 2.0.0 and reshaped statistics in 2.9.0.
	espMinerMinVersion  = semver.MustParse("2.0.0")
	espMinerV290Version = semver.MustParse("2.9.0")

	// Braiins OS dropped the GraphQL and socket APIs for gRPC in 23.03.
	braiinsGRPCVersion = semver.MustParse("23.3.0")
)

// selectBackend maps a resolved identity onto the backend that speaks its
// dialect. The mapping is total: an identity nothing ships a backend for
// comes back as ErrUnsupportedDevice, and the caller decides whether that
// is fatal.
func selectBackend(ip net.IP, dev miner.DeviceInfo, version *semver.Version, creds Credentials, logger *zap.Logger) (miner.Miner, error) {
	switch {
	case dev.Make == miner.MakeWhatsMiner && dev.Firmware == miner.FirmwareStock:
		if dev.Model.IsZero() {
			return nil, fmt.Errorf("whatsminer with unresolved model: %w", miner.ErrUnsupportedDevice)
		}
		if version != nil && !version.LessThan(whatsMinerGen3Version) {
			return btminer.NewGen3(ip, dev, btminer.WithLogger(logger)), nil
		}
		return btminer.NewGen2(ip, dev, btminer.WithLogger(logger)), nil

	case dev.Make == miner.MakeBitAxe && dev.Firmware == miner.FirmwareStock:
		switch {
		case dev.Model.IsZero():
			return nil, fmt.Errorf("bitaxe with unresolved model: %w", miner.ErrUnsupportedDevice)
		case version == nil:
			return nil, fmt.Errorf("bitaxe with unresolved firmware version: %w", miner.ErrUnsupportedDevice)
		case version.LessThan(espMinerMinVersion):
			return nil, fmt.Errorf("axeos %s predates the system api: %w", version, miner.ErrUnsupportedDevice)
		case version.LessThan(espMinerV290Version):
			return espminer.NewV200(ip, dev, espminer.WithLogger(logger)), nil
		default:
			return espminer.NewV290(ip, dev, espminer.WithLogger(logger)), nil
		}

	case dev.Make == miner.MakeAntMiner && dev.Firmware == miner.FirmwareStock:
		return antminer.New(ip, dev,
			antminer.WithCredentials(creds.AntMinerUser, creds.AntMinerPassword),
			antminer.WithLogger(logger),
		), nil

	case dev.Firmware == miner.FirmwareVNish:
		return vnish.New(ip, dev,
			vnish.WithPassword(creds.VNishPassword),
			vnish.WithLogger(logger),
		), nil

	case dev.Firmware == miner.FirmwareLuxOS:
		return luxos.New(ip, dev, luxos.WithLogger(logger)), nil

	case dev.Firmware == miner.FirmwareBraiins:
		if version != nil && !version.LessThan(braiinsGRPCVersion) {
			return nil, fmt.Errorf("braiins os %s moved to the grpc api: %w", version, miner.ErrUnsupportedDevice)
		}
		return braiins.New2109(ip, dev,
			braiins.WithCredentials(creds.BraiinsUser, creds.BraiinsPassword),
			braiins.WithLogger(logger),
		), nil

	default:
		cls := miner.Classification{Make: dev.Make, Firmware: dev.Firmware}
		return nil, fmt.Errorf("no backend for %s: %w", cls, miner.ErrUnsupportedDevice)
	}
}
