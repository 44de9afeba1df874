package btminer

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/minefleet/asicscan/pkg/collector"
	"github.com/minefleet/asicscan/pkg/miner"
	"github.com/minefleet/asicscan/pkg/transport"
)

// Gen-3 socket commands. get.device.info and get.miner.status take a
// sub-document selector as their parameter, so each selector is a distinct
// command and a distinct dedup key.
var (
	gen3InfoMiner   = miner.RPCParam("get.device.info", "miner")
	gen3InfoNetwork = miner.RPCParam("get.device.info", "network")
	gen3InfoSystem  = miner.RPCParam("get.device.info", "system")
	gen3Summary     = miner.RPCParam("get.miner.status", "summary")
	gen3EDevs       = miner.RPCParam("get.miner.status", "edevs")
	gen3PoolStatus  = miner.RPCParam("get.miner.status", "pools")
)

// Gen3 is the WhatsMiner backend for firmware 2024.11 and later, speaking
// the length-prefixed socket API on port 4433.
type Gen3 struct {
	ip         net.IP
	dev        miner.DeviceInfo
	transports transport.Set
	logger     *zap.Logger
}

// NewGen3 builds a gen-3 backend bound to the device address.
func NewGen3(ip net.IP, dev miner.DeviceInfo, opts ...Option) *Gen3 {
	o := applyOptions(opts)
	if o.transports == nil {
		o.transports = transport.Set{
			transport.NewRPC(ip,
				transport.WithRPCFraming(transport.FramingLengthPrefix),
				transport.WithRPCTimeout(o.timeout),
				transport.WithRPCLogger(o.logger),
			),
		}
	}
	return &Gen3{ip: ip, dev: dev, transports: o.transports, logger: o.logger}
}

// IP implements miner.Miner.
func (b *Gen3) IP() net.IP {
	return b.ip
}

// DeviceInfo implements miner.Backend.
func (b *Gen3) DeviceInfo() miner.DeviceInfo {
	return b.dev
}

// Locations implements miner.Backend.
func (b *Gen3) Locations(field miner.Field) []miner.Location {
	switch field {
	case miner.FieldMac:
		return []miner.Location{miner.Locate(gen3InfoNetwork, miner.ExtractPath("msg.network.mac"))}
	case miner.FieldHostname:
		return []miner.Location{miner.Locate(gen3InfoNetwork, miner.ExtractPath("msg.network.hostname"))}
	case miner.FieldApiVersion:
		return []miner.Location{miner.Locate(gen3InfoSystem, miner.ExtractPath("msg.system.api"))}
	case miner.FieldFirmwareVersion:
		return []miner.Location{miner.Locate(gen3InfoSystem, miner.ExtractPath("msg.system.fwversion"))}
	case miner.FieldControlBoardVersion:
		return []miner.Location{miner.Locate(gen3InfoSystem, miner.ExtractPath("msg.system.platform"))}
	case miner.FieldLightFlashing:
		return []miner.Location{miner.Locate(gen3InfoMiner, miner.ExtractPath("msg.miner.ledstat"))}
	case miner.FieldHashrate:
		return []miner.Location{miner.Locate(gen3Summary, miner.ExtractPath("msg.summary.hash-realtime"))}
	case miner.FieldExpectedHashrate:
		return []miner.Location{miner.Locate(gen3Summary, miner.ExtractPath("msg.summary.factory-hash"))}
	case miner.FieldWattage:
		return []miner.Location{miner.Locate(gen3Summary, miner.ExtractPath("msg.summary.power-realtime"))}
	case miner.FieldWattageLimit:
		return []miner.Location{miner.Locate(gen3Summary, miner.ExtractPath("msg.summary.power-limit"))}
	case miner.FieldUptime:
		return []miner.Location{miner.Locate(gen3Summary, miner.ExtractPath("msg.summary.elapsed"))}
	case miner.FieldFluidTemperature:
		return []miner.Location{miner.Locate(gen3Summary, miner.ExtractPath("msg.summary.environment-temperature"))}
	case miner.FieldFans:
		return []miner.Location{miner.Locate(gen3Summary, miner.ExtractPath("msg.summary"))}
	case miner.FieldHashboards:
		return []miner.Location{miner.Locate(gen3EDevs, miner.ExtractPath("msg.edevs"))}
	case miner.FieldPools:
		return []miner.Location{miner.Locate(gen3PoolStatus, miner.ExtractPath("msg.pools"))}
	case miner.FieldIsMining:
		return []miner.Location{miner.Locate(gen3Summary, miner.ExtractPath("msg.summary.miner-state"))}
	default:
		return nil
	}
}

// Collect implements miner.Miner.
func (b *Gen3) Collect(ctx context.Context) (*miner.MinerData, error) {
	fm := collector.New(b.transports, b, collector.WithLogger(b.logger)).Collect(ctx)
	if len(fm) == 0 {
		return nil, fmt.Errorf("collect %s: %w", b.ip, miner.ErrNoResponse)
	}

	data := &miner.MinerData{
		IP:         b.ip,
		DeviceInfo: b.dev,
		Timestamp:  time.Now(),
		IsMining:   true,
	}

	data.Mac, _ = fm.Str(miner.FieldMac)
	data.Hostname, _ = fm.Str(miner.FieldHostname)
	data.ApiVersion, _ = fm.Str(miner.FieldApiVersion)
	data.FirmwareVersion, _ = fm.Str(miner.FieldFirmwareVersion)
	data.ControlBoardVersion, _ = fm.Str(miner.FieldControlBoardVersion)

	// The gen-3 summary reports hashrates in TH/s directly.
	if ths, ok := fm.Float(miner.FieldHashrate); ok {
		data.Hashrate = &miner.HashRate{Value: ths, Unit: miner.HashTH, Algorithm: b.dev.Algorithm}
	}
	if ths, ok := fm.Float(miner.FieldExpectedHashrate); ok {
		data.ExpectedHashrate = &miner.HashRate{Value: ths, Unit: miner.HashTH, Algorithm: b.dev.Algorithm}
	}

	if watts, ok := fm.Float(miner.FieldWattage); ok {
		data.Wattage = &watts
	}
	if limit, ok := fm.Float(miner.FieldWattageLimit); ok {
		data.WattageLimit = &limit
	}
	if temp, ok := fm.Float(miner.FieldFluidTemperature); ok {
		data.FluidTemperature = &temp
	}
	if elapsed, ok := fm.Int(miner.FieldUptime); ok {
		data.Uptime = ptr(time.Duration(elapsed) * time.Second)
	}
	if led, ok := fm.Str(miner.FieldLightFlashing); ok {
		data.LightFlashing = ptr(led != "auto")
	}
	if state, ok := fm.Str(miner.FieldIsMining); ok {
		data.IsMining = state != "stopped"
	}

	if summary, ok := fm.Result(miner.FieldFans); ok {
		for i, key := range []string{"fan-speed-in", "fan-speed-out"} {
			rpm := summary.Get(key)
			if !rpm.Exists() {
				continue
			}
			data.Fans = append(data.Fans, miner.FanData{Position: i, RPM: ptr(int(rpm.Int()))})
		}
	}

	if boards, ok := fm.Result(miner.FieldHashboards); ok {
		for i, board := range boards.Array() {
			bd := miner.BoardData{Position: i}
			if slot := board.Get("slot"); slot.Exists() {
				bd.Position = int(slot.Int())
			}
			if ths := board.Get("hash-average"); ths.Exists() {
				rate := miner.HashRate{Value: ths.Float(), Unit: miner.HashTH, Algorithm: b.dev.Algorithm}
				bd.Hashrate = &rate
				bd.Active = ptr(rate.Value > 0)
			}
			if temp := board.Get("temp"); temp.Exists() {
				bd.BoardTemperature = ptr(temp.Float())
			}
			if temp := board.Get("chip-temp-max"); temp.Exists() {
				bd.ChipTemperature = ptr(temp.Float())
			}
			if chips := board.Get("effective-chips"); chips.Exists() {
				bd.ChipCount = ptr(int(chips.Int()))
			}
			if freq := board.Get("freq"); freq.Exists() {
				bd.Frequency = ptr(freq.Float())
			}
			data.Hashboards = append(data.Hashboards, bd)
		}
	}

	if pools, ok := fm.Result(miner.FieldPools); ok {
		for i, pool := range pools.Array() {
			alive := pool.Get("status").String() == "alive"
			data.Pools = append(data.Pools, miner.PoolData{
				Position:       i,
				URL:            miner.ParsePoolURL(pool.Get("url").String()),
				User:           pool.Get("account").String(),
				Alive:          &alive,
				Active:         ptr(pool.Get("active").Bool()),
				AcceptedShares: ptr(pool.Get("accepted").Uint()),
				RejectedShares: ptr(pool.Get("rejected").Uint()),
			})
		}
	}

	data.ComputeAverages()
	return data, nil
}

var _ miner.Miner = (*Gen3)(nil)
