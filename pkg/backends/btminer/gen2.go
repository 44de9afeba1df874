package btminer

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/minefleet/asicscan/pkg/collector"
	"github.com/minefleet/asicscan/pkg/miner"
	"github.com/minefleet/asicscan/pkg/transport"
)

// Gen-2 socket commands. Declared once so every location referencing the
// same call shares one dedup key.
var (
	gen2MinerInfo = miner.RPC("get_miner_info")
	gen2Version   = miner.RPC("get_version")
	gen2Summary   = miner.RPC("summary")
	gen2Devs      = miner.RPC("devs")
	gen2Pools     = miner.RPC("pools")
	gen2Status    = miner.RPC("status")
	gen2PSU       = miner.RPC("get_psu")
)

// gen2BoardSlots is how many hashboard slots the devs report covers.
// Every WhatsMiner chassis carries three.
const gen2BoardSlots = 3

// Gen2 is the WhatsMiner backend for firmware before 2024.11, speaking the
// cgminer-style socket API.
type Gen2 struct {
	ip         net.IP
	dev        miner.DeviceInfo
	transports transport.Set
	logger     *zap.Logger
}

// NewGen2 builds a gen-2 backend bound to the device address.
func NewGen2(ip net.IP, dev miner.DeviceInfo, opts ...Option) *Gen2 {
	o := applyOptions(opts)
	if o.transports == nil {
		o.transports = transport.Set{
			transport.NewRPC(ip,
				transport.WithRPCTimeout(o.timeout),
				transport.WithRPCLogger(o.logger),
			),
		}
	}
	return &Gen2{ip: ip, dev: dev, transports: o.transports, logger: o.logger}
}

// IP implements miner.Miner.
func (b *Gen2) IP() net.IP {
	return b.ip
}

// DeviceInfo implements miner.Backend.
func (b *Gen2) DeviceInfo() miner.DeviceInfo {
	return b.dev
}

// Locations implements miner.Backend.
func (b *Gen2) Locations(field miner.Field) []miner.Location {
	switch field {
	case miner.FieldMac:
		return []miner.Location{miner.Locate(gen2MinerInfo, miner.ExtractPath("Msg.mac"))}
	case miner.FieldHostname:
		return []miner.Location{miner.Locate(gen2MinerInfo, miner.ExtractPath("Msg.hostname"))}
	case miner.FieldLightFlashing:
		return []miner.Location{miner.Locate(gen2MinerInfo, miner.ExtractPath("Msg.ledstat"))}
	case miner.FieldApiVersion:
		return []miner.Location{miner.Locate(gen2Version, miner.ExtractPath("Msg.api_ver"))}
	case miner.FieldFirmwareVersion:
		return []miner.Location{miner.Locate(gen2Version, miner.ExtractPath("Msg.fw_ver"))}
	case miner.FieldControlBoardVersion:
		return []miner.Location{miner.Locate(gen2Version, miner.ExtractPath("Msg.platform"))}
	case miner.FieldHashrate:
		return []miner.Location{miner.Locate(gen2Summary, miner.ExtractPath("SUMMARY.0.HS RT"))}
	case miner.FieldExpectedHashrate:
		return []miner.Location{miner.Locate(gen2Summary, miner.ExtractPath("SUMMARY.0.Factory GHS"))}
	case miner.FieldWattage:
		return []miner.Location{miner.Locate(gen2Summary, miner.ExtractPath("SUMMARY.0.Power"))}
	case miner.FieldWattageLimit:
		return []miner.Location{miner.Locate(gen2Summary, miner.ExtractPath("SUMMARY.0.Power Limit"))}
	case miner.FieldUptime:
		return []miner.Location{miner.Locate(gen2Summary, miner.ExtractPath("SUMMARY.0.Elapsed"))}
	case miner.FieldFluidTemperature:
		return []miner.Location{miner.Locate(gen2Summary, miner.ExtractPath("SUMMARY.0.Env Temp"))}
	case miner.FieldFans:
		return []miner.Location{miner.Locate(gen2Summary, miner.ExtractPath("SUMMARY.0"))}
	case miner.FieldPsuFans:
		return []miner.Location{miner.Locate(gen2PSU, miner.ExtractPath("Msg.fan_speed"))}
	case miner.FieldHashboards:
		return []miner.Location{miner.Locate(gen2Devs, miner.ExtractRoot())}
	case miner.FieldPools:
		return []miner.Location{miner.Locate(gen2Pools, miner.ExtractPath("POOLS"))}
	case miner.FieldIsMining:
		return []miner.Location{miner.Locate(gen2Status, miner.ExtractPath("SUMMARY.0.btmineroff"))}
	default:
		return nil
	}
}

// Collect implements miner.Miner.
func (b *Gen2) Collect(ctx context.Context) (*miner.MinerData, error) {
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

	// The gen-2 summary reports the live rate in MH/s and the factory rate
	// in GH/s.
	if mhs, ok := fm.Float(miner.FieldHashrate); ok {
		rate := miner.HashRate{Value: mhs, Unit: miner.HashMH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
		data.Hashrate = &rate
	}
	if ghs, ok := fm.Float(miner.FieldExpectedHashrate); ok {
		rate := miner.HashRate{Value: ghs, Unit: miner.HashGH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
		data.ExpectedHashrate = &rate
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

	// ledstat "auto" is the idle blink pattern; anything else means an
	// operator is flashing the locator light.
	if led, ok := fm.Str(miner.FieldLightFlashing); ok {
		data.LightFlashing = ptr(led != "auto")
	}
	// btmineroff "true" means the mining process was shut down.
	if off, ok := fm.Str(miner.FieldIsMining); ok {
		data.IsMining = off != "true"
	}

	if summary, ok := fm.Result(miner.FieldFans); ok {
		for i, direction := range []string{"In", "Out"} {
			rpm := summary.Get("Fan Speed " + direction)
			if !rpm.Exists() {
				continue
			}
			data.Fans = append(data.Fans, miner.FanData{Position: i, RPM: ptr(int(rpm.Int()))})
		}
	}
	if psuFan, ok := fm.Str(miner.FieldPsuFans); ok {
		if rpm, err := strconv.Atoi(psuFan); err == nil {
			data.PsuFans = append(data.PsuFans, miner.FanData{Position: 0, RPM: &rpm})
		}
	}

	if devs, ok := fm.Result(miner.FieldHashboards); ok {
		for idx := 0; idx < gen2BoardSlots; idx++ {
			dev := devs.Get("DEVS." + strconv.Itoa(idx))
			board := miner.BoardData{Position: idx}
			if mhs := dev.Get("MHS av"); mhs.Exists() {
				rate := miner.HashRate{Value: mhs.Float(), Unit: miner.HashMH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
				board.Hashrate = &rate
				board.Active = ptr(rate.Value > 0)
			}
			if ghs := dev.Get("Factory GHS"); ghs.Exists() {
				rate := miner.HashRate{Value: ghs.Float(), Unit: miner.HashGH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
				board.ExpectedHashrate = &rate
			}
			if temp := dev.Get("Temperature"); temp.Exists() {
				board.BoardTemperature = ptr(temp.Float())
			}
			if temp := dev.Get("Chip Temp Max"); temp.Exists() {
				board.ChipTemperature = ptr(temp.Float())
			}
			if chips := dev.Get("Effective Chips"); chips.Exists() {
				board.ChipCount = ptr(int(chips.Int()))
			}
			if freq := dev.Get("Frequency"); freq.Exists() {
				board.Frequency = ptr(freq.Float())
			}
			data.Hashboards = append(data.Hashboards, board)
		}
	}

	if pools, ok := fm.Result(miner.FieldPools); ok {
		for i, pool := range pools.Array() {
			alive := pool.Get("Status").String() == "Alive"
			data.Pools = append(data.Pools, miner.PoolData{
				Position:       i,
				URL:            miner.ParsePoolURL(pool.Get("URL").String()),
				User:           pool.Get("User").String(),
				Alive:          &alive,
				Active:         ptr(pool.Get("Stratum Active").Bool()),
				AcceptedShares: ptr(pool.Get("Accepted").Uint()),
				RejectedShares: ptr(pool.Get("Rejected").Uint()),
			})
		}
	}

	data.ComputeAverages()
	return data, nil
}

var _ miner.Miner = (*Gen2)(nil)
