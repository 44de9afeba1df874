// Package luxos implements the LuxOS aftermarket firmware backend. LuxOS
// keeps the cgminer socket API but fragments board detail across per-chain
// commands, so the hashboard field is assembled from tagged extractions of
// several structurally identical probes.
package luxos

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

var (
	cmdVersion  = miner.RPC("version")
	cmdStats    = miner.RPC("stats")
	cmdSummary  = miner.RPC("summary")
	cmdPools    = miner.RPC("pools")
	cmdConfig   = miner.RPC("config")
	cmdFans     = miner.RPC("fans")
	cmdPower    = miner.RPC("power")
	cmdProfiles = miner.RPC("profiles")
	cmdTemps    = miner.RPC("temps")
	cmdDevs     = miner.RPC("devs")
)

// boardSlots is how many chain slots the per-chain probes cover. LuxOS
// ships for three-board AntMiner chassis.
const boardSlots = 3

type options struct {
	timeout    time.Duration
	transports transport.Set
	logger     *zap.Logger
}

// Option configures the backend.
type Option func(*options)

// WithTimeout bounds each socket round trip.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// WithTransports replaces the default socket transport. Used by tests to
// substitute fixtures.
func WithTransports(set transport.Set) Option {
	return func(o *options) {
		o.transports = set
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// LuxOS is the LuxOS firmware backend.
type LuxOS struct {
	ip         net.IP
	dev        miner.DeviceInfo
	transports transport.Set
	logger     *zap.Logger
}

// New builds a LuxOS backend bound to the device address.
func New(ip net.IP, dev miner.DeviceInfo, opts ...Option) *LuxOS {
	o := options{
		timeout: transport.DefaultRPCTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.transports == nil {
		o.transports = transport.Set{
			transport.NewRPC(ip,
				transport.WithRPCTimeout(o.timeout),
				transport.WithRPCLogger(o.logger),
			),
		}
	}
	return &LuxOS{ip: ip, dev: dev, transports: o.transports, logger: o.logger}
}

// IP implements miner.Miner.
func (b *LuxOS) IP() net.IP {
	return b.ip
}

// DeviceInfo implements miner.Backend.
func (b *LuxOS) DeviceInfo() miner.DeviceInfo {
	return b.dev
}

// Locations implements miner.Backend.
func (b *LuxOS) Locations(field miner.Field) []miner.Location {
	switch field {
	case miner.FieldMac:
		return []miner.Location{miner.Locate(cmdConfig, miner.ExtractPath("CONFIG.0.MACAddr"))}
	case miner.FieldHostname:
		return []miner.Location{miner.Locate(cmdConfig, miner.ExtractPath("CONFIG.0.Hostname"))}
	case miner.FieldSerialNumber:
		return []miner.Location{miner.Locate(cmdConfig, miner.ExtractPath("CONFIG.0.SerialNumber"))}
	case miner.FieldControlBoardVersion:
		return []miner.Location{miner.Locate(cmdConfig, miner.ExtractPath("CONFIG.0.ControlBoardType"))}
	case miner.FieldLightFlashing:
		return []miner.Location{miner.Locate(cmdConfig, miner.ExtractPath("CONFIG.0.RedLed"))}
	case miner.FieldApiVersion:
		return []miner.Location{miner.Locate(cmdVersion, miner.ExtractPath("VERSION.0.API"))}
	case miner.FieldFirmwareVersion:
		return []miner.Location{miner.Locate(cmdVersion, miner.ExtractPath("VERSION.0.Miner"))}
	case miner.FieldHashrate:
		return []miner.Location{miner.Locate(cmdStats, miner.ExtractPath("STATS.1.GHS 5s"))}
	case miner.FieldExpectedHashrate:
		return []miner.Location{miner.Locate(cmdDevs, miner.ExtractPath("DEVS"))}
	case miner.FieldUptime:
		return []miner.Location{miner.Locate(cmdStats, miner.ExtractPath("STATS.1.Elapsed"))}
	case miner.FieldIsMining:
		return []miner.Location{miner.Locate(cmdSummary, miner.ExtractPath("SUMMARY.0.GHS 5s"))}
	case miner.FieldWattage:
		return []miner.Location{miner.Locate(cmdPower, miner.ExtractPath("POWER.0.Watts"))}
	case miner.FieldFans:
		return []miner.Location{miner.Locate(cmdFans, miner.ExtractPath("FANS"))}
	case miner.FieldPools:
		return []miner.Location{miner.Locate(cmdPools, miner.ExtractPath("POOLS"))}
	case miner.FieldFluidTemperature:
		return []miner.Location{miner.Locate(cmdTemps, miner.ExtractRoot())}

	case miner.FieldWattageLimit:
		// The active profile name lives in config; its wattage lives in
		// the profile table. Both extractions are tagged so the assembly
		// can join them.
		return []miner.Location{
			miner.Locate(cmdConfig, miner.ExtractPath("CONFIG.0.Profile").WithTag(miner.TagNamed(miner.RoleProfile))),
			miner.Locate(cmdProfiles, miner.ExtractPath("PROFILES").WithTag(miner.TagNamed(miner.RoleProfiles))),
		}

	case miner.FieldHashboards:
		// Board detail is fragmented across per-chain probes plus the
		// stats, temps, and devs tables. The per-chain probes are
		// structurally identical commands told apart only by their tag;
		// voltageget "0" serves both the chain-0 and the PSU reading
		// through one dispatch.
		locs := make([]miner.Location, 0, 2*boardSlots+4)
		for i := 0; i < boardSlots; i++ {
			idx := strconv.Itoa(i)
			locs = append(locs,
				miner.Locate(miner.RPCParam("healthchipget", idx),
					miner.ExtractPath("CHIPS").WithTag(miner.TagFor(miner.RoleChips, i))),
				miner.Locate(miner.RPCParam("voltageget", idx),
					miner.ExtractPath("VOLTAGE.0.Voltage").WithTag(miner.TagFor(miner.RoleVoltage, i))),
			)
		}
		locs = append(locs,
			miner.Locate(miner.RPCParam("voltageget", "0"),
				miner.ExtractPath("VOLTAGE.0.Voltage").WithTag(miner.TagNamed(miner.RolePSU))),
			miner.Locate(cmdStats, miner.ExtractPath("STATS.1").WithTag(miner.TagNamed(miner.RoleStats))),
			miner.Locate(cmdTemps, miner.ExtractRoot().WithTag(miner.TagNamed(miner.RoleTemps))),
			miner.Locate(cmdDevs, miner.ExtractPath("DEVS").WithTag(miner.TagNamed(miner.RoleDevs))),
		)
		return locs

	default:
		return nil
	}
}

// Collect implements miner.Miner.
func (b *LuxOS) Collect(ctx context.Context) (*miner.MinerData, error) {
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
	data.SerialNumber, _ = fm.Str(miner.FieldSerialNumber)
	data.ApiVersion, _ = fm.Str(miner.FieldApiVersion)
	data.FirmwareVersion, _ = fm.Str(miner.FieldFirmwareVersion)
	data.ControlBoardVersion, _ = fm.Str(miner.FieldControlBoardVersion)

	if ghs, ok := fm.Float(miner.FieldHashrate); ok {
		rate := miner.HashRate{Value: ghs, Unit: miner.HashGH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
		data.Hashrate = &rate
	}
	if devs, ok := fm.Result(miner.FieldExpectedHashrate); ok {
		var nominalMHS float64
		for _, dev := range devs.Array() {
			nominalMHS += dev.Get("Nominal MHS").Float()
		}
		if nominalMHS > 0 {
			rate := miner.HashRate{Value: nominalMHS, Unit: miner.HashMH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
			data.ExpectedHashrate = &rate
		}
	}

	if watts, ok := fm.Float(miner.FieldWattage); ok {
		data.Wattage = &watts
	}
	if elapsed, ok := fm.Int(miner.FieldUptime); ok {
		data.Uptime = ptr(time.Duration(elapsed) * time.Second)
	}
	if ghs, ok := fm.Float(miner.FieldIsMining); ok {
		data.IsMining = ghs > 0
	}
	if led, ok := fm.Str(miner.FieldLightFlashing); ok {
		data.LightFlashing = ptr(led == "on")
	}

	// Join the active profile name against the profile table.
	if name, ok := fm.Tagged(miner.FieldWattageLimit, miner.TagNamed(miner.RoleProfile)); ok {
		if profiles, ok := fm.Tagged(miner.FieldWattageLimit, miner.TagNamed(miner.RoleProfiles)); ok {
			for _, profile := range profiles.Array() {
				if profile.Get("Profile Name").String() != name.String() {
					continue
				}
				data.WattageLimit = ptr(profile.Get("Watts").Float())
				break
			}
		}
	}

	data.Hashboards = b.assembleBoards(fm)

	if temps, ok := fm.Result(miner.FieldFluidTemperature); ok {
		// The coolest board sensor approximates the intake temperature.
		var coolest *float64
		for _, t := range temps.Get("TEMPS").Array() {
			v := t.Get("Board").Float()
			if v <= 0 {
				continue
			}
			if coolest == nil || v < *coolest {
				coolest = ptr(v)
			}
		}
		data.FluidTemperature = coolest
	}

	if fans, ok := fm.Result(miner.FieldFans); ok {
		for i, fan := range fans.Array() {
			data.Fans = append(data.Fans, miner.FanData{
				Position: i,
				RPM:      ptr(int(fan.Get("RPM").Int())),
			})
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

// assembleBoards recombines the tagged per-chain extractions into one board
// list.
func (b *LuxOS) assembleBoards(fm collector.FieldMap) []miner.BoardData {
	tagged := fm.TaggedResults(miner.FieldHashboards)
	if len(tagged) == 0 {
		return nil
	}

	devs := tagged[miner.TagNamed(miner.RoleDevs)]
	temps := tagged[miner.TagNamed(miner.RoleTemps)]

	boards := make([]miner.BoardData, 0, boardSlots)
	for i := 0; i < boardSlots; i++ {
		board := miner.BoardData{Position: i}

		if chips, ok := tagged[miner.TagFor(miner.RoleChips, i)]; ok {
			board.ChipCount = ptr(len(chips.Array()))
		}
		if volts, ok := tagged[miner.TagFor(miner.RoleVoltage, i)]; ok {
			// A board that cannot read its own rail reports zero; the
			// PSU reading stands in for it.
			if v := volts.Float(); v != 0 {
				board.Voltage = ptr(v)
			} else if psu, ok := tagged[miner.TagNamed(miner.RolePSU)]; ok {
				board.Voltage = ptr(psu.Float())
			}
		}

		dev := devs.Get(strconv.Itoa(i))
		if mhs := dev.Get("MHS 5s"); mhs.Exists() {
			rate := miner.HashRate{Value: mhs.Float(), Unit: miner.HashMH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
			board.Hashrate = &rate
		}
		if status := dev.Get("Status"); status.Exists() {
			board.Active = ptr(status.String() == "Alive")
		}
		if freq := dev.Get("Frequency"); freq.Exists() {
			board.Frequency = ptr(freq.Float())
		}

		boardTemp := temps.Get("TEMPS." + strconv.Itoa(i))
		if t := boardTemp.Get("Board"); t.Exists() {
			board.BoardTemperature = ptr(t.Float())
		}
		if t := boardTemp.Get("Chip"); t.Exists() {
			board.ChipTemperature = ptr(t.Float())
		}

		boards = append(boards, board)
	}
	return boards
}

func ptr[T any](v T) *T {
	return &v
}

var _ miner.Miner = (*LuxOS)(nil)
