// Package vnish implements the VNish aftermarket firmware backend. VNish
// runs on AntMiner hardware and serves a JSON management API under /api/v1,
// unlocked with a bearer token.
package vnish

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

var (
	cmdInfo     = miner.WebAPI("/api/v1/info")
	cmdSummary  = miner.WebAPI("/api/v1/summary")
	cmdAutotune = miner.WebAPI("/api/v1/autotune")
)

type options struct {
	password   string
	timeout    time.Duration
	tokens     *transport.TokenCache
	transports transport.Set
	logger     *zap.Logger
}

// Option configures the backend.
type Option func(*options)

// WithPassword sets the unlock password. Factory default is admin.
func WithPassword(password string) Option {
	return func(o *options) {
		o.password = password
	}
}

// WithTimeout bounds each web round trip.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// WithTokenCache shares an unlock-token cache across backends, so rescans
// do not unlock every device again.
func WithTokenCache(cache *transport.TokenCache) Option {
	return func(o *options) {
		o.tokens = cache
	}
}

// WithTransports replaces the default web transport. Used by tests to
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

// VNish is the VNish firmware backend.
type VNish struct {
	ip         net.IP
	dev        miner.DeviceInfo
	transports transport.Set
	logger     *zap.Logger
}

// New builds a VNish backend bound to the device address.
func New(ip net.IP, dev miner.DeviceInfo, opts ...Option) *VNish {
	o := options{
		password: "admin",
		timeout:  transport.DefaultWebTimeout,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.transports == nil {
		webOpts := []transport.WebOption{
			transport.WithWebBearerUnlock("/api/v1/unlock", map[string]string{"pw": o.password}, "token"),
			transport.WithWebTimeout(o.timeout),
			transport.WithWebLogger(o.logger),
		}
		if o.tokens != nil {
			webOpts = append(webOpts, transport.WithWebTokenCache(o.tokens))
		}
		o.transports = transport.Set{transport.NewWeb(ip, webOpts...)}
	}
	return &VNish{ip: ip, dev: dev, transports: o.transports, logger: o.logger}
}

// IP implements miner.Miner.
func (b *VNish) IP() net.IP {
	return b.ip
}

// DeviceInfo implements miner.Backend.
func (b *VNish) DeviceInfo() miner.DeviceInfo {
	return b.dev
}

// Locations implements miner.Backend.
func (b *VNish) Locations(field miner.Field) []miner.Location {
	switch field {
	case miner.FieldMac:
		return []miner.Location{miner.Locate(cmdSummary, miner.ExtractPath("system.network_status.mac"))}
	case miner.FieldHostname:
		return []miner.Location{miner.Locate(cmdSummary, miner.ExtractPath("system.network_status.hostname"))}
	case miner.FieldSerialNumber:
		return []miner.Location{miner.Locate(cmdInfo, miner.ExtractKey("serial"))}
	case miner.FieldApiVersion, miner.FieldFirmwareVersion:
		return []miner.Location{miner.Locate(cmdInfo, miner.ExtractKey("fw_version"))}
	case miner.FieldControlBoardVersion:
		return []miner.Location{miner.Locate(cmdInfo, miner.ExtractKey("platform"))}
	case miner.FieldUptime:
		return []miner.Location{miner.Locate(cmdSummary, miner.ExtractPath("system.uptime"))}
	case miner.FieldHashrate:
		return []miner.Location{miner.Locate(cmdSummary, miner.ExtractPath("miner.hr_realtime"))}
	case miner.FieldExpectedHashrate:
		// Older builds report the stock rate only at the top level.
		return []miner.Location{
			miner.Locate(cmdSummary, miner.ExtractPath("miner.hr_stock")),
			miner.Locate(cmdInfo, miner.ExtractKey("hr_stock")),
		}
	case miner.FieldWattage:
		return []miner.Location{miner.Locate(cmdSummary, miner.ExtractPath("miner.power_consumption"))}
	case miner.FieldWattageLimit:
		return []miner.Location{miner.Locate(cmdAutotune, miner.ExtractPath("preset.power"))}
	case miner.FieldFans:
		return []miner.Location{miner.Locate(cmdSummary, miner.ExtractPath("miner.cooling.fans"))}
	case miner.FieldHashboards:
		return []miner.Location{miner.Locate(cmdSummary, miner.ExtractPath("miner.chains"))}
	case miner.FieldPools:
		return []miner.Location{miner.Locate(cmdSummary, miner.ExtractPath("miner.pools"))}
	case miner.FieldIsMining:
		return []miner.Location{miner.Locate(cmdSummary, miner.ExtractKey("miner_state"))}
	case miner.FieldLightFlashing:
		return []miner.Location{miner.Locate(cmdSummary, miner.ExtractKey("find_miner"))}
	default:
		return nil
	}
}

// Collect implements miner.Miner.
func (b *VNish) Collect(ctx context.Context) (*miner.MinerData, error) {
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

	// VNish reports hashrates in GH/s.
	if ghs, ok := fm.Float(miner.FieldHashrate); ok {
		rate := miner.HashRate{Value: ghs, Unit: miner.HashGH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
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
	if uptime, ok := fm.Int(miner.FieldUptime); ok {
		data.Uptime = ptr(time.Duration(uptime) * time.Second)
	}
	if state, ok := fm.Str(miner.FieldIsMining); ok {
		data.IsMining = state == "mining"
	}
	if finding, ok := fm.Bool(miner.FieldLightFlashing); ok {
		data.LightFlashing = &finding
	}

	if fans, ok := fm.Result(miner.FieldFans); ok {
		for i, fan := range fans.Array() {
			data.Fans = append(data.Fans, miner.FanData{
				Position: i,
				RPM:      ptr(int(fan.Get("rpm").Int())),
			})
		}
	}

	if chains, ok := fm.Result(miner.FieldHashboards); ok {
		for i, chain := range chains.Array() {
			board := miner.BoardData{Position: i}
			if id := chain.Get("id"); id.Exists() {
				board.Position = int(id.Int())
			}
			if ghs := chain.Get("hashrate_rt"); ghs.Exists() {
				rate := miner.HashRate{Value: ghs.Float(), Unit: miner.HashGH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
				board.Hashrate = &rate
				board.Active = ptr(rate.Value > 0)
			}
			if temp := chain.Get("pcb_temp.max"); temp.Exists() {
				board.BoardTemperature = ptr(temp.Float())
			}
			if temp := chain.Get("chip_temp.max"); temp.Exists() {
				board.ChipTemperature = ptr(temp.Float())
			}
			if chips := chain.Get("chip_statuses"); chips.Exists() {
				working := int(chips.Get("green").Int() + chips.Get("orange").Int())
				board.ChipCount = &working
			}
			if volts := chain.Get("voltage"); volts.Exists() {
				// Reported in millivolts.
				board.Voltage = ptr(volts.Float() / 1000)
			}
			if freq := chain.Get("frequency"); freq.Exists() {
				board.Frequency = ptr(freq.Float())
			}
			data.Hashboards = append(data.Hashboards, board)
		}
	}

	if pools, ok := fm.Result(miner.FieldPools); ok {
		for i, pool := range pools.Array() {
			alive := pool.Get("status").String() == "active"
			data.Pools = append(data.Pools, miner.PoolData{
				Position:       i,
				URL:            miner.ParsePoolURL(pool.Get("url").String()),
				User:           pool.Get("user").String(),
				Alive:          &alive,
				Active:         &alive,
				AcceptedShares: ptr(pool.Get("accepted").Uint()),
				RejectedShares: ptr(pool.Get("rejected").Uint()),
			})
		}
	}

	data.ComputeAverages()
	return data, nil
}

func ptr[T any](v T) *T {
	return &v
}

var _ miner.Miner = (*VNish)(nil)
