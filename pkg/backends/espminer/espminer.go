// Package espminer implements the ESPMiner backend for BitAxe devices. The
// firmware serves an unauthenticated JSON API on port 80; a single system/info
// document carries nearly every field, and 2.9.0 adds a system/asic endpoint
// with chip detail. BitAxe boards are single-chain, so the backend
// synthesizes one hashboard at position 0.
package espminer

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
	cmdSystemInfo = miner.WebAPI("/api/system/info")
	cmdAsicInfo   = miner.WebAPI("/api/system/asic")
)

type options struct {
	timeout    time.Duration
	transports transport.Set
	logger     *zap.Logger
}

// Option configures the backend.
type Option func(*options)

// WithTimeout bounds each web round trip.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
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

// ESPMiner is the ESPMiner firmware backend. hasAsicEndpoint distinguishes
// the 2.9.0 API generation from 2.0.0.
type ESPMiner struct {
	ip              net.IP
	dev             miner.DeviceInfo
	transports      transport.Set
	logger          *zap.Logger
	hasAsicEndpoint bool
}

// NewV200 builds a backend for ESPMiner 2.0.0 through 2.8.x.
func NewV200(ip net.IP, dev miner.DeviceInfo, opts ...Option) *ESPMiner {
	return newBackend(ip, dev, false, opts)
}

// NewV290 builds a backend for ESPMiner 2.9.0 and later.
func NewV290(ip net.IP, dev miner.DeviceInfo, opts ...Option) *ESPMiner {
	return newBackend(ip, dev, true, opts)
}

func newBackend(ip net.IP, dev miner.DeviceInfo, hasAsic bool, opts []Option) *ESPMiner {
	o := options{
		timeout: transport.DefaultWebTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.transports == nil {
		o.transports = transport.Set{
			transport.NewWeb(ip,
				transport.WithWebTimeout(o.timeout),
				transport.WithWebLogger(o.logger),
			),
		}
	}
	return &ESPMiner{
		ip:              ip,
		dev:             dev,
		transports:      o.transports,
		logger:          o.logger,
		hasAsicEndpoint: hasAsic,
	}
}

// IP implements miner.Miner.
func (b *ESPMiner) IP() net.IP {
	return b.ip
}

// DeviceInfo implements miner.Backend.
func (b *ESPMiner) DeviceInfo() miner.DeviceInfo {
	return b.dev
}

// Locations implements miner.Backend.
func (b *ESPMiner) Locations(field miner.Field) []miner.Location {
	switch field {
	case miner.FieldMac:
		return []miner.Location{miner.Locate(cmdSystemInfo, miner.ExtractKey("macAddr"))}
	case miner.FieldHostname:
		return []miner.Location{miner.Locate(cmdSystemInfo, miner.ExtractKey("hostname"))}
	case miner.FieldApiVersion, miner.FieldFirmwareVersion:
		return []miner.Location{miner.Locate(cmdSystemInfo, miner.ExtractKey("version"))}
	case miner.FieldControlBoardVersion:
		return []miner.Location{miner.Locate(cmdSystemInfo, miner.ExtractKey("boardVersion"))}
	case miner.FieldHashrate:
		return []miner.Location{miner.Locate(cmdSystemInfo, miner.ExtractKey("hashRate"))}
	case miner.FieldExpectedHashrate:
		return []miner.Location{miner.Locate(cmdSystemInfo, miner.ExtractKey("expectedHashrate"))}
	case miner.FieldWattage:
		return []miner.Location{miner.Locate(cmdSystemInfo, miner.ExtractKey("power"))}
	case miner.FieldUptime:
		return []miner.Location{miner.Locate(cmdSystemInfo, miner.ExtractKey("uptimeSeconds"))}
	case miner.FieldFans:
		return []miner.Location{miner.Locate(cmdSystemInfo, miner.ExtractKey("fanrpm"))}
	case miner.FieldPools, miner.FieldMessages:
		return []miner.Location{miner.Locate(cmdSystemInfo, miner.ExtractRoot())}
	case miner.FieldHashboards:
		// The asic endpoint carries chip detail on 2.9.0; system/info is
		// the fallback and the only source on 2.0.0.
		locs := []miner.Location{miner.Locate(cmdSystemInfo, miner.ExtractRoot())}
		if b.hasAsicEndpoint {
			locs = append(locs, miner.Locate(cmdAsicInfo, miner.ExtractRoot()))
		}
		return locs
	default:
		return nil
	}
}

// Collect implements miner.Miner.
func (b *ESPMiner) Collect(ctx context.Context) (*miner.MinerData, error) {
	fm := collector.New(b.transports, b, collector.WithLogger(b.logger)).Collect(ctx)
	if len(fm) == 0 {
		return nil, fmt.Errorf("collect %s: %w", b.ip, miner.ErrNoResponse)
	}

	data := &miner.MinerData{
		IP:         b.ip,
		DeviceInfo: b.dev,
		Timestamp:  time.Now(),
	}

	data.Mac, _ = fm.Str(miner.FieldMac)
	data.Hostname, _ = fm.Str(miner.FieldHostname)
	data.ApiVersion, _ = fm.Str(miner.FieldApiVersion)
	data.FirmwareVersion, _ = fm.Str(miner.FieldFirmwareVersion)
	data.ControlBoardVersion, _ = fm.Str(miner.FieldControlBoardVersion)

	// ESPMiner reports hashrate in GH/s.
	if gh, ok := fm.Float(miner.FieldHashrate); ok {
		rate := miner.HashRate{Value: gh, Unit: miner.HashGH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
		data.Hashrate = &rate
		data.IsMining = gh > 0
	}
	if gh, ok := fm.Float(miner.FieldExpectedHashrate); ok {
		rate := miner.HashRate{Value: gh, Unit: miner.HashGH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
		data.ExpectedHashrate = &rate
	}

	if watts, ok := fm.Float(miner.FieldWattage); ok {
		data.Wattage = &watts
	}
	if secs, ok := fm.Int(miner.FieldUptime); ok {
		data.Uptime = ptr(time.Duration(secs) * time.Second)
	}

	// A BitAxe has exactly one fan.
	if rpm, ok := fm.Float(miner.FieldFans); ok {
		data.Fans = []miner.FanData{{Position: 0, RPM: ptr(int(rpm))}}
	}

	if info, ok := fm.Result(miner.FieldHashboards); ok {
		board := miner.BoardData{Position: 0, Active: ptr(true)}
		if v := info.Get("hashRate"); v.Exists() {
			rate := miner.HashRate{Value: v.Float(), Unit: miner.HashGH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
			board.Hashrate = &rate
		}
		if v := info.Get("expectedHashrate"); v.Exists() {
			rate := miner.HashRate{Value: v.Float(), Unit: miner.HashGH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
			board.ExpectedHashrate = &rate
		}
		if v := info.Get("vrTemp"); v.Exists() {
			board.BoardTemperature = ptr(v.Float())
		}
		if v := info.Get("temp"); v.Exists() {
			board.ChipTemperature = ptr(v.Float())
		}
		if v := info.Get("asicCount"); v.Exists() {
			board.ChipCount = ptr(int(v.Int()))
		}
		if v := info.Get("voltage"); v.Exists() {
			// Reported in millivolts.
			board.Voltage = ptr(v.Float() / 1000)
		}
		if v := info.Get("frequency"); v.Exists() {
			board.Frequency = ptr(v.Float())
		}
		data.Hashboards = []miner.BoardData{board}
	}

	if info, ok := fm.Result(miner.FieldPools); ok {
		usingFallback := info.Get("isUsingFallbackStratum").Bool()
		data.Pools = append(data.Pools, miner.PoolData{
			Position: 0,
			URL: miner.PoolURL{
				Scheme: miner.SchemeStratumV1,
				Host:   info.Get("stratumURL").String(),
				Port:   int(info.Get("stratumPort").Int()),
			},
			User:           info.Get("stratumUser").String(),
			Active:         ptr(!usingFallback),
			AcceptedShares: ptr(info.Get("sharesAccepted").Uint()),
			RejectedShares: ptr(info.Get("sharesRejected").Uint()),
		})
		if fallback := info.Get("fallbackStratumURL"); fallback.Exists() && fallback.String() != "" {
			data.Pools = append(data.Pools, miner.PoolData{
				Position: 1,
				URL: miner.PoolURL{
					Scheme: miner.SchemeStratumV1,
					Host:   fallback.String(),
					Port:   int(info.Get("fallbackStratumPort").Int()),
				},
				User:   info.Get("fallbackStratumUser").String(),
				Active: ptr(usingFallback),
			})
		}
	}

	if info, ok := fm.Result(miner.FieldMessages); ok {
		if info.Get("overheat_mode").Bool() {
			data.Messages = append(data.Messages, miner.MinerMessage{
				When:     time.Now(),
				Text:     "overheat mode is enabled",
				Severity: miner.SeverityWarning,
			})
		}
	}

	data.ComputeAverages()
	return data, nil
}

func ptr[T any](v T) *T {
	return &v
}

var _ miner.Miner = (*ESPMiner)(nil)
