// Package antminer implements the stock AntMiner backend. Stock Bitmain
// firmware serves a CGI web API behind MD5 digest auth; the socket API it
// also carries reports far less, so every location reads from the CGI
// endpoints.
package antminer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/minefleet/asicscan/pkg/collector"
	"github.com/minefleet/asicscan/pkg/miner"
	"github.com/minefleet/asicscan/pkg/transport"
)

// CGI endpoints, one command each.
var (
	cmdSystemInfo  = miner.WebAPI("/cgi-bin/get_system_info.cgi")
	cmdSummary     = miner.WebAPI("/cgi-bin/summary.cgi")
	cmdStats       = miner.WebAPI("/cgi-bin/stats.cgi")
	cmdPools       = miner.WebAPI("/cgi-bin/pools.cgi")
	cmdBlinkStatus = miner.WebAPI("/cgi-bin/get_blink_status.cgi")
)

type options struct {
	username   string
	password   string
	timeout    time.Duration
	transports transport.Set
	logger     *zap.Logger
}

// Option configures the backend.
type Option func(*options)

// WithCredentials sets the digest auth login. Factory default is root/root.
func WithCredentials(username, password string) Option {
	return func(o *options) {
		o.username = username
		o.password = password
	}
}

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

// AntMiner is the stock firmware backend.
type AntMiner struct {
	ip         net.IP
	dev        miner.DeviceInfo
	transports transport.Set
	logger     *zap.Logger
}

// New builds an AntMiner backend bound to the device address.
func New(ip net.IP, dev miner.DeviceInfo, opts ...Option) *AntMiner {
	o := options{
		username: "root",
		password: "root",
		timeout:  transport.DefaultWebTimeout,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.transports == nil {
		o.transports = transport.Set{
			transport.NewWeb(ip,
				transport.WithWebDigestAuth(o.username, o.password),
				transport.WithWebTimeout(o.timeout),
				transport.WithWebLogger(o.logger),
			),
		}
	}
	return &AntMiner{ip: ip, dev: dev, transports: o.transports, logger: o.logger}
}

// IP implements miner.Miner.
func (b *AntMiner) IP() net.IP {
	return b.ip
}

// DeviceInfo implements miner.Backend.
func (b *AntMiner) DeviceInfo() miner.DeviceInfo {
	return b.dev
}

// Locations implements miner.Backend.
func (b *AntMiner) Locations(field miner.Field) []miner.Location {
	switch field {
	case miner.FieldMac:
		return []miner.Location{miner.Locate(cmdSystemInfo, miner.ExtractKey("macaddr"))}
	case miner.FieldHostname:
		return []miner.Location{miner.Locate(cmdSystemInfo, miner.ExtractKey("hostname"))}
	case miner.FieldSerialNumber:
		return []miner.Location{miner.Locate(cmdSystemInfo, miner.ExtractKey("serinum"))}
	case miner.FieldFirmwareVersion:
		return []miner.Location{miner.Locate(cmdSystemInfo, miner.ExtractKey("system_filesystem_version"))}
	case miner.FieldApiVersion:
		return []miner.Location{miner.Locate(cmdSystemInfo, miner.ExtractKey("cgminer_version"))}
	case miner.FieldControlBoardVersion:
		return []miner.Location{miner.Locate(cmdSystemInfo, miner.ExtractKey("system_kernel_version"))}
	case miner.FieldHashrate:
		return []miner.Location{miner.Locate(cmdSummary, miner.ExtractPath("SUMMARY.0.rate_5s"))}
	case miner.FieldExpectedHashrate:
		return []miner.Location{miner.Locate(cmdSummary, miner.ExtractPath("SUMMARY.0.rate_ideal"))}
	case miner.FieldUptime:
		return []miner.Location{miner.Locate(cmdSummary, miner.ExtractPath("SUMMARY.0.elapsed"))}
	case miner.FieldHashboards:
		return []miner.Location{miner.Locate(cmdStats, miner.ExtractPath("STATS.0.chain"))}
	case miner.FieldFans:
		return []miner.Location{miner.Locate(cmdStats, miner.ExtractPath("STATS.0.fan"))}
	case miner.FieldPools:
		return []miner.Location{miner.Locate(cmdPools, miner.ExtractPath("POOLS"))}
	case miner.FieldIsMining:
		return []miner.Location{miner.Locate(cmdSummary, miner.ExtractPath("SUMMARY.0.rate_5s"))}
	case miner.FieldLightFlashing:
		return []miner.Location{miner.Locate(cmdBlinkStatus, miner.ExtractKey("blink"))}
	default:
		return nil
	}
}

// Collect implements miner.Miner.
func (b *AntMiner) Collect(ctx context.Context) (*miner.MinerData, error) {
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

	// summary.cgi reports rates in GH/s regardless of model.
	if ghs, ok := fm.Float(miner.FieldHashrate); ok {
		rate := miner.HashRate{Value: ghs, Unit: miner.HashGH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
		data.Hashrate = &rate
	}
	if rate5s, ok := fm.Float(miner.FieldIsMining); ok {
		data.IsMining = rate5s > 0
	}
	if ghs, ok := fm.Float(miner.FieldExpectedHashrate); ok {
		rate := miner.HashRate{Value: ghs, Unit: miner.HashGH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
		data.ExpectedHashrate = &rate
	}
	if elapsed, ok := fm.Int(miner.FieldUptime); ok {
		data.Uptime = ptr(time.Duration(elapsed) * time.Second)
	}
	if blink, ok := fm.Bool(miner.FieldLightFlashing); ok {
		data.LightFlashing = &blink
	}

	if chains, ok := fm.Result(miner.FieldHashboards); ok {
		for i, chain := range chains.Array() {
			board := miner.BoardData{Position: i}
			if idx := chain.Get("index"); idx.Exists() {
				board.Position = int(idx.Int())
			}
			if ghs := chain.Get("rate_real"); ghs.Exists() {
				rate := miner.HashRate{Value: ghs.Float(), Unit: miner.HashGH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
				board.Hashrate = &rate
				board.Active = ptr(rate.Value > 0)
			}
			if ghs := chain.Get("rate_ideal"); ghs.Exists() {
				rate := miner.HashRate{Value: ghs.Float(), Unit: miner.HashGH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
				board.ExpectedHashrate = &rate
			}
			// temp_pcb and temp_chip are per-sensor arrays; the hottest
			// sensor stands for the board.
			if temp := maxOf(chain.Get("temp_pcb").Array()); temp != nil {
				board.BoardTemperature = temp
			}
			if temp := maxOf(chain.Get("temp_chip").Array()); temp != nil {
				board.ChipTemperature = temp
			}
			if chips := chain.Get("asic_num"); chips.Exists() {
				board.ChipCount = ptr(int(chips.Int()))
			}
			if freq := chain.Get("freq_avg"); freq.Exists() {
				board.Frequency = ptr(freq.Float())
			}
			data.Hashboards = append(data.Hashboards, board)
		}
	}

	if fans, ok := fm.Result(miner.FieldFans); ok {
		for i, rpm := range fans.Array() {
			if rpm.Int() == 0 {
				// Unpopulated fan headers report zero.
				continue
			}
			data.Fans = append(data.Fans, miner.FanData{Position: i, RPM: ptr(int(rpm.Int()))})
		}
	}

	if pools, ok := fm.Result(miner.FieldPools); ok {
		for i, pool := range pools.Array() {
			alive := pool.Get("status").String() == "Alive"
			active := pool.Get("priority").Int() == 0
			data.Pools = append(data.Pools, miner.PoolData{
				Position:       i,
				URL:            miner.ParsePoolURL(pool.Get("url").String()),
				User:           pool.Get("user").String(),
				Alive:          &alive,
				Active:         &active,
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

// maxOf picks the largest reading out of a sensor array, ignoring the -1
// and 0 placeholders dead sensors report.
func maxOf(sensors []gjson.Result) *float64 {
	var best *float64
	for _, s := range sensors {
		v := s.Float()
		if v <= 0 {
			continue
		}
		if best == nil || v > *best {
			best = ptr(v)
		}
	}
	return best
}

var _ miner.Miner = (*AntMiner)(nil)
