// Package braiins implements the BraiinsOS backend for the 21.09 API
// generation. The firmware exposes three surfaces at once: a GraphQL API on
// the web port for most telemetry, the legacy cgminer socket for the API
// version, and the LuCI web interface for network configuration. The 23.03
// generation replaced all of this with gRPC and is handled separately.
package braiins

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/minefleet/asicscan/pkg/collector"
	"github.com/minefleet/asicscan/pkg/miner"
	"github.com/minefleet/asicscan/pkg/transport"
)

var (
	gqlSystem = miner.GraphQL(`{
		bos {
			hostname
			faultLight
			info { version { full } }
			uptime { durationS }
		}
		bosminer {
			info {
				workSolver {
					realHashrate { mhs5S }
					nominalMhs
				}
				fans { name speed rpm }
				summary {
					power { limitW approxConsumptionW }
				}
			}
		}
	}`)
	gqlBoards = miner.GraphQL(`{
		bosminer {
			info {
				workSolver {
					childSolvers {
						name
						realHashrate { mhs5S }
						nominalMhs
						hwDetails { chips frequencyMhz voltageV }
						temperatures { name degreesC }
					}
				}
			}
		}
	}`)
	gqlPools = miner.GraphQL(`{
		bosminer {
			info {
				poolGroups {
					name
					pools {
						url
						user
						status
						active
						shares { acceptedSolutions rejectedSolutions }
					}
				}
			}
		}
	}`)
	gqlEvents  = miner.GraphQL(`{ events { appeals { kind timestamp message } } }`)
	rpcVersion = miner.RPC("version")
	webNetConf = miner.WebAPI("/cgi-bin/luci/admin/network/iface_status/lan")

	// BraiinsOS ships with root SSH enabled; the hostname survives there
	// even when the GraphQL daemon is down.
	sshHostname = miner.SSH("cat /proc/sys/kernel/hostname")
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

// WithCredentials sets the login used for both the GraphQL session and the
// LuCI web interface. Factory default is root with an empty password.
func WithCredentials(username, password string) Option {
	return func(o *options) {
		if username != "" {
			o.username = username
		}
		o.password = password
	}
}

// WithTimeout bounds each round trip on every surface.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// WithTransports replaces the default transports. Used by tests to
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

// Braiins is the BraiinsOS 21.09 backend.
type Braiins struct {
	ip         net.IP
	dev        miner.DeviceInfo
	transports transport.Set
	logger     *zap.Logger
}

// New2109 builds a backend for the 21.09 API generation.
func New2109(ip net.IP, dev miner.DeviceInfo, opts ...Option) *Braiins {
	o := options{
		username: "root",
		timeout:  transport.DefaultWebTimeout,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.transports == nil {
		o.transports = transport.Set{
			transport.NewGraphQL(ip,
				transport.WithGraphQLCredentials(o.username, o.password),
				transport.WithGraphQLTimeout(o.timeout),
				transport.WithGraphQLLogger(o.logger),
			),
			transport.NewRPC(ip,
				transport.WithRPCTimeout(o.timeout),
				transport.WithRPCLogger(o.logger),
			),
			transport.NewWeb(ip,
				transport.WithWebFormLogin("/cgi-bin/luci", url.Values{
					"luci_username": {o.username},
					"luci_password": {o.password},
				}),
				transport.WithWebTimeout(o.timeout),
				transport.WithWebLogger(o.logger),
			),
			transport.NewSSH(ip,
				transport.WithSSHCredentials(o.username, o.password),
				transport.WithSSHTimeout(o.timeout),
				transport.WithSSHLogger(o.logger),
			),
		}
	}
	return &Braiins{ip: ip, dev: dev, transports: o.transports, logger: o.logger}
}

// IP implements miner.Miner.
func (b *Braiins) IP() net.IP {
	return b.ip
}

// DeviceInfo implements miner.Backend.
func (b *Braiins) DeviceInfo() miner.DeviceInfo {
	return b.dev
}

// Locations implements miner.Backend. GraphQL responses arrive as the whole
// response document, so every path starts at "data".
func (b *Braiins) Locations(field miner.Field) []miner.Location {
	switch field {
	case miner.FieldMac:
		return []miner.Location{miner.Locate(webNetConf, miner.ExtractPath("0.macaddr"))}
	case miner.FieldHostname:
		return []miner.Location{
			miner.Locate(gqlSystem, miner.ExtractPath("data.bos.hostname")),
			miner.Locate(sshHostname, miner.ExtractRoot()),
		}
	case miner.FieldApiVersion:
		return []miner.Location{miner.Locate(rpcVersion, miner.ExtractPath("VERSION.0.API"))}
	case miner.FieldFirmwareVersion:
		return []miner.Location{miner.Locate(gqlSystem, miner.ExtractPath("data.bos.info.version.full"))}
	case miner.FieldLightFlashing:
		return []miner.Location{miner.Locate(gqlSystem, miner.ExtractPath("data.bos.faultLight"))}
	case miner.FieldUptime:
		return []miner.Location{miner.Locate(gqlSystem, miner.ExtractPath("data.bos.uptime.durationS"))}
	case miner.FieldHashrate:
		return []miner.Location{miner.Locate(gqlSystem, miner.ExtractPath("data.bosminer.info.workSolver.realHashrate.mhs5S"))}
	case miner.FieldExpectedHashrate:
		return []miner.Location{miner.Locate(gqlSystem, miner.ExtractPath("data.bosminer.info.workSolver.nominalMhs"))}
	case miner.FieldWattage:
		return []miner.Location{miner.Locate(gqlSystem, miner.ExtractPath("data.bosminer.info.summary.power.approxConsumptionW"))}
	case miner.FieldWattageLimit:
		return []miner.Location{miner.Locate(gqlSystem, miner.ExtractPath("data.bosminer.info.summary.power.limitW"))}
	case miner.FieldIsMining:
		return []miner.Location{miner.Locate(gqlSystem, miner.ExtractPath("data.bosminer.info.workSolver"))}
	case miner.FieldFans:
		return []miner.Location{miner.Locate(gqlSystem, miner.ExtractPath("data.bosminer.info.fans"))}
	case miner.FieldHashboards:
		return []miner.Location{miner.Locate(gqlBoards, miner.ExtractPath("data.bosminer.info.workSolver.childSolvers"))}
	case miner.FieldPools:
		return []miner.Location{miner.Locate(gqlPools, miner.ExtractPath("data.bosminer.info.poolGroups"))}
	case miner.FieldMessages:
		return []miner.Location{miner.Locate(gqlEvents, miner.ExtractPath("data.events.appeals"))}
	default:
		return nil
	}
}

// Collect implements miner.Miner.
func (b *Braiins) Collect(ctx context.Context) (*miner.MinerData, error) {
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

	// BraiinsOS reports hashrate in MH/s.
	if mhs, ok := fm.Float(miner.FieldHashrate); ok {
		rate := miner.HashRate{Value: mhs, Unit: miner.HashMH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
		data.Hashrate = &rate
	}
	if mhs, ok := fm.Float(miner.FieldExpectedHashrate); ok {
		rate := miner.HashRate{Value: mhs, Unit: miner.HashMH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
		data.ExpectedHashrate = &rate
	}

	if watts, ok := fm.Float(miner.FieldWattage); ok {
		data.Wattage = &watts
	}
	if watts, ok := fm.Float(miner.FieldWattageLimit); ok {
		data.WattageLimit = &watts
	}
	if secs, ok := fm.Int(miner.FieldUptime); ok {
		data.Uptime = ptr(time.Duration(secs) * time.Second)
	}
	if flashing, ok := fm.Bool(miner.FieldLightFlashing); ok {
		data.LightFlashing = &flashing
	}

	// A non-null work solver means bosminer is up and hashing.
	if solver, ok := fm.Result(miner.FieldIsMining); ok {
		data.IsMining = solver.Type == gjson.JSON
	}

	if fans, ok := fm.Result(miner.FieldFans); ok {
		for i, fan := range fans.Array() {
			data.Fans = append(data.Fans, miner.FanData{
				Position: i,
				RPM:      ptr(int(fan.Get("rpm").Int())),
			})
		}
	}

	if solvers, ok := fm.Result(miner.FieldHashboards); ok {
		for i, solver := range solvers.Array() {
			board := miner.BoardData{Position: i}
			if mhs := solver.Get("realHashrate.mhs5S"); mhs.Exists() {
				rate := miner.HashRate{Value: mhs.Float(), Unit: miner.HashMH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
				board.Hashrate = &rate
				board.Active = ptr(mhs.Float() > 0)
			}
			if mhs := solver.Get("nominalMhs"); mhs.Exists() {
				rate := miner.HashRate{Value: mhs.Float(), Unit: miner.HashMH, Algorithm: b.dev.Algorithm}.Convert(miner.HashTH)
				board.ExpectedHashrate = &rate
			}
			if chips := solver.Get("hwDetails.chips"); chips.Exists() {
				board.ChipCount = ptr(int(chips.Int()))
			}
			if freq := solver.Get("hwDetails.frequencyMhz"); freq.Exists() {
				board.Frequency = ptr(freq.Float())
			}
			if volts := solver.Get("hwDetails.voltageV"); volts.Exists() {
				board.Voltage = ptr(volts.Float())
			}
			for _, temp := range solver.Get("temperatures").Array() {
				name := temp.Get("name").String()
				degrees := temp.Get("degreesC")
				switch {
				case strings.Contains(name, "Board"):
					board.BoardTemperature = ptr(degrees.Float())
				case strings.Contains(name, "Chip"):
					board.ChipTemperature = ptr(degrees.Float())
				}
			}
			data.Hashboards = append(data.Hashboards, board)
		}
	}

	if groups, ok := fm.Result(miner.FieldPools); ok {
		position := 0
		for _, group := range groups.Array() {
			for _, pool := range group.Get("pools").Array() {
				status := pool.Get("status").String()
				data.Pools = append(data.Pools, miner.PoolData{
					Position:       position,
					URL:            miner.ParsePoolURL(pool.Get("url").String()),
					User:           pool.Get("user").String(),
					Alive:          ptr(status == "Running" || status == "Active"),
					Active:         ptr(pool.Get("active").Bool()),
					AcceptedShares: ptr(pool.Get("shares.acceptedSolutions").Uint()),
					RejectedShares: ptr(pool.Get("shares.rejectedSolutions").Uint()),
				})
				position++
			}
		}
	}

	if appeals, ok := fm.Result(miner.FieldMessages); ok {
		for _, appeal := range appeals.Array() {
			severity := miner.SeverityInfo
			switch strings.ToLower(appeal.Get("kind").String()) {
			case "error":
				severity = miner.SeverityError
			case "warning":
				severity = miner.SeverityWarning
			}
			data.Messages = append(data.Messages, miner.MinerMessage{
				When:     time.Unix(appeal.Get("timestamp").Int(), 0),
				Text:     appeal.Get("message").String(),
				Severity: severity,
			})
		}
	}

	data.ComputeAverages()
	return data, nil
}

func ptr[T any](v T) *T {
	return &v
}

var _ miner.Miner = (*Braiins)(nil)
