// Package discovery turns network addresses into live miner handles. A scan
// races cheap fingerprint probes against every address, resolves the exact
// hardware model and firmware version for whatever answered, and constructs
// the protocol backend that speaks the device's dialect.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/minefleet/asicscan/internal/netutil"
	"github.com/minefleet/asicscan/pkg/miner"
)

// DefaultDiscoveryTimeout bounds the probe race and each resolver call.
const DefaultDiscoveryTimeout = 5 * time.Second

// adaptiveConcurrency picks a concurrency limit from the sweep size, scaling
// from conservative on small networks to aggressive on site-wide scans.
func adaptiveConcurrency(ipCount int) int {
	switch {
	case ipCount <= 100:
		return 25
	case ipCount <= 1000:
		return 50
	case ipCount <= 5000:
		return 100
	case ipCount <= 10000:
		return 150
	default:
		return 200
	}
}

// Credentials carries the administrative logins used during resolution and
// handed to the constructed backends. Empty fields fall back to the vendor
// factory defaults.
type Credentials struct {
	// AntMinerUser and AntMinerPassword authenticate the stock AntMiner
	// CGI endpoints (digest auth).
	AntMinerUser     string
	AntMinerPassword string

	// WhatsMinerUser and WhatsMinerPassword sign into the LuCI dashboard,
	// used only when the socket API is unreachable.
	WhatsMinerUser     string
	WhatsMinerPassword string

	// VNishPassword unlocks the VNish management API.
	VNishPassword string

	// BraiinsUser and BraiinsPassword authenticate the Braiins OS GraphQL
	// and LuCI endpoints.
	BraiinsUser     string
	BraiinsPassword string
}

// withDefaults fills empty fields with the vendor factory logins.
func (c Credentials) withDefaults() Credentials {
	if c.AntMinerUser == "" {
		c.AntMinerUser = "root"
	}
	if c.AntMinerPassword == "" {
		c.AntMinerPassword = "root"
	}
	if c.WhatsMinerUser == "" {
		c.WhatsMinerUser = "admin"
	}
	if c.WhatsMinerPassword == "" {
		c.WhatsMinerPassword = "admin"
	}
	if c.VNishPassword == "" {
		c.VNishPassword = "admin"
	}
	if c.BraiinsUser == "" {
		c.BraiinsUser = "root"
	}
	if c.BraiinsPassword == "" {
		c.BraiinsPassword = "root"
	}
	return c
}

// addressSource lazily expands one scan-target description. Expansion runs
// at construction so malformed targets fail fast.
type addressSource func() ([]net.IP, error)

// MinerFactory sweeps a set of addresses for miners.
type MinerFactory struct {
	ips             []net.IP
	sources         []addressSource
	concurrency     int
	timeout         time.Duration
	searchMakes     []miner.MinerMake
	searchFirmwares []miner.MinerFirmware
	creds           Credentials
	logger          *zap.Logger

	probes   []miner.Command
	prober   *prober
	resolver *resolver
}

// Option configures a MinerFactory.
type Option func(*MinerFactory)

// WithSubnet adds every host address of a CIDR block to the scan set.
func WithSubnet(cidr string) Option {
	return func(f *MinerFactory) {
		f.sources = append(f.sources, func() ([]net.IP, error) {
			return netutil.ExpandCIDR(cidr)
		})
	}
}

// WithOctets adds the cartesian product of four octet ranges, e.g.
// ("10", "0", "1-4", "1-254").
func WithOctets(octet1, octet2, octet3, octet4 string) Option {
	return func(f *MinerFactory) {
		f.sources = append(f.sources, func() ([]net.IP, error) {
			return netutil.ExpandOctets(octet1, octet2, octet3, octet4)
		})
	}
}

// WithRange adds addresses described by a dotted octet-range spec, e.g.
// "10.1-199.0.1-199".
func WithRange(spec string) Option {
	return func(f *MinerFactory) {
		f.sources = append(f.sources, func() ([]net.IP, error) {
			return netutil.ExpandRange(spec)
		})
	}
}

// WithIPRange adds every address between start and end, inclusive.
func WithIPRange(start, end string) Option {
	return func(f *MinerFactory) {
		f.sources = append(f.sources, func() ([]net.IP, error) {
			return netutil.ExpandBetween(start, end)
		})
	}
}

// WithIPs adds literal addresses.
func WithIPs(ips ...net.IP) Option {
	return func(f *MinerFactory) {
		f.sources = append(f.sources, func() ([]net.IP, error) {
			return ips, nil
		})
	}
}

// WithHosts adds literal addresses given as strings.
func WithHosts(hosts ...string) Option {
	return func(f *MinerFactory) {
		f.sources = append(f.sources, func() ([]net.IP, error) {
			ips := make([]net.IP, 0, len(hosts))
			for _, host := range hosts {
				if !netutil.IsValidIP(host) {
					return nil, fmt.Errorf("invalid address %q", host)
				}
				ips = append(ips, net.ParseIP(host))
			}
			return ips, nil
		})
	}
}

// WithConcurrency overrides the adaptive concurrency limit.
func WithConcurrency(n int) Option {
	return func(f *MinerFactory) {
		f.concurrency = n
	}
}

// WithTimeout sets the per-address discovery timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(f *MinerFactory) {
		f.timeout = timeout
	}
}

// WithSearchMakes restricts discovery to the given manufacturers.
func WithSearchMakes(makes ...miner.MinerMake) Option {
	return func(f *MinerFactory) {
		f.searchMakes = makes
	}
}

// WithSearchFirmwares restricts discovery to the given firmware families.
func WithSearchFirmwares(firmwares ...miner.MinerFirmware) Option {
	return func(f *MinerFactory) {
		f.searchFirmwares = firmwares
	}
}

// WithCredentials sets the administrative logins used during resolution and
// collection.
func WithCredentials(creds Credentials) Option {
	return func(f *MinerFactory) {
		f.creds = creds
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(f *MinerFactory) {
		f.logger = logger
	}
}

// New builds a factory. Address expansion happens here, so a malformed
// subnet or range fails construction rather than a later scan.
func New(opts ...Option) (*MinerFactory, error) {
	f := &MinerFactory{
		timeout: DefaultDiscoveryTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}

	seen := make(map[string]struct{})
	for _, source := range f.sources {
		ips, err := source()
		if err != nil {
			return nil, fmt.Errorf("expand scan addresses: %w", err)
		}
		for _, ip := range ips {
			key := ip.String()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			f.ips = append(f.ips, ip)
		}
	}

	// Miner fleets live on RFC 1918 networks; a public target is almost
	// always a typo in the subnet.
	public := 0
	for _, ip := range f.ips {
		if !netutil.IsPrivateIP(ip.String()) {
			public++
		}
	}
	if public > 0 {
		f.logger.Warn("scan targets outside private ranges",
			zap.Int("addresses", public))
	}

	if len(f.searchMakes) == 0 {
		f.searchMakes = miner.AllMakes()
	}
	if len(f.searchFirmwares) == 0 {
		f.searchFirmwares = miner.AllFirmwares()
	}
	if f.concurrency <= 0 {
		f.concurrency = adaptiveConcurrency(len(f.ips))
	}
	f.creds = f.creds.withDefaults()

	f.probes = probeSet(f.searchMakes, f.searchFirmwares)

	// The permit budget covers every probe the sweep can have in flight at
	// once, including probes an address race has already abandoned.
	budget := int64(f.concurrency * max(1, len(f.probes)))
	f.prober = newProber(f.timeout, semaphore.NewWeighted(budget), f.logger)
	f.resolver = newResolver(f.timeout, f.creds, f.logger)

	return f, nil
}

// Addresses returns a copy of the expanded, deduplicated scan set.
func (f *MinerFactory) Addresses() []net.IP {
	ips := make([]net.IP, len(f.ips))
	copy(ips, f.ips)
	return ips
}

// Concurrency returns the effective concurrency limit.
func (f *MinerFactory) Concurrency() int {
	return f.concurrency
}

// Resolve classifies a single address and constructs its backend. An
// address with nothing recognizable on it, or a device nothing ships a
// backend for, resolves to (nil, nil).
func (f *MinerFactory) Resolve(ctx context.Context, ip net.IP) (miner.Miner, error) {
	cls, err := f.prober.classify(ctx, ip, f.probes)
	if err != nil {
		return nil, err
	}
	if cls.IsEmpty() {
		return nil, nil
	}
	f.logger.Debug("device classified",
		zap.String("ip", ip.String()),
		zap.Stringer("class", cls))

	// Model and version failures are independent and survivable; backend
	// dispatch decides what is fatal for this identity.
	model, err := f.resolver.Model(ctx, ip, cls)
	if err != nil {
		f.logger.Debug("model resolution failed",
			zap.String("ip", ip.String()),
			zap.Error(err))
		model = miner.Model{}
	}
	version, err := f.resolver.Version(ctx, ip, cls)
	if err != nil {
		f.logger.Debug("version resolution failed",
			zap.String("ip", ip.String()),
			zap.Error(err))
		version = nil
	}

	dev := miner.NewDeviceInfo(cls.Make, model, cls.Firmware, miner.SHA256)
	found, err := selectBackend(ip, dev, version, f.creds, f.logger)
	if err != nil {
		if errors.Is(err, miner.ErrUnsupportedDevice) {
			f.logger.Debug("no backend for device",
				zap.String("ip", ip.String()),
				zap.Error(err))
			return nil, nil
		}
		return nil, err
	}

	f.logger.Info("miner resolved",
		zap.String("ip", ip.String()),
		zap.Stringer("class", cls),
		zap.String("model", model.String()))
	return found, nil
}

// Scan sweeps every configured address concurrently and returns the miners
// found. Unresponsive and unsupported addresses are dropped, never surfaced
// as errors; canceling the context ends the sweep early with whatever was
// already resolved.
func (f *MinerFactory) Scan(ctx context.Context) ([]miner.Miner, error) {
	if len(f.ips) == 0 {
		return nil, errors.New("no addresses to scan: configure a subnet, range, or address list")
	}

	scanID := uuid.NewString()
	start := time.Now()
	f.logger.Info("scan started",
		zap.String("scan_id", scanID),
		zap.Int("addresses", len(f.ips)),
		zap.Int("concurrency", f.concurrency))

	var (
		mu    sync.Mutex
		found []miner.Miner
	)
	group := new(errgroup.Group)
	group.SetLimit(f.concurrency)
	for _, ip := range f.ips {
		ip := ip
		group.Go(func() error {
			m, err := f.Resolve(ctx, ip)
			if err != nil {
				f.logger.Debug("address skipped",
					zap.String("scan_id", scanID),
					zap.String("ip", ip.String()),
					zap.Error(err))
				return nil
			}
			if m == nil {
				return nil
			}
			mu.Lock()
			found = append(found, m)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	f.logger.Info("scan complete",
		zap.String("scan_id", scanID),
		zap.Int("addresses", len(f.ips)),
		zap.Int("found", len(found)),
		zap.Duration("elapsed", time.Since(start)))
	return found, nil
}

// ScanStream sweeps like Scan but delivers each miner as soon as it
// resolves. The channel closes when the sweep finishes. Delivery follows
// completion order, not address order.
func (f *MinerFactory) ScanStream(ctx context.Context) <-chan miner.Miner {
	out := make(chan miner.Miner)

	go func() {
		defer close(out)
		if len(f.ips) == 0 {
			return
		}

		scanID := uuid.NewString()
		start := time.Now()
		group := new(errgroup.Group)
		group.SetLimit(f.concurrency)
		for _, ip := range f.ips {
			ip := ip
			group.Go(func() error {
				m, err := f.Resolve(ctx, ip)
				if err != nil || m == nil {
					return nil
				}
				select {
				case out <- m:
				case <-ctx.Done():
				}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			f.logger.Debug("scan stream interrupted",
				zap.String("scan_id", scanID),
				zap.Error(err))
		}

		f.logger.Info("scan stream complete",
			zap.String("scan_id", scanID),
			zap.Int("addresses", len(f.ips)),
			zap.Duration("elapsed", time.Since(start)))
	}()

	return out
}
