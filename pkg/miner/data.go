package miner

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// HashRateUnit is a decimal hashing throughput unit.
type HashRateUnit string

const (
	HashH  HashRateUnit = "H/s"
	HashKH HashRateUnit = "KH/s"
	HashMH HashRateUnit = "MH/s"
	HashGH HashRateUnit = "GH/s"
	HashTH HashRateUnit = "TH/s"
	HashPH HashRateUnit = "PH/s"
	HashEH HashRateUnit = "EH/s"
)

// hashUnitScale gives each unit's multiplier in H/s.
var hashUnitScale = map[HashRateUnit]float64{
	HashH:  1,
	HashKH: 1e3,
	HashMH: 1e6,
	HashGH: 1e9,
	HashTH: 1e12,
	HashPH: 1e15,
	HashEH: 1e18,
}

// HashRate is a throughput measurement: a value, its unit, and the hashing
// algorithm it was measured for.
type HashRate struct {
	Value     float64       `json:"value"`
	Unit      HashRateUnit  `json:"unit"`
	Algorithm HashAlgorithm `json:"algorithm"`
}

// Convert re-expresses the hashrate in another unit.
func (h HashRate) Convert(to HashRateUnit) HashRate {
	from, ok := hashUnitScale[h.Unit]
	toScale, ok2 := hashUnitScale[to]
	if !ok || !ok2 || toScale == 0 {
		return h
	}
	return HashRate{Value: h.Value * from / toScale, Unit: to, Algorithm: h.Algorithm}
}

// String renders the rate for logs, e.g. "92.41 TH/s".
func (h HashRate) String() string {
	return fmt.Sprintf("%.2f %s", h.Value, h.Unit)
}

// BoardData is the per-hashboard slice of a snapshot.
type BoardData struct {
	// Position is the board slot index as the device reports it.
	Position int `json:"position"`

	Hashrate         *HashRate `json:"hashrate,omitempty"`
	ExpectedHashrate *HashRate `json:"expected_hashrate,omitempty"`

	// BoardTemperature is the PCB sensor reading in degrees Celsius.
	BoardTemperature *float64 `json:"board_temperature,omitempty"`

	// ChipTemperature is the hottest chip sensor reading in degrees Celsius.
	ChipTemperature *float64 `json:"chip_temperature,omitempty"`

	ChipCount *int     `json:"chip_count,omitempty"`
	Voltage   *float64 `json:"voltage,omitempty"`
	Frequency *float64 `json:"frequency,omitempty"`
	Active    *bool    `json:"active,omitempty"`
}

// FanData is one cooling fan reading.
type FanData struct {
	Position int  `json:"position"`
	RPM      *int `json:"rpm,omitempty"`
}

// PoolScheme is the stratum protocol variant of a pool URL.
type PoolScheme string

const (
	SchemeStratumV1    PoolScheme = "stratum+tcp"
	SchemeStratumV1SSL PoolScheme = "stratum+ssl"
	SchemeStratumV2    PoolScheme = "stratum2+tcp"
)

// PoolURL is a parsed pool endpoint.
type PoolURL struct {
	Scheme PoolScheme `json:"scheme"`
	Host   string     `json:"host"`
	Port   int        `json:"port"`
}

// String reassembles the endpoint, e.g. "stratum+tcp://pool.example.com:3333".
func (p PoolURL) String() string {
	if p.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s://%s:%d", p.Scheme, p.Host, p.Port)
}

// ParsePoolURL parses a stratum endpoint such as
// "stratum+tcp://pool.example.com:3333". A bare host:port defaults to
// stratum+tcp, and a missing port defaults to 3333, matching how miners fill
// in pool slots configured without a full URL.
func ParsePoolURL(raw string) PoolURL {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return PoolURL{}
	}

	scheme := SchemeStratumV1
	rest := raw
	if i := strings.Index(raw, "://"); i >= 0 {
		switch PoolScheme(raw[:i]) {
		case SchemeStratumV1SSL:
			scheme = SchemeStratumV1SSL
		case SchemeStratumV2:
			scheme = SchemeStratumV2
		}
		rest = raw[i+3:]
	}
	// Stratum V2 URLs carry the pool pubkey after a second slash.
	if i := strings.Index(rest, "/"); i >= 0 {
		rest = rest[:i]
	}

	host, portStr, err := net.SplitHostPort(rest)
	port := 3333
	if err != nil {
		host = rest
	} else if p, perr := strconv.Atoi(portStr); perr == nil {
		port = p
	}
	return PoolURL{Scheme: scheme, Host: host, Port: port}
}

// PoolData is one configured pool slot.
type PoolData struct {
	Position       int     `json:"position"`
	URL            PoolURL `json:"url"`
	User           string  `json:"user,omitempty"`
	Alive          *bool   `json:"alive,omitempty"`
	Active         *bool   `json:"active,omitempty"`
	AcceptedShares *uint64 `json:"accepted_shares,omitempty"`
	RejectedShares *uint64 `json:"rejected_shares,omitempty"`
}

// MessageSeverity ranks device messages.
type MessageSeverity string

const (
	SeverityInfo    MessageSeverity = "info"
	SeverityWarning MessageSeverity = "warning"
	SeverityError   MessageSeverity = "error"
	SeverityFatal   MessageSeverity = "fatal"
)

// MinerMessage is one diagnostic message reported by the device.
type MinerMessage struct {
	When     time.Time       `json:"when"`
	Code     int             `json:"code,omitempty"`
	Text     string          `json:"text"`
	Severity MessageSeverity `json:"severity"`
}

// MinerData is the canonical telemetry snapshot. Vendors that cannot supply a
// field leave it at its zero value (nil pointer, empty string); absence is
// ordinary, not an error.
type MinerData struct {
	IP         net.IP     `json:"ip"`
	DeviceInfo DeviceInfo `json:"device_info"`
	Timestamp  time.Time  `json:"timestamp"`

	Mac                 string `json:"mac,omitempty"`
	Hostname            string `json:"hostname,omitempty"`
	ApiVersion          string `json:"api_version,omitempty"`
	FirmwareVersion     string `json:"firmware_version,omitempty"`
	ControlBoardVersion string `json:"control_board_version,omitempty"`
	SerialNumber        string `json:"serial_number,omitempty"`

	Hashrate         *HashRate `json:"hashrate,omitempty"`
	ExpectedHashrate *HashRate `json:"expected_hashrate,omitempty"`

	Hashboards []BoardData `json:"hashboards,omitempty"`
	Fans       []FanData   `json:"fans,omitempty"`
	PsuFans    []FanData   `json:"psu_fans,omitempty"`
	Pools      []PoolData  `json:"pools,omitempty"`

	// Wattage and WattageLimit are in watts.
	Wattage      *float64 `json:"wattage,omitempty"`
	WattageLimit *float64 `json:"wattage_limit,omitempty"`

	Uptime        *time.Duration `json:"uptime,omitempty"`
	IsMining      bool           `json:"is_mining"`
	LightFlashing *bool          `json:"light_flashing,omitempty"`

	Messages []MinerMessage `json:"messages,omitempty"`

	// FluidTemperature is the intake air or immersion fluid temperature in
	// degrees Celsius.
	FluidTemperature *float64 `json:"fluid_temperature,omitempty"`

	// AverageTemperature is the mean board temperature in degrees Celsius.
	AverageTemperature *float64 `json:"average_temperature,omitempty"`

	TotalChips *int `json:"total_chips,omitempty"`
}

// ComputeAverages fills AverageTemperature and TotalChips from the board list
// when the vendor does not report them directly.
func (d *MinerData) ComputeAverages() {
	if len(d.Hashboards) == 0 {
		return
	}

	var tempSum float64
	var tempCount int
	var chips int
	var haveChips bool
	for _, b := range d.Hashboards {
		if b.BoardTemperature != nil {
			tempSum += *b.BoardTemperature
			tempCount++
		}
		if b.ChipCount != nil {
			chips += *b.ChipCount
			haveChips = true
		}
	}

	if d.AverageTemperature == nil && tempCount > 0 {
		avg := tempSum / float64(tempCount)
		d.AverageTemperature = &avg
	}
	if d.TotalChips == nil && haveChips {
		d.TotalChips = &chips
	}
}
