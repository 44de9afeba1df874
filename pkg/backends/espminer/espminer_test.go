package espminer

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minefleet/asicscan/pkg/miner"
	"github.com/minefleet/asicscan/pkg/transport"
)

type fixtureTransport struct {
	mu        sync.Mutex
	calls     map[miner.Command]int
	responses map[miner.Command]string
}

func newFixtureTransport() *fixtureTransport {
	return &fixtureTransport{
		calls:     make(map[miner.Command]int),
		responses: make(map[miner.Command]string),
	}
}

func (t *fixtureTransport) Supports(kind miner.CommandKind) bool {
	return kind == miner.KindWebAPI
}

func (t *fixtureTransport) Execute(ctx context.Context, cmd miner.Command) ([]byte, error) {
	t.mu.Lock()
	t.calls[cmd]++
	body, ok := t.responses[cmd]
	t.mu.Unlock()
	if !ok {
		return nil, errors.New("no fixture for " + cmd.String())
	}
	return []byte(body), nil
}

func bitAxeInfo() miner.DeviceInfo {
	return miner.NewDeviceInfo(
		miner.MakeBitAxe,
		miner.Model{Make: miner.MakeBitAxe, Name: "Gamma"},
		miner.FirmwareStock,
		miner.SHA256,
	)
}

const systemInfoBody = `{
	"macAddr":"EC:DA:3B:11:22:33","hostname":"bitaxe-gamma","version":"2.9.1","boardVersion":"601",
	"hashRate":1142.6,"expectedHashrate":1200.0,"power":17.9,"uptimeSeconds":86400,
	"fanrpm":4623,"temp":58.5,"vrTemp":46.0,"asicCount":1,"voltage":5112.5,"frequency":525,
	"overheat_mode":false,
	"stratumURL":"public-pool.io","stratumPort":21496,"stratumUser":"bc1q.bitaxe",
	"sharesAccepted":16732,"sharesRejected":14,
	"fallbackStratumURL":"solo.ckpool.org","fallbackStratumPort":3333,"fallbackStratumUser":"bc1q.fallback",
	"isUsingFallbackStratum":false
}`

func TestV290Collect(t *testing.T) {
	ft := newFixtureTransport()
	ft.responses[cmdSystemInfo] = systemInfoBody
	ft.responses[cmdAsicInfo] = `{"asicCount":1,"frequency":525}`

	backend := NewV290(net.ParseIP("10.0.0.12"), bitAxeInfo(),
		WithTransports(transport.Set{ft}))

	data, err := backend.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "EC:DA:3B:11:22:33", data.Mac)
	assert.Equal(t, "bitaxe-gamma", data.Hostname)
	assert.Equal(t, "2.9.1", data.ApiVersion)
	assert.Equal(t, "2.9.1", data.FirmwareVersion)
	assert.Equal(t, "601", data.ControlBoardVersion)

	require.NotNil(t, data.Hashrate)
	assert.Equal(t, miner.HashTH, data.Hashrate.Unit)
	assert.InDelta(t, 1.1426, data.Hashrate.Value, 0.0001)
	require.NotNil(t, data.ExpectedHashrate)
	assert.InDelta(t, 1.2, data.ExpectedHashrate.Value, 0.0001)
	assert.True(t, data.IsMining)

	require.NotNil(t, data.Wattage)
	assert.Equal(t, 17.9, *data.Wattage)
	require.NotNil(t, data.Uptime)
	assert.Equal(t, 24*time.Hour, *data.Uptime)

	require.Len(t, data.Fans, 1)
	assert.Equal(t, 4623, *data.Fans[0].RPM)

	require.Len(t, data.Hashboards, 1)
	board := data.Hashboards[0]
	assert.Equal(t, 1, *board.ChipCount)
	assert.Equal(t, 46.0, *board.BoardTemperature)
	assert.Equal(t, 58.5, *board.ChipTemperature)
	assert.InDelta(t, 5.1125, *board.Voltage, 0.0001)
	assert.Equal(t, 525.0, *board.Frequency)

	require.Len(t, data.Pools, 2)
	assert.Equal(t, "public-pool.io", data.Pools[0].URL.Host)
	assert.Equal(t, 21496, data.Pools[0].URL.Port)
	assert.True(t, *data.Pools[0].Active)
	assert.Equal(t, uint64(16732), *data.Pools[0].AcceptedShares)
	assert.Equal(t, "solo.ckpool.org", data.Pools[1].URL.Host)
	assert.False(t, *data.Pools[1].Active)

	assert.Empty(t, data.Messages)
}

// Nearly every field reads from system/info; a collection pass must fetch
// it once.
func TestCollectDeduplicatesSystemInfo(t *testing.T) {
	ft := newFixtureTransport()
	ft.responses[cmdSystemInfo] = systemInfoBody

	backend := NewV200(net.ParseIP("10.0.0.12"), bitAxeInfo(),
		WithTransports(transport.Set{ft}))

	_, err := backend.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ft.calls[cmdSystemInfo])
	// The 2.0.0 generation has no asic endpoint.
	assert.Zero(t, ft.calls[cmdAsicInfo])
}

func TestCollectFallbackPoolActive(t *testing.T) {
	ft := newFixtureTransport()
	ft.responses[cmdSystemInfo] = `{"hashRate":980.0,"stratumURL":"public-pool.io","stratumPort":21496,
		"fallbackStratumURL":"solo.ckpool.org","fallbackStratumPort":3333,"isUsingFallbackStratum":true}`

	backend := NewV200(net.ParseIP("10.0.0.12"), bitAxeInfo(),
		WithTransports(transport.Set{ft}))

	data, err := backend.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, data.Pools, 2)
	assert.False(t, *data.Pools[0].Active)
	assert.True(t, *data.Pools[1].Active)
}

func TestCollectOverheatMessage(t *testing.T) {
	ft := newFixtureTransport()
	ft.responses[cmdSystemInfo] = `{"hashRate":0,"overheat_mode":true}`

	backend := NewV290(net.ParseIP("10.0.0.12"), bitAxeInfo(),
		WithTransports(transport.Set{ft}))

	data, err := backend.Collect(context.Background())
	require.NoError(t, err)
	assert.False(t, data.IsMining)
	require.Len(t, data.Messages, 1)
	assert.Equal(t, miner.SeverityWarning, data.Messages[0].Severity)
}

func TestCollectNoResponse(t *testing.T) {
	backend := NewV290(net.ParseIP("10.0.0.12"), bitAxeInfo(),
		WithTransports(transport.Set{newFixtureTransport()}))

	_, err := backend.Collect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, miner.ErrNoResponse)
}
