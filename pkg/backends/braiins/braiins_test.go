package braiins

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

// fixtureTransport answers every surface at once, the way the real backend
// binds GraphQL, socket, and web transports together.
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
	switch kind {
	case miner.KindGraphQL, miner.KindRPC, miner.KindWebAPI, miner.KindSSH:
		return true
	}
	return false
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

func braiinsInfo() miner.DeviceInfo {
	return miner.NewDeviceInfo(
		miner.MakeAntMiner,
		miner.Model{Make: miner.MakeAntMiner, Name: "S19"},
		miner.FirmwareBraiins,
		miner.SHA256,
	)
}

func TestCollect(t *testing.T) {
	ft := newFixtureTransport()
	ft.responses[gqlSystem] = `{"data":{
		"bos":{"hostname":"bos-s19-01","faultLight":false,"info":{"version":{"full":"21.09.3"}},"uptime":{"durationS":5400}},
		"bosminer":{"info":{
			"workSolver":{"realHashrate":{"mhs5S":95000000.0},"nominalMhs":110000000.0},
			"fans":[{"name":"fan1","speed":80,"rpm":5160},{"name":"fan2","speed":80,"rpm":5280}],
			"summary":{"power":{"limitW":3250,"approxConsumptionW":3190}}}}}}`
	ft.responses[gqlBoards] = `{"data":{"bosminer":{"info":{"workSolver":{"childSolvers":[
		{"name":"0","realHashrate":{"mhs5S":31600000.0},"nominalMhs":36666666.0,
		 "hwDetails":{"chips":114,"frequencyMhz":520.5,"voltageV":13.4},
		 "temperatures":[{"name":"Board 0","degreesC":61.5},{"name":"Chip 0","degreesC":76.0}]},
		{"name":"1","realHashrate":{"mhs5S":31700000.0},"nominalMhs":36666666.0,
		 "hwDetails":{"chips":114,"frequencyMhz":520.5,"voltageV":13.5},
		 "temperatures":[{"name":"Board 1","degreesC":62.0},{"name":"Chip 1","degreesC":77.5}]},
		{"name":"2","realHashrate":{"mhs5S":0.0},"nominalMhs":36666666.0,
		 "hwDetails":{"chips":114,"frequencyMhz":520.5,"voltageV":13.4},
		 "temperatures":[{"name":"Board 2","degreesC":40.0},{"name":"Chip 2","degreesC":42.0}]}]}}}}}`
	ft.responses[gqlPools] = `{"data":{"bosminer":{"info":{"poolGroups":[{"name":"default","pools":[
		{"url":"stratum2+tcp://v2.stratum.braiins.com/u95GEReVMjK6k5YqiSFNqqTnKU4ypU2Wm8awa6tmbmDmk1bWt","user":"worker.bos","status":"Running","active":true,
		 "shares":{"acceptedSolutions":88012,"rejectedSolutions":45}},
		{"url":"stratum+tcp://btc.example.org:3333","user":"worker.bos","status":"Disconnected","active":false,
		 "shares":{"acceptedSolutions":0,"rejectedSolutions":0}}]}]}}}}`
	ft.responses[gqlEvents] = `{"data":{"events":{"appeals":[
		{"kind":"Warning","timestamp":1724900000,"message":"fan speed degraded"}]}}}`
	ft.responses[rpcVersion] = `{"VERSION":[{"API":"3.7","BOSminer":"0.2.0"}]}`
	ft.responses[webNetConf] = `[{"macaddr":"A0:B1:C2:D3:E4:F5","ifname":"eth0"}]`

	backend := New2109(net.ParseIP("10.0.0.15"), braiinsInfo(),
		WithTransports(transport.Set{ft}))

	data, err := backend.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "A0:B1:C2:D3:E4:F5", data.Mac)
	assert.Equal(t, "bos-s19-01", data.Hostname)
	assert.Equal(t, "3.7", data.ApiVersion)
	assert.Equal(t, "21.09.3", data.FirmwareVersion)

	require.NotNil(t, data.Hashrate)
	assert.Equal(t, miner.HashTH, data.Hashrate.Unit)
	assert.InDelta(t, 95.0, data.Hashrate.Value, 0.01)
	require.NotNil(t, data.ExpectedHashrate)
	assert.InDelta(t, 110.0, data.ExpectedHashrate.Value, 0.01)

	require.NotNil(t, data.Wattage)
	assert.Equal(t, 3190.0, *data.Wattage)
	require.NotNil(t, data.WattageLimit)
	assert.Equal(t, 3250.0, *data.WattageLimit)
	require.NotNil(t, data.Uptime)
	assert.Equal(t, 90*time.Minute, *data.Uptime)
	require.NotNil(t, data.LightFlashing)
	assert.False(t, *data.LightFlashing)
	assert.True(t, data.IsMining)

	require.Len(t, data.Fans, 2)
	assert.Equal(t, 5160, *data.Fans[0].RPM)

	require.Len(t, data.Hashboards, 3)
	assert.Equal(t, 114, *data.Hashboards[0].ChipCount)
	assert.Equal(t, 61.5, *data.Hashboards[0].BoardTemperature)
	assert.Equal(t, 76.0, *data.Hashboards[0].ChipTemperature)
	assert.Equal(t, 13.5, *data.Hashboards[1].Voltage)
	assert.True(t, *data.Hashboards[0].Active)
	assert.False(t, *data.Hashboards[2].Active)
	require.NotNil(t, data.TotalChips)
	assert.Equal(t, 342, *data.TotalChips)

	require.Len(t, data.Pools, 2)
	assert.Equal(t, miner.SchemeStratumV2, data.Pools[0].URL.Scheme)
	assert.Equal(t, "v2.stratum.braiins.com", data.Pools[0].URL.Host)
	assert.True(t, *data.Pools[0].Alive)
	assert.True(t, *data.Pools[0].Active)
	assert.False(t, *data.Pools[1].Alive)
	assert.Equal(t, uint64(88012), *data.Pools[0].AcceptedShares)

	require.Len(t, data.Messages, 1)
	assert.Equal(t, miner.SeverityWarning, data.Messages[0].Severity)
	assert.Equal(t, "fan speed degraded", data.Messages[0].Text)
}

// The system document feeds nine fields; a collection pass must post the
// query once.
func TestCollectDeduplicatesSystemQuery(t *testing.T) {
	ft := newFixtureTransport()
	ft.responses[gqlSystem] = `{"data":{"bos":{"hostname":"bos-s19-01","info":{"version":{"full":"21.09.3"}}}}}`

	backend := New2109(net.ParseIP("10.0.0.15"), braiinsInfo(),
		WithTransports(transport.Set{ft}))

	_, err := backend.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ft.calls[gqlSystem])
}

// When bosminer is stopped the workSolver comes back null and the device
// reads as not mining.
func TestCollectStoppedSolver(t *testing.T) {
	ft := newFixtureTransport()
	ft.responses[gqlSystem] = `{"data":{
		"bos":{"hostname":"bos-s19-01","info":{"version":{"full":"21.09.3"}}},
		"bosminer":{"info":{"workSolver":null}}}}`

	backend := New2109(net.ParseIP("10.0.0.15"), braiinsInfo(),
		WithTransports(transport.Set{ft}))

	data, err := backend.Collect(context.Background())
	require.NoError(t, err)
	assert.False(t, data.IsMining)
	assert.Nil(t, data.Hashrate)
}

// With the GraphQL daemon down the hostname still resolves over SSH, which
// hands back the command output as a JSON string.
func TestCollectHostnameFromSSHFallback(t *testing.T) {
	ft := newFixtureTransport()
	ft.responses[sshHostname] = `"bos-s19-01"`
	ft.responses[rpcVersion] = `{"VERSION":[{"API":"3.7"}]}`

	backend := New2109(net.ParseIP("10.0.0.15"), braiinsInfo(),
		WithTransports(transport.Set{ft}))

	data, err := backend.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bos-s19-01", data.Hostname)
	assert.Equal(t, "3.7", data.ApiVersion)
}

func TestCollectNoResponse(t *testing.T) {
	backend := New2109(net.ParseIP("10.0.0.15"), braiinsInfo(),
		WithTransports(transport.Set{newFixtureTransport()}))

	_, err := backend.Collect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, miner.ErrNoResponse)
}
