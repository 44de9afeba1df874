package vnish

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

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

func vnishInfo() miner.DeviceInfo {
	return miner.NewDeviceInfo(
		miner.MakeAntMiner,
		miner.Model{Make: miner.MakeAntMiner, Name: "S19j Pro"},
		miner.FirmwareVNish,
		miner.SHA256,
	)
}

func TestCollect(t *testing.T) {
	ft := newFixtureTransport()
	ft.responses[cmdInfo] = `{"miner":"Antminer S19j Pro","fw_version":"1.2.6","platform":"amlogic","serial":"SN-0042"}`
	ft.responses[cmdSummary] = `{
		"miner_state":"mining",
		"find_miner":false,
		"system":{"uptime":360000,"network_status":{"mac":"0A:1B:2C:3D:4E:5F","hostname":"vnish-s19"}},
		"miner":{
			"hr_realtime":101250.0,
			"hr_stock":104000.0,
			"power_consumption":3010,
			"cooling":{"fans":[{"id":0,"rpm":4740},{"id":1,"rpm":4800}]},
			"chains":[
				{"id":0,"hashrate_rt":33750,"pcb_temp":{"max":58},"chip_temp":{"max":74},"chip_statuses":{"green":124,"orange":2,"red":0},"voltage":13800,"frequency":480},
				{"id":1,"hashrate_rt":33750,"pcb_temp":{"max":57},"chip_temp":{"max":73},"chip_statuses":{"green":126,"orange":0,"red":0},"voltage":13800,"frequency":480},
				{"id":2,"hashrate_rt":33750,"pcb_temp":{"max":59},"chip_temp":{"max":75},"chip_statuses":{"green":125,"orange":1,"red":0},"voltage":13800,"frequency":480}],
			"pools":[{"id":0,"url":"stratum+tcp://btc.example.org:3333","user":"worker.vn","status":"active","accepted":88000,"rejected":9}]
		}}`
	ft.responses[cmdAutotune] = `{"preset":{"name":"3000w","power":3000}}`

	backend := New(net.ParseIP("10.0.0.31"), vnishInfo(),
		WithTransports(transport.Set{ft}))

	data, err := backend.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "0A:1B:2C:3D:4E:5F", data.Mac)
	assert.Equal(t, "vnish-s19", data.Hostname)
	assert.Equal(t, "SN-0042", data.SerialNumber)
	assert.Equal(t, "1.2.6", data.FirmwareVersion)
	assert.Equal(t, "1.2.6", data.ApiVersion)

	require.NotNil(t, data.Hashrate)
	assert.InDelta(t, 101.25, data.Hashrate.Value, 0.01)
	require.NotNil(t, data.ExpectedHashrate)
	assert.InDelta(t, 104.0, data.ExpectedHashrate.Value, 0.01)
	require.NotNil(t, data.WattageLimit)
	assert.Equal(t, 3000.0, *data.WattageLimit)

	assert.True(t, data.IsMining)
	require.NotNil(t, data.LightFlashing)
	assert.False(t, *data.LightFlashing)

	require.Len(t, data.Hashboards, 3)
	assert.Equal(t, 126, *data.Hashboards[0].ChipCount)
	assert.Equal(t, 13.8, *data.Hashboards[0].Voltage)
	require.Len(t, data.Fans, 2)
	require.Len(t, data.Pools, 1)
	assert.True(t, *data.Pools[0].Alive)

	// The summary document feeds most of the catalog through one request.
	assert.Equal(t, 1, ft.calls[cmdSummary])
}

func TestCollectStoppedMiner(t *testing.T) {
	ft := newFixtureTransport()
	ft.responses[cmdSummary] = `{"miner_state":"stopped","system":{"network_status":{"mac":"0A:1B:2C:3D:4E:5F"}}}`

	backend := New(net.ParseIP("10.0.0.31"), vnishInfo(),
		WithTransports(transport.Set{ft}))

	data, err := backend.Collect(context.Background())
	require.NoError(t, err)
	assert.False(t, data.IsMining)
	assert.Nil(t, data.Hashrate)
}
