package antminer

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

func antMinerInfo() miner.DeviceInfo {
	return miner.NewDeviceInfo(
		miner.MakeAntMiner,
		miner.Model{Make: miner.MakeAntMiner, Name: "S19j Pro"},
		miner.FirmwareStock,
		miner.SHA256,
	)
}

func TestCollect(t *testing.T) {
	ft := newFixtureTransport()
	ft.responses[cmdSystemInfo] = `{"minertype":"Antminer S19j Pro","macaddr":"AA:BB:CC:DD:EE:FF","hostname":"Antminer","serinum":"XJ0A1B2C3","system_filesystem_version":"Fri Nov 17 17:57:40 CST 2023","system_kernel_version":"Linux 4.6.0","cgminer_version":"4.11.1"}`
	ft.responses[cmdSummary] = `{"SUMMARY":[{"elapsed":86400,"rate_5s":104312.21,"rate_avg":103998.5,"rate_ideal":104000,"rate_unit":"GH/s"}]}`
	ft.responses[cmdStats] = `{"STATS":[{"chain":[
		{"index":0,"freq_avg":525,"rate_real":34770.7,"rate_ideal":34666,"asic_num":126,"temp_pcb":[52,50,54,53],"temp_chip":[67,65,70,68]},
		{"index":1,"freq_avg":525,"rate_real":34771.0,"rate_ideal":34666,"asic_num":126,"temp_pcb":[51,49,55,52],"temp_chip":[66,64,71,67]},
		{"index":2,"freq_avg":525,"rate_real":34770.5,"rate_ideal":34666,"asic_num":126,"temp_pcb":[50,48,53,51],"temp_chip":[65,63,69,66]}],
		"fan":[5880,5880,6000,0],"fan_num":4}]}`
	ft.responses[cmdPools] = `{"POOLS":[
		{"url":"stratum+tcp://btc.example.org:3333","user":"worker.s19","status":"Alive","priority":0,"accepted":250100,"rejected":31},
		{"url":"stratum+tcp://backup.example.org:25","user":"worker.s19","status":"Dead","priority":1,"accepted":0,"rejected":0}]}`
	ft.responses[cmdBlinkStatus] = `{"blink":false}`

	backend := New(net.ParseIP("10.0.0.21"), antMinerInfo(),
		WithTransports(transport.Set{ft}))

	data, err := backend.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", data.Mac)
	assert.Equal(t, "XJ0A1B2C3", data.SerialNumber)
	assert.Equal(t, "4.11.1", data.ApiVersion)

	require.NotNil(t, data.Hashrate)
	assert.Equal(t, miner.HashTH, data.Hashrate.Unit)
	assert.InDelta(t, 104.31, data.Hashrate.Value, 0.01)
	assert.True(t, data.IsMining)
	require.NotNil(t, data.Uptime)
	assert.Equal(t, 24*time.Hour, *data.Uptime)

	require.Len(t, data.Hashboards, 3)
	board := data.Hashboards[0]
	assert.Equal(t, 126, *board.ChipCount)
	assert.Equal(t, 54.0, *board.BoardTemperature)
	assert.Equal(t, 70.0, *board.ChipTemperature)
	assert.Equal(t, 378, *data.TotalChips)

	// The zero-RPM header is an empty slot, not a stopped fan.
	require.Len(t, data.Fans, 3)

	require.Len(t, data.Pools, 2)
	assert.True(t, *data.Pools[0].Active)
	assert.False(t, *data.Pools[1].Alive)

	// system info feeds six fields through one request.
	assert.Equal(t, 1, ft.calls[cmdSystemInfo])
}

func TestCollectDegradesWhenStatsFail(t *testing.T) {
	ft := newFixtureTransport()
	ft.responses[cmdSystemInfo] = `{"macaddr":"AA:BB:CC:DD:EE:FF","hostname":"Antminer"}`

	backend := New(net.ParseIP("10.0.0.21"), antMinerInfo(),
		WithTransports(transport.Set{ft}))

	data, err := backend.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", data.Mac)
	assert.Empty(t, data.Hashboards)
	assert.Nil(t, data.Hashrate)
}
