package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/minefleet/asicscan/pkg/miner"
)

func TestProbeSetDeduplicates(t *testing.T) {
	// Every make and firmware wants the web root, and most want version;
	// the union must still contain each probe once.
	probes := probeSet(miner.AllMakes(), miner.AllFirmwares())

	seen := make(map[miner.Command]int)
	for _, cmd := range probes {
		seen[cmd]++
	}
	for cmd, count := range seen {
		assert.Equal(t, 1, count, "probe %s appears %d times", cmd, count)
	}
	assert.ElementsMatch(t,
		[]miner.Command{probeVersion, probeDevDetails, probeWebRoot},
		probes)
}

func TestProbeSetKeepsFirstSeenOrder(t *testing.T) {
	probes := probeSet([]miner.MinerMake{miner.MakeAntMiner, miner.MakeWhatsMiner}, nil)
	assert.Equal(t, []miner.Command{probeVersion, probeWebRoot, probeDevDetails}, probes)
}

func TestProbeSetNarrowSearch(t *testing.T) {
	// A web-only device needs no socket probes.
	probes := probeSet([]miner.MinerMake{miner.MakeBitAxe}, nil)
	assert.Equal(t, []miner.Command{probeWebRoot}, probes)

	// An unknown family contributes nothing.
	assert.Empty(t, probeSet([]miner.MinerMake{miner.MakeUnknown}, nil))
	assert.Empty(t, probeSet(nil, []miner.MinerFirmware{miner.FirmwareHiveOS}))
}
