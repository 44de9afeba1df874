package discovery

import "github.com/minefleet/asicscan/pkg/miner"

// Discovery probes. Nothing vendor-specific is needed to take a first
// guess: every stock socket API answers "version" or "devdetails", and a
// web UI betrays its vendor through the landing page or its headers.
var (
	probeVersion    = miner.RPC("version")
	probeDevDetails = miner.RPC("devdetails")
	probeWebRoot    = miner.WebAPI("/")
)

// discoveryCommands returns the probes that can identify hardware of the
// given make running stock firmware.
func discoveryCommands(make miner.MinerMake) []miner.Command {
	switch make {
	case miner.MakeAntMiner, miner.MakeAvalonMiner, miner.MakeBraiins:
		return []miner.Command{probeVersion, probeWebRoot}
	case miner.MakeWhatsMiner:
		return []miner.Command{probeDevDetails, probeWebRoot}
	case miner.MakeEPic, miner.MakeBitAxe:
		return []miner.Command{probeWebRoot}
	default:
		return nil
	}
}

// firmwareDiscoveryCommands returns the probes that can identify an
// aftermarket firmware family. Stock firmware is identified through its
// make, and families without probes are never classified on the wire.
func firmwareDiscoveryCommands(firmware miner.MinerFirmware) []miner.Command {
	switch firmware {
	case miner.FirmwareBraiins:
		return []miner.Command{probeVersion, probeWebRoot}
	case miner.FirmwareVNish, miner.FirmwareLuxOS:
		return []miner.Command{probeWebRoot, probeVersion}
	case miner.FirmwareEPic:
		return []miner.Command{probeWebRoot}
	default:
		return nil
	}
}

// probeSet unions the discovery commands for a search space. The result is
// deduplicated and keeps first-seen order, so a candidate probe is raced at
// most once per address no matter how many families asked for it.
func probeSet(makes []miner.MinerMake, firmwares []miner.MinerFirmware) []miner.Command {
	seen := make(map[miner.Command]struct{})
	var probes []miner.Command

	add := func(cmds []miner.Command) {
		for _, cmd := range cmds {
			if _, ok := seen[cmd]; ok {
				continue
			}
			seen[cmd] = struct{}{}
			probes = append(probes, cmd)
		}
	}

	for _, make := range makes {
		add(discoveryCommands(make))
	}
	for _, firmware := range firmwares {
		add(firmwareDiscoveryCommands(firmware))
	}

	return probes
}
