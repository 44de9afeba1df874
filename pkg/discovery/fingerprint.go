package discovery

import (
	"net/http"
	"strings"

	"github.com/minefleet/asicscan/pkg/miner"
)

// WebProbe is a captured landing-page response: the status code, headers,
// and body of a plain GET against the device's web root, with redirects left
// unfollowed so the redirect itself stays visible.
type WebProbe struct {
	StatusCode int
	Header     http.Header
	Body       string
}

// ClassifySocket fingerprints a raw socket API payload. Rules are ordered;
// the first match wins. Matching is a case-insensitive substring scan over
// the whole payload, so a banner anywhere in the response is enough: the
// description string of an error reply identifies a vendor just as well as
// a healthy STATUS block.
func ClassifySocket(raw []byte) miner.Classification {
	payload := strings.ToUpper(string(raw))

	switch {
	case strings.Contains(payload, "BOSMINER") || strings.Contains(payload, "BOSER"):
		return miner.Classification{Firmware: miner.FirmwareBraiins}
	case strings.Contains(payload, "LUXMINER"):
		return miner.Classification{Firmware: miner.FirmwareLuxOS}
	case strings.Contains(payload, "BITMICRO") || strings.Contains(payload, "BTMINER"):
		return miner.Classification{Make: miner.MakeWhatsMiner, Firmware: miner.FirmwareStock}
	// A devdetails reply can name "Antminer" as the hardware model even
	// under aftermarket firmware, so it never counts as a stock banner.
	case strings.Contains(payload, "ANTMINER") && !strings.Contains(payload, "DEVDETAILS"):
		return miner.Classification{Make: miner.MakeAntMiner, Firmware: miner.FirmwareStock}
	case strings.Contains(payload, "AVALON"):
		return miner.Classification{Make: miner.MakeAvalonMiner, Firmware: miner.FirmwareStock}
	case strings.Contains(payload, "VNISH"):
		return miner.Classification{Firmware: miner.FirmwareVNish}
	default:
		return miner.Classification{}
	}
}

// ClassifyWeb fingerprints a landing-page response. Rules are ordered; the
// first match wins. Body matches are case-sensitive since they target exact
// UI strings.
func ClassifyWeb(probe WebProbe) miner.Classification {
	auth := probe.Header.Get("Www-Authenticate")
	location := probe.Header.Get("Location")

	switch {
	case probe.StatusCode == http.StatusUnauthorized && strings.Contains(auth, `realm="antMiner`):
		return miner.Classification{Make: miner.MakeAntMiner, Firmware: miner.FirmwareStock}
	case strings.Contains(probe.Body, "Braiins OS"):
		return miner.Classification{Firmware: miner.FirmwareBraiins}
	case strings.Contains(probe.Body, "Luxor Firmware"):
		return miner.Classification{Firmware: miner.FirmwareLuxOS}
	case strings.Contains(probe.Body, "AxeOS"):
		return miner.Classification{Make: miner.MakeBitAxe, Firmware: miner.FirmwareStock}
	case strings.Contains(probe.Body, "Miner Web Dashboard"):
		return miner.Classification{Firmware: miner.FirmwareEPic}
	case strings.Contains(probe.Body, "Avalon"):
		return miner.Classification{Make: miner.MakeAvalonMiner, Firmware: miner.FirmwareStock}
	case strings.Contains(probe.Body, "AnthillOS"):
		return miner.Classification{Firmware: miner.FirmwareVNish}
	// WhatsMiner web UIs force the browser onto HTTPS with a temporary
	// redirect, or serve the LuCI login form directly.
	case probe.StatusCode == http.StatusTemporaryRedirect && strings.Contains(location, "https://"),
		strings.Contains(probe.Body, "/cgi-bin/luci"):
		return miner.Classification{Make: miner.MakeWhatsMiner, Firmware: miner.FirmwareStock}
	default:
		return miner.Classification{}
	}
}
