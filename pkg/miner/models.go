package miner

import (
	"fmt"
	"strings"
)

// Model tables map a normalized vendor model string to its canonical name.
// Lookup keys are uppercase; normalization is per make (see ParseModel).

var antminerModels = map[string]string{
	"S9":  "S9",
	"S9I": "S9i",
	"S9J": "S9j",
	"T9+": "T9+",

	"S17":     "S17",
	"S17 PRO": "S17 Pro",
	"S17+":    "S17+",
	"S17E":    "S17e",
	"T17":     "T17",
	"T17+":    "T17+",
	"T17E":    "T17e",

	"S19":       "S19",
	"S19 PRO":   "S19 Pro",
	"S19J":      "S19j",
	"S19J PRO":  "S19j Pro",
	"S19J PRO+": "S19j Pro+",
	"S19K PRO":  "S19k Pro",
	"S19 XP":    "S19 XP",
	"S19A":      "S19a",
	"S19A PRO":  "S19a Pro",
	"T19":       "T19",

	"S21":     "S21",
	"S21 PRO": "S21 Pro",
	"S21+":    "S21+",
	"S21 XP":  "S21 XP",
	"T21":     "T21",

	"L3+": "L3+",
	"L7":  "L7",
	"L9":  "L9",
}

// WhatsMiner keys carry the variant suffix with its last character collapsed
// to '0' (hardware bins such as VE41..VE49 all speak the VE40 protocol), no
// spaces or underscores.
var whatsminerModels = map[string]string{
	"M20SV10":  "M20S V10",
	"M20SV20":  "M20S V20",
	"M20SV30":  "M20S V30",
	"M20S+V30": "M20S+ V30",
	"M21SV20":  "M21S V20",
	"M21SV60":  "M21S V60",
	"M21SV70":  "M21S V70",

	"M30SV10":    "M30S V10",
	"M30SV20":    "M30S V20",
	"M30SV50":    "M30S V50",
	"M30S+V10":   "M30S+ V10",
	"M30S+VE30":  "M30S+ VE30",
	"M30S+VE40":  "M30S+ VE40",
	"M30S+VE50":  "M30S+ VE50",
	"M30S+VG60":  "M30S+ VG60",
	"M30S++V10":  "M30S++ V10",
	"M30S++VG30": "M30S++ VG30",
	"M30S++VG40": "M30S++ VG40",
	"M30S++VG50": "M30S++ VG50",

	"M31SV10":   "M31S V10",
	"M31SV20":   "M31S V20",
	"M31S+V10":  "M31S+ V10",
	"M31S+VE20": "M31S+ VE20",
	"M31S+VE30": "M31S+ VE30",
	"M31S+VE40": "M31S+ VE40",

	"M50VJ10":  "M50 VJ10",
	"M50VJ30":  "M50 VJ30",
	"M50SVJ30": "M50S VJ30",
	"M50SVK50": "M50S VK50",
	"M53VH30":  "M53 VH30",
	"M56VH30":  "M56 VH30",

	"M60VK10":  "M60 VK10",
	"M60VK30":  "M60 VK30",
	"M60VK40":  "M60 VK40",
	"M60SVK30": "M60S VK30",
	"M60SVK40": "M60S VK40",
	"M63VK30":  "M63 VK30",
	"M66VK20":  "M66 VK20",
	"M66VK30":  "M66 VK30",
}

var avalonModels = map[string]string{
	"A1126PRO": "A1126 Pro",
	"A1166PRO": "A1166 Pro",
	"A1246":    "A1246",
	"A1266":    "A1266",
	"A1346":    "A1346",
	"A1366":    "A1366",
	"A1466":    "A1466",
	"A1566":    "A1566",
	"NANO3":    "Nano 3",
}

// BitAxe boards report the ASIC chip, which maps onto the board family.
var bitaxeModels = map[string]string{
	"BM1366": "Ultra",
	"BM1368": "Supra",
	"BM1370": "Gamma",
	"BM1397": "Max",
}

var braiinsModels = map[string]string{
	"BRAIINS MINI MINER BMM 100": "BMM100",
	"BRAIINS MINI MINER BMM 101": "BMM101",
}

var epicModels = map[string]string{
	"BLOCKMINER 520I":        "BlockMiner 520i",
	"ANTMINER S19J PRO DUAL": "S19j Pro Dual",
}

// ParseModel resolves a raw vendor model string against the model tables for
// the given classification. Make takes precedence over firmware; aftermarket
// firmware families resolve against the hardware tables they are known to
// run on. A classification with no table yields ErrUnsupportedDevice, and a
// string missing from its table yields UnknownModelError.
func ParseModel(cls Classification, raw string) (Model, error) {
	norm := strings.ToUpper(strings.TrimSpace(raw))

	switch cls.Make {
	case MakeAntMiner:
		return lookupModel(MakeAntMiner, antminerModels, normalizeAntminer(norm))
	case MakeWhatsMiner:
		return lookupModel(MakeWhatsMiner, whatsminerModels, NormalizeWhatsMinerModel(norm))
	case MakeAvalonMiner:
		return lookupModel(MakeAvalonMiner, avalonModels, norm)
	case MakeBitAxe:
		return lookupModel(MakeBitAxe, bitaxeModels, norm)
	}

	// Braiins and ePIC hardware, and make-less classifications, resolve
	// through the firmware's known hardware tables.
	switch cls.Firmware {
	case FirmwareBraiins:
		if m, err := lookupModel(MakeAntMiner, antminerModels, normalizeAntminer(norm)); err == nil {
			return m, nil
		}
		return lookupModel(MakeBraiins, braiinsModels, norm)
	case FirmwareEPic:
		if m, err := lookupModel(MakeAntMiner, antminerModels, normalizeAntminer(norm)); err == nil {
			return m, nil
		}
		if m, err := lookupModel(MakeWhatsMiner, whatsminerModels, NormalizeWhatsMinerModel(norm)); err == nil {
			return m, nil
		}
		return lookupModel(MakeEPic, epicModels, norm)
	case FirmwareLuxOS, FirmwareMarathon, FirmwareVNish, FirmwareHiveOS:
		// These families ship for AntMiner hardware only.
		return lookupModel(MakeAntMiner, antminerModels, normalizeAntminer(norm))
	}

	return Model{}, fmt.Errorf("no model table for %s: %w", cls, ErrUnsupportedDevice)
}

func lookupModel(make MinerMake, table map[string]string, key string) (Model, error) {
	if name, ok := table[key]; ok {
		return Model{Make: make, Name: name}, nil
	}
	return Model{}, &UnknownModelError{Raw: key}
}

// normalizeAntminer strips the vendor prefix and collapses whitespace so
// "Antminer  S19j Pro" and "S19J PRO" share a table key.
func normalizeAntminer(upper string) string {
	upper = strings.TrimPrefix(upper, "ANTMINER ")
	upper = strings.TrimPrefix(upper, "BITMAIN ")
	return strings.Join(strings.Fields(upper), " ")
}

// NormalizeWhatsMinerModel rewrites a raw WhatsMiner model string into table
// form: uppercase, spaces and underscores removed, and the final character of
// the variant suffix collapsed to '0'.
func NormalizeWhatsMinerModel(raw string) string {
	model := strings.ToUpper(raw)
	model = strings.TrimPrefix(model, "WHATSMINER ")
	model = strings.ReplaceAll(model, " ", "")
	model = strings.ReplaceAll(model, "_", "")
	if model == "" {
		return model
	}
	return model[:len(model)-1] + "0"
}
