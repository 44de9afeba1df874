package miner

// MinerMake identifies a hardware manufacturer.
type MinerMake string

const (
	// MakeUnknown is the zero value: the manufacturer has not been resolved.
	MakeUnknown MinerMake = ""

	MakeAntMiner    MinerMake = "AntMiner"
	MakeWhatsMiner  MinerMake = "WhatsMiner"
	MakeAvalonMiner MinerMake = "AvalonMiner"
	MakeEPic        MinerMake = "ePIC"
	MakeBraiins     MinerMake = "Braiins"
	MakeBitAxe      MinerMake = "BitAxe"
)

// AllMakes lists every known manufacturer, in discovery priority order.
func AllMakes() []MinerMake {
	return []MinerMake{
		MakeAntMiner,
		MakeWhatsMiner,
		MakeAvalonMiner,
		MakeEPic,
		MakeBraiins,
		MakeBitAxe,
	}
}

// MinerFirmware identifies a firmware family.
type MinerFirmware string

const (
	// FirmwareUnknown is the zero value: the firmware has not been resolved.
	FirmwareUnknown MinerFirmware = ""

	FirmwareStock    MinerFirmware = "Stock"
	FirmwareBraiins  MinerFirmware = "BraiinsOS"
	FirmwareVNish    MinerFirmware = "VNish"
	FirmwareEPic     MinerFirmware = "ePIC"
	FirmwareHiveOS   MinerFirmware = "HiveOS"
	FirmwareLuxOS    MinerFirmware = "LuxOS"
	FirmwareMarathon MinerFirmware = "Marathon"
	FirmwareMSKMiner MinerFirmware = "MSKMiner"
)

// AllFirmwares lists every known firmware family, in discovery priority order.
func AllFirmwares() []MinerFirmware {
	return []MinerFirmware{
		FirmwareStock,
		FirmwareBraiins,
		FirmwareVNish,
		FirmwareEPic,
		FirmwareHiveOS,
		FirmwareLuxOS,
		FirmwareMarathon,
		FirmwareMSKMiner,
	}
}

// Classification is the discovery verdict for one address: a manufacturer, a
// firmware family, or both. Either side may be unknown; a fingerprint that
// only recognizes the firmware banner leaves the make unresolved. The zero
// value means "no match".
type Classification struct {
	Make     MinerMake     `json:"make,omitempty"`
	Firmware MinerFirmware `json:"firmware,omitempty"`
}

// IsEmpty reports whether nothing was classified.
func (c Classification) IsEmpty() bool {
	return c.Make == MakeUnknown && c.Firmware == FirmwareUnknown
}

// String renders the pair for logs, e.g. "WhatsMiner/Stock" or "?/LuxOS".
func (c Classification) String() string {
	make, firmware := string(c.Make), string(c.Firmware)
	if make == "" {
		make = "?"
	}
	if firmware == "" {
		firmware = "?"
	}
	return make + "/" + firmware
}

// HashAlgorithm is the proof-of-work algorithm a device hashes.
type HashAlgorithm string

const (
	SHA256 HashAlgorithm = "SHA256"
	Scrypt HashAlgorithm = "Scrypt"
)

// Model is a resolved hardware model. Name is the canonical form, e.g.
// "S19j Pro", "M30S+ VE40", or "Ultra".
type Model struct {
	Make MinerMake `json:"make"`
	Name string    `json:"name"`
}

// IsZero reports whether the model is unresolved.
func (m Model) IsZero() bool {
	return m == Model{}
}

// String returns the canonical model name.
func (m Model) String() string {
	return m.Name
}

// DeviceInfo is the full identity of a resolved device.
type DeviceInfo struct {
	Make      MinerMake     `json:"make"`
	Model     Model         `json:"model"`
	Firmware  MinerFirmware `json:"firmware"`
	Algorithm HashAlgorithm `json:"algorithm"`
}

// NewDeviceInfo builds a DeviceInfo.
func NewDeviceInfo(make MinerMake, model Model, firmware MinerFirmware, algo HashAlgorithm) DeviceInfo {
	return DeviceInfo{Make: make, Model: model, Firmware: firmware, Algorithm: algo}
}
