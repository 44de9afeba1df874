package miner

// Field is one entry in the closed catalog of canonical telemetry fields.
// Every vendor backend maps its native schema onto this set; backends never
// extend it ad hoc.
type Field string

const (
	FieldMac                 Field = "mac"
	FieldHostname            Field = "hostname"
	FieldApiVersion          Field = "api_version"
	FieldFirmwareVersion     Field = "firmware_version"
	FieldControlBoardVersion Field = "control_board_version"
	FieldHashrate            Field = "hashrate"
	FieldExpectedHashrate    Field = "expected_hashrate"
	FieldHashboards          Field = "hashboards"
	FieldFans                Field = "fans"
	FieldPsuFans             Field = "psu_fans"
	FieldPools               Field = "pools"
	FieldWattage             Field = "wattage"
	FieldWattageLimit        Field = "wattage_limit"
	FieldUptime              Field = "uptime"
	FieldIsMining            Field = "is_mining"
	FieldLightFlashing       Field = "light_flashing"
	FieldMessages            Field = "messages"
	FieldSerialNumber        Field = "serial_number"
	FieldFluidTemperature    Field = "fluid_temperature"
	FieldAverageTemperature  Field = "average_temperature"
	FieldTotalChips          Field = "total_chips"
)

// allFields lists the catalog in declaration order.
var allFields = []Field{
	FieldMac,
	FieldHostname,
	FieldApiVersion,
	FieldFirmwareVersion,
	FieldControlBoardVersion,
	FieldHashrate,
	FieldExpectedHashrate,
	FieldHashboards,
	FieldFans,
	FieldPsuFans,
	FieldPools,
	FieldWattage,
	FieldWattageLimit,
	FieldUptime,
	FieldIsMining,
	FieldLightFlashing,
	FieldMessages,
	FieldSerialNumber,
	FieldFluidTemperature,
	FieldAverageTemperature,
	FieldTotalChips,
}

// AllFields returns the full field catalog in a stable order.
// The returned slice is a copy; callers may reorder or filter it.
func AllFields() []Field {
	fields := make([]Field, len(allFields))
	copy(fields, allFields)
	return fields
}
