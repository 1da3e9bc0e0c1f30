package mrl

import "time"

// BLE service and characteristic UUIDs. Lippert reuses the same 128-bit
// base across every service, varying only the first 32 bits.
const (
	uuidBase = "-0200-a58e-e411-afe28044e62c"

	AuthServiceUUID      = "00000010" + uuidBase
	SeedCharUUID         = "00000011" + uuidBase
	UnlockStatusCharUUID = "00000012" + uuidBase
	KeyCharUUID          = "00000013" + uuidBase
	AuthStatusCharUUID   = "00000014" + uuidBase

	DataServiceUUID   = "00000030" + uuidBase
	DataWriteCharUUID = "00000033" + uuidBase
	DataReadCharUUID  = "00000034" + uuidBase

	CanServiceUUID   = "00000000" + uuidBase
	CanWriteCharUUID = "00000001" + uuidBase

	DiscoveryServiceUUID = "00000041" + uuidBase
)

// LippertManufacturerID is the Bluetooth SIG company identifier Lippert
// advertises manufacturer data under.
const LippertManufacturerID = 0x0499

// DefaultGatewayPIN is printed on the gateway's pairing sticker.
const DefaultGatewayPIN = "090336"

// Protocol timing constants.
const (
	authTimeout             = 10 * time.Second
	unlockVerifyDelay       = 500 * time.Millisecond
	notificationEnableDelay = 200 * time.Millisecond
	heartbeatInterval       = 5 * time.Second
	lockoutClearThrottle    = 5 * time.Second
	reconnectBackoffBase    = 5 * time.Second
	reconnectBackoffCap     = 120 * time.Second
	staleConnectionTimeout  = 300 * time.Second
	connectRetryLimit       = 3
	connectRetryBackoffUnit = 3 * time.Second

	// HVAC pending-command guard windows.
	hvacPendingWindow         = 8 * time.Second
	hvacSetpointPendingWindow = 20 * time.Second
	hvacPresetPendingWindow   = 70 * time.Second

	hvacSetpointDebounce   = 250 * time.Millisecond
	hvacSetpointRetryDelay = 5 * time.Second
	hvacSetpointMaxRetries = 3

	metadataRequestDelay = 500 * time.Millisecond
)

// Event type tags: the first byte of a decoded COBS frame.
const (
	EventGatewayInformation  byte = 0x01
	EventDeviceCommand       byte = 0x02
	EventDeviceOnlineStatus  byte = 0x03
	EventDeviceLockStatus    byte = 0x04
	EventRelayBasicLatching1 byte = 0x05
	EventRelayBasicLatching2 byte = 0x06
	EventRvStatus            byte = 0x07
	EventDimmableLight       byte = 0x08
	EventRgbLight            byte = 0x09
	EventGeneratorGenie      byte = 0x0A
	EventHvacStatus          byte = 0x0B
	EventTankSensor          byte = 0x0C
	EventHBridge1            byte = 0x0D
	EventHBridge2            byte = 0x0E
	EventHourMeter           byte = 0x0F
	EventLeveler             byte = 0x10 // undocumented, left unparsed
	EventSessionStatus       byte = 0x1A // undocumented, left unparsed
	EventTankSensorV2        byte = 0x1B // undocumented, left unparsed
	EventRealTimeClock       byte = 0x20
)

// Command opcodes (outbound).
const (
	CmdGetDevices         byte = 0x01
	CmdGetDevicesMetadata byte = 0x02
	CmdActionSwitch       byte = 0x40
	CmdActionHBridge      byte = 0x41
	CmdActionGenerator    byte = 0x42
	CmdActionDimmable     byte = 0x43
	CmdActionRgb          byte = 0x44
	CmdActionHvac         byte = 0x45
)

// HVAC mode/source/fan constants.
const (
	HvacModeOff      = 0
	HvacModeHeat     = 1
	HvacModeCool     = 2
	HvacModeHeatCool = 3
	HvacModeSchedule = 4

	HvacSourceGas      = 0
	HvacSourceHeatPump = 1

	HvacFanAuto = 0
	HvacFanHigh = 1
	HvacFanLow  = 2
)

// HVAC observed-capability bitmask.
const (
	HvacCapGas           byte = 0x01
	HvacCapAC            byte = 0x02
	HvacCapHeatPump      byte = 0x04
	HvacCapMultiSpeedFan byte = 0x08
)

// Cover status byte values.
const (
	CoverStopped byte = 0xC0
	CoverOpening byte = 0xC2
	CoverClosing byte = 0xC3
)

// Metadata protocol constants.
const (
	metadataProtocolHost   byte = 1
	metadataProtocolIdsCan byte = 2
	metadataPayloadSize         = 17

	metadataResponseSuccessMulti    byte = 0x01
	metadataResponseSuccessComplete byte = 0x81
	metadataResponseFail            byte = 0x02
	metadataResponseFailAlt         byte = 0x82
	metadataRejectedErrorCode       byte = 0x0F
)

// PairingMethod selects how the session should authenticate with the OS
// Bluetooth stack when bonding is required.
type PairingMethod int

const (
	PairingPushButton PairingMethod = iota
	PairingPIN
)

func (p PairingMethod) String() string {
	switch p {
	case PairingPushButton:
		return "push_button"
	case PairingPIN:
		return "pin"
	default:
		return "unknown"
	}
}
