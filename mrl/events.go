package mrl

import "encoding/binary"

// deviceKey formats the canonical (table_id, device_id) string key: two
// lowercase hex bytes joined by a colon. table_id 0 is reserved and
// never indexes a device, but deviceKey itself performs no validation;
// callers that must enforce that invariant check table_id before calling.
func deviceKey(tableID, deviceID byte) string {
	const hex = "0123456789abcdef"
	b := [5]byte{
		hex[tableID>>4], hex[tableID&0xF],
		':',
		hex[deviceID>>4], hex[deviceID&0xF],
	}
	return string(b[:])
}

// Event is the tagged-sum result of parsing a decoded COBS frame. Exactly
// one field (besides Raw) is non-nil for any successfully parsed event;
// Raw carries the original bytes for unrecognized event types.
type Event struct {
	GatewayInformation *GatewayInformation
	RvStatus           *RvStatus
	Relay              *RelayStatus
	DeviceOnline       *DeviceOnline
	DeviceLock         *DeviceLock
	SystemLockout      *SystemLockout
	Dimmable           *DimmableLight
	Rgb                *RgbLight
	Hvac               []HvacZone
	Cover              *CoverStatus
	Tank               []TankLevel
	Generator          *GeneratorStatus
	HourMeter          *HourMeter
	RTC                *RealTimeClock
	Metadata           []DeviceMetadata
	DTCFault           *DTCFault

	// metadataControl is set for 0x02 frames that are a GetDevicesMetadata
	// response control frame (SuccessComplete/Fail) rather than a parsed
	// device listing; the session routes these to the metadata tracker and
	// never surfaces them to subscribers.
	metadataControl *metadataControlFrame

	Raw []byte // set only when event_type is unrecognized
}

type metadataControlFrame struct {
	commandID    uint16
	responseType byte
	tableID      byte // only meaningful for SuccessMulti entries, else derived from pending map
	payload      []byte
}

// GatewayInformation (event 0x01).
type GatewayInformation struct {
	ProtocolVersion        byte
	Options                byte
	DeviceCount            byte
	TableID                byte
	DeviceTableCRC         uint32
	DeviceMetadataTableCRC uint32
}

// RvStatus (event 0x07). Voltage and Temperature are nil when the
// wire carries the "absent" sentinel.
type RvStatus struct {
	Voltage      *float64
	Temperature  *float64
	FeatureFlags byte
}

// RelayStatus (events 0x05/0x06).
type RelayStatus struct {
	TableID    byte
	DeviceID   byte
	IsOn       bool
	StatusByte byte
	DTCCode    uint16 // 0 when absent
}

// DimmableLight (event 0x08). Mode: 0=Off,1=On,2=Blink,3=Swell.
type DimmableLight struct {
	TableID    byte
	DeviceID   byte
	Brightness byte
	Mode       byte
}

// RgbLight (event 0x09).
type RgbLight struct {
	TableID    byte
	DeviceID   byte
	Mode       byte
	R, G, B    byte
	Brightness byte
}

// HvacZone (event 0x0B).
type HvacZone struct {
	TableID    byte
	DeviceID   byte
	HeatMode   byte
	HeatSource byte
	FanMode    byte
	LowTripF   byte
	HighTripF  byte
	ZoneStatus byte
	IndoorF    *float64
	OutdoorF   *float64
	DTCCode    uint16
}

// CoverStatus (events 0x0D/0x0E). Position is nil when unknown
// (wire value 0xFF).
type CoverStatus struct {
	TableID    byte
	DeviceID   byte
	StatusByte byte
	Position   *byte
}

// TankLevel (event 0x0C).
type TankLevel struct {
	TableID  byte
	DeviceID byte
	LevelPct byte
}

// GeneratorStatus (event 0x0A).
type GeneratorStatus struct {
	TableID        byte
	DeviceID       byte
	IsRunning      bool
	BatteryVoltage float64
	TemperatureC   *float64
	StateName      string
	QuietHours     bool
}

// HourMeter (event 0x0F). Hours is at 0.1h resolution.
type HourMeter struct {
	TableID            byte
	DeviceID           byte
	Hours              float64
	MaintenanceDue     bool
	MaintenancePastDue bool
	Error              bool
}

// DeviceOnline (event 0x03).
type DeviceOnline struct {
	TableID  byte
	DeviceID byte
	IsOnline bool
}

// SystemLockout (event 0x04, system-wide form).
type SystemLockout struct {
	LockoutLevel    byte
	TableID         byte
	DeviceCount     byte
	PerDeviceLocked []bool // nil unless the bitfield form was present
}

// DeviceLock (event 0x04, legacy single-device form).
type DeviceLock struct {
	TableID  byte
	DeviceID byte
	IsLocked bool
}

// RealTimeClock (event 0x20).
type RealTimeClock struct {
	Year, Month, Day     byte
	Hour, Minute, Second byte
	Weekday              byte
}

// DTCFault is synthesized by the session, not parsed from the wire: it
// fans out when a relay's diagnostic trouble code changes to a non-zero
// fault on a gas appliance.
type DTCFault struct {
	TableID    byte
	DeviceID   byte
	DeviceName string
	DTCCode    uint16
}

// DeviceMetadata (nested in event 0x02 SuccessMulti entries).
type DeviceMetadata struct {
	TableID          byte
	DeviceID         byte
	FunctionName     uint16
	FunctionInstance byte
}

// decodeTemp88 decodes a signed 8.8 fixed-point temperature. Three raw
// values are defined sentinels meaning "absent".
func decodeTemp88(raw uint16) *float64 {
	if raw == 0x8000 || raw == 0x2FF0 || raw == 0xFFFF {
		return nil
	}
	signed := int32(raw)
	if raw >= 0x8000 {
		signed = int32(raw) - 0x10000
	}
	v := float64(signed) / 256.0
	return &v
}

// parseEvent dispatches a decoded COBS frame payload by its first byte,
// the event type. It never panics: an empty frame yields a zero Event,
// and a frame of a known type that is too short for its parser comes
// back with Raw set, exactly like an unrecognized event type; such
// frames are not dropped here. Unrecognized event types return Raw
// unmodified.
func parseEvent(data []byte) Event {
	if len(data) == 0 {
		return Event{}
	}

	switch data[0] {
	case EventGatewayInformation:
		if ev := parseGatewayInformation(data); ev != nil {
			return Event{GatewayInformation: ev}
		}
	case EventDeviceCommand:
		if ctl, metas := parseDeviceCommand(data); ctl != nil {
			return Event{metadataControl: ctl, Metadata: metas}
		}
	case EventDeviceOnlineStatus:
		if ev := parseDeviceOnline(data); ev != nil {
			return Event{DeviceOnline: ev}
		}
	case EventDeviceLockStatus:
		return parseDeviceLockStatus(data)
	case EventRelayBasicLatching1, EventRelayBasicLatching2:
		if ev := parseRelayStatus(data); ev != nil {
			return Event{Relay: ev}
		}
	case EventRvStatus:
		if ev := parseRvStatus(data); ev != nil {
			return Event{RvStatus: ev}
		}
	case EventDimmableLight:
		if ev := parseDimmableLight(data); ev != nil {
			return Event{Dimmable: ev}
		}
	case EventRgbLight:
		if ev := parseRgbLight(data); ev != nil {
			return Event{Rgb: ev}
		}
	case EventGeneratorGenie:
		if ev := parseGeneratorStatus(data); ev != nil {
			return Event{Generator: ev}
		}
	case EventHvacStatus:
		if zones := parseHvacStatus(data); zones != nil {
			return Event{Hvac: zones}
		}
	case EventTankSensor:
		if tanks := parseTankSensor(data); tanks != nil {
			return Event{Tank: tanks}
		}
	case EventHBridge1, EventHBridge2:
		if ev := parseCoverStatus(data); ev != nil {
			return Event{Cover: ev}
		}
	case EventHourMeter:
		if ev := parseHourMeter(data); ev != nil {
			return Event{HourMeter: ev}
		}
	case EventRealTimeClock:
		if ev := parseRealTimeClock(data); ev != nil {
			return Event{RTC: ev}
		}
	}

	return Event{Raw: data}
}

func parseGatewayInformation(d []byte) *GatewayInformation {
	if len(d) < 13 {
		return nil
	}
	return &GatewayInformation{
		ProtocolVersion:        d[1],
		Options:                d[2],
		DeviceCount:            d[3],
		TableID:                d[4],
		DeviceTableCRC:         binary.LittleEndian.Uint32(d[5:9]),
		DeviceMetadataTableCRC: binary.LittleEndian.Uint32(d[9:13]),
	}
}

func parseRvStatus(d []byte) *RvStatus {
	if len(d) < 6 {
		return nil
	}
	vRaw := binary.BigEndian.Uint16(d[1:3])
	tRaw := binary.BigEndian.Uint16(d[3:5])

	var voltage *float64
	if vRaw != 0xFFFF {
		v := float64(vRaw) / 256.0
		voltage = &v
	}
	var temp *float64
	if tRaw != 0xFFFF && tRaw != 0x7FFF {
		t := float64(tRaw) / 256.0
		temp = &t
	}
	return &RvStatus{Voltage: voltage, Temperature: temp, FeatureFlags: d[5]}
}

func parseRelayStatus(d []byte) *RelayStatus {
	if len(d) < 5 {
		return nil
	}
	statusByte := d[3]
	isOn := statusByte&0x0F == 0x01
	var dtc uint16
	if len(d) >= 9 {
		dtc = binary.BigEndian.Uint16(d[5:7])
	}
	return &RelayStatus{
		TableID:    d[1],
		DeviceID:   d[2],
		IsOn:       isOn,
		StatusByte: statusByte,
		DTCCode:    dtc,
	}
}

func parseDeviceOnline(d []byte) *DeviceOnline {
	if len(d) < 4 {
		return nil
	}
	return &DeviceOnline{TableID: d[1], DeviceID: d[2], IsOnline: d[3] != 0}
}

func parseDimmableLight(d []byte) *DimmableLight {
	if len(d) < 5 {
		return nil
	}
	var brightness byte
	if len(d) >= 11 {
		brightness = d[6]
	} else {
		brightness = d[4]
	}
	return &DimmableLight{
		TableID:    d[1],
		DeviceID:   d[2],
		Brightness: brightness,
		Mode:       d[3],
	}
}

func parseRgbLight(d []byte) *RgbLight {
	if len(d) < 4 {
		return nil
	}
	ev := &RgbLight{TableID: d[1], DeviceID: d[2], Mode: d[3]}
	if len(d) >= 7 {
		ev.R, ev.G, ev.B = d[4], d[5], d[6]
	}
	if len(d) >= 8 {
		ev.Brightness = d[7]
	}
	return ev
}

func parseHvacStatus(d []byte) []HvacZone {
	if len(d) < 4 {
		return nil
	}
	const bytesPerZone = 11
	tableID := d[1]
	var zones []HvacZone
	offset := 2
	for offset+bytesPerZone <= len(d) {
		cmd := d[offset+1]
		status := d[offset+4] & 0x8F
		indoorRaw := binary.BigEndian.Uint16(d[offset+5 : offset+7])
		outdoorRaw := binary.BigEndian.Uint16(d[offset+7 : offset+9])
		dtc := binary.BigEndian.Uint16(d[offset+9 : offset+11])

		zones = append(zones, HvacZone{
			TableID:    tableID,
			DeviceID:   d[offset],
			HeatMode:   cmd & 0x07,
			HeatSource: (cmd >> 4) & 0x03,
			FanMode:    (cmd >> 6) & 0x03,
			LowTripF:   d[offset+2],
			HighTripF:  d[offset+3],
			ZoneStatus: status,
			IndoorF:    decodeTemp88(indoorRaw),
			OutdoorF:   decodeTemp88(outdoorRaw),
			DTCCode:    dtc,
		})
		offset += bytesPerZone
	}
	return zones
}

func parseTankSensor(d []byte) []TankLevel {
	if len(d) < 4 {
		return nil
	}
	tableID := d[1]
	var tanks []TankLevel
	for idx := 2; idx+1 < len(d); idx += 2 {
		tanks = append(tanks, TankLevel{TableID: tableID, DeviceID: d[idx], LevelPct: d[idx+1]})
	}
	return tanks
}

func parseCoverStatus(d []byte) *CoverStatus {
	if len(d) < 4 {
		return nil
	}
	ev := &CoverStatus{TableID: d[1], DeviceID: d[2], StatusByte: d[3]}
	if len(d) > 4 {
		pos := d[4]
		if pos != 0xFF {
			ev.Position = &pos
		}
	}
	return ev
}

func parseGeneratorStatus(d []byte) *GeneratorStatus {
	if len(d) < 7 {
		return nil
	}
	ev := &GeneratorStatus{
		TableID:        d[1],
		DeviceID:       d[2],
		IsRunning:      d[3] != 0,
		BatteryVoltage: float64(d[4]) / 10.0,
	}
	if len(d) >= 8 && d[7] != 0xFF {
		t := float64(int8(d[7]))
		ev.TemperatureC = &t
	}
	if len(d) >= 9 {
		ev.QuietHours = d[8]&0x01 != 0
	}
	ev.StateName = generatorStateName(d[5])
	return ev
}

func generatorStateName(code byte) string {
	switch code {
	case 0:
		return "off"
	case 1:
		return "starting"
	case 2:
		return "running"
	case 3:
		return "stopping"
	case 4:
		return "fault"
	default:
		return "unknown"
	}
}

func parseHourMeter(d []byte) *HourMeter {
	if len(d) < 6 {
		return nil
	}
	raw := binary.BigEndian.Uint16(d[3:5])
	flags := d[5]
	return &HourMeter{
		TableID:            d[1],
		DeviceID:           d[2],
		Hours:              float64(raw) / 10.0,
		MaintenanceDue:     flags&0x01 != 0,
		MaintenancePastDue: flags&0x02 != 0,
		Error:              flags&0x04 != 0,
	}
}

func parseRealTimeClock(d []byte) *RealTimeClock {
	if len(d) < 8 {
		return nil
	}
	return &RealTimeClock{
		Year: d[1], Month: d[2], Day: d[3],
		Hour: d[4], Minute: d[5], Second: d[6],
		Weekday: d[7],
	}
}

func parseDeviceLockStatus(d []byte) Event {
	if len(d) >= 8 {
		tableID := d[6]
		deviceCount := d[7]
		bits := d[8:]
		nBytes := (int(deviceCount) + 7) / 8
		var locks []bool
		if len(bits) >= nBytes {
			locks = make([]bool, deviceCount)
			for i := 0; i < int(deviceCount); i++ {
				locks[i] = bits[i/8]&(1<<uint(i%8)) != 0
			}
		}
		return Event{SystemLockout: &SystemLockout{
			LockoutLevel:    d[1],
			TableID:         tableID,
			DeviceCount:     deviceCount,
			PerDeviceLocked: locks,
		}}
	}
	if len(d) >= 4 {
		return Event{DeviceLock: &DeviceLock{TableID: d[1], DeviceID: d[2], IsLocked: d[3] != 0}}
	}
	return Event{Raw: d}
}

// parseDeviceCommand handles the 0x02 GetDevicesMetadata response
// framing. For any frame of at least 4 bytes it returns a non-nil
// metadataControlFrame (shorter frames yield nil) so the session can
// classify the response (SuccessComplete/Fail) before
// any entries are applied to the inventory; metas is non-empty only for
// SuccessMulti frames carrying well-formed entries.
func parseDeviceCommand(d []byte) (*metadataControlFrame, []DeviceMetadata) {
	if len(d) < 4 {
		return nil, nil
	}
	cmdID := binary.LittleEndian.Uint16(d[1:3])
	responseType := d[3]

	ctl := &metadataControlFrame{commandID: cmdID, responseType: responseType, payload: d}

	// Only SuccessMulti frames carry the table_id/start_id/count header
	// and device entries; SuccessComplete and Fail frames are shorter and
	// are classified from ctl alone.
	if responseType != metadataResponseSuccessMulti || len(d) < 7 {
		return ctl, nil
	}
	tableID := d[4]
	ctl.tableID = tableID

	count := d[6]
	var metas []DeviceMetadata
	offset := 7
	for i := byte(0); i < count && offset < len(d); i++ {
		if offset+2 > len(d) {
			break
		}
		protocol := d[offset]
		payloadSize := d[offset+1]
		offset += 2
		if offset+int(payloadSize) > len(d) {
			break
		}
		payload := d[offset : offset+int(payloadSize)]
		offset += int(payloadSize)

		if (protocol == metadataProtocolHost || protocol == metadataProtocolIdsCan) && payloadSize == metadataPayloadSize {
			metas = append(metas, DeviceMetadata{
				TableID:          tableID,
				DeviceID:         d[5] + i,
				FunctionName:     binary.BigEndian.Uint16(payload[0:2]),
				FunctionInstance: payload[2],
			})
		}
	}
	return ctl, metas
}
