package mrl

import (
	"encoding/binary"
	"sync/atomic"
)

// RGB light modes.
const (
	RgbModeOff               byte = 0x00
	RgbModeSolid             byte = 0x01
	RgbModeBlink             byte = 0x02
	RgbModeTransitionSolid   byte = 0x04
	RgbModeTransitionBlink   byte = 0x05
	RgbModeTransitionBreathe byte = 0x06
	RgbModeTransitionMarquee byte = 0x07
	RgbModeTransitionRainbow byte = 0x08
	RgbModeRestore           byte = 0x7F
)

// Dimmable effect modes.
const (
	DimmableModeOff   byte = 0x00
	DimmableModeOn    byte = 0x01
	DimmableModeBlink byte = 0x02
	DimmableModeSwell byte = 0x03
)

// commandBuilder assigns monotonic 16-bit command IDs and encodes the
// outbound command frames. The wire layout is uniform
// across every opcode: [cmdID_lo, cmdID_hi, opcode, ...payload].
type commandBuilder struct {
	nextID atomic.Uint32 // kept as uint32 for atomic support; always masked to 16 bits
}

func newCommandBuilder() *commandBuilder {
	return &commandBuilder{}
}

// nextCommandID returns the next command ID, wrapping at 2^16.
func (b *commandBuilder) nextCommandID() uint16 {
	for {
		cur := b.nextID.Load()
		next := (cur + 1) & 0xFFFF
		if b.nextID.CompareAndSwap(cur, next) {
			return uint16(cur)
		}
	}
}

func (b *commandBuilder) header(opcode byte) []byte {
	id := b.nextCommandID()
	out := make([]byte, 3)
	binary.LittleEndian.PutUint16(out[0:2], id)
	out[2] = opcode
	return out
}

// buildGetDevices requests the gateway broadcast status for every known
// device in tableID.
func (b *commandBuilder) buildGetDevices(tableID byte) []byte {
	return append(b.header(CmdGetDevices), tableID, 0x00, 0xFF)
}

// buildGetDevicesMetadata requests device function-name metadata for
// tableID, starting at startID for count entries.
func (b *commandBuilder) buildGetDevicesMetadata(tableID, startID, count byte) []byte {
	return append(b.header(CmdGetDevicesMetadata), tableID, startID, count)
}

// buildActionSwitch sets one or more relays on tableID to state in a
// single write.
func (b *commandBuilder) buildActionSwitch(tableID byte, state bool, deviceIDs []byte) []byte {
	stateByte := byte(0x00)
	if state {
		stateByte = 0x01
	}
	out := append(b.header(CmdActionSwitch), tableID, stateByte)
	return append(out, deviceIDs...)
}

// buildActionGenerator starts or stops a generator.
func (b *commandBuilder) buildActionGenerator(tableID, deviceID byte, run bool) []byte {
	stateByte := byte(0x00)
	if run {
		stateByte = 0x01
	}
	return append(b.header(CmdActionGenerator), tableID, deviceID, stateByte)
}

// buildActionDimmable sends the 5-byte basic dimmable form: on/off mode
// is implied by brightness.
func (b *commandBuilder) buildActionDimmable(tableID, deviceID byte, brightness byte) []byte {
	mode := DimmableModeOff
	if brightness > 0 {
		mode = DimmableModeOn
	}
	return append(b.header(CmdActionDimmable), tableID, deviceID, mode, brightness, 0x00)
}

// buildActionDimmableEffect sends the 9-byte Blink/Swell effect form.
// duration is in minutes (0 = infinite); cycleTime1/2 are milliseconds.
func (b *commandBuilder) buildActionDimmableEffect(tableID, deviceID, mode, brightness, duration byte, cycleTime1, cycleTime2 uint16) []byte {
	out := append(b.header(CmdActionDimmable), tableID, deviceID, mode, brightness, duration)
	ct1 := make([]byte, 2)
	ct2 := make([]byte, 2)
	binary.BigEndian.PutUint16(ct1, cycleTime1)
	binary.BigEndian.PutUint16(ct2, cycleTime2)
	out = append(out, ct1...)
	out = append(out, ct2...)
	return out
}

// buildActionHvac packs heatMode/heatSource/fanMode into the single
// command byte and appends the two setpoints.
func (b *commandBuilder) buildActionHvac(tableID, deviceID, heatMode, heatSource, fanMode, lowTripF, highTripF byte) []byte {
	cmdByte := (heatMode & 0x07) | ((heatSource & 0x03) << 4) | ((fanMode & 0x03) << 6)
	return append(b.header(CmdActionHvac), tableID, deviceID, cmdByte, lowTripF, highTripF)
}

// buildActionRgb encodes an RGB light command. Payload length is
// mode-dependent: Off/Restore carry only the header; Solid adds
// R/G/B/autoOff; Blink adds on/off blink intervals too; the Transition
// family (0x04..0x08) instead carries autoOff + a big-endian interval.
func (b *commandBuilder) buildActionRgb(tableID, deviceID, mode, red, green, blue, autoOff byte, blinkOnInterval, blinkOffInterval byte, transitionInterval uint16) []byte {
	header := append(b.header(CmdActionRgb), tableID, deviceID, mode)

	switch {
	case mode == RgbModeOff || mode == RgbModeRestore:
		return header
	case mode == RgbModeBlink:
		return append(header, red, green, blue, autoOff, blinkOnInterval, blinkOffInterval)
	case mode >= RgbModeTransitionSolid:
		iv := make([]byte, 2)
		binary.BigEndian.PutUint16(iv, transitionInterval)
		return append(append(header, autoOff), iv...)
	default: // RgbModeSolid
		return append(header, red, green, blue, autoOff)
	}
}
