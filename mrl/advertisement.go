package mrl

// GatewayCapabilities is parsed from a BLE advertisement's Lippert
// manufacturer-specific data.
type GatewayCapabilities struct {
	PairingMethod      PairingMethod
	SupportsPushToPair bool
	PairingEnabled     bool // true while the gateway's physical Connect button is pressed
}

// ParseManufacturerData parses the Lippert (company ID 0x0499)
// manufacturer-specific data block from a BLE advertisement. The first
// byte after the company ID is a PairingInfo bitfield:
//
//	bit 0: push-to-pair button present on the gateway's bus
//	bit 1: pairing currently enabled (button pressed)
//
// Absent or empty Lippert data defaults to push-button pairing, the
// assumption for newer gateway firmware.
func ParseManufacturerData(manufacturerData map[uint16][]byte) GatewayCapabilities {
	raw, ok := manufacturerData[LippertManufacturerID]
	if !ok || len(raw) == 0 {
		return GatewayCapabilities{
			PairingMethod:      PairingPushButton,
			SupportsPushToPair: true,
			PairingEnabled:     false,
		}
	}

	pairingInfo := raw[0]
	hasPushButton := pairingInfo&0x01 != 0
	pairingActive := pairingInfo&0x02 != 0

	method := PairingPIN
	if hasPushButton {
		method = PairingPushButton
	}

	return GatewayCapabilities{
		PairingMethod:      method,
		SupportsPushToPair: hasPushButton,
		PairingEnabled:     pairingActive,
	}
}
