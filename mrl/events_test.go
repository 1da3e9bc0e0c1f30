package mrl

import "testing"

func TestDeviceKey_Format(t *testing.T) {
	if got := deviceKey(0x01, 0xAB); got != "01:ab" {
		t.Errorf("deviceKey(0x01, 0xAB) = %q, want %q", got, "01:ab")
	}
}

func TestDeviceKey_Zero(t *testing.T) {
	if got := deviceKey(0x00, 0x00); got != "00:00" {
		t.Errorf("deviceKey(0,0) = %q, want %q", got, "00:00")
	}
}

func TestDecodeTemp88_AbsentSentinels(t *testing.T) {
	for _, raw := range []uint16{0x8000, 0x2FF0, 0xFFFF} {
		if v := decodeTemp88(raw); v != nil {
			t.Errorf("decodeTemp88(0x%04x) = %v, want nil", raw, *v)
		}
	}
}

func TestDecodeTemp88_PositiveValue(t *testing.T) {
	v := decodeTemp88(0x4880) // 72.5
	if v == nil {
		t.Fatal("expected non-nil temperature")
	}
	if *v != 72.5 {
		t.Errorf("decodeTemp88(0x4880) = %v, want 72.5", *v)
	}
}

func TestParseEvent_EmptyIsZeroValue(t *testing.T) {
	ev := parseEvent(nil)
	if ev.Raw != nil || ev.RvStatus != nil {
		t.Errorf("parseEvent(nil) = %+v, want zero Event", ev)
	}
}

func TestParseEvent_UnrecognizedTypeCarriesRaw(t *testing.T) {
	data := []byte{0xFE, 0x01, 0x02}
	ev := parseEvent(data)
	if ev.Raw == nil {
		t.Fatal("expected Raw to be set for unrecognized event type")
	}
}

func TestParseGatewayInformation_TooShortIsNil(t *testing.T) {
	if ev := parseGatewayInformation([]byte{EventGatewayInformation, 0x01}); ev != nil {
		t.Errorf("expected nil for short frame, got %+v", ev)
	}
}

func TestParseGatewayInformation_FieldLayout(t *testing.T) {
	d := []byte{EventGatewayInformation, 0x02, 0x00, 0x05, 0x01, 0x11, 0x22, 0x33, 0x44, 0xAA, 0xBB, 0xCC, 0xDD}
	ev := parseGatewayInformation(d)
	if ev == nil {
		t.Fatal("expected non-nil")
	}
	if ev.ProtocolVersion != 0x02 || ev.DeviceCount != 0x05 || ev.TableID != 0x01 {
		t.Errorf("unexpected fields: %+v", ev)
	}
	if ev.DeviceTableCRC != 0x44332211 {
		t.Errorf("DeviceTableCRC = 0x%08x, want 0x44332211", ev.DeviceTableCRC)
	}
	if ev.DeviceMetadataTableCRC != 0xDDCCBBAA {
		t.Errorf("DeviceMetadataTableCRC = 0x%08x, want 0xDDCCBBAA", ev.DeviceMetadataTableCRC)
	}
}

func TestParseRelayStatus_OnBit(t *testing.T) {
	d := []byte{EventRelayBasicLatching1, 0x03, 0x01, 0x01}
	ev := parseRelayStatus(d)
	if ev == nil {
		t.Fatal("expected non-nil")
	}
	if !ev.IsOn {
		t.Error("expected IsOn true for status 0x01")
	}
}

func TestParseRelayStatus_OffBit(t *testing.T) {
	d := []byte{EventRelayBasicLatching1, 0x03, 0x01, 0x00}
	ev := parseRelayStatus(d)
	if ev.IsOn {
		t.Error("expected IsOn false for status 0x00")
	}
}

func TestParseDimmableLight_BasicForm(t *testing.T) {
	d := []byte{EventDimmableLight, 0x01, 0x02, DimmableModeOn, 0x64}
	ev := parseDimmableLight(d)
	if ev == nil {
		t.Fatal("expected non-nil")
	}
	if ev.Brightness != 0x64 {
		t.Errorf("Brightness = %d, want 100", ev.Brightness)
	}
}

func TestParseHvacStatus_MultiZone(t *testing.T) {
	zone := func(deviceID, cmd byte) []byte {
		return []byte{deviceID, cmd, 60, 80, 0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0x00, 0x00}
	}
	d := append([]byte{EventHvacStatus, 0x01}, zone(0x01, 0x03)...)
	d = append(d, zone(0x02, 0x42)...)
	zones := parseHvacStatus(d)
	if len(zones) != 2 {
		t.Fatalf("len(zones) = %d, want 2", len(zones))
	}
	if zones[1].DeviceID != 0x02 || zones[1].HeatMode != 0x02 || zones[1].FanMode != 0x01 {
		t.Errorf("zones[1] = %+v, want DeviceID 2, HeatMode 2, FanMode 1", zones[1])
	}
	if zones[0].DeviceID != 0x01 {
		t.Errorf("DeviceID = %d, want 1", zones[0].DeviceID)
	}
	if zones[0].HeatMode != 0x03 {
		t.Errorf("HeatMode = %d, want 3", zones[0].HeatMode)
	}
}

func TestParseTankSensor_MultipleTanks(t *testing.T) {
	d := []byte{EventTankSensor, 0x02, 0x01, 0x50, 0x02, 0x64}
	tanks := parseTankSensor(d)
	if len(tanks) != 2 {
		t.Fatalf("len(tanks) = %d, want 2", len(tanks))
	}
	if tanks[0].DeviceID != 0x01 || tanks[0].LevelPct != 0x50 {
		t.Errorf("tank[0] = %+v", tanks[0])
	}
	if tanks[1].DeviceID != 0x02 || tanks[1].LevelPct != 0x64 {
		t.Errorf("tank[1] = %+v", tanks[1])
	}
}

func TestParseCoverStatus_AbsentPosition(t *testing.T) {
	d := []byte{EventHBridge1, 0x01, 0x01, 0x00, 0xFF}
	ev := parseCoverStatus(d)
	if ev.Position != nil {
		t.Errorf("expected nil Position for sentinel 0xFF, got %v", *ev.Position)
	}
}

func TestParseCoverStatus_KnownPosition(t *testing.T) {
	d := []byte{EventHBridge1, 0x01, 0x01, 0x00, 0x32}
	ev := parseCoverStatus(d)
	if ev.Position == nil || *ev.Position != 0x32 {
		t.Errorf("expected Position 0x32, got %v", ev.Position)
	}
}

func TestParseDeviceLockStatus_LegacySingleDevice(t *testing.T) {
	d := []byte{EventDeviceLockStatus, 0x01, 0x02, 0x01}
	ev := parseDeviceLockStatus(d)
	if ev.DeviceLock == nil {
		t.Fatal("expected DeviceLock to be set")
	}
	if !ev.DeviceLock.IsLocked {
		t.Error("expected IsLocked true")
	}
}

func TestParseDeviceLockStatus_SystemWideBitfield(t *testing.T) {
	d := make([]byte, 9)
	d[0] = EventDeviceLockStatus
	d[1] = 0x02 // lockout level
	d[6] = 0x01 // table id
	d[7] = 0x03 // device count
	d[8] = 0b00000101
	ev := parseDeviceLockStatus(d)
	if ev.SystemLockout == nil {
		t.Fatal("expected SystemLockout to be set")
	}
	if len(ev.SystemLockout.PerDeviceLocked) != 3 {
		t.Fatalf("len(PerDeviceLocked) = %d, want 3", len(ev.SystemLockout.PerDeviceLocked))
	}
	if !ev.SystemLockout.PerDeviceLocked[0] || ev.SystemLockout.PerDeviceLocked[1] || !ev.SystemLockout.PerDeviceLocked[2] {
		t.Errorf("PerDeviceLocked = %v, want [true false true]", ev.SystemLockout.PerDeviceLocked)
	}
}

func TestParseDeviceCommand_SuccessCompleteHasNoMetas(t *testing.T) {
	d := []byte{EventDeviceCommand, 0x01, 0x00, metadataResponseSuccessComplete, 0x05, 0x00, 0x00}
	ctl, metas := parseDeviceCommand(d)
	if ctl == nil {
		t.Fatal("expected non-nil control frame")
	}
	if ctl.commandID != 1 {
		t.Errorf("commandID = %d, want 1", ctl.commandID)
	}
	if metas != nil {
		t.Errorf("expected nil metas for SuccessComplete, got %v", metas)
	}
}

func TestParseDeviceCommand_SuccessMultiParsesEntries(t *testing.T) {
	entry := func(name uint16, instance byte) []byte {
		payload := make([]byte, metadataPayloadSize)
		payload[0] = byte(name >> 8)
		payload[1] = byte(name)
		payload[2] = instance
		return append([]byte{metadataProtocolHost, metadataPayloadSize}, payload...)
	}
	d := []byte{EventDeviceCommand, 0x02, 0x00, metadataResponseSuccessMulti, 0x05, 0x10, 0x01}
	d = append(d, entry(0x0042, 0x00)...)
	ctl, metas := parseDeviceCommand(d)
	if ctl == nil {
		t.Fatal("expected non-nil control frame")
	}
	if len(metas) != 1 {
		t.Fatalf("len(metas) = %d, want 1", len(metas))
	}
	if metas[0].DeviceID != 0x10 {
		t.Errorf("DeviceID = 0x%02x, want 0x10", metas[0].DeviceID)
	}
	if metas[0].FunctionName != 0x0042 {
		t.Errorf("FunctionName = 0x%04x, want 0x0042", metas[0].FunctionName)
	}
}
