package mrl

import (
	"testing"
	"time"
)

func TestAbsDiffByte(t *testing.T) {
	if absDiffByte(10, 7) != 3 {
		t.Errorf("absDiffByte(10,7) = %d, want 3", absDiffByte(10, 7))
	}
	if absDiffByte(7, 10) != 3 {
		t.Errorf("absDiffByte(7,10) = %d, want 3", absDiffByte(7, 10))
	}
}

func TestPendingHvacCommand_Window(t *testing.T) {
	p := pendingHvacCommand{isPresetChange: true}
	if p.window() != hvacPresetPendingWindow {
		t.Errorf("preset window = %v, want %v", p.window(), hvacPresetPendingWindow)
	}
	p = pendingHvacCommand{isSetpointChange: true}
	if p.window() != hvacSetpointPendingWindow {
		t.Errorf("setpoint window = %v, want %v", p.window(), hvacSetpointPendingWindow)
	}
	p = pendingHvacCommand{}
	if p.window() != hvacPendingWindow {
		t.Errorf("default window = %v, want %v", p.window(), hvacPendingWindow)
	}
}

func TestPendingHvacCommand_Matches_ExactMode(t *testing.T) {
	p := pendingHvacCommand{heatMode: 1, heatSource: 0, fanMode: 1, lowTripF: 60, highTripF: 80}
	zone := HvacZone{HeatMode: 1, HeatSource: 0, FanMode: 1, LowTripF: 60, HighTripF: 80}
	if !p.matches(zone) {
		t.Error("expected exact match")
	}
}

func TestPendingHvacCommand_Matches_ModeMismatch(t *testing.T) {
	p := pendingHvacCommand{heatMode: 1, heatSource: 0, fanMode: 1}
	zone := HvacZone{HeatMode: 2, HeatSource: 0, FanMode: 1}
	if p.matches(zone) {
		t.Error("expected mismatch on heat mode")
	}
}

func TestPendingHvacCommand_Matches_TripWithinTolerance(t *testing.T) {
	p := pendingHvacCommand{lowTripF: 60, highTripF: 80}
	zone := HvacZone{LowTripF: 61, HighTripF: 79}
	if !p.matches(zone) {
		t.Error("expected match within ±1°F tolerance")
	}
}

func TestPendingHvacCommand_Matches_TripOutsideTolerance(t *testing.T) {
	p := pendingHvacCommand{lowTripF: 60, highTripF: 80}
	zone := HvacZone{LowTripF: 63, HighTripF: 80}
	if p.matches(zone) {
		t.Error("expected mismatch outside ±1°F tolerance")
	}
}

func TestUpdateObservedHvacCapability_StickyAcrossCalls(t *testing.T) {
	s := newTestSession()
	key := "05:01"

	s.updateObservedHvacCapability(key, HvacZone{ZoneStatus: 2})
	first := s.inventory.observedHvacCapability[key]
	if first&HvacCapAC == 0 {
		t.Fatalf("expected HvacCapAC set after zone status 2, got 0x%02x", first)
	}

	s.updateObservedHvacCapability(key, HvacZone{ZoneStatus: 0, HeatMode: 1, HeatSource: 1})
	second := s.inventory.observedHvacCapability[key]
	if second&HvacCapAC == 0 {
		t.Errorf("expected HvacCapAC to remain set (sticky), got 0x%02x", second)
	}
	if second&HvacCapHeatPump == 0 {
		t.Errorf("expected HvacCapHeatPump to be added, got 0x%02x", second)
	}
}

func TestHandleHvacZone_SuppressesStaleEchoWithinWindow(t *testing.T) {
	s := newTestSession()
	key := deviceKey(0x05, 0x01)
	s.inventory.pendingHvac[key] = pendingHvacCommand{
		heatMode: 1, heatSource: 0, fanMode: 0,
		lowTripF: 60, highTripF: 80,
		sentAt: time.Now(),
	}

	mismatched := HvacZone{TableID: 0x05, DeviceID: 0x01, HeatMode: 2, HeatSource: 0, FanMode: 0, LowTripF: 60, HighTripF: 80}
	s.handleHvacZone(mismatched)

	if _, ok := s.inventory.hvacZones[key]; ok {
		t.Error("expected stale echo to be suppressed, but hvacZones was updated")
	}
}

func TestHandleHvacZone_AppliesMatchingEcho(t *testing.T) {
	s := newTestSession()
	key := deviceKey(0x05, 0x01)
	s.inventory.pendingHvac[key] = pendingHvacCommand{
		heatMode: 1, heatSource: 0, fanMode: 0,
		lowTripF: 60, highTripF: 80,
		sentAt: time.Now(),
	}

	matching := HvacZone{TableID: 0x05, DeviceID: 0x01, HeatMode: 1, HeatSource: 0, FanMode: 0, LowTripF: 60, HighTripF: 80}
	s.handleHvacZone(matching)

	if _, ok := s.inventory.hvacZones[key]; !ok {
		t.Fatal("expected matching echo to update hvacZones")
	}
	if _, stillPending := s.inventory.pendingHvac[key]; stillPending {
		t.Error("expected pending guard to be cleared after matching echo")
	}
}

// Rapid slider moves collapse into one transmitted command carrying the
// final values.
func TestSetHvacSetpoint_DebouncesToOneSend(t *testing.T) {
	s := newTestSession()
	s.setAuthState(authAuthenticated)
	ft := s.transport.(*fakeTransport)

	for low := byte(60); low <= 64; low++ {
		s.SetHvacSetpoint(0x05, 0x01, 1, 0, 0, low, 80)
	}

	time.Sleep(hvacSetpointDebounce + 150*time.Millisecond)

	ft.mu.Lock()
	writes := len(ft.written)
	var last []byte
	if writes > 0 {
		last = ft.written[writes-1]
	}
	ft.mu.Unlock()

	if writes != 1 {
		t.Fatalf("got %d transport writes, want 1 debounced send", writes)
	}
	// The COBS-framed command must carry the final low trip of 64; its
	// plaintext is [cmd_lo, cmd_hi, 0x45, table, dev, cmdByte, low, high].
	dec := newCOBSDecoder(true)
	var frame []byte
	for _, b := range last {
		if f, ok := dec.decodeByte(b); ok {
			frame = f
		}
	}
	if frame == nil {
		t.Fatal("transport write did not decode as a COBS frame")
	}
	if frame[2] != CmdActionHvac || frame[6] != 64 {
		t.Errorf("decoded command = %v, want ActionHvac with low trip 64", frame)
	}

	s.mu.Lock()
	_, pending := s.inventory.pendingHvac[deviceKey(0x05, 0x01)]
	s.mu.Unlock()
	if !pending {
		t.Error("expected a pending guard entry after the debounced send")
	}
}

func TestHandleHvacZone_ExpiredGuardIsDropped(t *testing.T) {
	s := newTestSession()
	key := deviceKey(0x05, 0x01)
	s.inventory.pendingHvac[key] = pendingHvacCommand{
		heatMode: 1,
		sentAt:   time.Now().Add(-time.Hour),
	}

	zone := HvacZone{TableID: 0x05, DeviceID: 0x01, HeatMode: 9}
	s.handleHvacZone(zone)

	if _, stillPending := s.inventory.pendingHvac[key]; stillPending {
		t.Error("expected expired pending guard to be dropped")
	}
	if _, ok := s.inventory.hvacZones[key]; !ok {
		t.Error("expected zone to be applied once guard expired")
	}
}
