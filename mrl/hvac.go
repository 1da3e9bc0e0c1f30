package mrl

import (
	"log/slog"
	"time"
)

// pendingHvacCommand tracks an in-flight HVAC command for the pending
// guard and setpoint-retry logic.
type pendingHvacCommand struct {
	tableID, deviceID                byte
	heatMode, heatSource, fanMode    byte
	lowTripF, highTripF              byte
	isSetpointChange, isPresetChange bool
	sentAt                           time.Time
	retryCount                       int
}

func (p pendingHvacCommand) window() time.Duration {
	switch {
	case p.isPresetChange:
		return hvacPresetPendingWindow
	case p.isSetpointChange:
		return hvacSetpointPendingWindow
	default:
		return hvacPendingWindow
	}
}

// matches reports whether an incoming HvacZone is consistent with this
// pending command: exact mode/source/fan match and trip temps within
// ±1°F.
func (p pendingHvacCommand) matches(zone HvacZone) bool {
	if zone.HeatMode != p.heatMode || zone.HeatSource != p.heatSource || zone.FanMode != p.fanMode {
		return false
	}
	if absDiffByte(zone.LowTripF, p.lowTripF) > 1 {
		return false
	}
	if absDiffByte(zone.HighTripF, p.highTripF) > 1 {
		return false
	}
	return true
}

func absDiffByte(a, b byte) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// updateObservedHvacCapability accumulates the sticky capability bitmask
// for zoneKey from an incoming status event. Bits never clear
// within a session.
func (s *Session) updateObservedHvacCapability(zoneKey string, zone HvacZone) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cap := s.inventory.observedHvacCapability[zoneKey]
	prev := cap

	switch zone.ZoneStatus & 0x0F {
	case 2:
		cap |= HvacCapAC
	case 3:
		cap |= HvacCapHeatPump | HvacCapAC
	case 5, 6:
		cap |= HvacCapGas
	}

	if zone.HeatMode == 1 || zone.HeatMode == 3 {
		if zone.HeatSource == 0 {
			cap |= HvacCapGas
		} else if zone.HeatSource == 1 {
			cap |= HvacCapHeatPump
		}
	}
	if zone.HeatMode == 2 || zone.HeatMode == 3 {
		cap |= HvacCapAC
	}
	if zone.FanMode == 2 {
		cap |= HvacCapMultiSpeedFan
	}

	if cap != prev {
		s.inventory.observedHvacCapability[zoneKey] = cap
	}
}

// handleHvacZone applies the pending-command guard before
// touching the hvac_zones inventory map. Observed capability is updated
// for every zone, guarded or not, and metadata is requested for the
// zone's table if that table is not yet requested, loaded or rejected.
func (s *Session) handleHvacZone(zone HvacZone) {
	key := deviceKey(zone.TableID, zone.DeviceID)
	s.ensureMetadataForTable(zone.TableID)
	s.updateObservedHvacCapability(key, zone)

	s.mu.Lock()
	pending, hasPending := s.inventory.pendingHvac[key]
	if hasPending {
		age := time.Since(pending.sentAt)
		if age <= pending.window() {
			if !pending.matches(zone) {
				s.mu.Unlock() // stale echo, leave inventory untouched
				return
			}
			// Matched: clear the guard unless this is a preset change,
			// whose echoes may arrive late and flicker.
			if !pending.isPresetChange {
				delete(s.inventory.pendingHvac, key)
				s.cancelHvacRetryTimerLocked(key)
			}
		} else {
			delete(s.inventory.pendingHvac, key)
		}
	}

	s.inventory.hvacZones[key] = zone
	s.mu.Unlock()
}

// sendHvac builds and transmits an HVAC command, records the pending
// guard entry, and arms the retry timer for setpoint changes.
func (s *Session) sendHvac(tableID, deviceID, heatMode, heatSource, fanMode, lowTripF, highTripF byte, isSetpointChange, isPresetChange bool) error {
	cmd := s.cmdBuilder.buildActionHvac(tableID, deviceID, heatMode, heatSource, fanMode, lowTripF, highTripF)
	if err := s.sendCommand(cmd); err != nil {
		return err
	}

	key := deviceKey(tableID, deviceID)
	pending := pendingHvacCommand{
		tableID: tableID, deviceID: deviceID,
		heatMode: heatMode, heatSource: heatSource, fanMode: fanMode,
		lowTripF: lowTripF, highTripF: highTripF,
		isSetpointChange: isSetpointChange, isPresetChange: isPresetChange,
		sentAt: time.Now(),
	}

	s.mu.Lock()
	s.inventory.pendingHvac[key] = pending
	s.mu.Unlock()

	if isSetpointChange {
		s.scheduleSetpointRetry(key)
	}
	return nil
}

// scheduleSetpointRetry (re)arms the +5s retry timer for zoneKey,
// cancelling any timer already running for it.
func (s *Session) scheduleSetpointRetry(zoneKey string) {
	timer := time.AfterFunc(hvacSetpointRetryDelay, func() {
		s.doRetrySetpoint(zoneKey)
	})

	s.mu.Lock()
	s.cancelHvacRetryTimerLocked(zoneKey)
	s.hvacRetryTimers[zoneKey] = timer
	s.mu.Unlock()
}

// cancelHvacRetryTimerLocked stops and forgets zoneKey's retry timer.
// Caller holds s.mu.
func (s *Session) cancelHvacRetryTimerLocked(zoneKey string) {
	if t, ok := s.hvacRetryTimers[zoneKey]; ok {
		t.Stop()
		delete(s.hvacRetryTimers, zoneKey)
	}
}

// SetHvacSetpoint debounces rapid setpoint changes (slider drags) to at
// most one transmitted command per zone per hvacSetpointDebounce, then
// sends through the pending-guard/retry path.
// Only the most recent values survive the debounce window.
func (s *Session) SetHvacSetpoint(tableID, deviceID, heatMode, heatSource, fanMode, lowTripF, highTripF byte) {
	key := deviceKey(tableID, deviceID)
	desired := pendingHvacCommand{
		tableID: tableID, deviceID: deviceID,
		heatMode: heatMode, heatSource: heatSource, fanMode: fanMode,
		lowTripF: lowTripF, highTripF: highTripF,
		isSetpointChange: true,
	}

	s.mu.Lock()
	s.debouncedSetpoints[key] = desired
	if t, ok := s.hvacDebounceTimers[key]; ok {
		t.Stop()
	}
	s.hvacDebounceTimers[key] = time.AfterFunc(hvacSetpointDebounce, func() {
		s.mu.Lock()
		d, ok := s.debouncedSetpoints[key]
		delete(s.debouncedSetpoints, key)
		delete(s.hvacDebounceTimers, key)
		s.mu.Unlock()
		if !ok {
			return
		}
		if err := s.sendHvac(d.tableID, d.deviceID, d.heatMode, d.heatSource, d.fanMode, d.lowTripF, d.highTripF, true, false); err != nil {
			slog.Warn("hvac: debounced setpoint send failed", "zone", key, "err", err)
		}
	})
	s.mu.Unlock()
}

// doRetrySetpoint re-sends the exact pending command (never re-merged
// with current state) up to hvacSetpointMaxRetries times, then gives up.
func (s *Session) doRetrySetpoint(zoneKey string) {
	s.mu.Lock()
	pending, ok := s.inventory.pendingHvac[zoneKey]
	if !ok || !pending.isSetpointChange {
		s.mu.Unlock()
		return
	}
	if pending.retryCount >= hvacSetpointMaxRetries {
		delete(s.inventory.pendingHvac, zoneKey)
		s.mu.Unlock()
		slog.Warn("hvac: setpoint never confirmed, giving up",
			"zone", zoneKey, "retries", pending.retryCount)
		return
	}
	s.mu.Unlock()

	cmd := s.cmdBuilder.buildActionHvac(
		pending.tableID, pending.deviceID,
		pending.heatMode, pending.heatSource, pending.fanMode,
		pending.lowTripF, pending.highTripF,
	)
	if err := s.sendCommand(cmd); err != nil {
		return
	}

	s.mu.Lock()
	pending.retryCount++
	pending.sentAt = time.Now()
	s.inventory.pendingHvac[zoneKey] = pending
	s.mu.Unlock()

	s.scheduleSetpointRetry(zoneKey)
}
