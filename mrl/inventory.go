package mrl

import (
	"log/slog"
	"strings"
)

// deviceInventory is the session's in-memory model of gateway state.
// It is read by callers and written
// only from the session's single dispatch goroutine plus the hvac
// retry timers, all of which take Session.mu before touching it.
type deviceInventory struct {
	gatewayInfo   *GatewayInformation
	rvStatus      *RvStatus
	rtc           *RealTimeClock
	systemLockout *SystemLockout

	relays     map[string]RelayStatus
	dimmable   map[string]DimmableLight
	rgb        map[string]RgbLight
	covers     map[string]CoverStatus
	hvacZones  map[string]HvacZone
	tanks      map[string]TankLevel
	online     map[string]bool
	locks      map[string]DeviceLock
	generators map[string]GeneratorStatus
	hourMeters map[string]HourMeter

	deviceNames             map[string]string
	observedHvacCapability  map[string]byte
	lastKnownDimmableBright map[string]byte
	lastDTCCodes            map[string]uint16
	lastMetadataCRC         *uint32

	pendingHvac map[string]pendingHvacCommand
}

func newDeviceInventory() *deviceInventory {
	return &deviceInventory{
		relays:                  make(map[string]RelayStatus),
		dimmable:                make(map[string]DimmableLight),
		rgb:                     make(map[string]RgbLight),
		covers:                  make(map[string]CoverStatus),
		hvacZones:               make(map[string]HvacZone),
		tanks:                   make(map[string]TankLevel),
		online:                  make(map[string]bool),
		locks:                   make(map[string]DeviceLock),
		generators:              make(map[string]GeneratorStatus),
		hourMeters:              make(map[string]HourMeter),
		deviceNames:             make(map[string]string),
		observedHvacCapability:  make(map[string]byte),
		lastKnownDimmableBright: make(map[string]byte),
		lastDTCCodes:            make(map[string]uint16),
		pendingHvac:             make(map[string]pendingHvacCommand),
	}
}

// resetForReconnect clears everything that must not survive a
// disconnect (live device state, pending commands) while preserving
// what must (deviceNames, lastMetadataCRC): metadata and device names
// are cheap to keep and costly to re-fetch.
func (inv *deviceInventory) resetForReconnect() {
	inv.gatewayInfo = nil
	inv.rvStatus = nil
	inv.rtc = nil
	inv.systemLockout = nil
	inv.relays = make(map[string]RelayStatus)
	inv.dimmable = make(map[string]DimmableLight)
	inv.rgb = make(map[string]RgbLight)
	inv.covers = make(map[string]CoverStatus)
	inv.hvacZones = make(map[string]HvacZone)
	inv.tanks = make(map[string]TankLevel)
	inv.online = make(map[string]bool)
	inv.locks = make(map[string]DeviceLock)
	inv.generators = make(map[string]GeneratorStatus)
	inv.hourMeters = make(map[string]HourMeter)
	inv.pendingHvac = make(map[string]pendingHvacCommand)
}

// applyRelayStatus stores a relay status update and fans out a DTCFault
// when the diagnostic code changes to a non-zero fault. Faults are only
// surfaced for gas appliances, matching the vendor's mobile app; the
// last-seen code is tracked for every relay regardless so a later
// edge is detected correctly.
func (s *Session) applyRelayStatus(ev RelayStatus) {
	key := deviceKey(ev.TableID, ev.DeviceID)
	s.ensureMetadataForTable(ev.TableID)

	s.mu.Lock()
	s.inventory.relays[key] = ev
	prevDTC := s.inventory.lastDTCCodes[key]
	s.inventory.lastDTCCodes[key] = ev.DTCCode
	name := s.inventory.deviceNames[key]
	s.mu.Unlock()

	if ev.DTCCode != prevDTC && ev.DTCCode != 0 && strings.Contains(strings.ToLower(name), "gas") {
		slog.Warn("relay DTC fault", "device", name, "key", key, "dtc_code", ev.DTCCode)
		s.subscribers.Dispatch(Event{DTCFault: &DTCFault{
			TableID:    ev.TableID,
			DeviceID:   ev.DeviceID,
			DeviceName: name,
			DTCCode:    ev.DTCCode,
		}})
	}
}

func (s *Session) applyDimmableLight(ev DimmableLight) {
	key := deviceKey(ev.TableID, ev.DeviceID)
	s.ensureMetadataForTable(ev.TableID)

	s.mu.Lock()
	s.inventory.dimmable[key] = ev
	// Remember the last lit brightness so the next on-command can restore
	// it; an off event (brightness 0) must not clobber it.
	if ev.Brightness > 0 {
		s.inventory.lastKnownDimmableBright[key] = ev.Brightness
	}
	s.mu.Unlock()
}

func (s *Session) applyRgbLight(ev RgbLight) {
	key := deviceKey(ev.TableID, ev.DeviceID)
	s.ensureMetadataForTable(ev.TableID)

	s.mu.Lock()
	s.inventory.rgb[key] = ev
	s.mu.Unlock()
}

func (s *Session) applyCoverStatus(ev CoverStatus) {
	key := deviceKey(ev.TableID, ev.DeviceID)
	s.ensureMetadataForTable(ev.TableID)

	s.mu.Lock()
	s.inventory.covers[key] = ev
	s.mu.Unlock()
}

func (s *Session) applyTankLevels(tanks []TankLevel) {
	s.mu.Lock()
	for _, t := range tanks {
		s.ensureMetadataForTableLocked(t.TableID)
		key := deviceKey(t.TableID, t.DeviceID)
		s.inventory.tanks[key] = t
	}
	s.mu.Unlock()
}

func (s *Session) applyGeneratorStatus(ev GeneratorStatus) {
	key := deviceKey(ev.TableID, ev.DeviceID)
	s.ensureMetadataForTable(ev.TableID)

	s.mu.Lock()
	s.inventory.generators[key] = ev
	s.mu.Unlock()
}

func (s *Session) applyHourMeter(ev HourMeter) {
	key := deviceKey(ev.TableID, ev.DeviceID)

	s.mu.Lock()
	s.inventory.hourMeters[key] = ev
	s.mu.Unlock()
}

func (s *Session) applyDeviceOnline(ev DeviceOnline) {
	key := deviceKey(ev.TableID, ev.DeviceID)

	s.mu.Lock()
	s.inventory.online[key] = ev.IsOnline
	s.mu.Unlock()
}

func (s *Session) applyDeviceLock(ev DeviceLock) {
	key := deviceKey(ev.TableID, ev.DeviceID)

	s.mu.Lock()
	s.inventory.locks[key] = ev
	s.mu.Unlock()
}

func (s *Session) applySystemLockout(ev SystemLockout) {
	s.mu.Lock()
	s.inventory.systemLockout = &ev
	s.mu.Unlock()
}

func (s *Session) applyRealTimeClock(ev RealTimeClock) {
	s.mu.Lock()
	s.inventory.rtc = &ev
	s.mu.Unlock()
}

func (s *Session) applyRvStatus(ev RvStatus) {
	s.mu.Lock()
	s.inventory.rvStatus = &ev
	s.mu.Unlock()
}

// ensureMetadataForTableLocked is ensureMetadataForTable's body for
// callers that already hold s.mu (e.g. applyTankLevels, which needs to
// check several tanks at once without releasing the lock between them).
func (s *Session) ensureMetadataForTableLocked(tableID byte) {
	if tableID == 0 {
		return
	}
	alreadyHandled := s.metadata.loadedTables[tableID] || s.metadata.rejectedTables[tableID] || s.metadata.requestedTables[tableID]
	if alreadyHandled {
		return
	}
	s.metadata.requestedTables[tableID] = true
	go s.sendMetadataRequest(tableID)
}
