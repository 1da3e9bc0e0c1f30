package mrl

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
)

// SessionConfig is the caller-supplied configuration surface.
type SessionConfig struct {
	// Address is the BLE peer address (platform-dependent format).
	Address string
	// GatewayPIN is the 6-digit MyRvLink application-layer PIN used in
	// Step 2 authentication. Defaults to DefaultGatewayPIN.
	GatewayPIN string
	// BluetoothPIN is the OS-level bonding PIN. Defaults to GatewayPIN.
	// Session keeps it in its config but does not read it: Connect bonds
	// through Transport.Pair and never calls the BondingAgent's pairing
	// methods.
	BluetoothPIN string
	// PairingMethod selects how the gateway bonds; the zero value is
	// PairingPushButton. Session does not infer it from advertisement
	// data.
	PairingMethod PairingMethod
}

// Session owns one gateway connection end-to-end: transport lifecycle,
// authentication, the COBS/CRC8 frame decoder, command dispatch, HVAC
// reconciliation, metadata tracking, and event fan-out. Exactly one
// goroutine processes incoming
// notification bytes; everything else synchronizes through mu.
type Session struct {
	config    SessionConfig
	transport Transport
	agent     BondingAgent

	authMu    sync.RWMutex
	authState authState

	mu        sync.Mutex
	inventory *deviceInventory
	metadata  *metadataTracker

	cmdBuilder         *commandBuilder
	subscribers        *subscriberRegistry
	hvacRetryTimers    map[string]*time.Timer
	hvacDebounceTimers map[string]*time.Timer
	debouncedSetpoints map[string]pendingHvacCommand

	connectMu sync.Mutex

	decoder       *cobsDecoder
	canWriteAvail bool

	statsMu sync.Mutex
	stats   map[rttKind]*rttStats

	lastEventAt         time.Time
	lastHeartbeatSentAt time.Time

	lockoutMu        sync.Mutex
	lastLockoutClear time.Time

	cancelHeartbeat context.CancelFunc

	reconnect *reconnectSupervisor

	disconnected func()
}

// NewSession constructs a Session bound to transport (and optionally
// agent, for OS-level bonding). Call Connect to begin the connection
// and authentication sequence.
func NewSession(config SessionConfig, transport Transport, agent BondingAgent) *Session {
	if config.GatewayPIN == "" {
		config.GatewayPIN = DefaultGatewayPIN
	}
	if config.BluetoothPIN == "" {
		config.BluetoothPIN = config.GatewayPIN
	}

	s := &Session{
		config:             config,
		transport:          transport,
		agent:              agent,
		inventory:          newDeviceInventory(),
		metadata:           newMetadataTracker(),
		cmdBuilder:         newCommandBuilder(),
		subscribers:        newSubscriberRegistry(),
		hvacRetryTimers:    make(map[string]*time.Timer),
		hvacDebounceTimers: make(map[string]*time.Timer),
		debouncedSetpoints: make(map[string]pendingHvacCommand),
		decoder:            newCOBSDecoder(true),
		stats:              make(map[rttKind]*rttStats),
	}
	s.reconnect = newReconnectSupervisor(s)
	return s
}

// Connect performs one connection attempt: GATT connect, optional
// bonding, and the two-step authentication handshake. Callers
// that want automatic reconnection should use the reconnect supervisor
// (Run) instead of calling Connect directly. Concurrent calls are
// serialized; a call that finds the session already past Disconnected
// is a no-op.
func (s *Session) Connect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	if st := s.getAuthState(); st != authDisconnected && st != authFailed {
		return nil
	}

	s.setAuthState(authConnecting)
	s.decoder.reset()

	if err := s.transport.Connect(ctx, s.config.Address, s.onTransportDisconnected); err != nil {
		s.setAuthState(authFailed)
		return &TransportError{Op: "connect", Err: err}
	}

	chars, err := s.transport.EnumerateCharacteristics(ctx)
	if err == nil {
		for _, c := range chars {
			if c == CanWriteCharUUID {
				s.mu.Lock()
				s.canWriteAvail = true
				s.mu.Unlock()
				break
			}
		}
	}

	if err := s.transport.Pair(ctx); err != nil {
		slog.Warn("session: pairing failed, continuing", "err", err)
	}

	if err := s.runAuthentication(ctx); err != nil {
		_ = s.transport.Disconnect()
		return err
	}

	return nil
}

// Run drives Connect under the reconnect supervisor's backoff policy
// until ctx is cancelled. It blocks until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	return s.reconnect.run(ctx)
}

// Disconnect tears down the transport and stops the heartbeat loop.
func (s *Session) Disconnect() error {
	s.stopHeartbeat()
	return s.transport.Disconnect()
}

func (s *Session) onTransportDisconnected() {
	slog.Info("session: transport disconnected")
	s.stopHeartbeat()
	s.setAuthState(authDisconnected)

	s.mu.Lock()
	s.inventory.resetForReconnect()
	s.metadata.resetAllForReconnect()
	s.canWriteAvail = false
	for k, t := range s.hvacRetryTimers {
		t.Stop()
		delete(s.hvacRetryTimers, k)
	}
	for k, t := range s.hvacDebounceTimers {
		t.Stop()
		delete(s.hvacDebounceTimers, k)
		delete(s.debouncedSetpoints, k)
	}
	s.decoder.reset()
	s.mu.Unlock()

	if s.disconnected != nil {
		s.disconnected()
	}
	s.reconnect.notifyDisconnected()
}

// onAuthenticated is invoked once Step 2 completes. It starts the
// heartbeat loop and requests the initial device table.
func (s *Session) onAuthenticated() {
	s.mu.Lock()
	s.lastEventAt = time.Now()
	s.mu.Unlock()

	s.reconnect.notifyConnected()
	s.startHeartbeat()
}

// onDataReadNotification feeds raw notification bytes through the COBS
// decoder and dispatches any frame it completes. It is registered as
// the DATA_READ notify callback during Step 1.
func (s *Session) onDataReadNotification(data []byte) {
	for _, b := range data {
		frame, ok := s.decoder.decodeByte(b)
		if !ok {
			continue
		}
		s.handleFrame(frame)
	}
}

// handleFrame parses a complete decoded frame and routes it: metadata
// control/entries are applied to the metadata tracker, everything else
// updates the device inventory and is fanned out to subscribers.
func (s *Session) handleFrame(frame []byte) {
	s.mu.Lock()
	s.lastEventAt = time.Now()
	s.mu.Unlock()

	ev := parseEvent(frame)

	switch {
	case ev.GatewayInformation != nil:
		s.applyGatewayInformation(*ev.GatewayInformation)
	case ev.RvStatus != nil:
		s.applyRvStatus(*ev.RvStatus)
	case ev.Relay != nil:
		s.applyRelayStatus(*ev.Relay)
	case ev.DeviceOnline != nil:
		s.applyDeviceOnline(*ev.DeviceOnline)
	case ev.DeviceLock != nil:
		s.applyDeviceLock(*ev.DeviceLock)
	case ev.SystemLockout != nil:
		s.applySystemLockout(*ev.SystemLockout)
	case ev.Dimmable != nil:
		s.applyDimmableLight(*ev.Dimmable)
	case ev.Rgb != nil:
		s.applyRgbLight(*ev.Rgb)
	case ev.Hvac != nil:
		for _, zone := range ev.Hvac {
			s.handleHvacZone(zone)
		}
	case ev.Cover != nil:
		s.applyCoverStatus(*ev.Cover)
	case ev.Tank != nil:
		s.applyTankLevels(ev.Tank)
	case ev.Generator != nil:
		s.applyGeneratorStatus(*ev.Generator)
	case ev.HourMeter != nil:
		s.applyHourMeter(*ev.HourMeter)
	case ev.RTC != nil:
		s.applyRealTimeClock(*ev.RTC)
	}

	if md := ev.metadataControl; md != nil {
		s.handleMetadataControlFrame(md)
		if len(ev.Metadata) > 0 {
			s.applyDeviceMetadata(ev.Metadata)
		}
		return // metadata control frames are not fanned out to subscribers
	}

	s.subscribers.Dispatch(ev)
}

// sendCommand encodes cmd as a COBS/CRC8 frame and writes it to
// DATA_WRITE without waiting for a response. Sends while
// disconnected fail fast; nothing in the protocol queues commands for
// later delivery.
func (s *Session) sendCommand(cmd []byte) error {
	if st := s.getAuthState(); st == authDisconnected || st == authFailed {
		return &CommandError{Reason: "not connected"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	defer cancel()

	frame := cobsEncode(cmd, true, true)
	if err := s.transport.WriteChar(ctx, DataWriteCharUUID, frame, false); err != nil {
		return &TransportError{Op: "write DATA_WRITE", Err: err}
	}
	return nil
}

// startHeartbeat launches the periodic GetDevices heartbeat and the
// stale-connection watchdog.
func (s *Session) startHeartbeat() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancelHeartbeat = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sendHeartbeat()
				s.checkStaleConnection()
			}
		}
	}()
}

func (s *Session) stopHeartbeat() {
	s.mu.Lock()
	cancel := s.cancelHeartbeat
	s.cancelHeartbeat = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) sendHeartbeat() {
	s.mu.Lock()
	prevSentAt := s.lastHeartbeatSentAt
	lastEventAt := s.lastEventAt
	info := s.inventory.gatewayInfo
	s.mu.Unlock()

	// No GatewayInformation yet means we don't know the gateway's own
	// table; the first unsolicited burst after auth will carry it.
	if info == nil {
		return
	}

	if !prevSentAt.IsZero() && lastEventAt.After(prevSentAt) {
		s.sampleRTT(rttHeartbeat, lastEventAt.Sub(prevSentAt))
	}

	sentAt := time.Now()
	cmd := s.cmdBuilder.buildGetDevices(info.TableID)
	if err := s.sendCommand(cmd); err != nil {
		slog.Warn("session: heartbeat send failed", "err", err)
		return
	}
	s.mu.Lock()
	s.lastHeartbeatSentAt = sentAt
	s.mu.Unlock()
}

// sampleRTT records a single round-trip observation for kind, creating
// its rttStats on first use.
func (s *Session) sampleRTT(kind rttKind, d time.Duration) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	rs, ok := s.stats[kind]
	if !ok {
		rs = newRTTStats(kind)
		s.stats[kind] = rs
	}
	rs.Sample(d)
}

// Stats reports the round-trip summary for every measurement kind seen
// so far (heartbeat, metadata), for logging.
func (s *Session) Stats() string {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	out := make([]string, 0, len(s.stats))
	for kind := rttHeartbeat; kind <= rttMetadata; kind++ {
		if rs, ok := s.stats[kind]; ok {
			out = append(out, rs.String())
		}
	}
	return strings.Join(out, "; ")
}

// checkStaleConnection forces a disconnect when no frame has arrived
// for longer than staleConnectionTimeout, letting the reconnect
// supervisor take over.
func (s *Session) checkStaleConnection() {
	s.mu.Lock()
	age := time.Since(s.lastEventAt)
	s.mu.Unlock()

	if age > staleConnectionTimeout {
		slog.Warn("session: stale connection, forcing reconnect", "age", age)
		_ = s.transport.Disconnect()
	}
}

// ClearLockout issues the system-lockout-clear sequence: 0x55, a 100ms
// pause, then 0xAA, preferring CAN_WRITE raw bytes when available and
// falling back to the COBS-framed DATA_WRITE path otherwise. Calls
// within lockoutClearThrottle of the previous clear are dropped.
func (s *Session) ClearLockout(ctx context.Context) error {
	s.lockoutMu.Lock()
	if time.Since(s.lastLockoutClear) < lockoutClearThrottle {
		s.lockoutMu.Unlock()
		return nil
	}
	s.lastLockoutClear = time.Now()
	s.lockoutMu.Unlock()

	s.mu.Lock()
	raw := s.canWriteAvail
	s.mu.Unlock()
	charUUID := DataWriteCharUUID
	if raw {
		charUUID = CanWriteCharUUID
	}

	send := func(b byte) error {
		payload := []byte{b}
		if !raw {
			payload = cobsEncode(payload, true, true)
		}
		return s.transport.WriteChar(ctx, charUUID, payload, false)
	}

	if err := send(0x55); err != nil {
		return &TransportError{Op: "clear lockout (0x55)", Err: err}
	}
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := send(0xAA); err != nil {
		return &TransportError{Op: "clear lockout (0xAA)", Err: err}
	}
	return nil
}

// RefreshMetadata drops every tracked metadata table and re-requests
// them all, used when a caller suspects the cached function names have
// gone stale. "All" is the gateway's own table plus every table that
// appears in a device name or in a relay, HVAC or dimmable status entry;
// tables seen only in other status events (covers, tanks, RGB lights,
// generators, ...) are not re-requested.
func (s *Session) RefreshMetadata() {
	s.mu.Lock()
	s.metadata.resetAllForReconnect()
	s.inventory.lastMetadataCRC = nil
	tables := s.knownTableIDsLocked()
	s.mu.Unlock()

	for _, tableID := range tables {
		s.sendMetadataRequest(tableID)
	}
}

// knownTableIDsLocked collects every table_id observed so far, from the
// gateway's own announcement and from the canonical "tt:dd" keys of the
// name and status maps. Caller holds s.mu.
func (s *Session) knownTableIDsLocked() []byte {
	seen := make(map[byte]bool)
	if s.inventory.gatewayInfo != nil {
		seen[s.inventory.gatewayInfo.TableID] = true
	}
	addKey := func(key string) {
		if t, ok := tableIDFromKey(key); ok {
			seen[t] = true
		}
	}
	for k := range s.inventory.deviceNames {
		addKey(k)
	}
	for k := range s.inventory.relays {
		addKey(k)
	}
	for k := range s.inventory.hvacZones {
		addKey(k)
	}
	for k := range s.inventory.dimmable {
		addKey(k)
	}

	out := make([]byte, 0, len(seen))
	for t := range seen {
		if t != 0 {
			out = append(out, t)
		}
	}
	return out
}

// tableIDFromKey parses the table byte back out of a canonical "tt:dd"
// device key.
func tableIDFromKey(key string) (byte, bool) {
	if len(key) < 3 || key[2] != ':' {
		return 0, false
	}
	hi := hexNibble(key[0])
	lo := hexNibble(key[1])
	if hi < 0 || lo < 0 {
		return 0, false
	}
	return byte(hi<<4 | lo), true
}

func hexNibble(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return -1
	}
}

// SetSwitch sends an ActionSwitch command for the given relays.
func (s *Session) SetSwitch(tableID byte, state bool, deviceIDs []byte) error {
	return s.sendCommand(s.cmdBuilder.buildActionSwitch(tableID, state, deviceIDs))
}

// SetGenerator starts or stops a generator.
func (s *Session) SetGenerator(tableID, deviceID byte, run bool) error {
	return s.sendCommand(s.cmdBuilder.buildActionGenerator(tableID, deviceID, run))
}

// SetDimmable sends the basic brightness form of ActionDimmable.
func (s *Session) SetDimmable(tableID, deviceID, brightness byte) error {
	return s.sendCommand(s.cmdBuilder.buildActionDimmable(tableID, deviceID, brightness))
}

// SetDimmableEffect sends the extended Blink/Swell form of
// ActionDimmable. duration is in minutes (0 for no auto-off);
// cycleTime1/2 are the effect's phase times in milliseconds.
func (s *Session) SetDimmableEffect(tableID, deviceID, mode, brightness, duration byte, cycleTime1, cycleTime2 uint16) error {
	return s.sendCommand(s.cmdBuilder.buildActionDimmableEffect(tableID, deviceID, mode, brightness, duration, cycleTime1, cycleTime2))
}

// SetRgb sends an ActionRgb command.
func (s *Session) SetRgb(tableID, deviceID, mode, red, green, blue, autoOff, blinkOn, blinkOff byte, transitionInterval uint16) error {
	return s.sendCommand(s.cmdBuilder.buildActionRgb(tableID, deviceID, mode, red, green, blue, autoOff, blinkOn, blinkOff, transitionInterval))
}

// SetHvac issues an HVAC command through the pending-guard/retry path.
func (s *Session) SetHvac(tableID, deviceID, heatMode, heatSource, fanMode, lowTripF, highTripF byte, isSetpointChange, isPresetChange bool) error {
	return s.sendHvac(tableID, deviceID, heatMode, heatSource, fanMode, lowTripF, highTripF, isSetpointChange, isPresetChange)
}

// String renders a point-in-time dump of the session's full inventory,
// for interactive debugging.
func (s *Session) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return spew.Sdump(s.inventory)
}

// AuthState returns the current authentication state as a string,
// mainly for logging and diagnostics.
func (s *Session) AuthState() string {
	return s.getAuthState().String()
}

// DeviceNames returns a snapshot of resolved function names, keyed by
// deviceKey, suitable for persisting across sessions.
func (s *Session) DeviceNames() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.inventory.deviceNames))
	for k, v := range s.inventory.deviceNames {
		out[k] = v
	}
	return out
}

// LastMetadataCRC returns the most recently confirmed device-metadata
// table CRC, or nil if none has been observed yet.
func (s *Session) LastMetadataCRC() *uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inventory.lastMetadataCRC == nil {
		return nil
	}
	crc := *s.inventory.lastMetadataCRC
	return &crc
}

// SeedLastMetadataCRC preloads the metadata-table CRC persisted by a
// prior run, letting the first GatewayInformation event after restart
// skip the metadata re-request when nothing changed.
func (s *Session) SeedLastMetadataCRC(crc *uint32) {
	if crc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := *crc
	s.inventory.lastMetadataCRC = &v
}

// SeedDeviceNames preloads device_names from a prior session's
// persisted config. Seeded names win over the labels metadata
// resolution produces; seeding does not mark any table loaded, so
// metadata is still requested for the tables they cover.
func (s *Session) SeedDeviceNames(names map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range names {
		s.inventory.deviceNames[k] = v
	}
}
