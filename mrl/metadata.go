package mrl

import (
	"encoding/binary"
	"log/slog"
	"time"
)

// metadataTracker owns the CRC-gated per-table metadata request state.
// It is held by Session (Session.metadata) and reset wholesale on disconnect and on
// RefreshMetadata; the confirmed table CRC itself lives on the
// inventory and survives a disconnect.
type metadataTracker struct {
	requestedTables map[byte]bool
	loadedTables    map[byte]bool
	rejectedTables  map[byte]bool
	pending         map[uint16]byte      // command_id -> table_id
	pendingSentAt   map[uint16]time.Time // command_id -> send time, for latency stats
}

func newMetadataTracker() *metadataTracker {
	return &metadataTracker{
		requestedTables: make(map[byte]bool),
		loadedTables:    make(map[byte]bool),
		rejectedTables:  make(map[byte]bool),
		pending:         make(map[uint16]byte),
		pendingSentAt:   make(map[uint16]time.Time),
	}
}

func (t *metadataTracker) resetAllForReconnect() {
	t.requestedTables = make(map[byte]bool)
	t.loadedTables = make(map[byte]bool)
	t.rejectedTables = make(map[byte]bool)
	t.pending = make(map[uint16]byte)
	t.pendingSentAt = make(map[uint16]time.Time)
}

// sendMetadataRequest sends GetDevicesMetadata for tableID and records
// the command ID so the response can be correlated.
func (s *Session) sendMetadataRequest(tableID byte) {
	cmd := s.cmdBuilder.buildGetDevicesMetadata(tableID, 0, 0xFF)
	cmdID := binary.LittleEndian.Uint16(cmd[0:2])

	s.mu.Lock()
	s.metadata.pending[cmdID] = tableID
	s.metadata.pendingSentAt[cmdID] = time.Now()
	s.metadata.requestedTables[tableID] = true
	s.mu.Unlock()

	if err := s.sendCommand(cmd); err != nil {
		slog.Warn("metadata: failed to send GetDevicesMetadata", "table_id", tableID, "err", err)
	}
}

// requestMetadataAfterDelay implements the 500ms post-GatewayInformation
// delay so the request doesn't race the gateway's own startup
// burst.
func (s *Session) requestMetadataAfterDelay(tableID byte) {
	time.AfterFunc(metadataRequestDelay, func() {
		s.mu.Lock()
		skip := s.metadata.requestedTables[tableID] || s.metadata.rejectedTables[tableID]
		s.mu.Unlock()
		if !skip {
			s.sendMetadataRequest(tableID)
		}
	})
}

// ensureMetadataForTable requests metadata for tableID the first time a
// status event mentions it, mirroring the gateway-table path for
// devices the gateway's own table doesn't enumerate.
func (s *Session) ensureMetadataForTable(tableID byte) {
	if tableID == 0 {
		return
	}
	s.mu.Lock()
	alreadyHandled := s.metadata.loadedTables[tableID] || s.metadata.rejectedTables[tableID] || s.metadata.requestedTables[tableID]
	s.mu.Unlock()
	if alreadyHandled {
		return
	}
	s.sendMetadataRequest(tableID)
}

// applyGatewayInformation runs the CRC-gating policy
// against a freshly parsed GatewayInformation event.
func (s *Session) applyGatewayInformation(info GatewayInformation) {
	crc := info.DeviceMetadataTableCRC

	s.mu.Lock()
	lastCRC := s.inventory.lastMetadataCRC
	unchanged := crc != 0 && lastCRC != nil && crc == *lastCRC
	changed := lastCRC != nil && crc != *lastCRC && s.metadata.loadedTables[info.TableID]

	if unchanged {
		s.metadata.loadedTables[info.TableID] = true
	} else if changed {
		s.inventory.lastMetadataCRC = nil
		prefix := deviceKey(info.TableID, 0)[:3]
		for k := range s.inventory.deviceNames {
			if len(k) >= 3 && k[:3] == prefix {
				delete(s.inventory.deviceNames, k)
			}
		}
		delete(s.metadata.requestedTables, info.TableID)
		delete(s.metadata.loadedTables, info.TableID)
		delete(s.metadata.rejectedTables, info.TableID)
	}
	s.inventory.gatewayInfo = &info
	needsRequest := !s.metadata.loadedTables[info.TableID] && !s.metadata.requestedTables[info.TableID] && !s.metadata.rejectedTables[info.TableID]
	s.mu.Unlock()

	if needsRequest {
		s.requestMetadataAfterDelay(info.TableID)
	}
}

// handleMetadataControlFrame classifies a 0x02 response control frame
// (SuccessComplete/Fail) and updates tracker state accordingly.
// SuccessMulti entries are handled separately via applyDeviceMetadata,
// since they carry real DeviceMetadata records alongside this frame.
func (s *Session) handleMetadataControlFrame(ctl *metadataControlFrame) {
	switch ctl.responseType {
	case metadataResponseSuccessComplete:
		s.mu.Lock()
		tableID, ok := s.metadata.pending[ctl.commandID]
		sentAt, hadSentAt := s.metadata.pendingSentAt[ctl.commandID]
		delete(s.metadata.pending, ctl.commandID)
		delete(s.metadata.pendingSentAt, ctl.commandID)
		var rtt time.Duration
		if ok && hadSentAt {
			rtt = time.Since(sentAt)
		}
		if ok && len(ctl.payload) >= 8 {
			responseCRC := binary.LittleEndian.Uint32(ctl.payload[4:8])
			var expectedCRC uint32
			if s.inventory.gatewayInfo != nil {
				expectedCRC = s.inventory.gatewayInfo.DeviceMetadataTableCRC
			}
			if expectedCRC != 0 && responseCRC != expectedCRC {
				delete(s.metadata.loadedTables, tableID)
				s.inventory.lastMetadataCRC = nil
				slog.Warn("metadata: CRC mismatch, discarding table", "table_id", tableID)
			} else {
				// The confirmed CRC itself is recorded only when a
				// DeviceMetadata entry is applied (applyDeviceMetadata);
				// an empty completion must not gate future re-requests.
				s.metadata.loadedTables[tableID] = true
			}
		}
		s.mu.Unlock()
		if ok && hadSentAt {
			s.sampleRTT(rttMetadata, rtt)
		}

	case metadataResponseFail, metadataResponseFailAlt:
		s.mu.Lock()
		tableID, ok := s.metadata.pending[ctl.commandID]
		delete(s.metadata.pending, ctl.commandID)
		delete(s.metadata.pendingSentAt, ctl.commandID)
		if ok {
			var errorCode byte
			if len(ctl.payload) >= 5 {
				errorCode = ctl.payload[4]
			}
			if errorCode == metadataRejectedErrorCode {
				s.metadata.rejectedTables[tableID] = true
				slog.Warn("metadata: rejected by gateway, suppressing retries", "table_id", tableID)
			} else {
				slog.Warn("metadata: request failed", "table_id", tableID, "error_code", errorCode)
			}
		}
		s.mu.Unlock()
	}
}

// applyDeviceMetadata stores resolved function names for a batch of
// DeviceMetadata records parsed from a SuccessMulti response.
func (s *Session) applyDeviceMetadata(metas []DeviceMetadata) {
	if len(metas) == 0 {
		return
	}
	s.mu.Lock()
	for _, m := range metas {
		key := deviceKey(m.TableID, m.DeviceID)
		// A seeded or previously resolved name wins over the generic
		// function-code label.
		if _, exists := s.inventory.deviceNames[key]; !exists {
			s.inventory.deviceNames[key] = resolveFunctionName(m.FunctionName, m.FunctionInstance)
		}
		s.metadata.loadedTables[m.TableID] = true

		// Record the gateway table's CRC so a reconnect seeing the same
		// value can skip the re-request.
		if info := s.inventory.gatewayInfo; info != nil && m.TableID == info.TableID && info.DeviceMetadataTableCRC != 0 {
			crc := info.DeviceMetadataTableCRC
			s.inventory.lastMetadataCRC = &crc
		}
	}
	s.mu.Unlock()
}
