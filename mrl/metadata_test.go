package mrl

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestSendMetadataRequest_TracksPending(t *testing.T) {
	s := newTestSession()
	s.sendMetadataRequest(0x05)

	if !s.metadata.requestedTables[0x05] {
		t.Error("expected table 0x05 to be marked requested")
	}
	if len(s.metadata.pending) != 1 {
		t.Fatalf("len(pending) = %d, want 1", len(s.metadata.pending))
	}
}

func TestEnsureMetadataForTable_SkipsZero(t *testing.T) {
	s := newTestSession()
	s.ensureMetadataForTable(0)
	if len(s.metadata.requestedTables) != 0 {
		t.Error("expected table 0 to never be requested")
	}
}

func TestEnsureMetadataForTable_SkipsAlreadyLoaded(t *testing.T) {
	s := newTestSession()
	s.metadata.loadedTables[0x03] = true
	s.ensureMetadataForTable(0x03)
	if len(s.metadata.pending) != 0 {
		t.Error("expected no request for an already-loaded table")
	}
}

func TestEnsureMetadataForTable_SkipsRejected(t *testing.T) {
	s := newTestSession()
	s.metadata.rejectedTables[0x03] = true
	s.ensureMetadataForTable(0x03)
	if len(s.metadata.pending) != 0 {
		t.Error("expected no request for a rejected table")
	}
}

func TestApplyGatewayInformation_RequestsNewTable(t *testing.T) {
	s := newTestSession()
	info := GatewayInformation{TableID: 0x02, DeviceMetadataTableCRC: 0x1234}
	s.applyGatewayInformation(info)

	if s.inventory.gatewayInfo == nil || s.inventory.gatewayInfo.TableID != 0x02 {
		t.Fatal("expected gatewayInfo to be recorded")
	}

	time.Sleep(metadataRequestDelay + 200*time.Millisecond)
	s.mu.Lock()
	requested := s.metadata.requestedTables[0x02]
	s.mu.Unlock()
	if !requested {
		t.Error("expected a metadata request for the new table after the post-GatewayInformation delay")
	}
}

func TestApplyGatewayInformation_CRCUnchangedMarksLoaded(t *testing.T) {
	s := newTestSession()
	crc := uint32(0xAAAA)
	s.inventory.lastMetadataCRC = &crc

	info := GatewayInformation{TableID: 0x02, DeviceMetadataTableCRC: 0xAAAA}
	s.applyGatewayInformation(info)

	if !s.metadata.loadedTables[0x02] {
		t.Error("expected table to be marked loaded when CRC unchanged")
	}
}

func TestApplyGatewayInformation_CRCChangedClearsStaleNames(t *testing.T) {
	s := newTestSession()
	crc := uint32(0xAAAA)
	s.inventory.lastMetadataCRC = &crc
	s.metadata.loadedTables[0x02] = true
	s.inventory.deviceNames[deviceKey(0x02, 0x01)] = "Stale Name"
	s.inventory.deviceNames[deviceKey(0x09, 0x01)] = "Unrelated Name"

	info := GatewayInformation{TableID: 0x02, DeviceMetadataTableCRC: 0xBBBB}
	s.applyGatewayInformation(info)

	if _, ok := s.inventory.deviceNames[deviceKey(0x02, 0x01)]; ok {
		t.Error("expected stale name for changed table to be cleared")
	}
	if _, ok := s.inventory.deviceNames[deviceKey(0x09, 0x01)]; !ok {
		t.Error("expected unrelated table's name to survive")
	}
	if s.inventory.lastMetadataCRC != nil {
		t.Error("expected lastMetadataCRC to be cleared on CRC change")
	}
}

func TestHandleMetadataControlFrame_SuccessCompleteMarksLoaded(t *testing.T) {
	s := newTestSession()
	s.inventory.gatewayInfo = &GatewayInformation{TableID: 0x05}
	cmdID := uint16(7)
	s.metadata.pending[cmdID] = 0x05

	payload := make([]byte, 9)
	binary.LittleEndian.PutUint32(payload[4:8], 0xDEADBEEF)

	s.handleMetadataControlFrame(&metadataControlFrame{
		commandID:    cmdID,
		responseType: metadataResponseSuccessComplete,
		payload:      payload,
	})

	if !s.metadata.loadedTables[0x05] {
		t.Error("expected table 0x05 to be marked loaded")
	}
	// A completion with no applied DeviceMetadata must not record a
	// confirmed CRC; only applyDeviceMetadata does that.
	if s.inventory.lastMetadataCRC != nil {
		t.Errorf("lastMetadataCRC = %v, want nil until metadata is applied", *s.inventory.lastMetadataCRC)
	}
	if _, stillPending := s.metadata.pending[cmdID]; stillPending {
		t.Error("expected pending entry to be cleared")
	}
}

func TestHandleMetadataControlFrame_CRCMismatchDiscardsTable(t *testing.T) {
	s := newTestSession()
	s.inventory.gatewayInfo = &GatewayInformation{TableID: 0x05, DeviceMetadataTableCRC: 0x11111111}
	stale := uint32(0x11111111)
	s.inventory.lastMetadataCRC = &stale
	s.metadata.loadedTables[0x05] = true
	cmdID := uint16(8)
	s.metadata.pending[cmdID] = 0x05

	payload := make([]byte, 9)
	binary.LittleEndian.PutUint32(payload[4:8], 0x22222222)

	s.handleMetadataControlFrame(&metadataControlFrame{
		commandID:    cmdID,
		responseType: metadataResponseSuccessComplete,
		payload:      payload,
	})

	if s.metadata.loadedTables[0x05] {
		t.Error("expected table 0x05 to lose its loaded flag on CRC mismatch")
	}
	if s.inventory.lastMetadataCRC != nil {
		t.Error("expected lastMetadataCRC to be cleared on CRC mismatch")
	}
}

func TestHandleMetadataControlFrame_FailWithRejectedCodeSuppressesRetries(t *testing.T) {
	s := newTestSession()
	cmdID := uint16(9)
	s.metadata.pending[cmdID] = 0x06

	payload := make([]byte, 5)
	payload[4] = metadataRejectedErrorCode

	s.handleMetadataControlFrame(&metadataControlFrame{
		commandID:    cmdID,
		responseType: metadataResponseFail,
		payload:      payload,
	})

	if !s.metadata.rejectedTables[0x06] {
		t.Error("expected table 0x06 to be marked rejected")
	}
}

// The confirmed CRC is recorded only once a DeviceMetadata entry for
// the gateway's own table has been applied, and never for other tables.
func TestApplyDeviceMetadata_RecordsGatewayTableCRC(t *testing.T) {
	s := newTestSession()
	s.inventory.gatewayInfo = &GatewayInformation{TableID: 0x05, DeviceMetadataTableCRC: 0xAABBCCDD}

	s.applyDeviceMetadata([]DeviceMetadata{{TableID: 0x06, DeviceID: 0x01, FunctionName: 0x0001}})
	if s.inventory.lastMetadataCRC != nil {
		t.Error("expected no CRC recorded for a mirror table's metadata")
	}

	s.applyDeviceMetadata([]DeviceMetadata{{TableID: 0x05, DeviceID: 0x01, FunctionName: 0x0002}})
	if s.inventory.lastMetadataCRC == nil || *s.inventory.lastMetadataCRC != 0xAABBCCDD {
		t.Errorf("lastMetadataCRC = %v, want 0xAABBCCDD after gateway-table metadata", s.inventory.lastMetadataCRC)
	}
}

func TestApplyDeviceMetadata_ResolvesNames(t *testing.T) {
	s := newTestSession()
	s.applyDeviceMetadata([]DeviceMetadata{
		{TableID: 0x05, DeviceID: 0x01, FunctionName: 1, FunctionInstance: 0},
	})

	key := deviceKey(0x05, 0x01)
	if _, ok := s.inventory.deviceNames[key]; !ok {
		t.Error("expected a resolved name to be stored")
	}
	if !s.metadata.loadedTables[0x05] {
		t.Error("expected table 0x05 to be marked loaded")
	}
}
