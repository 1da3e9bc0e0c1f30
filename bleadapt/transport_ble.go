// Package bleadapt provides the concrete BLE plumbing behind mrl.Transport
// and mrl.BondingAgent: a go-ble/ble GATT client and a BlueZ D-Bus pairing
// agent. Nothing in package mrl imports this package; the main package
// wires it in at the top.
package bleadapt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// DeviceFactory creates the local ble.Device for the given HCI adapter
// index. Overridable in tests.
var DeviceFactory = func(hciID int) (ble.Device, error) {
	return linux.NewDevice(ble.OptDeviceID(hciID))
}

// BLETransport implements mrl.Transport over github.com/go-ble/ble. One
// instance serves one gateway address; Connect/Disconnect may be called
// repeatedly across the instance's lifetime by the reconnect supervisor.
type BLETransport struct {
	connectTimeout time.Duration

	mu           sync.Mutex
	client       ble.Client
	profile      *ble.Profile
	disconnected func()

	// hciID is the local adapter index (hci0, hci1, ...) used for the
	// next Connect; advanced by CycleAdapter.
	hciID      int
	hciIDStart int
}

// maxLocalAdapters bounds the CycleAdapter sweep: BlueZ hosts rarely
// carry more than a handful of controllers.
const maxLocalAdapters = 4

// NewBLETransport returns a transport with the given GATT connect
// timeout (use 0 for a sane default of 10s).
func NewBLETransport(connectTimeout time.Duration) *BLETransport {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &BLETransport{connectTimeout: connectTimeout}
}

func (t *BLETransport) Connect(ctx context.Context, address string, disconnected func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return fmt.Errorf("bleadapt: already connected")
	}

	dev, err := DeviceFactory(t.hciID)
	if err != nil {
		return fmt.Errorf("bleadapt: create device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	connCtx, cancel := context.WithTimeout(ctx, t.connectTimeout)
	defer cancel()

	slog.Debug("bleadapt: dialing", "address", address)
	client, err := ble.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		return fmt.Errorf("bleadapt: dial %s: %w", address, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return fmt.Errorf("bleadapt: discover profile: %w", err)
	}

	t.client = client
	t.profile = profile
	t.disconnected = disconnected

	go func() {
		<-client.Disconnected()
		t.mu.Lock()
		t.client = nil
		t.profile = nil
		cb := t.disconnected
		t.mu.Unlock()
		slog.Info("bleadapt: link dropped", "address", address)
		if cb != nil {
			cb()
		}
	}()

	return nil
}

func (t *BLETransport) Disconnect() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.profile = nil
	t.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.CancelConnection()
}

func (t *BLETransport) findChar(uuid string) (*ble.Characteristic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.profile == nil {
		return nil, fmt.Errorf("bleadapt: not connected")
	}
	u := ble.MustParse(uuid)
	for _, svc := range t.profile.Services {
		for _, c := range svc.Characteristics {
			if c.UUID.Equal(u) {
				return c, nil
			}
		}
	}
	return nil, fmt.Errorf("bleadapt: characteristic %s not found", uuid)
}

func (t *BLETransport) ReadChar(ctx context.Context, charUUID string) ([]byte, error) {
	char, err := t.findChar(charUUID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("bleadapt: not connected")
	}
	return client.ReadCharacteristic(char)
}

func (t *BLETransport) WriteChar(ctx context.Context, charUUID string, data []byte, withResponse bool) error {
	char, err := t.findChar(charUUID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return fmt.Errorf("bleadapt: not connected")
	}
	return client.WriteCharacteristic(char, data, !withResponse)
}

func (t *BLETransport) StartNotify(ctx context.Context, charUUID string, cb func([]byte)) error {
	char, err := t.findChar(charUUID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return fmt.Errorf("bleadapt: not connected")
	}
	return client.Subscribe(char, false, func(req []byte) {
		cb(req)
	})
}

func (t *BLETransport) EnumerateCharacteristics(ctx context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.profile == nil {
		return nil, fmt.Errorf("bleadapt: not connected")
	}
	var out []string
	for _, svc := range t.profile.Services {
		for _, c := range svc.Characteristics {
			out = append(out, c.UUID.String())
		}
	}
	return out, nil
}

// Pair is a no-op: go-ble's Linux backend leaves OS-level bonding to
// BlueZ directly, handled by BondingAgent instead of through the GATT
// client.
func (t *BLETransport) Pair(ctx context.Context) error {
	return nil
}

// CycleAdapter switches the next Connect to the following local HCI
// adapter, wrapping modulo maxLocalAdapters. It returns false once the
// sweep is back at the adapter it started on, implementing
// mrl.AdapterCycler for the reconnect supervisor's final fallback.
func (t *BLETransport) CycleAdapter() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.hciID = (t.hciID + 1) % maxLocalAdapters
	if t.hciID == t.hciIDStart {
		return false
	}
	return true
}
