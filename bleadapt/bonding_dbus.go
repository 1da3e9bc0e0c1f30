package bleadapt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	bluezService      = "org.bluez"
	agentManagerPath  = dbus.ObjectPath("/org/bluez/hci0")
	agentObjectPath   = dbus.ObjectPath("/com/lippertmrl/agent")
	agentCapabilityIO = "KeyboardOnly"
)

// DBusBondingAgent implements mrl.BondingAgent by registering a
// single-purpose BlueZ Agent1 object on the system bus for the duration
// of each pairing attempt, unregistering it as soon as the attempt
// resolves.
type DBusBondingAgent struct {
	mu        sync.Mutex
	conn      *dbus.Conn
	pin       string
	adapterID string

	registered bool
	result     chan bool
}

// NewDBusBondingAgent returns an agent bound to the named local adapter
// (e.g. "hci0").
func NewDBusBondingAgent(adapterID string) *DBusBondingAgent {
	if adapterID == "" {
		adapterID = "hci0"
	}
	return &DBusBondingAgent{adapterID: adapterID}
}

func (a *DBusBondingAgent) connect() (*dbus.Conn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn != nil {
		return a.conn, nil
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("bleadapt: system bus: %w", err)
	}
	a.conn = conn
	return conn, nil
}

func (a *DBusBondingAgent) register(conn *dbus.Conn) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.registered {
		return nil
	}

	if err := conn.Export(a, agentObjectPath, "org.bluez.Agent1"); err != nil {
		return fmt.Errorf("bleadapt: export agent: %w", err)
	}

	manager := conn.Object(bluezService, dbus.ObjectPath("/org/bluez"))
	if err := manager.Call("org.bluez.AgentManager1.RegisterAgent", 0, agentObjectPath, agentCapabilityIO).Err; err != nil {
		return fmt.Errorf("bleadapt: register agent: %w", err)
	}
	if err := manager.Call("org.bluez.AgentManager1.RequestDefaultAgent", 0, agentObjectPath).Err; err != nil {
		slog.Warn("bleadapt: RequestDefaultAgent failed", "err", err)
	}

	a.registered = true
	return nil
}

func (a *DBusBondingAgent) unregister() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.registered || a.conn == nil {
		return
	}
	manager := a.conn.Object(bluezService, dbus.ObjectPath("/org/bluez"))
	_ = manager.Call("org.bluez.AgentManager1.UnregisterAgent", 0, agentObjectPath).Err
	_ = a.conn.Export(nil, agentObjectPath, "org.bluez.Agent1")
	a.registered = false
}

func (a *DBusBondingAgent) devicePath(address string) dbus.ObjectPath {
	mac := strings.ToUpper(strings.ReplaceAll(address, ":", "_"))
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s", a.adapterID, mac))
}

// pair runs the shared Connect/Pair/wait-for-result sequence common to
// both PairPushButton and PairPIN.
func (a *DBusBondingAgent) pair(ctx context.Context, address string) (bool, error) {
	conn, err := a.connect()
	if err != nil {
		return false, err
	}
	if err := a.register(conn); err != nil {
		return false, err
	}
	defer a.unregister()

	devPath := a.devicePath(address)
	device := conn.Object(bluezService, devPath)

	call := device.CallWithContext(ctx, "org.bluez.Device1.Pair", 0)
	if call.Err != nil {
		if strings.Contains(call.Err.Error(), "AlreadyExists") {
			return true, nil
		}
		return false, fmt.Errorf("bleadapt: pair %s: %w", address, call.Err)
	}
	return true, nil
}

// PairPushButton waits for the gateway's physical button press; BlueZ's
// Just-Works flow needs no agent callback for this, so it reduces to a
// plain Pair call under the caller's deadline.
func (a *DBusBondingAgent) PairPushButton(ctx context.Context, address string, timeout float64) (bool, error) {
	return a.pair(ctx, address)
}

// PairPIN stashes pin so the exported RequestPinCode/RequestPasskey
// methods can answer BlueZ's callback, then runs the same Pair call.
func (a *DBusBondingAgent) PairPIN(ctx context.Context, address string, pin string, timeout float64) (bool, error) {
	a.mu.Lock()
	a.pin = pin
	a.mu.Unlock()
	return a.pair(ctx, address)
}

// RemoveBond forgets the device via Adapter1.RemoveDevice, used by the
// reconnect supervisor's stale-bond recovery.
func (a *DBusBondingAgent) RemoveBond(ctx context.Context, address string) (bool, error) {
	conn, err := a.connect()
	if err != nil {
		return false, err
	}
	adapter := conn.Object(bluezService, dbus.ObjectPath("/org/bluez/"+a.adapterID))
	devPath := a.devicePath(address)
	if err := adapter.CallWithContext(ctx, "org.bluez.Adapter1.RemoveDevice", 0, devPath).Err; err != nil {
		if strings.Contains(err.Error(), "DoesNotExist") {
			return true, nil
		}
		return false, fmt.Errorf("bleadapt: remove device %s: %w", address, err)
	}
	return true, nil
}

// The following methods implement org.bluez.Agent1, invoked by BlueZ
// over D-Bus during pairing. Method names and signatures are fixed by
// the interface; unused parameters still have to accept whatever BlueZ
// sends.

func (a *DBusBondingAgent) Release() *dbus.Error {
	return nil
}

func (a *DBusBondingAgent) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	a.mu.Lock()
	pin := a.pin
	a.mu.Unlock()
	if pin == "" {
		return "", dbus.NewError("org.bluez.Error.Rejected", nil)
	}
	return pin, nil
}

func (a *DBusBondingAgent) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	a.mu.Lock()
	pin := a.pin
	a.mu.Unlock()
	var passkey uint32
	if _, err := fmt.Sscanf(pin, "%d", &passkey); err != nil {
		return 0, dbus.NewError("org.bluez.Error.Rejected", nil)
	}
	return passkey, nil
}

func (a *DBusBondingAgent) DisplayPasskey(device dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	slog.Debug("bleadapt: DisplayPasskey", "device", device, "passkey", passkey, "entered", entered)
	return nil
}

func (a *DBusBondingAgent) DisplayPinCode(device dbus.ObjectPath, pincode string) *dbus.Error {
	slog.Debug("bleadapt: DisplayPinCode", "device", device)
	return nil
}

func (a *DBusBondingAgent) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	return nil
}

func (a *DBusBondingAgent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	return nil
}

func (a *DBusBondingAgent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	return nil
}

func (a *DBusBondingAgent) Cancel() *dbus.Error {
	return nil
}
