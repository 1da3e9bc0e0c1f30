package mrl

import "context"

// Transport abstracts the BLE central stack. A concrete implementation
// (see package bleadapt) owns the GATT connection; Session never touches
// a BLE library directly.
type Transport interface {
	// Connect establishes the GATT connection and invokes disconnected
	// when the link drops for any reason (remote close, supervision
	// timeout, explicit local disconnect). disconnected may be called
	// at most once per Connect.
	Connect(ctx context.Context, address string, disconnected func()) error

	// Disconnect tears down the GATT connection. Idempotent.
	Disconnect() error

	// ReadChar performs a GATT read.
	ReadChar(ctx context.Context, charUUID string) ([]byte, error)

	// WriteChar performs a GATT write. withResponse selects
	// write-with-response (acknowledged) vs write-without-response
	// (fire-and-forget, the default for most MyRvLink writes).
	WriteChar(ctx context.Context, charUUID string, data []byte, withResponse bool) error

	// StartNotify subscribes to a characteristic; cb is invoked with
	// each notification payload on the session's executor context.
	StartNotify(ctx context.Context, charUUID string, cb func([]byte)) error

	// EnumerateCharacteristics lists every characteristic UUID visible
	// post-connect, used once to detect the optional CAN_WRITE
	// characteristic.
	EnumerateCharacteristics(ctx context.Context) ([]string, error)

	// Pair performs best-effort bonding. A transport with no OS-level
	// bonding concept may implement this as a no-op returning nil.
	Pair(ctx context.Context) error
}

// AdapterCycler is optionally implemented by transports on hosts with
// more than one local Bluetooth adapter. The reconnect supervisor calls
// CycleAdapter as a last resort after every ordinary connect path has
// failed; each call switches the transport to the next adapter and
// returns false once all adapters have been tried.
type AdapterCycler interface {
	CycleAdapter() bool
}

// BondingAgent abstracts the OS Bluetooth bonding/pairing agent (e.g. a
// BlueZ D-Bus Agent1 registration). Hosts without OS-level bonding use a
// stub that always reports success.
type BondingAgent interface {
	// PairPushButton waits for the gateway's physical Connect button to
	// be pressed and completes Just-Works bonding.
	PairPushButton(ctx context.Context, address string, timeout float64) (bool, error)

	// PairPIN completes PIN/passkey bonding, supplying pin when BlueZ
	// (or equivalent) requests it.
	PairPIN(ctx context.Context, address string, pin string, timeout float64) (bool, error)

	// RemoveBond forgets any stored bond for address, used by the
	// reconnect supervisor's stale-bond recovery.
	RemoveBond(ctx context.Context, address string) (bool, error)
}
