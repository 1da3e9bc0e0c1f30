// Package mrl implements a client-side driver for the MyRvLink BLE protocol
// spoken by Lippert vehicle control gateways.
//
// It authenticates against the gateway, streams device-status events,
// builds and sends actuator commands, and maintains a named device
// inventory. The BLE transport and OS-level pairing are abstracted behind
// the Transport and BondingAgent interfaces defined in transport.go; see
// package bleadapt for concrete implementations.
package mrl
