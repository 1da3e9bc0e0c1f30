package mrl

import "fmt"

// resolveFunctionName renders a metadata (function_name,
// function_instance) pair as a stable device label. function_name is a
// vendor-internal numeric code the gateway never expands on the wire,
// so the label carries the raw code rather than a guessed human name;
// instance disambiguates multiple devices sharing a function. Callers
// that want real names seed them from persisted config
// (Session.SeedDeviceNames), and the metadata apply path never
// overwrites a name that is already present.
func resolveFunctionName(name uint16, instance byte) string {
	if instance == 0 {
		return fmt.Sprintf("Device 0x%04X", name)
	}
	return fmt.Sprintf("Device 0x%04X.%d", name, instance)
}
