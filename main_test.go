package main

import (
	"os"
	"strings"
	"testing"
)

func TestConfig_WriteKeepsCommentsAndAppendsNewKeys(t *testing.T) {
	t.Chdir(t.TempDir())

	seed := strings.Join([]string{
		"# gateway connection",
		`address: "AA:BB:CC:DD:EE:FF" # sticker MAC`,
		`gateway_pin: "090336"`,
		"",
	}, "\n")
	if err := os.WriteFile("config.yaml", []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	conf := newConfig()
	if err := conf.load("config.yaml"); err != nil {
		t.Fatalf("load: %v", err)
	}
	conf.mergeDeviceNames(map[string]string{"01:02": "Water Heater"})
	crc := uint32(0xAABBCCDD)
	conf.setLastMetadataCRC(&crc)

	if err := conf.write("config.yaml"); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := os.ReadFile("config.yaml")
	if err != nil {
		t.Fatal(err)
	}
	text := string(out)
	if !strings.Contains(text, "# gateway connection") || !strings.Contains(text, "# sticker MAC") {
		t.Errorf("comments not preserved across write:\n%s", text)
	}
	if !strings.Contains(text, "device_names") || !strings.Contains(text, "Water Heater") {
		t.Errorf("merged device name not written:\n%s", text)
	}
	if !strings.Contains(text, "last_metadata_crc") {
		t.Errorf("metadata CRC not written:\n%s", text)
	}
}

func TestConfig_RoundTripReloadsSameData(t *testing.T) {
	t.Chdir(t.TempDir())

	conf := newConfig()
	conf.Address = "AA:BB:CC:DD:EE:FF"
	conf.GatewayPIN = "123456"
	conf.mergeDeviceNames(map[string]string{"03:07": "Gas Furnace"})
	if err := conf.write("config.yaml"); err != nil {
		t.Fatalf("write: %v", err)
	}

	reloaded := newConfig()
	if err := reloaded.load("config.yaml"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if reloaded.Address != "AA:BB:CC:DD:EE:FF" || reloaded.GatewayPIN != "123456" {
		t.Errorf("reloaded = %v, want the written scalars back", reloaded)
	}
	if reloaded.DeviceNames["03:07"] != "Gas Furnace" {
		t.Errorf("DeviceNames[03:07] = %q, want %q", reloaded.DeviceNames["03:07"], "Gas Furnace")
	}
}

func TestConfig_LoadMissingFile(t *testing.T) {
	conf := newConfig()
	if err := conf.load("no-such-config.yaml"); !os.IsNotExist(err) {
		t.Errorf("load of missing file = %v, want IsNotExist", err)
	}
}
