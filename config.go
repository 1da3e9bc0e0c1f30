package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// config is the on-disk YAML persisted across runs: the gateway's BLE
// address and PINs, plus device names and the last confirmed metadata
// CRC, both cheap to keep and costly to re-fetch.
//
// The file is decoded twice: once into yaml (a yaml.Node tree that
// keeps the user's comments and key order) and once into the typed
// fields. write edits the node tree in place and re-encodes it, so a
// hand-annotated config survives every rewrite.
type config struct {
	mu   sync.RWMutex
	yaml yaml.Node

	Address         string            `yaml:"address"`
	GatewayPIN      string            `yaml:"gateway_pin"`
	BluetoothPIN    string            `yaml:"bluetooth_pin"`
	PairingMethod   string            `yaml:"pairing_method"`
	DeviceNames     map[string]string `yaml:"device_names"`
	LastMetadataCRC *uint32           `yaml:"last_metadata_crc"`
}

func newConfig() *config {
	return &config{DeviceNames: make(map[string]string)}
}

func (c *config) load(fn string) error {
	data, err := os.ReadFile(fn)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Decode into yaml.Node, preserving comments et al
	if err := yaml.Unmarshal(data, &c.yaml); err != nil {
		return err
	}
	// Extract just the data
	if err := yaml.Unmarshal(data, c); err != nil {
		return err
	}
	if c.DeviceNames == nil {
		c.DeviceNames = make(map[string]string)
	}
	return nil
}

// mappingValue returns the value node for key in mapping, appending a
// new key/value pair when absent. mapping.Content is a flat list of
// [key, value, key, value, ...].
func mappingValue(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	yk := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	yv := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str"}
	mapping.Content = append(mapping.Content, yk, yv)
	return yv
}

func setString(n *yaml.Node, value string) {
	n.Kind = yaml.ScalarNode
	n.Tag = "!!str"
	n.Value = value
}

// write syncs the typed fields back into the comment-preserving node
// tree and atomically replaces fn with its re-encoding.
func (c *config) write(fn string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Find (or create) the root mapping
	var root *yaml.Node
	if len(c.yaml.Content) == 0 {
		root = &yaml.Node{Kind: yaml.MappingNode}
		c.yaml.Kind = yaml.DocumentNode
		c.yaml.Content = append(c.yaml.Content, root)
	} else {
		root = c.yaml.Content[0]
	}

	setString(mappingValue(root, "address"), c.Address)
	setString(mappingValue(root, "gateway_pin"), c.GatewayPIN)
	setString(mappingValue(root, "bluetooth_pin"), c.BluetoothPIN)
	setString(mappingValue(root, "pairing_method"), c.PairingMethod)

	if c.LastMetadataCRC != nil {
		n := mappingValue(root, "last_metadata_crc")
		n.Kind = yaml.ScalarNode
		n.Tag = "!!int"
		n.Value = strconv.FormatUint(uint64(*c.LastMetadataCRC), 10)
	}

	names := mappingValue(root, "device_names")
	if names.Kind != yaml.MappingNode {
		*names = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}
	for k, v := range c.DeviceNames {
		n := mappingValue(names, k)
		setString(n, v)
		n.Style = yaml.DoubleQuotedStyle
	}
	// Device keys like "01:02" must stay quoted or they re-parse as
	// something other than a string.
	for i := 0; i+1 < len(names.Content); i += 2 {
		names.Content[i].Style = yaml.DoubleQuotedStyle
	}

	f, err := os.CreateTemp(".", strings.Join([]string{".", fn, "*"}, ""))
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)

	if err := enc.Encode(&c.yaml); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), fn)
}

// mergeDeviceNames folds newNames (freshly resolved this session) into
// the persisted set without discarding anything learned in a previous
// run, so a gateway that goes quiet on one table still keeps its old
// name.
func (c *config) mergeDeviceNames(newNames map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.DeviceNames == nil {
		c.DeviceNames = make(map[string]string)
	}
	for k, v := range newNames {
		c.DeviceNames[k] = v
	}
}

func (c *config) setLastMetadataCRC(crc *uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastMetadataCRC = crc
}

func (c *config) snapshotDeviceNames() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.DeviceNames))
	for k, v := range c.DeviceNames {
		out[k] = v
	}
	return out
}

func (c *config) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("config{address=%q, devices=%d}", c.Address, len(c.DeviceNames))
}
