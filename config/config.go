// File: config/config.go
// Package config loads the static YAML configuration that drives one
// echo-server process: local network identity, protocol knobs, and
// core/queue sizing. Unlike control.ConfigStore's dynamic, listener-
// driven store, this is a plain load-once-at-startup struct: live
// reconfiguration is out of scope for this core.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on control/config.go for the "small, focused store" shape,
// generalized from an in-memory map to a typed struct loaded via
// gopkg.in/yaml.v3 (the pack's only yaml-consuming repo is
// ehrlich-b-go-ublk; no concrete parsing example, so this file
// follows the standard go-yaml unmarshal idiom directly).

package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// Network describes this host's local identity on the wire.
//
// ARPOverrides is accepted for the wire-format's sake (a static
// IPv4-to-MAC table) but the dispatcher never consults it: replies
// always carry the peer's own Ethernet source address straight back,
// observed on the inbound frame that started the connection, so this
// core never needs to resolve a destination MAC on its own.
type Network struct {
	Interface    string            `yaml:"interface"`
	LocalIPv4    string            `yaml:"local_ipv4"`
	LocalMAC     string            `yaml:"local_mac"`
	ListenTCP    int               `yaml:"listen_port"`
	ARPOverrides map[string]string `yaml:"arp_overrides"`
}

// Protocol holds the TCP tuning knobs that have no sane hardcoded
// default across deployments.
type Protocol struct {
	MTU              int  `yaml:"mtu"`
	MSS              int  `yaml:"mss"`
	WindowScale      int  `yaml:"window_scale"`
	ReceiveWindow    int  `yaml:"receive_window"`
	AckDelayMillis   int  `yaml:"ack_delay_ms"`
	JumboFrames      bool `yaml:"jumbo_frames"`
	ChecksumOffload  bool `yaml:"checksum_offload"`
}

// Runtime holds core assignment and queue sizing.
type Runtime struct {
	DispatcherCore   int   `yaml:"dispatcher_core"`
	WorkerCores      []int `yaml:"worker_cores"`
	RingCapacity     int   `yaml:"ring_capacity"`
	QueueWorkDepth   int   `yaml:"queue_work_depth"`
	ReceiveBatch     int   `yaml:"receive_batch"`
	MbufPoolCapacity int   `yaml:"mbuf_pool_capacity"`
}

// File is the top-level shape of a config YAML document.
type File struct {
	Network  Network  `yaml:"network"`
	Protocol Protocol `yaml:"protocol"`
	Runtime  Runtime  `yaml:"runtime"`
}

// Default returns the configuration used when no file is supplied,
// matching the constants a faithful reading of the wire format
// implies (54-byte header reserve, 536-byte fallback MSS, etc.).
func Default() File {
	return File{
		Network: Network{ListenTCP: 0},
		Protocol: Protocol{
			MTU:             1500,
			MSS:             536,
			WindowScale:     0,
			ReceiveWindow:   65535,
			AckDelayMillis:  40,
			JumboFrames:     false,
			ChecksumOffload: false,
		},
		Runtime: Runtime{
			RingCapacity:     2,
			QueueWorkDepth:   1024,
			ReceiveBatch:     32,
			MbufPoolCapacity: 4096,
		},
	}
}

// Load reads and parses a YAML config file, filling any field absent
// from the document with Default()'s value.
func Load(path string) (File, error) {
	f := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &f); err != nil {
		return File{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Validate rejects configurations the rest of the system cannot act
// on safely.
func (f File) Validate() error {
	if f.Network.LocalMAC != "" {
		if _, err := net.ParseMAC(f.Network.LocalMAC); err != nil {
			return fmt.Errorf("config: bad local_mac %q: %w", f.Network.LocalMAC, err)
		}
	}
	if f.Network.LocalIPv4 != "" {
		if ip := net.ParseIP(f.Network.LocalIPv4); ip == nil || ip.To4() == nil {
			return fmt.Errorf("config: bad local_ipv4 %q", f.Network.LocalIPv4)
		}
	}
	if f.Runtime.RingCapacity <= 0 {
		return fmt.Errorf("config: runtime.ring_capacity must be positive, got %d", f.Runtime.RingCapacity)
	}
	if f.Runtime.MbufPoolCapacity <= 0 {
		return fmt.Errorf("config: runtime.mbuf_pool_capacity must be positive, got %d", f.Runtime.MbufPoolCapacity)
	}
	if f.Protocol.MSS <= 0 || f.Protocol.MSS > f.Protocol.MTU {
		return fmt.Errorf("config: protocol.mss (%d) must be positive and <= mtu (%d)", f.Protocol.MSS, f.Protocol.MTU)
	}
	return nil
}
