// Package tun models the virtual network interface as the external
// collaborator the core tunnels IP packets through. Creation, IP
// assignment and routing are out of scope for the core (spec §1); this
// package only defines the opaque bidirectional byte-stream-of-IP-packets
// contract and a concrete songgao/water-backed implementation for the
// platforms that support it.
package tun

import "net"

// Device is the cross-platform TUN device interface the core consumes. A
// TUN device produces and accepts raw IP packets, not Ethernet frames.
type Device interface {
	// Name returns the OS network interface name (e.g., "llp0").
	Name() string

	// Read reads one IP packet from the TUN device into buf.
	Read(buf []byte) (int, error)

	// Write writes one IP packet to the TUN device.
	Write(buf []byte) (int, error)

	// SetMTU sets the maximum transmission unit.
	SetMTU(mtu int) error

	// AddIPAddress assigns an IP address to the interface.
	AddIPAddress(ip net.IP, mask net.IPMask) error

	// SetUp brings the interface up.
	SetUp() error

	// Close shuts down and removes the TUN device.
	Close() error
}
