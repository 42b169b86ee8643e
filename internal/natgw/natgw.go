// Package natgw models NAT gateway routing between peers as an external
// collaborator: the core never performs hole-punching or relaying itself
// (multi-hop routing is an explicit non-goal), it only needs to resolve a
// peer identifier to a concrete dial address before opening a carrier
// connection.
package natgw

import "net"

// Selector resolves where to dial to reach a peer. The core calls it once
// per connection attempt; how the answer is produced (static config, a
// discovery service, a NAT traversal library) is entirely outside the
// core's concern.
type Selector interface {
	// Resolve returns the network address to dial in order to reach peer.
	Resolve(peer string) (net.Addr, error)
}

// Static is the trivial Selector: a fixed table of peer name to address,
// suitable when NAT traversal is handled entirely outside the core (e.g. a
// port-forwarded server, or peers on the same LAN).
type Static struct {
	addrs map[string]net.Addr
}

// NewStatic builds a Static selector from a peer-name-to-address table.
func NewStatic(addrs map[string]net.Addr) *Static {
	return &Static{addrs: addrs}
}

// Resolve looks peer up in the static table.
func (s *Static) Resolve(peer string) (net.Addr, error) {
	addr, ok := s.addrs[peer]
	if !ok {
		return nil, &UnknownPeerError{Peer: peer}
	}
	return addr, nil
}

// UnknownPeerError is returned when a Selector has no route for a peer.
type UnknownPeerError struct {
	Peer string
}

func (e *UnknownPeerError) Error() string {
	return "natgw: no route for peer " + e.Peer
}
