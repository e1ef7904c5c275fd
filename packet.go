package netsim

// packet.go describes the unit of traffic moved through the simulated
// network.  A Packet is immutable once created except for its TTL, its
// hop trace, and the terminal delivered/dropped marking.

import (
	"fmt"
	"strings"
)

// canonical reasons a packet ends up dropped
const (
	DropPolicyBlock = "policy-block"
	DropTTLBelowMin = "ttl-below-minimum"
	DropTTLExpired  = "ttl-expired"
	DropNoRoute     = "no-route-to-destination"
	DropNoActiveHop = "no-active-next-hop"
)

// Packet carries a payload from a source address toward a destination
// address, spending one unit of TTL per hop and recording the name of
// every device it transits
type Packet struct {
	Id      string
	SrcAddr string
	DstAddr string
	Payload string

	TTL         int
	OriginalTTL int

	// names of devices visited, in visitation order, append-only
	hops []string

	Delivered  bool
	Dropped    bool
	DropReason string
}

// createPacket is a constructor.  The id is minted from the owning
// network's rng stream, so id generation involves no shared mutable state
// between networks.
func createPacket(net *Network, srcAddr, dstAddr, payload string, ttl int) *Packet {
	pckt := new(Packet)
	pckt.Id = fmt.Sprintf("%08x", uint32(net.rngstrm.RandU01()*4294967296.0))
	pckt.SrcAddr = srcAddr
	pckt.DstAddr = dstAddr
	pckt.Payload = payload
	pckt.TTL = ttl
	pckt.OriginalTTL = ttl
	pckt.hops = make([]string, 0)
	return pckt
}

// addHop appends a device name to the route trace
func (pckt *Packet) addHop(devName string) {
	pckt.hops = append(pckt.hops, devName)
}

// Hops returns a copy of the route trace
func (pckt *Packet) Hops() []string {
	return append([]string{}, pckt.hops...)
}

// HopCount returns the number of recorded hops
func (pckt *Packet) HopCount() int {
	return len(pckt.hops)
}

// Terminal reports whether the packet has reached a final state
func (pckt *Packet) Terminal() bool {
	return pckt.Delivered || pckt.Dropped
}

// markDelivered moves the packet into its delivered terminal state
func (pckt *Packet) markDelivered() {
	pckt.Delivered = true
}

// markDropped moves the packet into its dropped terminal state,
// remembering why
func (pckt *Packet) markDropped(reason string) {
	pckt.Dropped = true
	pckt.DropReason = reason
}

// TraceString renders the hop trace for display
func (pckt *Packet) TraceString() string {
	if len(pckt.hops) == 0 {
		return "no hops recorded"
	}
	return strings.Join(pckt.hops, " -> ")
}

func (pckt *Packet) String() string {
	status := "in-transit"
	if pckt.Delivered {
		status = "delivered"
	} else if pckt.Dropped {
		status = "dropped:" + pckt.DropReason
	}
	return fmt.Sprintf("pckt %s: %s -> %s ttl %d %s",
		pckt.Id, pckt.SrcAddr, pckt.DstAddr, pckt.TTL, status)
}
