package netsim

// forward.go implements the per-hop forwarding decision.  For every
// packet pulled off a queue the engine applies, in strict order: the
// inherited policies for the destination, the flooding rule for
// switch-class devices, the route table with next-hop resolution, and a
// best-effort fallback send.  A packet that cannot be moved is dropped
// and the failure recorded in the device error log.

import "fmt"

// SendPacket originates a packet from the device.  The source address
// must be bound to one of the device's interfaces; the packet is placed
// on that interface's outgoing queue for the next tick.
func (dev *devStruct) SendPacket(srcAddr, dstAddr, payload string, ttl int) (*Packet, error) {
	if !dev.online {
		return nil, fmt.Errorf("device %s is offline", dev.name)
	}

	var srcIntrfc *intrfcStruct
	for _, intrfc := range dev.intrfcs {
		if intrfc.addr == srcAddr {
			srcIntrfc = intrfc
			break
		}
	}
	if srcIntrfc == nil {
		return nil, fmt.Errorf("device %s has no interface bound to %s", dev.name, srcAddr)
	}

	pckt := createPacket(dev.net, srcAddr, dstAddr, payload, ttl)
	pckt.addHop(dev.name)

	if !srcIntrfc.send(dev.net, pckt) {
		return nil, fmt.Errorf("interface %s on device %s cannot send", srcIntrfc.name, dev.name)
	}

	dev.pcktsSent += 1
	dev.net.stats.PcktsSent += 1
	addPcktTrace(dev.net, pckt, dev.number, "send")
	return pckt, nil
}

// forwardFrom applies the forwarding decision procedure to a packet that
// arrived on arrivalIntrfc (nil when the packet originates locally).
// It returns true when the packet was handed to at least one outgoing queue.
func (dev *devStruct) forwardFrom(pckt *Packet, arrivalIntrfc *intrfcStruct) bool {
	if !dev.online {
		return false
	}

	// policy evaluation precedes every other consideration
	policies := dev.policyTrie.InheritedPolicies(pckt.DstAddr)

	if blockAny, present := policies[PolicyBlock]; present {
		if block, ok := blockAny.(bool); !ok || block {
			pckt.markDropped(DropPolicyBlock)
			dev.errorLog.logError(dev.net, "PolicyBlock",
				fmt.Sprintf("packet %s blocked by policy for %s", pckt.Id, pckt.DstAddr), "")
			addPcktTrace(dev.net, pckt, dev.number, "drop")
			dev.net.stats.PcktsDroppedPolicy += 1
			return false
		}
	}

	if minAny, present := policies[PolicyTTLMin]; present {
		if minTTL, ok := minAny.(int); ok && pckt.TTL < minTTL {
			pckt.markDropped(DropTTLBelowMin)
			dev.errorLog.logError(dev.net, "PolicyTTL",
				fmt.Sprintf("packet %s ttl %d below minimum %d", pckt.Id, pckt.TTL, minTTL), "")
			addPcktTrace(dev.net, pckt, dev.number, "drop")
			dev.net.stats.PcktsDroppedPolicy += 1
			return false
		}
	}

	if dev.devType.floods() {
		// switch-class device: copy out every up connected interface
		// other than the one the packet arrived on
		forwarded := false
		for _, intrfc := range dev.intrfcs {
			if intrfc == arrivalIntrfc || !intrfc.up || !intrfc.connected() {
				continue
			}
			if intrfc.send(dev.net, pckt) {
				forwarded = true
			}
		}
		if forwarded {
			dev.pcktsForwarded += 1
			addPcktTrace(dev.net, pckt, dev.number, "forward")
			return true
		}
	} else {
		// routing role: consult the route table, then match the route's
		// next hop against the addresses of connected peer interfaces
		if route := dev.routeIndex.Lookup(pckt.DstAddr); route != nil {
			for _, intrfc := range dev.intrfcs {
				if intrfc == arrivalIntrfc || !intrfc.up {
					continue
				}
				for _, peerId := range intrfc.peers {
					peer := dev.net.intrfcById[peerId]
					if peer != nil && peer.addr == route.NextHop {
						if intrfc.send(dev.net, pckt) {
							dev.pcktsForwarded += 1
							addPcktTrace(dev.net, pckt, dev.number, "forward")
							return true
						}
					}
				}
			}
		}

		// no usable route: fall back to the first up connected interface
		for _, intrfc := range dev.intrfcs {
			if intrfc == arrivalIntrfc || !intrfc.up || !intrfc.connected() {
				continue
			}
			if intrfc.send(dev.net, pckt) {
				dev.pcktsForwarded += 1
				addPcktTrace(dev.net, pckt, dev.number, "forward")
				return true
			}
		}
	}

	pckt.markDropped(DropNoRoute)
	dev.errorLog.logError(dev.net, "RoutingError",
		fmt.Sprintf("no route to %s for packet %s", pckt.DstAddr, pckt.Id), "")
	addPcktTrace(dev.net, pckt, dev.number, "drop")
	return false
}

// processOutgoing drains one interface's outgoing queue.  Each packet
// records this device as a hop and pays one unit of TTL before the
// hand-off; exhaustion drops the packet with the hop already recorded.
// The hand-off offers the packet to every peer interface, stopping after
// the first acceptance unless the device floods.
func (dev *devStruct) processOutgoing(intrfc *intrfcStruct, evts *[]TickEvent) {
	for len(intrfc.outQ) > 0 {
		pckt := intrfc.outQ[0]
		intrfc.outQ = intrfc.outQ[1:]

		pckt.addHop(dev.name)
		pckt.TTL -= 1
		if pckt.TTL <= 0 {
			pckt.markDropped(DropTTLExpired)
			dev.errorLog.logError(dev.net, "TTLExpired",
				fmt.Sprintf("packet %s expired in flight to %s", pckt.Id, pckt.DstAddr), "")
			addPcktTrace(dev.net, pckt, dev.number, "drop")
			dev.net.stats.PcktsDroppedTTL += 1
			*evts = append(*evts, dev.tickEvent("drop", pckt, DropTTLExpired))
			continue
		}

		sent := false
		for _, peerId := range intrfc.peers {
			peer := dev.net.intrfcById[peerId]
			if peer == nil {
				continue
			}
			if peer.receive(dev.net, pckt) {
				sent = true
				peerDev := dev.net.devById[peer.devId]
				*evts = append(*evts, dev.tickEvent("handoff", pckt, peerDev.name))
				dev.net.stats.markActivity(dev.name)
				if !dev.devType.floods() {
					break
				}
			}
		}

		if !sent {
			pckt.markDropped(DropNoActiveHop)
			dev.errorLog.logError(dev.net, "RoutingError",
				fmt.Sprintf("no active next hop for packet %s to %s", pckt.Id, pckt.DstAddr), "")
			addPcktTrace(dev.net, pckt, dev.number, "drop")
			*evts = append(*evts, dev.tickEvent("drop", pckt, DropNoActiveHop))
		}
	}
}

// processIncoming drains one interface's incoming queue.  A packet whose
// destination equals the interface's own address is delivered here;
// anything else re-enters the forwarding decision with this interface as
// the arrival interface.
func (dev *devStruct) processIncoming(intrfc *intrfcStruct, evts *[]TickEvent) {
	for len(intrfc.inQ) > 0 {
		pckt := intrfc.inQ[0]
		intrfc.inQ = intrfc.inQ[1:]

		// a packet already terminal (e.g. flooded copy of one that
		// expired elsewhere this tick) is not processed further
		if pckt.Terminal() {
			continue
		}

		if intrfc.addr != "" && pckt.DstAddr == intrfc.addr {
			pckt.markDelivered()
			dev.recordDelivery(pckt)
			dev.pcktsReceived += 1
			dev.net.stats.PcktsDelivered += 1
			dev.net.stats.TotalHops += pckt.HopCount()
			addPcktTrace(dev.net, pckt, dev.number, "deliver")
			*evts = append(*evts, dev.tickEvent("deliver", pckt, pckt.SrcAddr))
			continue
		}

		dev.forwardFrom(pckt, intrfc)
	}
}
