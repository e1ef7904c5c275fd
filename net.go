package netsim

// net.go holds the run-time representation of devices and their
// interfaces.  Interfaces do not point at their peers; they hold peer
// interface ids that are resolved through the owning Network's registry,
// which keeps the object graph acyclic.

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// devCode encodes the forwarding role of a device
type devCode int

const (
	routerCode devCode = iota
	switchCode
	hubCode
	hostCode
	firewallCode
)

// devCodeFromStr maps the external device type name to its code
func devCodeFromStr(code string) (devCode, error) {
	switch code {
	case "router", "Router":
		return routerCode, nil
	case "switch", "Switch":
		return switchCode, nil
	case "hub", "Hub":
		return hubCode, nil
	case "host", "Host", "endpt", "Endpt":
		return hostCode, nil
	case "firewall", "Firewall":
		return firewallCode, nil
	default:
		return routerCode, fmt.Errorf("unrecognized device type %s", code)
	}
}

// devCodeToStr gives the external name of a device code
func devCodeToStr(code devCode) string {
	switch code {
	case routerCode:
		return "router"
	case switchCode:
		return "switch"
	case hubCode:
		return "hub"
	case hostCode:
		return "host"
	case firewallCode:
		return "firewall"
	default:
		return "unknown"
	}
}

// floods reports whether devices with this code copy traffic to every
// interface rather than consulting a route table
func (code devCode) floods() bool {
	return code == switchCode || code == hubCode
}

// capacity bounds on the per-device observability stores
const (
	errorLogCapacity   = 1000
	msgHistoryCapacity = 64
)

// intrfcStruct is the run-time representation of a network interface.
// Each interface owns two FIFO queues of packets in flight, drained only
// by the tick driver.
type intrfcStruct struct {
	number int
	name   string
	devId  int
	addr   string
	up     bool

	// ids of interfaces this one is plugged into, in connection order
	peers []int

	outQ []*Packet
	inQ  []*Packet
}

// createIntrfcStruct is a constructor; interfaces start in shutdown state
func createIntrfcStruct(net *Network, dev *devStruct, name string) *intrfcStruct {
	intrfc := new(intrfcStruct)
	intrfc.number = net.nxtId()
	intrfc.name = name
	intrfc.devId = dev.number
	intrfc.peers = make([]int, 0)
	intrfc.outQ = make([]*Packet, 0)
	intrfc.inQ = make([]*Packet, 0)
	return intrfc
}

// Name returns the interface name
func (intrfc *intrfcStruct) Name() string {
	return intrfc.name
}

// Addr returns the address bound to the interface, empty when unbound
func (intrfc *intrfcStruct) Addr() string {
	return intrfc.addr
}

// SetAddr binds a dotted-quad address to the interface.  The address is
// assumed already validated by the command boundary.
func (intrfc *intrfcStruct) SetAddr(addr string) {
	intrfc.addr = addr
}

// Up reports whether the interface is administratively up
func (intrfc *intrfcStruct) Up() bool {
	return intrfc.up
}

// Shutdown takes the interface down
func (intrfc *intrfcStruct) Shutdown() {
	intrfc.up = false
}

// NoShutdown brings the interface up
func (intrfc *intrfcStruct) NoShutdown() {
	intrfc.up = true
}

// QueueLens reports the outgoing and incoming queue lengths
func (intrfc *intrfcStruct) QueueLens() (int, int) {
	return len(intrfc.outQ), len(intrfc.inQ)
}

// connected reports whether the interface has at least one peer
func (intrfc *intrfcStruct) connected() bool {
	return len(intrfc.peers) > 0
}

// send places a packet on the outgoing queue, refusing when the
// interface is down or its device offline
func (intrfc *intrfcStruct) send(net *Network, pckt *Packet) bool {
	dev := net.devById[intrfc.devId]
	if !intrfc.up || dev == nil || !dev.online {
		return false
	}
	intrfc.outQ = append(intrfc.outQ, pckt)
	return true
}

// receive places a packet on the incoming queue under the same conditions
func (intrfc *intrfcStruct) receive(net *Network, pckt *Packet) bool {
	dev := net.devById[intrfc.devId]
	if !intrfc.up || dev == nil || !dev.online {
		return false
	}
	intrfc.inQ = append(intrfc.inQ, pckt)
	return true
}

// plugIntrfcs records the connection between two interfaces in both
// directions, once
func plugIntrfcs(intrfc1, intrfc2 *intrfcStruct) {
	if !slices.Contains(intrfc1.peers, intrfc2.number) {
		intrfc1.peers = append(intrfc1.peers, intrfc2.number)
	}
	if !slices.Contains(intrfc2.peers, intrfc1.number) {
		intrfc2.peers = append(intrfc2.peers, intrfc1.number)
	}
}

// unplugIntrfcs removes the connection between two interfaces, both directions
func unplugIntrfcs(intrfc1, intrfc2 *intrfcStruct) {
	if intrfc1 == nil || intrfc2 == nil {
		return
	}
	if idx := slices.Index(intrfc1.peers, intrfc2.number); idx >= 0 {
		intrfc1.peers = append(intrfc1.peers[:idx], intrfc1.peers[idx+1:]...)
	}
	if idx := slices.Index(intrfc2.peers, intrfc1.number); idx >= 0 {
		intrfc2.peers = append(intrfc2.peers[:idx], intrfc2.peers[idx+1:]...)
	}
}

// devStruct is the run-time representation of a network device.  It owns
// its interfaces, the three indices the forwarding engine consults, and
// its observability stores.
type devStruct struct {
	number  int
	name    string
	devType devCode
	online  bool
	net     *Network

	// interfaces in registration order; the tick driver visits them
	// in exactly this order
	intrfcs []*intrfcStruct

	routeIndex    *RouteIndex
	policyTrie    *PolicyTrie
	snapshotIndex *SnapshotIndex

	errorLog   *errorLog
	msgHistory []*Packet // most recent first, bounded

	pcktsSent      int
	pcktsReceived  int
	pcktsForwarded int

	snapSeq int
}

// createDevStruct is a constructor; devices come up online with no interfaces
func createDevStruct(net *Network, name string, devType devCode) *devStruct {
	dev := new(devStruct)
	dev.number = net.nxtId()
	dev.name = name
	dev.devType = devType
	dev.online = true
	dev.net = net
	dev.intrfcs = make([]*intrfcStruct, 0)
	dev.routeIndex = CreateRouteIndex()
	dev.policyTrie = CreatePolicyTrie()
	dev.snapshotIndex = CreateSnapshotIndex(DefaultSnapshotOrder)
	dev.errorLog = createErrorLog(errorLogCapacity)
	dev.msgHistory = make([]*Packet, 0)
	return dev
}

// Name returns the device name
func (dev *devStruct) Name() string {
	return dev.name
}

// DevType returns the external name of the device's type
func (dev *devStruct) DevType() string {
	return devCodeToStr(dev.devType)
}

// Online reports whether the device is powered
func (dev *devStruct) Online() bool {
	return dev.online
}

// SetOnline powers the device
func (dev *devStruct) SetOnline() {
	dev.online = true
}

// SetOffline powers the device down.  Queued packets stay queued; the
// tick driver skips offline devices entirely.
func (dev *devStruct) SetOffline() {
	dev.online = false
}

// RouteIndex exposes the device's route table for administrative mutation
// between ticks
func (dev *devStruct) RouteIndex() *RouteIndex {
	return dev.routeIndex
}

// PolicyTrie exposes the device's policy store
func (dev *devStruct) PolicyTrie() *PolicyTrie {
	return dev.policyTrie
}

// SnapshotIndex exposes the device's snapshot index
func (dev *devStruct) SnapshotIndex() *SnapshotIndex {
	return dev.snapshotIndex
}

// AddIntrfc creates and registers a named interface on the device
func (dev *devStruct) AddIntrfc(name string) (*intrfcStruct, error) {
	if dev.Intrfc(name) != nil {
		return nil, fmt.Errorf("interface name %s over-used on device %s", name, dev.name)
	}
	intrfc := createIntrfcStruct(dev.net, dev, name)
	dev.intrfcs = append(dev.intrfcs, intrfc)
	dev.net.intrfcById[intrfc.number] = intrfc
	dev.net.intrfcByName[dev.name+":"+name] = intrfc
	dev.net.traceMgr.AddName(intrfc.number, dev.name+":"+name, "interface")
	return intrfc, nil
}

// Intrfc returns the named interface, nil if absent
func (dev *devStruct) Intrfc(name string) *intrfcStruct {
	for _, intrfc := range dev.intrfcs {
		if intrfc.name == name {
			return intrfc
		}
	}
	return nil
}

// Intrfcs returns the device's interfaces in registration order
func (dev *devStruct) Intrfcs() []*intrfcStruct {
	return dev.intrfcs
}

// MsgHistory returns the delivered packets held by the device, most
// recent first
func (dev *devStruct) MsgHistory() []*Packet {
	return append([]*Packet{}, dev.msgHistory...)
}

// Counters reports packets sent, received, and forwarded by the device
func (dev *devStruct) Counters() (int, int, int) {
	return dev.pcktsSent, dev.pcktsReceived, dev.pcktsForwarded
}

// ErrorLog returns the device's error log entries, oldest first
func (dev *devStruct) ErrorLog() []ErrorLogEntry {
	return dev.errorLog.entries()
}

// recordDelivery pushes a delivered packet onto the bounded history,
// evicting the oldest entry when full
func (dev *devStruct) recordDelivery(pckt *Packet) {
	dev.msgHistory = append([]*Packet{pckt}, dev.msgHistory...)
	if len(dev.msgHistory) > msgHistoryCapacity {
		dev.msgHistory = dev.msgHistory[:msgHistoryCapacity]
	}
}

// ErrorLogEntry records one forwarding or persistence failure
type ErrorLogEntry struct {
	Time    float64 // virtual seconds at which the entry was logged
	Kind    string
	Message string
	Command string // originating command, when known
}

// errorLog is an append-only bounded log; the oldest entries are evicted
// first when the capacity is reached
type errorLog struct {
	logged   []ErrorLogEntry
	capacity int
}

func createErrorLog(capacity int) *errorLog {
	el := new(errorLog)
	el.logged = make([]ErrorLogEntry, 0)
	el.capacity = capacity
	return el
}

// logError appends an entry stamped with the network's virtual clock
func (el *errorLog) logError(net *Network, kind, message, command string) {
	if len(el.logged) >= el.capacity {
		el.logged = el.logged[1:]
	}
	entry := ErrorLogEntry{
		Time:    net.evtMgr.CurrentSeconds(),
		Kind:    kind,
		Message: message,
		Command: command,
	}
	el.logged = append(el.logged, entry)
}

func (el *errorLog) entries() []ErrorLogEntry {
	return append([]ErrorLogEntry{}, el.logged...)
}
