package netsim

// netsim.go holds the Network context that owns every device, interface,
// and counter in a simulated network.  All lookup maps that in earlier
// versions were package globals live here, so that a configuration load
// can discard one Network and build another without residue.

import (
	"fmt"

	"github.com/iti/evt/evtm"
	"github.com/iti/rngstream"
)

// Network is the root object of a simulation model.  It owns the device
// and interface registries, the virtual clock (through the event manager),
// the statistics block, and the random number stream used to mint packet ids.
type Network struct {
	name string

	devById   map[int]*devStruct
	devByName map[string]*devStruct

	intrfcById   map[int]*intrfcStruct
	intrfcByName map[string]*intrfcStruct

	// device ids in the order the devices were registered.  The tick
	// driver visits devices in exactly this order
	devOrder []int

	stats *NetworkStats

	evtMgr  *evtm.EventManager
	rngstrm *rngstream.RngStream

	traceMgr *TraceManager

	// counter used to generate unique object ids within this Network
	numIds int
}

// CreateNetwork is a constructor.  Each network draws packet ids from its
// own rng stream; the library hands out streams in a fixed package-level
// sequence, so a run is reproducible when networks are created in the
// same order.
func CreateNetwork(name string) *Network {
	net := new(Network)
	net.name = name
	net.devById = make(map[int]*devStruct)
	net.devByName = make(map[string]*devStruct)
	net.intrfcById = make(map[int]*intrfcStruct)
	net.intrfcByName = make(map[string]*intrfcStruct)
	net.devOrder = make([]int, 0)
	net.stats = createNetworkStats()
	net.evtMgr = evtm.New()
	net.rngstrm = rngstream.New(name)
	net.traceMgr = CreateTraceManager(name, false)
	return net
}

// nxtId creates an id unique among the objects registered with this Network
func (net *Network) nxtId() int {
	net.numIds += 1
	return net.numIds
}

// Name returns the name given to the network at creation
func (net *Network) Name() string {
	return net.name
}

// EvtMgr exposes the event manager so a driver can schedule its own
// activity against the same virtual clock the tick driver uses
func (net *Network) EvtMgr() *evtm.EventManager {
	return net.evtMgr
}

// TraceMgr returns the network's trace manager
func (net *Network) TraceMgr() *TraceManager {
	return net.traceMgr
}

// SetTraceMgr replaces the trace manager, e.g. with one created active
func (net *Network) SetTraceMgr(tm *TraceManager) {
	net.traceMgr = tm
}

// Stats returns the network-wide statistics block
func (net *Network) Stats() *NetworkStats {
	return net.stats
}

// AddDev creates a device of the named type, registers it for lookup by
// id and by name, and appends it to the device visitation order.
// An error is returned when the name is already taken or the type unknown.
func (net *Network) AddDev(name, devTypeStr string) (*devStruct, error) {
	_, present := net.devByName[name]
	if present {
		return nil, fmt.Errorf("device name %s over-used in network %s", name, net.name)
	}

	devType, err := devCodeFromStr(devTypeStr)
	if err != nil {
		return nil, err
	}

	dev := createDevStruct(net, name, devType)
	net.devById[dev.number] = dev
	net.devByName[name] = dev
	net.devOrder = append(net.devOrder, dev.number)
	net.traceMgr.AddName(dev.number, name, devCodeToStr(devType))
	return dev, nil
}

// RmDev removes the named device, first unplugging every connection
// its interfaces participate in
func (net *Network) RmDev(name string) error {
	dev, present := net.devByName[name]
	if !present {
		return fmt.Errorf("no device named %s", name)
	}

	for _, intrfc := range dev.intrfcs {
		for _, peerId := range append([]int{}, intrfc.peers...) {
			unplugIntrfcs(intrfc, net.intrfcById[peerId])
		}
		delete(net.intrfcById, intrfc.number)
		delete(net.intrfcByName, dev.name+":"+intrfc.name)
	}

	delete(net.devById, dev.number)
	delete(net.devByName, name)

	for idx, devId := range net.devOrder {
		if devId == dev.number {
			net.devOrder = append(net.devOrder[:idx], net.devOrder[idx+1:]...)
			break
		}
	}
	return nil
}

// DevByName returns the named device, nil if absent
func (net *Network) DevByName(name string) *devStruct {
	return net.devByName[name]
}

// DevById returns the device with the given id, nil if absent
func (net *Network) DevById(id int) *devStruct {
	return net.devById[id]
}

// DevNames lists the registered device names in registration order
func (net *Network) DevNames() []string {
	names := make([]string, 0, len(net.devOrder))
	for _, devId := range net.devOrder {
		names = append(names, net.devById[devId].name)
	}
	return names
}

// FindDevByAddr returns the device owning an interface bound to the
// given address, nil when no interface carries it
func (net *Network) FindDevByAddr(addr string) *devStruct {
	for _, devId := range net.devOrder {
		dev := net.devById[devId]
		for _, intrfc := range dev.intrfcs {
			if intrfc.addr == addr {
				return dev
			}
		}
	}
	return nil
}

// ConnectDevs plugs together two named interfaces on two named devices.
// Both interfaces must exist and be up.
func (net *Network) ConnectDevs(dev1, intrfc1, dev2, intrfc2 string) error {
	is1, err := net.findIntrfc(dev1, intrfc1)
	if err != nil {
		return err
	}
	is2, err := net.findIntrfc(dev2, intrfc2)
	if err != nil {
		return err
	}
	if !is1.up || !is2.up {
		return fmt.Errorf("connect %s:%s to %s:%s requires both interfaces up",
			dev1, intrfc1, dev2, intrfc2)
	}
	plugIntrfcs(is1, is2)
	return nil
}

// DisconnectDevs removes the connection between two named interfaces
func (net *Network) DisconnectDevs(dev1, intrfc1, dev2, intrfc2 string) error {
	is1, err := net.findIntrfc(dev1, intrfc1)
	if err != nil {
		return err
	}
	is2, err := net.findIntrfc(dev2, intrfc2)
	if err != nil {
		return err
	}
	unplugIntrfcs(is1, is2)
	return nil
}

// findIntrfc resolves a (device name, interface name) pair through the registry
func (net *Network) findIntrfc(devName, intrfcName string) (*intrfcStruct, error) {
	dev, present := net.devByName[devName]
	if !present {
		return nil, fmt.Errorf("no device named %s", devName)
	}
	intrfc := dev.Intrfc(intrfcName)
	if intrfc == nil {
		return nil, fmt.Errorf("device %s has no interface named %s", devName, intrfcName)
	}
	return intrfc, nil
}

// NetworkStats accumulates network-wide observations of packet activity
type NetworkStats struct {
	PcktsSent          int
	PcktsDelivered     int
	PcktsDroppedTTL    int
	PcktsDroppedPolicy int
	TotalHops          int

	// per-device count of packets processed, keyed by device name
	DevActivity map[string]int
}

func createNetworkStats() *NetworkStats {
	ns := new(NetworkStats)
	ns.DevActivity = make(map[string]int)
	return ns
}

// AvgHops reports the mean hop count over delivered packets
func (ns *NetworkStats) AvgHops() float64 {
	if ns.PcktsDelivered == 0 {
		return 0.0
	}
	return float64(ns.TotalHops) / float64(ns.PcktsDelivered)
}

// TopTalker names the device that processed the most packets.
// Empty string when no device has seen activity.
func (ns *NetworkStats) TopTalker() string {
	top := ""
	topCount := 0
	for name, count := range ns.DevActivity {
		if count > topCount || (count == topCount && top != "" && name < top) {
			top = name
			topCount = count
		}
	}
	return top
}

func (ns *NetworkStats) markActivity(devName string) {
	ns.DevActivity[devName] += 1
}
