package netsim

// desc-topo.go provides serializable descriptions of a network topology
// and functions to build a run-time Network from them.  Desc structs are
// pointer-free so they serialize cleanly to yaml or json; the run-time
// structures are rebuilt from scratch on every load, which is how a
// configuration load replaces the previous network without residue.

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path"

	"gonum.org/v1/gonum/graph"
	gpath "gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gopkg.in/yaml.v3"
)

// IntrfcDesc defines a serializable description of a network interface
type IntrfcDesc struct {
	// name for interface, unique among interfaces on hosting device
	Name string `json:"name" yaml:"name"`

	// name of the device on which this interface is resident
	Device string `json:"device" yaml:"device"`

	// dotted-quad address bound to the interface, empty when unbound
	Addr string `json:"addr" yaml:"addr"`

	// whether the interface starts administratively up
	Up bool `json:"up" yaml:"up"`
}

// DevDesc defines a serializable description of a network device
type DevDesc struct {
	Name    string `json:"name" yaml:"name"`
	DevType string `json:"devtype" yaml:"devtype"`
	Online  bool   `json:"online" yaml:"online"`

	Interfaces []IntrfcDesc `json:"interfaces" yaml:"interfaces"`
}

// ConnDesc names the two interface endpoints of one connection
type ConnDesc struct {
	Dev1    string `json:"dev1" yaml:"dev1"`
	Intrfc1 string `json:"intrfc1" yaml:"intrfc1"`
	Dev2    string `json:"dev2" yaml:"dev2"`
	Intrfc2 string `json:"intrfc2" yaml:"intrfc2"`
}

// TopoCfg is the serializable description of a whole network
type TopoCfg struct {
	Name        string     `json:"name" yaml:"name"`
	Devices     []DevDesc  `json:"devices" yaml:"devices"`
	Connections []ConnDesc `json:"connections" yaml:"connections"`
}

// WriteToFile stores the TopoCfg to the named file, serializing to json
// or yaml based on the file name extension
func (tc *TopoCfg) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var dict []byte
	var merr error

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		dict, merr = yaml.Marshal(*tc)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		dict, merr = json.MarshalIndent(*tc, "", "\t")
	} else {
		merr = fmt.Errorf("unrecognized topology file extension %s", pathExt)
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, dict, 0644)
}

// ReadTopoCfg deserializes a byte slice holding a TopoCfg representation.
// If the dict byte slice is empty, the named file is read to acquire it.
func ReadTopoCfg(filename string, useYAML bool, dict []byte) (*TopoCfg, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := TopoCfg{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}
	return &example, nil
}

// BuildNetwork creates a fresh Network from a topology description:
// devices in description order, then interfaces, then connections.
// Connections are plugged directly rather than through ConnectDevs so a
// description may legitimately record links between interfaces that are
// configured down.
func BuildNetwork(tc *TopoCfg) (*Network, error) {
	net := CreateNetwork(tc.Name)

	for _, devDesc := range tc.Devices {
		dev, err := net.AddDev(devDesc.Name, devDesc.DevType)
		if err != nil {
			return nil, err
		}
		if !devDesc.Online {
			dev.SetOffline()
		}
		for _, intrfcDesc := range devDesc.Interfaces {
			intrfc, ierr := dev.AddIntrfc(intrfcDesc.Name)
			if ierr != nil {
				return nil, ierr
			}
			if len(intrfcDesc.Addr) > 0 {
				intrfc.SetAddr(intrfcDesc.Addr)
			}
			if intrfcDesc.Up {
				intrfc.NoShutdown()
			}
		}
	}

	for _, conn := range tc.Connections {
		is1, err := net.findIntrfc(conn.Dev1, conn.Intrfc1)
		if err != nil {
			return nil, err
		}
		is2, err := net.findIntrfc(conn.Dev2, conn.Intrfc2)
		if err != nil {
			return nil, err
		}
		plugIntrfcs(is1, is2)
	}
	return net, nil
}

// Transform produces the serializable description of the network's
// current topology, the inverse of BuildNetwork
func (net *Network) Transform() *TopoCfg {
	tc := new(TopoCfg)
	tc.Name = net.name
	tc.Devices = make([]DevDesc, 0, len(net.devOrder))
	tc.Connections = make([]ConnDesc, 0)

	seen := make(map[[2]int]bool)
	for _, devId := range net.devOrder {
		dev := net.devById[devId]
		devDesc := DevDesc{Name: dev.name, DevType: devCodeToStr(dev.devType), Online: dev.online}
		for _, intrfc := range dev.intrfcs {
			devDesc.Interfaces = append(devDesc.Interfaces,
				IntrfcDesc{Name: intrfc.name, Device: dev.name, Addr: intrfc.addr, Up: intrfc.up})

			for _, peerId := range intrfc.peers {
				pair := [2]int{intrfc.number, peerId}
				if peerId < intrfc.number {
					pair = [2]int{peerId, intrfc.number}
				}
				if seen[pair] {
					continue
				}
				seen[pair] = true
				peer := net.intrfcById[peerId]
				peerDev := net.devById[peer.devId]
				tc.Connections = append(tc.Connections, ConnDesc{
					Dev1: dev.name, Intrfc1: intrfc.name,
					Dev2: peerDev.name, Intrfc2: peer.name,
				})
			}
		}
		tc.Devices = append(tc.Devices, devDesc)
	}
	return tc
}

// hostMask is the mask installed for routes derived from the topology;
// every derived route targets exactly one interface address
const hostMask = "255.255.255.255"

// routeBuilder computes shortest paths over the device adjacency graph.
// Dijkstra trees are cached per source so deriving routes for every
// device costs one tree per device, as in local link-state routing.
type routeBuilder struct {
	net       *Network
	gNodes    map[int]simple.Node
	connGraph *simple.WeightedUndirectedGraph
	cachedSP  map[int]gpath.Shortest
}

// createRouteBuilder converts the network's interface adjacency into the
// graph package representation, weighting every edge by 1 so a shortest
// path minimizes hop count
func createRouteBuilder(net *Network) *routeBuilder {
	rb := new(routeBuilder)
	rb.net = net
	rb.gNodes = make(map[int]simple.Node)
	rb.connGraph = simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	rb.cachedSP = make(map[int]gpath.Shortest)

	for _, devId := range net.devOrder {
		rb.gNodes[devId] = simple.Node(devId)
	}

	for _, devId := range net.devOrder {
		dev := net.devById[devId]
		for _, intrfc := range dev.intrfcs {
			for _, peerId := range intrfc.peers {
				peer := net.intrfcById[peerId]
				if peer == nil || peer.devId == devId {
					continue
				}
				weightedEdge := simple.WeightedEdge{F: rb.gNodes[devId], T: rb.gNodes[peer.devId], W: 1.0}
				rb.connGraph.SetWeightedEdge(weightedEdge)
			}
		}
	}
	return rb
}

// spTree returns the shortest path tree rooted at the given device,
// computing and caching it on first use
func (rb *routeBuilder) spTree(from int) gpath.Shortest {
	spTree, present := rb.cachedSP[from]
	if present {
		return spTree
	}
	spTree = gpath.DijkstraFrom(rb.gNodes[from], rb.connGraph)
	rb.cachedSP[from] = spTree
	return spTree
}

// convertNodeSeq extracts device ids from a sequence of graph nodes
func convertNodeSeq(nodeSeq []graph.Node) []int {
	route := make([]int, 0, len(nodeSeq))
	for _, node := range nodeSeq {
		route = append(route, int(node.ID()))
	}
	return route
}

// routeBetween returns the device id sequence of a shortest path from
// srcId to dstId, empty when the devices are not connected
func (rb *routeBuilder) routeBetween(srcId, dstId int) []int {
	spTree := rb.spTree(srcId)
	nodeSeq, _ := spTree.To(int64(dstId))
	return convertNodeSeq(nodeSeq)
}

// nextHopAddr finds the address presented to dev by the next device on
// the path: the peer interface on nxtDevId that one of dev's up
// interfaces is plugged into
func (rb *routeBuilder) nextHopAddr(dev *devStruct, nxtDevId int) string {
	for _, intrfc := range dev.intrfcs {
		for _, peerId := range intrfc.peers {
			peer := rb.net.intrfcById[peerId]
			if peer != nil && peer.devId == nxtDevId && peer.addr != "" {
				return peer.addr
			}
		}
	}
	return ""
}

// BuildStaticRoutes derives host routes from the topology and installs
// them into the route table of every routing-role device: for each
// addressed interface reachable from the device, a /32 route whose next
// hop is the neighbor on a shortest path and whose metric is the path
// hop count.  Flooding devices get no routes; they do not consult a
// route table.
func (net *Network) BuildStaticRoutes() {
	rb := createRouteBuilder(net)

	// every address in the network, with the device carrying it
	type addrDev struct {
		addr  string
		devId int
	}
	targets := make([]addrDev, 0)
	for _, devId := range net.devOrder {
		dev := net.devById[devId]
		for _, intrfc := range dev.intrfcs {
			if intrfc.addr != "" {
				targets = append(targets, addrDev{addr: intrfc.addr, devId: devId})
			}
		}
	}

	for _, devId := range net.devOrder {
		dev := net.devById[devId]
		if dev.devType.floods() {
			continue
		}

		for _, target := range targets {
			if target.devId == devId {
				continue
			}
			route := rb.routeBetween(devId, target.devId)
			if len(route) < 2 {
				continue
			}

			nxtHop := rb.nextHopAddr(dev, route[1])
			if nxtHop == "" {
				continue
			}
			dev.routeIndex.Insert(target.addr, hostMask, nxtHop, len(route)-1)
		}
	}
}

// PathBetween names the devices on a shortest path between two named
// devices, for display.  Empty when either name is unknown or no path exists.
func (net *Network) PathBetween(src, dst string) []string {
	srcDev := net.devByName[src]
	dstDev := net.devByName[dst]
	if srcDev == nil || dstDev == nil {
		return nil
	}

	rb := createRouteBuilder(net)
	route := rb.routeBetween(srcDev.number, dstDev.number)
	names := make([]string, 0, len(route))
	for _, devId := range route {
		names = append(names, net.devById[devId].name)
	}
	return names
}
