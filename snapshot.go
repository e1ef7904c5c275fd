package netsim

// snapshot.go implements the persistent snapshot index as a B-tree of
// fixed order, plus the serialization of snapshot records.  The index
// stores only the key -> filename mapping; the record payload lives in a
// file written in yaml or json, selected by the file name extension as
// elsewhere in this module.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSnapshotOrder is the branching order used when a device creates
// its index: nodes hold up to 2*4-1 = 7 keys
const DefaultSnapshotOrder = 4

// SnapshotEntry is one key/value pair of the index
type SnapshotEntry struct {
	Key   string
	Value string
}

// BTreeStats is the observability block of the index.  Merges stays zero:
// snapshot deletion is not supported, the counter is reserved so the
// display layer shows a stable stats shape.
type BTreeStats struct {
	Height int
	Nodes  int
	Splits int
	Merges int
}

// btreeNode holds up to 2*order-1 sorted keys with their values, and for
// interior nodes one more child than keys
type btreeNode struct {
	keys     []string
	values   []string
	children []*btreeNode
	leaf     bool
}

func createBtreeNode(leaf bool) *btreeNode {
	bn := new(btreeNode)
	bn.keys = make([]string, 0)
	bn.values = make([]string, 0)
	bn.children = make([]*btreeNode, 0)
	bn.leaf = leaf
	return bn
}

// SnapshotIndex is a B-tree of fixed order mapping snapshot keys to the
// file names holding their payloads
type SnapshotIndex struct {
	root  *btreeNode
	order int
	stats BTreeStats
}

// CreateSnapshotIndex is a constructor.  A non-positive order selects
// DefaultSnapshotOrder.
func CreateSnapshotIndex(order int) *SnapshotIndex {
	if order <= 0 {
		order = DefaultSnapshotOrder
	}
	si := new(SnapshotIndex)
	si.root = createBtreeNode(true)
	si.order = order
	si.stats = BTreeStats{Height: 1, Nodes: 1}
	return si
}

// Stats returns the height/node/split counters
func (si *SnapshotIndex) Stats() BTreeStats {
	return si.stats
}

// Search descends the tree comparing the key against each node's sorted
// keys.  Returns the value of the first match met on the descent, or
// false when the key is absent.
func (si *SnapshotIndex) Search(key string) (string, bool) {
	return searchBtreeNode(si.root, key)
}

func searchBtreeNode(node *btreeNode, key string) (string, bool) {
	idx := 0
	for idx < len(node.keys) && key > node.keys[idx] {
		idx += 1
	}

	if idx < len(node.keys) && key == node.keys[idx] {
		return node.values[idx], true
	}
	if node.leaf {
		return "", false
	}
	return searchBtreeNode(node.children[idx], key)
}

// Insert adds a key/value pair.  A full root is split first, growing the
// tree height by one; descent then splits any full child pre-emptively
// before entering it.  Duplicate keys are not special-cased: a second
// entry is inserted after existing equal keys, preserving insertion order.
func (si *SnapshotIndex) Insert(key, value string) {
	if len(si.root.keys) == 2*si.order-1 {
		newRoot := createBtreeNode(false)
		newRoot.children = append(newRoot.children, si.root)
		si.root = newRoot
		si.splitChild(newRoot, 0)
		si.stats.Height += 1
		// the new root itself; the sibling is counted by splitChild
		si.stats.Nodes += 1
	}
	si.insertNonFull(si.root, key, value)
}

func (si *SnapshotIndex) insertNonFull(node *btreeNode, key, value string) {
	if node.leaf {
		// shift larger keys right and drop the new pair into place
		node.keys = append(node.keys, "")
		node.values = append(node.values, "")
		idx := len(node.keys) - 2
		for idx >= 0 && key < node.keys[idx] {
			node.keys[idx+1] = node.keys[idx]
			node.values[idx+1] = node.values[idx]
			idx -= 1
		}
		node.keys[idx+1] = key
		node.values[idx+1] = value
		return
	}

	idx := len(node.keys) - 1
	for idx >= 0 && key < node.keys[idx] {
		idx -= 1
	}
	idx += 1

	if len(node.children[idx].keys) == 2*si.order-1 {
		si.splitChild(node, idx)
		if key > node.keys[idx] {
			idx += 1
		}
	}
	si.insertNonFull(node.children[idx], key, value)
}

// splitChild divides the full child at the given index, promoting its
// median key/value into the parent and handing the upper half of keys
// (and children) to a new right sibling
func (si *SnapshotIndex) splitChild(parent *btreeNode, index int) {
	si.stats.Splits += 1
	si.stats.Nodes += 1

	full := parent.children[index]
	sibling := createBtreeNode(full.leaf)
	mid := si.order - 1

	midKey := full.keys[mid]
	midValue := full.values[mid]

	sibling.keys = append(sibling.keys, full.keys[mid+1:]...)
	sibling.values = append(sibling.values, full.values[mid+1:]...)
	full.keys = full.keys[:mid]
	full.values = full.values[:mid]

	if !full.leaf {
		sibling.children = append(sibling.children, full.children[mid+1:]...)
		full.children = full.children[:mid+1]
	}

	parent.children = append(parent.children, nil)
	copy(parent.children[index+2:], parent.children[index+1:])
	parent.children[index+1] = sibling

	parent.keys = append(parent.keys, "")
	parent.values = append(parent.values, "")
	copy(parent.keys[index+1:], parent.keys[index:])
	copy(parent.values[index+1:], parent.values[index:])
	parent.keys[index] = midKey
	parent.values[index] = midValue
}

// InOrder yields every entry in sorted key order, interleaving keys and
// child subtrees
func (si *SnapshotIndex) InOrder() []SnapshotEntry {
	entries := make([]SnapshotEntry, 0)
	inOrderBtreeNode(si.root, &entries)
	return entries
}

func inOrderBtreeNode(node *btreeNode, entries *[]SnapshotEntry) {
	for idx := range node.keys {
		if !node.leaf {
			inOrderBtreeNode(node.children[idx], entries)
		}
		*entries = append(*entries, SnapshotEntry{Key: node.keys[idx], Value: node.values[idx]})
	}
	if !node.leaf && len(node.children) > 0 {
		inOrderBtreeNode(node.children[len(node.children)-1], entries)
	}
}

// RouteDesc is the serializable form of one route
type RouteDesc struct {
	Prefix  string `json:"prefix" yaml:"prefix"`
	Mask    string `json:"mask" yaml:"mask"`
	NextHop string `json:"nexthop" yaml:"nexthop"`
	Metric  int    `json:"metric" yaml:"metric"`
}

// IntrfcSnapDesc records the externally visible state of one interface
type IntrfcSnapDesc struct {
	Name string `json:"name" yaml:"name"`
	Addr string `json:"addr" yaml:"addr"`
	Up   bool   `json:"up" yaml:"up"`
}

// SnapshotDesc is the payload of a saved snapshot: the device's full
// route set and policy prefixes plus its serialized interface state
type SnapshotDesc struct {
	Device     string                    `json:"device" yaml:"device"`
	DevType    string                    `json:"devtype" yaml:"devtype"`
	Online     bool                      `json:"online" yaml:"online"`
	Routes     []RouteDesc               `json:"routes" yaml:"routes"`
	Policies   map[string]map[string]any `json:"policies" yaml:"policies"`
	Interfaces []IntrfcSnapDesc          `json:"interfaces" yaml:"interfaces"`
}

// WriteToFile stores the SnapshotDesc to the named file, serializing to
// json or yaml based on the file name extension
func (sd *SnapshotDesc) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var dict []byte
	var merr error

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		dict, merr = yaml.Marshal(*sd)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		dict, merr = json.MarshalIndent(*sd, "", "\t")
	} else {
		merr = fmt.Errorf("unrecognized snapshot file extension %s", pathExt)
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, dict, 0644)
}

// ReadSnapshotDesc deserializes a SnapshotDesc.  When the dict byte slice
// is empty the named file is read to acquire it.
func ReadSnapshotDesc(filename string, useYAML bool, dict []byte) (*SnapshotDesc, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := SnapshotDesc{}
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

// snapshotDesc builds the serializable record of a device's current state
func (dev *devStruct) snapshotDesc() *SnapshotDesc {
	sd := new(SnapshotDesc)
	sd.Device = dev.name
	sd.DevType = devCodeToStr(dev.devType)
	sd.Online = dev.online
	sd.Routes = make([]RouteDesc, 0, dev.routeIndex.Size())
	for _, rt := range dev.routeIndex.InOrder() {
		sd.Routes = append(sd.Routes,
			RouteDesc{Prefix: rt.Prefix, Mask: rt.Mask, NextHop: rt.NextHop, Metric: rt.Metric})
	}
	sd.Policies = dev.policyTrie.PrefixPolicies()
	sd.Interfaces = make([]IntrfcSnapDesc, 0, len(dev.intrfcs))
	for _, intrfc := range dev.intrfcs {
		sd.Interfaces = append(sd.Interfaces,
			IntrfcSnapDesc{Name: intrfc.name, Addr: intrfc.addr, Up: intrfc.up})
	}
	return sd
}

// SaveSnapshot writes the device's current state to a file under dir and
// indexes it under the given key.  The generated file name carries the
// key and a per-device sequence number.  Failures are recorded in the
// device error log and returned to the caller.
func (dev *devStruct) SaveSnapshot(key, dir string) (string, error) {
	dev.snapSeq += 1
	filename := fmt.Sprintf("snap_%s_%s_%d.yaml", dev.name, key, dev.snapSeq)

	sd := dev.snapshotDesc()
	werr := sd.WriteToFile(filepath.Join(dir, filename))
	if werr != nil {
		dev.errorLog.logError(dev.net, "SaveError",
			fmt.Sprintf("failed to save snapshot %s: %v", key, werr), "")
		return "", werr
	}

	dev.snapshotIndex.Insert(key, filename)
	return filename, nil
}

// LoadSnapshot looks the key up in the snapshot index, reads the record
// back, and rebuilds the device's route table from it.  A missing key or
// unreadable file is logged and returned as an error.
func (dev *devStruct) LoadSnapshot(key, dir string) error {
	filename, present := dev.snapshotIndex.Search(key)
	if !present {
		err := fmt.Errorf("snapshot key %s not found", key)
		dev.errorLog.logError(dev.net, "LoadError", err.Error(), "")
		return err
	}

	ext := path.Ext(filename)
	useYAML := (ext == ".yaml") || (ext == ".yml")
	sd, rerr := ReadSnapshotDesc(filepath.Join(dir, filename), useYAML, nil)
	if rerr != nil {
		dev.errorLog.logError(dev.net, "LoadError",
			fmt.Sprintf("failed to load snapshot %s: %v", key, rerr), "")
		return rerr
	}

	// the route table and policy set are rebuilt wholesale from the record
	dev.routeIndex = CreateRouteIndex()
	for _, rd := range sd.Routes {
		dev.routeIndex.Insert(rd.Prefix, rd.Mask, rd.NextHop, rd.Metric)
	}
	dev.policyTrie = CreatePolicyTrie()
	for cidr, policies := range sd.Policies {
		prefix, mask, cerr := splitCIDR(cidr)
		if cerr != nil {
			dev.errorLog.logError(dev.net, "LoadError",
				fmt.Sprintf("snapshot %s: %v", key, cerr), "")
			continue
		}
		dev.policyTrie.InsertPrefix(prefix, mask, policies)
	}
	return nil
}
