package netsim

// trace.go gathers a record of packet movement through a simulation run,
// for post-run analysis.  The manager is created inactive by default so
// that trace calls can be embedded everywhere they are needed while
// costing nothing when a trace is not wanted.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// TraceInst is one stored trace record
type TraceInst struct {
	TraceTime string `json:"tracetime" yaml:"tracetime"`
	TraceType string `json:"tracetype" yaml:"tracetype"`
	TraceStr  string `json:"tracestr" yaml:"tracestr"`
}

// NameType maps an object id to a (name, type) pair in the trace dictionary
type NameType struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// TraceManager accumulates trace records for an experiment, grouped by
// the packet they describe
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each object id
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// trace records grouped by packet id
	Traces map[string][]TraceInst `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  It saves the name of the
// experiment and a flag indicating whether the manager is active.
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[string][]TraceInst)
	return tm
}

// Active tells the caller whether the trace manager is gathering records
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// AddTrace stores a trace record under the given packet id
func (tm *TraceManager) AddTrace(pcktId string, trace TraceInst) {
	if !tm.InUse {
		return
	}
	_, present := tm.Traces[pcktId]
	if !present {
		tm.Traces[pcktId] = make([]TraceInst, 0)
	}
	tm.Traces[pcktId] = append(tm.Traces[pcktId], trace)
}

// AddName adds an element to the id -> (name, type) dictionary
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if tm.InUse {
		_, present := tm.NameByID[id]
		if present {
			panic("duplicated id in AddName")
		}
		tm.NameByID[id] = NameType{Name: name, Type: objDesc}
	}
}

// WriteToFile stores the gathered traces to the named file, serializing
// to json or yaml based on the file name extension
func (tm *TraceManager) WriteToFile(filename string) error {
	if !tm.InUse {
		return nil
	}
	pathExt := path.Ext(filename)
	var dict []byte
	var merr error

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		dict, merr = yaml.Marshal(*tm)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		dict, merr = json.MarshalIndent(*tm, "", "\t")
	} else {
		merr = fmt.Errorf("unrecognized trace file extension %s", pathExt)
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, dict, 0644)
}

// PcktTrace records the visitation of a packet at a device
type PcktTrace struct {
	Time    float64 `json:"time" yaml:"time"`    // time in seconds
	Ticks   int64   `json:"ticks" yaml:"ticks"`  // ticks variable of the timestamp
	PcktId  string  `json:"pcktid" yaml:"pcktid"`
	DevId   int     `json:"devid" yaml:"devid"`
	Op      string  `json:"op" yaml:"op"` // "send", "forward", "deliver", "drop"
	TTL     int     `json:"ttl" yaml:"ttl"`
	DstAddr string  `json:"dstaddr" yaml:"dstaddr"`
	Reason  string  `json:"reason" yaml:"reason"` // drop reason, empty otherwise
}

// Serialize renders the record for storage inside a TraceInst
func (pt *PcktTrace) Serialize() string {
	dict, merr := yaml.Marshal(*pt)
	if merr != nil {
		panic(merr)
	}
	return string(dict[:])
}

// addPcktTrace creates a record of a packet lifecycle event and stores it
func addPcktTrace(net *Network, pckt *Packet, devId int, op string) {
	tm := net.traceMgr
	if tm == nil || !tm.InUse {
		return
	}

	vrt := net.evtMgr.CurrentTime()
	pt := new(PcktTrace)
	pt.Time = vrt.Seconds()
	pt.Ticks = vrt.Ticks()
	pt.PcktId = pckt.Id
	pt.DevId = devId
	pt.Op = op
	pt.TTL = pckt.TTL
	pt.DstAddr = pckt.DstAddr
	if op == "drop" {
		pt.Reason = pckt.DropReason
	}

	traceTime := fmt.Sprintf("%f", vrt.Seconds())
	trcInst := TraceInst{TraceTime: traceTime, TraceType: "packet", TraceStr: pt.Serialize()}
	tm.AddTrace(pckt.Id, trcInst)
}
