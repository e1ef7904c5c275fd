package netsim

// tick.go implements the simulation clock.  One tick synchronously
// drains, for every online device in registration order and every
// interface in its registration order, first the outgoing queue and then
// the incoming queue.  Ticks may be run directly, or scheduled one per
// virtual second on the network's event manager.

import (
	"fmt"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// TickEvent is one observable outcome of a tick: a hand-off between
// devices, a delivery, or a drop
type TickEvent struct {
	Time   float64 // virtual seconds when the event occurred
	Device string
	Op     string // "handoff", "deliver", "drop"
	PcktId string
	TTL    int
	Detail string // peer device, source address, or drop reason
}

func (te TickEvent) String() string {
	return fmt.Sprintf("[%0.1f] %s %s pckt %s (ttl %d) %s",
		te.Time, te.Device, te.Op, te.PcktId, te.TTL, te.Detail)
}

func (dev *devStruct) tickEvent(op string, pckt *Packet, detail string) TickEvent {
	return TickEvent{
		Time:   dev.net.evtMgr.CurrentSeconds(),
		Device: dev.name,
		Op:     op,
		PcktId: pckt.Id,
		TTL:    pckt.TTL,
		Detail: detail,
	}
}

// Tick advances the simulation one step and returns the ordered list of
// events observed.  Processing is strictly sequential; administrative
// mutation of any device index must happen between calls, never during one.
func (net *Network) Tick() []TickEvent {
	evts := make([]TickEvent, 0)

	for _, devId := range net.devOrder {
		dev := net.devById[devId]
		if !dev.online {
			continue
		}
		for _, intrfc := range dev.intrfcs {
			if !intrfc.up {
				continue
			}
			dev.processOutgoing(intrfc, &evts)
			dev.processIncoming(intrfc, &evts)
		}
	}
	return evts
}

// tickHandler is the event handler form of Tick, used when ticks are
// driven through the event manager
func tickHandler(evtMgr *evtm.EventManager, context any, data any) any {
	net := context.(*Network)
	evts := net.Tick()
	collected := data.(*[]TickEvent)
	*collected = append(*collected, evts...)
	return nil
}

// AdvanceTicks schedules count ticks one virtual second apart on the
// event manager, runs them, and returns every event they produced.
// Using the event manager keeps tick timestamps, trace records, and any
// caller-scheduled activity on the same virtual clock.
func (net *Network) AdvanceTicks(count int) []TickEvent {
	collected := make([]TickEvent, 0)
	base := net.evtMgr.CurrentSeconds()
	// Schedule takes an offset from the current time
	for tick := 1; tick <= count; tick++ {
		net.evtMgr.Schedule(net, &collected, tickHandler, vrtime.SecondsToTime(float64(tick)))
	}
	net.evtMgr.Run(base + float64(count))
	return collected
}
