package netsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildLine wires a three device line: host A, router R, host B.  R
// carries a host route for B's address so the router path is exercised.
func buildLine(t *testing.T) (*Network, *devStruct, *devStruct, *devStruct) {
	net := CreateNetwork("line")

	devA, err := net.AddDev("A", "host")
	require.NoError(t, err)
	devR, err := net.AddDev("R", "router")
	require.NoError(t, err)
	devB, err := net.AddDev("B", "host")
	require.NoError(t, err)

	aEth, err := devA.AddIntrfc("eth0")
	require.NoError(t, err)
	aEth.SetAddr("10.0.0.1")
	aEth.NoShutdown()

	rG0, err := devR.AddIntrfc("g0")
	require.NoError(t, err)
	rG0.SetAddr("10.0.0.254")
	rG0.NoShutdown()
	rG1, err := devR.AddIntrfc("g1")
	require.NoError(t, err)
	rG1.SetAddr("10.0.1.254")
	rG1.NoShutdown()

	bEth, err := devB.AddIntrfc("eth0")
	require.NoError(t, err)
	bEth.SetAddr("10.0.1.2")
	bEth.NoShutdown()

	require.NoError(t, net.ConnectDevs("A", "eth0", "R", "g0"))
	require.NoError(t, net.ConnectDevs("R", "g1", "B", "eth0"))

	devR.RouteIndex().Insert("10.0.1.2", "255.255.255.255", "10.0.1.2", 1)
	return net, devA, devR, devB
}

func TestSendPacketDelivery(t *testing.T) {
	net, devA, devR, devB := buildLine(t)

	pckt, err := devA.SendPacket("10.0.0.1", "10.0.1.2", "hello", 5)
	require.NoError(t, err)

	evts := net.Tick()

	assert.True(t, pckt.Delivered)
	assert.False(t, pckt.Dropped)
	// the source pays its hop twice: once at origination, once at hand-off
	assert.Equal(t, []string{"A", "A", "R"}, pckt.Hops())
	assert.Equal(t, 3, pckt.TTL)

	sent, _, _ := devA.Counters()
	assert.Equal(t, 1, sent)
	_, _, forwarded := devR.Counters()
	assert.Equal(t, 1, forwarded)
	_, received, _ := devB.Counters()
	assert.Equal(t, 1, received)

	history := devB.MsgHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Payload)

	stats := net.Stats()
	assert.Equal(t, 1, stats.PcktsSent)
	assert.Equal(t, 1, stats.PcktsDelivered)
	assert.Equal(t, 3.0, stats.AvgHops())

	// two hand-offs and a delivery
	require.Len(t, evts, 3)
	assert.Equal(t, "handoff", evts[0].Op)
	assert.Equal(t, "A", evts[0].Device)
	assert.Equal(t, "handoff", evts[1].Op)
	assert.Equal(t, "R", evts[1].Device)
	assert.Equal(t, "deliver", evts[2].Op)
	assert.Equal(t, "B", evts[2].Device)
}

func TestSendPacketErrors(t *testing.T) {
	_, devA, _, _ := buildLine(t)

	// unbound source address
	_, err := devA.SendPacket("172.16.0.1", "10.0.1.2", "x", 5)
	assert.Error(t, err)

	// offline device cannot originate
	devA.SetOffline()
	_, err = devA.SendPacket("10.0.0.1", "10.0.1.2", "x", 5)
	assert.Error(t, err)
}

func TestTTLExpiry(t *testing.T) {
	net, devA, _, _ := buildLine(t)

	pckt, err := devA.SendPacket("10.0.0.1", "10.0.1.2", "x", 1)
	require.NoError(t, err)

	evts := net.Tick()

	assert.True(t, pckt.Dropped)
	assert.Equal(t, DropTTLExpired, pckt.DropReason)
	// the dropping device appears in the hop trace
	assert.Equal(t, []string{"A", "A"}, pckt.Hops())

	assert.Equal(t, 1, net.Stats().PcktsDroppedTTL)

	logged := devA.ErrorLog()
	require.Len(t, logged, 1)
	assert.Equal(t, "TTLExpired", logged[0].Kind)

	require.Len(t, evts, 1)
	assert.Equal(t, "drop", evts[0].Op)
	assert.Equal(t, DropTTLExpired, evts[0].Detail)
}

func TestPolicyBlockDrop(t *testing.T) {
	net, devA, devR, _ := buildLine(t)
	devR.PolicyTrie().SetPolicy("10.0.1.0", "255.255.255.0", PolicyBlock, true)

	pckt, err := devA.SendPacket("10.0.0.1", "10.0.1.2", "x", 5)
	require.NoError(t, err)
	net.Tick()

	assert.True(t, pckt.Dropped)
	assert.Equal(t, DropPolicyBlock, pckt.DropReason)
	assert.Equal(t, 1, net.Stats().PcktsDroppedPolicy)

	logged := devR.ErrorLog()
	require.Len(t, logged, 1)
	assert.Equal(t, "PolicyBlock", logged[0].Kind)
}

func TestPolicyTTLMinimumDrop(t *testing.T) {
	net, devA, devR, _ := buildLine(t)
	devR.PolicyTrie().SetPolicy("10.0.1.0", "255.255.255.0", PolicyTTLMin, 10)

	pckt, err := devA.SendPacket("10.0.0.1", "10.0.1.2", "x", 5)
	require.NoError(t, err)
	net.Tick()

	// ttl is 4 on arrival at the router, below the minimum of 10
	assert.True(t, pckt.Dropped)
	assert.Equal(t, DropTTLBelowMin, pckt.DropReason)
	assert.Equal(t, 1, net.Stats().PcktsDroppedPolicy)

	logged := devR.ErrorLog()
	require.Len(t, logged, 1)
	assert.Equal(t, "PolicyTTL", logged[0].Kind)
}

// buildFloodTopology stars host A and hosts B and C around one flooding
// device of the given type
func buildFloodTopology(t *testing.T, devType string) (*Network, *devStruct, *devStruct, *devStruct) {
	net := CreateNetwork("flood")

	devA, _ := net.AddDev("A", "host")
	devS, err := net.AddDev("S", devType)
	require.NoError(t, err)
	devB, _ := net.AddDev("B", "host")
	devC, _ := net.AddDev("C", "host")

	aEth, _ := devA.AddIntrfc("eth0")
	aEth.SetAddr("10.0.0.1")
	aEth.NoShutdown()
	for _, name := range []string{"s1", "s2", "s3"} {
		intrfc, ierr := devS.AddIntrfc(name)
		require.NoError(t, ierr)
		intrfc.NoShutdown()
	}
	bEth, _ := devB.AddIntrfc("eth0")
	bEth.SetAddr("10.0.0.2")
	bEth.NoShutdown()
	cEth, _ := devC.AddIntrfc("eth0")
	cEth.SetAddr("10.0.0.3")
	cEth.NoShutdown()

	require.NoError(t, net.ConnectDevs("A", "eth0", "S", "s1"))
	require.NoError(t, net.ConnectDevs("S", "s2", "B", "eth0"))
	require.NoError(t, net.ConnectDevs("S", "s3", "C", "eth0"))
	return net, devA, devB, devC
}

func TestSwitchFlood(t *testing.T) {
	net, devA, devB, devC := buildFloodTopology(t, "switch")

	pckt, err := devA.SendPacket("10.0.0.1", "10.0.0.2", "x", 5)
	require.NoError(t, err)
	net.Tick()

	// the flood reaches both hosts, but only the addressed one delivers
	assert.True(t, pckt.Delivered)
	_, received, _ := devB.Counters()
	assert.Equal(t, 1, received)
	_, received, _ = devC.Counters()
	assert.Equal(t, 0, received)
	assert.Equal(t, 1, net.Stats().PcktsDelivered)
}

func TestHubFlood(t *testing.T) {
	// a hub floods exactly as a switch does
	net, devA, devB, devC := buildFloodTopology(t, "hub")

	pckt, err := devA.SendPacket("10.0.0.1", "10.0.0.2", "x", 5)
	require.NoError(t, err)
	net.Tick()

	assert.True(t, pckt.Delivered)
	_, received, _ := devB.Counters()
	assert.Equal(t, 1, received)
	_, received, _ = devC.Counters()
	assert.Equal(t, 0, received)
	assert.Equal(t, 1, net.Stats().PcktsDelivered)
}

func TestFirewallForwardsViaRouteTable(t *testing.T) {
	// a firewall is a routing device: its route table picks the exit
	// interface.  The interface toward C comes first, so flooding or the
	// routeless fallback would push the packet toward C, not B.
	net := CreateNetwork("fw")

	devA, _ := net.AddDev("A", "host")
	devF, _ := net.AddDev("F", "firewall")
	devB, _ := net.AddDev("B", "host")
	devC, _ := net.AddDev("C", "host")

	aEth, _ := devA.AddIntrfc("eth0")
	aEth.SetAddr("10.0.0.1")
	aEth.NoShutdown()

	fG0, _ := devF.AddIntrfc("g0")
	fG0.SetAddr("10.0.0.254")
	fG0.NoShutdown()
	fG1, _ := devF.AddIntrfc("g1")
	fG1.SetAddr("10.0.1.254")
	fG1.NoShutdown()
	fG2, _ := devF.AddIntrfc("g2")
	fG2.SetAddr("10.0.2.254")
	fG2.NoShutdown()

	bEth, _ := devB.AddIntrfc("eth0")
	bEth.SetAddr("10.0.2.2")
	bEth.NoShutdown()
	cEth, _ := devC.AddIntrfc("eth0")
	cEth.SetAddr("10.0.1.3")
	cEth.NoShutdown()

	require.NoError(t, net.ConnectDevs("A", "eth0", "F", "g0"))
	require.NoError(t, net.ConnectDevs("F", "g1", "C", "eth0"))
	require.NoError(t, net.ConnectDevs("F", "g2", "B", "eth0"))

	devF.RouteIndex().Insert("10.0.2.2", "255.255.255.255", "10.0.2.2", 1)

	pckt, err := devA.SendPacket("10.0.0.1", "10.0.2.2", "x", 5)
	require.NoError(t, err)
	net.Tick()

	assert.True(t, pckt.Delivered)
	// one copy, one decrement at the firewall: flooding would have cost
	// a second hop record and ttl unit
	assert.Equal(t, []string{"A", "A", "F"}, pckt.Hops())
	assert.Equal(t, 3, pckt.TTL)

	_, received, _ := devB.Counters()
	assert.Equal(t, 1, received)
	_, received, _ = devC.Counters()
	assert.Equal(t, 0, received)
}

func TestFallbackForwarding(t *testing.T) {
	net, devA, devR, _ := buildLine(t)

	// with no usable route the router still pushes the packet out its
	// first up connected interface other than the arrival one, which
	// here happens to reach the destination anyway
	devR.RouteIndex().Delete("10.0.1.2", "255.255.255.255")

	pckt, err := devA.SendPacket("10.0.0.1", "10.0.1.2", "x", 8)
	require.NoError(t, err)
	net.Tick()

	assert.True(t, pckt.Delivered)
	_, _, forwarded := devR.Counters()
	assert.Equal(t, 1, forwarded)
}

func TestNoRouteDrop(t *testing.T) {
	net := CreateNetwork("deadend")

	devA, _ := net.AddDev("A", "host")
	devR, _ := net.AddDev("R", "router")

	aEth, _ := devA.AddIntrfc("eth0")
	aEth.SetAddr("10.0.0.1")
	aEth.NoShutdown()
	rG0, _ := devR.AddIntrfc("g0")
	rG0.SetAddr("10.0.0.254")
	rG0.NoShutdown()

	require.NoError(t, net.ConnectDevs("A", "eth0", "R", "g0"))

	pckt, err := devA.SendPacket("10.0.0.1", "99.0.0.1", "x", 5)
	require.NoError(t, err)
	net.Tick()

	// the router's only interface is the arrival interface
	assert.True(t, pckt.Dropped)
	assert.Equal(t, DropNoRoute, pckt.DropReason)

	logged := devR.ErrorLog()
	require.Len(t, logged, 1)
	assert.Equal(t, "RoutingError", logged[0].Kind)
}

func TestNoActiveNextHop(t *testing.T) {
	net, devA, devR, _ := buildLine(t)
	devR.Intrfc("g0").Shutdown()

	pckt, err := devA.SendPacket("10.0.0.1", "10.0.1.2", "x", 5)
	require.NoError(t, err)
	evts := net.Tick()

	assert.True(t, pckt.Dropped)
	assert.Equal(t, DropNoActiveHop, pckt.DropReason)

	logged := devA.ErrorLog()
	require.Len(t, logged, 1)
	assert.Equal(t, "RoutingError", logged[0].Kind)

	require.Len(t, evts, 1)
	assert.Equal(t, "drop", evts[0].Op)
	assert.Equal(t, DropNoActiveHop, evts[0].Detail)
}

func TestPacketTrace(t *testing.T) {
	net, devA, _, _ := buildLine(t)
	net.SetTraceMgr(CreateTraceManager("trace-run", true))

	pckt, err := devA.SendPacket("10.0.0.1", "10.0.1.2", "x", 5)
	require.NoError(t, err)
	net.Tick()

	require.True(t, pckt.Delivered)

	// send at A, forward at R, deliver at B
	records := net.TraceMgr().Traces[pckt.Id]
	require.Len(t, records, 3)
	for _, record := range records {
		assert.Equal(t, "packet", record.TraceType)
		assert.Contains(t, record.TraceStr, pckt.Id)
	}
}
