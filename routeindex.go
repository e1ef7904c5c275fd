package netsim

// routeindex.go implements the per-device routing table as an AVL tree
// keyed by the lexicographic (prefix, mask, metric) tuple.  Address
// containment lookup walks the same tree; see the comment on Lookup for
// the precedence rule it follows.

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// Route is the payload of a routing table node
type Route struct {
	Prefix  string
	Mask    string
	NextHop string
	Metric  int
}

// CIDR renders the route as prefix/bits, bits being the population
// count of the mask octets
func (rt *Route) CIDR() string {
	return fmt.Sprintf("%s/%d", rt.Prefix, maskBitCount(rt.Mask))
}

// maskBitCount sums the one-bits across the four mask octets
func maskBitCount(mask string) int {
	count := 0
	for _, part := range strings.Split(mask, ".") {
		v, _ := strconv.Atoi(part)
		count += bits.OnesCount8(uint8(v))
	}
	return count
}

// routeNode is an AVL tree node holding one route
type routeNode struct {
	route  Route
	height int
	left   *routeNode
	right  *routeNode
}

// RotationStats counts rebalancing rotations by category, for display
type RotationStats struct {
	LL int
	LR int
	RL int
	RR int
}

// RouteIndex is a self-balancing routing table.  It is exclusively owned
// by one device and is mutated only between ticks.
type RouteIndex struct {
	root  *routeNode
	size  int
	stats RotationStats
}

// CreateRouteIndex is a constructor
func CreateRouteIndex() *RouteIndex {
	return new(RouteIndex)
}

// Size returns the number of routes held
func (ri *RouteIndex) Size() int {
	return ri.size
}

// Height returns the height of the tree, 0 when empty
func (ri *RouteIndex) Height() int {
	return nodeHeight(ri.root)
}

// Rotations returns the per-category rotation counters
func (ri *RouteIndex) Rotations() RotationStats {
	return ri.stats
}

func nodeHeight(node *routeNode) int {
	if node == nil {
		return 0
	}
	return node.height
}

func nodeBalance(node *routeNode) int {
	if node == nil {
		return 0
	}
	return nodeHeight(node.left) - nodeHeight(node.right)
}

func updateHeight(node *routeNode) {
	hl := nodeHeight(node.left)
	hr := nodeHeight(node.right)
	if hl > hr {
		node.height = 1 + hl
	} else {
		node.height = 1 + hr
	}
}

// rotateRight is the single right rotation applied to an LL imbalance
func (ri *RouteIndex) rotateRight(z *routeNode) *routeNode {
	ri.stats.LL += 1
	y := z.left
	t3 := y.right

	y.right = z
	z.left = t3

	updateHeight(z)
	updateHeight(y)
	return y
}

// rotateLeft is the single left rotation applied to an RR imbalance
func (ri *RouteIndex) rotateLeft(z *routeNode) *routeNode {
	ri.stats.RR += 1
	y := z.right
	t2 := y.left

	y.left = z
	z.right = t2

	updateHeight(z)
	updateHeight(y)
	return y
}

// rotateLeftRight is the LR double rotation
func (ri *RouteIndex) rotateLeftRight(z *routeNode) *routeNode {
	ri.stats.LR += 1
	z.left = ri.rotateLeft(z.left)
	return ri.rotateRight(z)
}

// rotateRightLeft is the RL double rotation
func (ri *RouteIndex) rotateRightLeft(z *routeNode) *routeNode {
	ri.stats.RL += 1
	z.right = ri.rotateRight(z.right)
	return ri.rotateLeft(z)
}

// cmpRouteKey orders full route keys lexicographically on prefix, then
// mask, then metric.  The comparison is on the dotted-quad strings as
// strings, not on their numeric values.
func cmpRouteKey(prefix1, mask1 string, metric1 int, prefix2, mask2 string, metric2 int) int {
	if prefix1 != prefix2 {
		if prefix1 < prefix2 {
			return -1
		}
		return 1
	}
	if mask1 != mask2 {
		if mask1 < mask2 {
			return -1
		}
		return 1
	}
	if metric1 < metric2 {
		return -1
	}
	if metric1 > metric2 {
		return 1
	}
	return 0
}

// cmpRoutePair orders on (prefix, mask) only, the loose key used by Delete
func cmpRoutePair(prefix1, mask1, prefix2, mask2 string) int {
	return cmpRouteKey(prefix1, mask1, 0, prefix2, mask2, 0)
}

// Insert adds a route keyed by (prefix, mask, metric).  An exact key
// match overwrites the stored next hop and metric in place rather than
// creating a duplicate node.
func (ri *RouteIndex) Insert(prefix, mask, nextHop string, metric int) {
	ri.root = ri.insertNode(ri.root, prefix, mask, nextHop, metric)
}

func (ri *RouteIndex) insertNode(node *routeNode, prefix, mask, nextHop string, metric int) *routeNode {
	if node == nil {
		ri.size += 1
		return &routeNode{route: Route{Prefix: prefix, Mask: mask, NextHop: nextHop, Metric: metric}, height: 1}
	}

	comp := cmpRouteKey(prefix, mask, metric, node.route.Prefix, node.route.Mask, node.route.Metric)
	switch {
	case comp < 0:
		node.left = ri.insertNode(node.left, prefix, mask, nextHop, metric)
	case comp > 0:
		node.right = ri.insertNode(node.right, prefix, mask, nextHop, metric)
	default:
		node.route.NextHop = nextHop
		node.route.Metric = metric
		return node
	}

	updateHeight(node)
	balance := nodeBalance(node)

	if balance > 1 && cmpRouteKey(prefix, mask, metric,
		node.left.route.Prefix, node.left.route.Mask, node.left.route.Metric) < 0 {
		return ri.rotateRight(node)
	}
	if balance < -1 && cmpRouteKey(prefix, mask, metric,
		node.right.route.Prefix, node.right.route.Mask, node.right.route.Metric) > 0 {
		return ri.rotateLeft(node)
	}
	if balance > 1 && cmpRouteKey(prefix, mask, metric,
		node.left.route.Prefix, node.left.route.Mask, node.left.route.Metric) > 0 {
		return ri.rotateLeftRight(node)
	}
	if balance < -1 && cmpRouteKey(prefix, mask, metric,
		node.right.route.Prefix, node.right.route.Mask, node.right.route.Metric) < 0 {
		return ri.rotateRightLeft(node)
	}
	return node
}

// Delete removes the first route whose (prefix, mask) pair matches,
// regardless of metric.  Deleting an absent key leaves the tree untouched.
func (ri *RouteIndex) Delete(prefix, mask string) {
	ri.root = ri.deleteNode(ri.root, prefix, mask)
}

func (ri *RouteIndex) deleteNode(node *routeNode, prefix, mask string) *routeNode {
	if node == nil {
		return nil
	}

	comp := cmpRoutePair(prefix, mask, node.route.Prefix, node.route.Mask)
	switch {
	case comp < 0:
		node.left = ri.deleteNode(node.left, prefix, mask)
	case comp > 0:
		node.right = ri.deleteNode(node.right, prefix, mask)
	default:
		if node.left == nil {
			ri.size -= 1
			return node.right
		}
		if node.right == nil {
			ri.size -= 1
			return node.left
		}

		// two children: replace with the in-order successor, then
		// delete the successor from the right subtree
		succ := node.right
		for succ.left != nil {
			succ = succ.left
		}
		node.route = succ.route
		node.right = ri.deleteNode(node.right, succ.route.Prefix, succ.route.Mask)
	}

	updateHeight(node)
	balance := nodeBalance(node)

	if balance > 1 && nodeBalance(node.left) >= 0 {
		return ri.rotateRight(node)
	}
	if balance > 1 && nodeBalance(node.left) < 0 {
		return ri.rotateLeftRight(node)
	}
	if balance < -1 && nodeBalance(node.right) <= 0 {
		return ri.rotateLeft(node)
	}
	if balance < -1 && nodeBalance(node.right) > 0 {
		return ri.rotateRightLeft(node)
	}
	return node
}

// Lookup finds a route whose (prefix, mask) network contains the given
// address.  When the current node contains the address the right subtree
// is searched first and wins if it holds any containing node; otherwise
// descent follows the lexicographic comparison of the raw address string
// against the node prefix.  This is a best-effort structural search, not
// a guaranteed longest-prefix match; it is kept bit-exact with the routes
// recorded in existing snapshots.  Returns nil when nothing contains the
// address.
func (ri *RouteIndex) Lookup(dstAddr string) *Route {
	return lookupNode(ri.root, dstAddr)
}

func lookupNode(node *routeNode, dstAddr string) *Route {
	if node == nil {
		return nil
	}

	if addrInNetwork(dstAddr, node.route.Prefix, node.route.Mask) {
		if rightMatch := lookupNode(node.right, dstAddr); rightMatch != nil {
			return rightMatch
		}
		rt := node.route
		return &rt
	}

	if dstAddr < node.route.Prefix {
		return lookupNode(node.left, dstAddr)
	}
	return lookupNode(node.right, dstAddr)
}

// addrInNetwork tests bitwise containment of addr in (network, mask).
// Inputs are assumed well-formed dotted quads; behavior on anything else
// is undefined.
func addrInNetwork(addr, network, mask string) bool {
	addrParts := strings.Split(addr, ".")
	netParts := strings.Split(network, ".")
	maskParts := strings.Split(mask, ".")
	if len(addrParts) != 4 || len(netParts) != 4 || len(maskParts) != 4 {
		return false
	}

	for idx := 0; idx < 4; idx++ {
		a, _ := strconv.Atoi(addrParts[idx])
		n, _ := strconv.Atoi(netParts[idx])
		m, _ := strconv.Atoi(maskParts[idx])
		if (a & m) != (n & m) {
			return false
		}
	}
	return true
}

// InOrder returns every route in key order
func (ri *RouteIndex) InOrder() []Route {
	routes := make([]Route, 0, ri.size)
	inOrderNode(ri.root, &routes)
	return routes
}

func inOrderNode(node *routeNode, routes *[]Route) {
	if node == nil {
		return
	}
	inOrderNode(node.left, routes)
	*routes = append(*routes, node.route)
	inOrderNode(node.right, routes)
}
