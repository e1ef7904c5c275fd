package netsim

// policytrie.go implements the hierarchical policy store as a bitwise
// trie over the network portion of dotted-quad prefixes.  Policies set on
// a shorter prefix are inherited by every address under it, with deeper
// (more specific) prefixes overriding same-kind entries from above.

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// policy kinds recognized by the forwarding engine
const (
	PolicyBlock  = "block"   // bool: unconditional drop
	PolicyTTLMin = "ttl-min" // int: drop when packet TTL is below this
)

// policyNode is one bit of a prefix path.  Policies live only on nodes
// marked terminal.
type policyNode struct {
	children [2]*policyNode
	terminal bool
	policies map[string]any
}

func createPolicyNode() *policyNode {
	pn := new(policyNode)
	pn.policies = make(map[string]any)
	return pn
}

// PolicyTrie holds the policy prefixes of one device
type PolicyTrie struct {
	root *policyNode
}

// CreatePolicyTrie is a constructor
func CreatePolicyTrie() *PolicyTrie {
	pt := new(PolicyTrie)
	pt.root = createPolicyNode()
	return pt
}

// prefixBits expands (prefix, mask) into the sequence of network bits.
// Each octet contributes its top popcount(mask octet) bits of the masked
// value, matching the path layout of prefixes recorded in saved policy sets.
func prefixBits(prefix, mask string) []int {
	prefixParts := strings.Split(prefix, ".")
	maskParts := strings.Split(mask, ".")
	pathBits := make([]int, 0, 32)

	for idx := 0; idx < 4 && idx < len(prefixParts) && idx < len(maskParts); idx++ {
		p, _ := strconv.Atoi(prefixParts[idx])
		m, _ := strconv.Atoi(maskParts[idx])
		network := uint8(p) & uint8(m)
		maskBits := bits.OnesCount8(uint8(m))
		for b := 0; b < maskBits; b++ {
			pathBits = append(pathBits, int(network>>(7-b))&1)
		}
	}
	return pathBits
}

// addrBits expands an address into its full 32-bit sequence
func addrBits(addr string) []int {
	parts := strings.Split(addr, ".")
	pathBits := make([]int, 0, 32)
	for idx := 0; idx < 4 && idx < len(parts); idx++ {
		v, _ := strconv.Atoi(parts[idx])
		for b := 7; b >= 0; b-- {
			pathBits = append(pathBits, int(uint8(v)>>b)&1)
		}
	}
	return pathBits
}

// descend walks/creates the node path for the network bits of (prefix, mask)
// and returns the terminal node
func (pt *PolicyTrie) descend(prefix, mask string) *policyNode {
	node := pt.root
	for _, bit := range prefixBits(prefix, mask) {
		if node.children[bit] == nil {
			node.children[bit] = createPolicyNode()
		}
		node = node.children[bit]
	}
	node.terminal = true
	return node
}

// SetPolicy attaches one policy kind/value to the prefix, creating the
// prefix path if needed.  An existing same-kind entry on the node is
// overwritten; other kinds on the node are preserved.
func (pt *PolicyTrie) SetPolicy(prefix, mask, kind string, value any) {
	node := pt.descend(prefix, mask)
	node.policies[kind] = value
}

// InsertPrefix marks the prefix terminal and merges the given policy
// mapping into whatever the node already holds
func (pt *PolicyTrie) InsertPrefix(prefix, mask string, policies map[string]any) {
	node := pt.descend(prefix, mask)
	for kind, value := range policies {
		node.policies[kind] = value
	}
}

// LongestPrefixMatch follows the address bits and returns the policy
// mapping of the deepest terminal node passed, false when no terminal
// node lies on the path
func (pt *PolicyTrie) LongestPrefixMatch(addr string) (map[string]any, bool) {
	node := pt.root
	var last *policyNode
	for _, bit := range addrBits(addr) {
		if node.children[bit] == nil {
			break
		}
		node = node.children[bit]
		if node.terminal {
			last = node
		}
	}

	if last == nil {
		return nil, false
	}
	return copyPolicies(last.policies), true
}

// InheritedPolicies follows the address bits and accumulates the policy
// mappings of every terminal node passed.  Deeper nodes overwrite
// same-kind entries merged earlier, so the most specific prefix wins per
// kind.  The walk stops at the first missing child.
func (pt *PolicyTrie) InheritedPolicies(addr string) map[string]any {
	accumulated := make(map[string]any)
	node := pt.root
	for _, bit := range addrBits(addr) {
		if node.children[bit] == nil {
			break
		}
		node = node.children[bit]
		if node.terminal {
			for kind, value := range node.policies {
				accumulated[kind] = value
			}
		}
	}
	return accumulated
}

// PrefixPolicies returns every terminal prefix with its policy mapping,
// for display and snapshot export.  Paths are rendered CIDR-style from
// the bit path.
func (pt *PolicyTrie) PrefixPolicies() map[string]map[string]any {
	result := make(map[string]map[string]any)
	collectPolicies(pt.root, make([]int, 0, 32), result)
	return result
}

func collectPolicies(node *policyNode, pathBits []int, result map[string]map[string]any) {
	if node.terminal {
		result[bitsToCIDR(pathBits)] = copyPolicies(node.policies)
	}
	for bit := 0; bit < 2; bit++ {
		if node.children[bit] != nil {
			collectPolicies(node.children[bit], append(pathBits, bit), result)
		}
	}
}

// bitsToCIDR packs a bit path back into dotted-quad/len notation
func bitsToCIDR(pathBits []int) string {
	octets := [4]int{}
	for idx, bit := range pathBits {
		if idx >= 32 {
			break
		}
		if bit == 1 {
			octets[idx/8] |= 1 << (7 - idx%8)
		}
	}
	return strconv.Itoa(octets[0]) + "." + strconv.Itoa(octets[1]) + "." +
		strconv.Itoa(octets[2]) + "." + strconv.Itoa(octets[3]) + "/" +
		strconv.Itoa(len(pathBits))
}

// maskFromBitCount renders the dotted-quad mask with the top n bits set
func maskFromBitCount(n int) string {
	octets := [4]int{}
	for idx := 0; idx < 4; idx++ {
		take := n - idx*8
		if take > 8 {
			take = 8
		}
		if take > 0 {
			octets[idx] = int(uint8(0xff) << (8 - take))
		}
	}
	return strconv.Itoa(octets[0]) + "." + strconv.Itoa(octets[1]) + "." +
		strconv.Itoa(octets[2]) + "." + strconv.Itoa(octets[3])
}

// splitCIDR is the inverse of bitsToCIDR: prefix/len back into the
// (prefix, mask) pair the trie operations take
func splitCIDR(cidr string) (string, string, error) {
	parts := strings.Split(cidr, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed cidr %s", cidr)
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 0 || n > 32 {
		return "", "", fmt.Errorf("malformed cidr %s", cidr)
	}
	return parts[0], maskFromBitCount(n), nil
}

func copyPolicies(policies map[string]any) map[string]any {
	cp := make(map[string]any, len(policies))
	for kind, value := range policies {
		cp[kind] = value
	}
	return cp
}
