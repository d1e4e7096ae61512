// Package node implements the Node registry and lifecycle manager (C2, C1):
// it creates namespace containers, executes commands inside them, reaps
// them, and owns each node's interface table (§4.2).
package node

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"

	"github.com/coreemu/coreemu/internal/coreerr"
)

// Kind enumerates the node kinds from the data model (§3). Kinds other than
// Default, Physical and Tunnel (see HasContainer) carry no container of
// their own — they are realized as a bridge
// via the network fabric and exist in the registry chiefly so the GUI/XML
// layer has a stable id, name, and position for them.
type Kind string

const (
	KindDefault          Kind = "default"
	KindSwitch           Kind = "switch"
	KindHub              Kind = "hub"
	KindPointToPoint     Kind = "ptp"
	KindWLAN             Kind = "wlan"
	KindExternalWireless Kind = "external-wireless"
	KindTunnel           Kind = "tunnel"
	KindPhysical         Kind = "physical"
	KindRawEthernet      Kind = "raw-ethernet"
)

// HasContainer reports whether nodes of this kind get a namespace container
// and private filesystem root (realize/runInNode apply); network-device
// kinds are realized purely as bridges by the network fabric instead.
func (k Kind) HasContainer() bool {
	switch k {
	case KindDefault, KindPhysical, KindTunnel:
		return true
	default:
		return false
	}
}

// Position is a node's 2-D/3-D placement, used by the mobility engine and
// by wireless reachability distance checks.
type Position struct {
	X, Y, Z float64
}

// Geo is a node's optional geographic reference.
type Geo struct {
	Lat, Lon, Alt float64
	Set           bool
}

// Interface is a veth endpoint inside a Node attached to a Network (§3).
type Interface struct {
	ID         int
	Name       string // kernel ifname inside the container, e.g. "eth0"
	MAC        string
	IPv4       string // dotted address, no prefix
	IPv4Prefix int
	IPv6       string
	IPv6Prefix int
	NetworkID  uint32 // the Network this interface attaches to
	VethHost   string // host-side veth peer name
}

// Node is a network-namespace container acting as a virtual host, or (for
// network-device kinds) a placeholder identity for a fabric-realized bridge
// (§3).
type Node struct {
	mu sync.Mutex

	ID       uint32
	Name     string
	Kind     Kind
	Model    string // informational model tag, e.g. "router", "host", "mdr"
	Position Position
	Geo      Geo
	Services []string // ordered service identifiers

	FSRoot    string // private filesystem root, once realized
	Realized  bool
	Container *ContainerHandle

	Interfaces map[int]*Interface
	nextIfaceID int

	// NetworkID is set for network-device kinds — the backing Network's id.
	NetworkID uint32

	PeerName string // non-empty if this node is hosted on a remote peer (§4.8)
}

// NewNode constructs a Node in the given kind with an empty interface table.
func NewNode(id uint32, name string, kind Kind) *Node {
	return &Node{
		ID:         id,
		Name:       name,
		Kind:       kind,
		Interfaces: make(map[int]*Interface),
	}
}

// nextInterfaceID returns the next dense interface id (0-based) for this
// node, maintaining the "interface-ids are dense from 0" invariant (§4.2).
func (n *Node) nextInterfaceID() int {
	id := n.nextIfaceID
	n.nextIfaceID++
	return id
}

// addInterfaceLocked reserves the next interface id and records iface,
// used by attach paths once MAC/addresses/host veth are known.
func (n *Node) addInterfaceLocked(iface *Interface) {
	iface.ID = n.nextInterfaceID()
	n.Interfaces[iface.ID] = iface
}

// RemoveInterface deletes iface.ID from the node's table. It does not
// compact surviving ids — the dense-from-0 invariant applies to allocation
// order, not to the surviving set after a deletion mid-session.
func (n *Node) RemoveInterface(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.Interfaces, id)
}

// SetPosition updates a node's placement, used by the mobility engine after
// interpolating a tick (§4.6).
func (n *Node) SetPosition(x, y, z float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Position = Position{X: x, Y: y, Z: z}
}

// SortedInterfaceIDs returns interface ids in ascending order.
func (n *Node) SortedInterfaceIDs() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]int, 0, len(n.Interfaces))
	for id := range n.Interfaces {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// GenerateMAC deterministically derives a MAC from (session, node,
// interface) so XML export is reproducible (§4.2 invariant), following the
// engine's documented pattern "00:00:00:aa:NN:NN".
func GenerateMAC(sessionID, nodeID uint32, ifaceID int) string {
	input := fmt.Sprintf("%d-%d-%d", sessionID, nodeID, ifaceID)
	h := sha256.Sum256([]byte(input))
	return fmt.Sprintf("00:00:00:aa:%02x:%02x", h[0], h[1])
}

// HostVethName returns the host-side veth name encoding session, node, and
// interface so names never collide across sessions (§4.2 invariant).
func HostVethName(sessionID, nodeID uint32, ifaceID int) string {
	return fmt.Sprintf("veth%d.%d.%d", sessionID, nodeID, ifaceID)
}

// ContainerName returns the host-visible name the node's netns is bound
// under, following the same collision-avoidance pattern as host veth names.
func ContainerName(sessionID, nodeID uint32) string {
	return fmt.Sprintf("ns%d.%d", sessionID, nodeID)
}

// validateSpec checks a node creation request's invariants, collecting all
// violations instead of failing on the first (§7 ValidationBuilder pattern).
func validateSpec(name string, kind Kind) error {
	var v coreerr.ValidationBuilder
	v.Require(name != "", "node name must not be empty")
	switch kind {
	case KindDefault, KindSwitch, KindHub, KindPointToPoint, KindWLAN,
		KindExternalWireless, KindTunnel, KindPhysical, KindRawEthernet:
	default:
		v.Requiref(false, "unknown node kind %q", kind)
	}
	return v.Err()
}
