// Package network realizes the bridge-backed network objects (switch, hub,
// point-to-point, WLAN) that nodes attach their interfaces to (C3).
package network

import (
	"sort"
	"sync"

	"github.com/vishvananda/netlink"

	"github.com/coreemu/coreemu/internal/coreerr"
	"github.com/coreemu/coreemu/internal/corelog"
)

// Kind identifies a network's realization strategy.
type Kind string

const (
	KindSwitch       Kind = "switch"
	KindHub          Kind = "hub"
	KindPointToPoint Kind = "ptp"
	KindWLAN         Kind = "wlan"
	KindExternalWLAN Kind = "wlan-external"
)

// networkIDBase is the smallest id assigned to a Network; it sits above the
// range node ids are drawn from so the two spaces never collide (§3).
const networkIDBase = 1 << 16

// Impairment is the per-direction set of netem parameters applied to one
// veth leg (§4.3).
type Impairment struct {
	BandwidthBPS   uint64 // bits/second, 0 means unset
	DelayUS        uint32
	JitterUS       uint32
	LossPPM        uint32
	DuplicatePPM   uint32
	Unidirectional bool
}

// Network is a bridge-backed L2 segment (C3).
type Network struct {
	mu sync.Mutex

	ID     uint32
	Name   string
	Kind   Kind
	Bridge string

	// Policy is only meaningful for WLAN networks: default ebtables verdict
	// for pairs not present in Reachable.
	Policy string // "ACCEPT" or "DROP"

	// WirelessImpair is applied equally to every ACCEPTed pair (open
	// question (a) in §9: the source leaves WLAN-impairment-plus-per-pair
	// policy interaction underspecified).
	WirelessImpair Impairment

	// members tracks host veth names currently bridged, for Members()
	// callers and for teardown accounting.
	members map[string]bool

	// Reachable is the wireless reachability matrix R, keyed by
	// "nodeA|nodeB" with nodeA<nodeB lexicographically so each unordered
	// pair has one entry (§4.4).
	Reachable map[string]bool

	// reachableMACs mirrors Reachable's keys to the exact MAC pair passed to
	// ebtablesAcceptPair, so Teardown can remove exactly the rules this
	// network installed instead of flushing the shared FORWARD chain.
	reachableMACs map[string][2]string

	bridgeCreated bool
}

// New constructs a Network realized as bridgeName. It does not touch the
// kernel; call Realize to create the bridge.
func New(id uint32, name string, kind Kind, bridgeName string) *Network {
	policy := ""
	if kind == KindWLAN || kind == KindExternalWLAN {
		policy = "DROP"
	}
	return &Network{
		ID:         id,
		Name:       name,
		Kind:       kind,
		Bridge:     bridgeName,
		Policy:     policy,
		members:       make(map[string]bool),
		Reachable:     make(map[string]bool),
		reachableMACs: make(map[string][2]string),
	}
}

// Realize creates the backing Linux bridge with the kind-specific
// parameters from §4.3:
//   - switch: spanning tree on, forward delay 0
//   - hub: forward delay 0, MAC learning disabled (ageing time 0 emulates
//     a repeater since netlink has no direct learning toggle)
//   - point-to-point: same as switch, the "no visible switch" distinction
//     is purely about topology membership, not kernel configuration
//   - wlan: same bridge parameters as switch; forwarding is instead gated
//     per-pair by ebtables policy
func (n *Network) Realize() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.bridgeCreated {
		return nil
	}

	attrs := netlink.NewLinkAttrs()
	attrs.Name = n.Bridge
	br := &netlink.Bridge{LinkAttrs: attrs}

	switch n.Kind {
	case KindHub:
		ageing := uint32(0)
		br.AgeingTime = &ageing
		forward := uint32(0)
		br.ForwardDelay = &forward
	default:
		forward := uint32(0)
		br.ForwardDelay = &forward
		stp := true
		br.StpState = boolToInt(stp)
	}

	if err := netlink.LinkAdd(br); err != nil {
		return coreerr.NewKernel("bridge-add", n.Bridge, err)
	}
	link, err := netlink.LinkByName(n.Bridge)
	if err != nil {
		return coreerr.NewKernel("bridge-find", n.Bridge, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return coreerr.NewKernel("bridge-up", n.Bridge, err)
	}

	if n.Kind == KindWLAN || n.Kind == KindExternalWLAN {
		if err := ebtablesSetDefaultPolicy(n.Bridge, n.Policy); err != nil {
			netlink.LinkDel(br)
			return err
		}
	}

	n.bridgeCreated = true
	corelog.WithNetwork(n.Name).Infof("realized bridge %s (kind=%s)", n.Bridge, n.Kind)
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// AttachHostVeth brings hostVethName under this network's bridge. It
// implements node.NetworkAttacher.
func (n *Network) AttachHostVeth(hostVethName string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	link, err := netlink.LinkByName(hostVethName)
	if err != nil {
		return coreerr.NewKernel("veth-find", hostVethName, err)
	}
	br, err := netlink.LinkByName(n.Bridge)
	if err != nil {
		return coreerr.NewKernel("bridge-find", n.Bridge, err)
	}
	if err := netlink.LinkSetMaster(link, br.(*netlink.Bridge)); err != nil {
		return coreerr.NewKernel("veth-set-master", hostVethName, err)
	}
	n.members[hostVethName] = true
	return nil
}

// DetachHostVeth removes hostVethName from this network's bridge. It
// implements node.NetworkAttacher. Missing links are tolerated — teardown
// order means the veth itself may already be gone.
func (n *Network) DetachHostVeth(hostVethName string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.members, hostVethName)
	ClearImpairment(hostVethName)

	link, err := netlink.LinkByName(hostVethName)
	if err != nil {
		return nil
	}
	return netlink.LinkSetNoMaster(link)
}

// BridgeName implements node.NetworkAttacher.
func (n *Network) BridgeName() string { return n.Bridge }

// Members returns the host veth names currently attached, sorted for
// deterministic iteration (XML export, invariant checks).
func (n *Network) Members() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.members))
	for name := range n.members {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Teardown removes the backing bridge and any ebtables rules registered
// for it. Idempotent; leaves no kernel object behind per the shutdown
// invariant (§8).
func (n *Network) Teardown() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.bridgeCreated {
		return nil
	}

	if n.Kind == KindWLAN || n.Kind == KindExternalWLAN {
		ebtablesFlush(n.Bridge, n.reachableMACs)
		n.reachableMACs = make(map[string][2]string)
	}

	link, err := netlink.LinkByName(n.Bridge)
	if err == nil {
		if err := netlink.LinkDel(link); err != nil {
			return coreerr.NewKernel("bridge-del", n.Bridge, err)
		}
	}
	n.bridgeCreated = false
	n.members = make(map[string]bool)
	return nil
}

// pairKey canonicalizes an unordered node-name pair for use as a
// Reachable map key (§4.4 "the matrix is symmetric").
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// SetReachable records a reachability transition for the unordered pair
// (nodeA, nodeB) and installs or removes the ebtables ACCEPT exceptions for
// both ordered directions (macA->macB, macB->macA). Self-pairs are always
// false and never stored (§4.4 edge-case policy). Simultaneous flips for the
// same pair coalesce to the latest call — a no-op call for a value already
// in effect returns changed=false without touching ebtables.
func (n *Network) SetReachable(nodeA, macA, nodeB, macB string, reachable bool) (changed bool, err error) {
	if nodeA == nodeB {
		return false, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	key := pairKey(nodeA, nodeB)
	if n.Reachable[key] == reachable {
		return false, nil
	}

	if reachable {
		if err := ebtablesAcceptPair(n.Bridge, macA, macB); err != nil {
			return false, err
		}
		if err := ebtablesAcceptPair(n.Bridge, macB, macA); err != nil {
			ebtablesDropPair(n.Bridge, macA, macB)
			return false, err
		}
		n.Reachable[key] = true
		n.reachableMACs[key] = [2]string{macA, macB}
	} else {
		ebtablesDropPair(n.Bridge, macA, macB)
		ebtablesDropPair(n.Bridge, macB, macA)
		delete(n.Reachable, key)
		delete(n.reachableMACs, key)
	}

	return true, nil
}

// IsReachable reports the current value of R for the unordered pair.
func (n *Network) IsReachable(nodeA, nodeB string) bool {
	if nodeA == nodeB {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Reachable[pairKey(nodeA, nodeB)]
}
