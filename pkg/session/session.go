// Package session implements the Session state machine: the top-level
// orchestrator that owns nodes, networks, links, services, hooks, and the
// mobility engine for one emulation (C7).
package session

import (
	"context"
	"fmt"
	"math"
	"net"
	"sort"
	"sync"

	"github.com/coreemu/coreemu/internal/config"
	"github.com/coreemu/coreemu/internal/coreerr"
	"github.com/coreemu/coreemu/internal/corelog"
	"github.com/coreemu/coreemu/pkg/addralloc"
	"github.com/coreemu/coreemu/pkg/eventbus"
	"github.com/coreemu/coreemu/pkg/linkengine"
	"github.com/coreemu/coreemu/pkg/mobility"
	"github.com/coreemu/coreemu/pkg/network"
	"github.com/coreemu/coreemu/pkg/node"
	"github.com/coreemu/coreemu/pkg/servicesched"
)

// Hook is a (script, target-state) pair that fires exactly once when the
// session transitions into TargetState (§3 "Hook").
type Hook struct {
	ID          uint32
	Script      string
	TargetState State
}

// Session owns every object created under one emulation id (§3 "Session").
// Every exported method that mutates Session, Node, Network, or Link data
// takes sess.mu — acting as the single "session thread" the spec requires
// all such mutations to serialize through (§5); the long-running kernel and
// process work each method performs happens before the lock is released,
// which is the same "run heavy work, then publish back" shape as worker
// threads reporting to the session thread, collapsed onto one goroutine per
// call for the common case where callers don't need out-of-order dispatch.
type Session struct {
	mu sync.Mutex

	ID     uint32
	State  State
	Config map[string]string

	Nodes     *node.Registry
	Networks  map[uint32]*network.Network
	nextNetID uint32

	Bus       *eventbus.Bus
	Manager   *node.Manager
	Links     *linkengine.Engine
	Allocator *addralloc.Allocator
	Catalog   servicesched.Catalog
	Settings  *config.Settings

	hooks      []Hook
	nextHookID uint32

	mobilityEngines map[uint32]*mobility.Engine // keyed by wlan network id
}

// New creates a Session in Definition state.
func New(id uint32, settings *config.Settings, catalog servicesched.Catalog) *Session {
	bus := eventbus.New(id)
	return &Session{
		ID:              id,
		State:           StateDefinition,
		Config:          make(map[string]string),
		Nodes:           node.NewRegistry(),
		Networks:        make(map[uint32]*network.Network),
		nextNetID:       1 << 16,
		Bus:             bus,
		Manager:         node.NewManager(id, settings.SessionDir(id)),
		Links:           linkengine.New(bus),
		Allocator:       addralloc.NewAllocator(),
		Catalog:         catalog,
		Settings:        settings,
		mobilityEngines: make(map[uint32]*mobility.Engine),
	}
}

// SetConfig merges key/value pairs into the session's configuration map and
// emits a config event.
func (s *Session) SetConfig(kv map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range kv {
		s.Config[k] = v
	}
	s.Bus.Publish(eventbus.Event{Topic: eventbus.TopicConfig, Kind: "config-change", Data: toAnyMap(kv)})
}

// AddHook registers script to fire when the session enters targetState, and
// returns its id.
func (s *Session) AddHook(script string, targetState State) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHookID++
	id := s.nextHookID
	s.hooks = append(s.hooks, Hook{ID: id, Script: script, TargetState: targetState})
	return id
}

// Hooks returns a snapshot of every registered hook, for xml.export.
func (s *Session) Hooks() []Hook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Hook(nil), s.hooks...)
}

// SetState requests a transition to target. It validates the edge,
// enforces preconditions, performs the state-specific work (realizing
// nodes and starting services on Instantiation; tearing everything down on
// Shutdown), fires hooks targeting the new state in insertion order, and
// emits exactly one session-state event (§4.1).
func (s *Session) SetState(ctx context.Context, target State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkEdge(s.State, target); err != nil {
		return err
	}
	if err := s.checkPreconditions(target); err != nil {
		return err
	}

	switch target {
	case StateInstantiation:
		if err := s.instantiate(ctx); err != nil {
			s.State = StateShutdown
			s.teardown(ctx)
			return err
		}
	case StateShutdown:
		s.teardown(ctx)
	}

	s.State = target
	s.fireHooksLocked(target)
	s.Bus.Publish(eventbus.Event{
		Topic: eventbus.TopicSessionState,
		Kind:  "state-change",
		Data:  map[string]interface{}{"state": string(target)},
	})
	return nil
}

func (s *Session) checkPreconditions(target State) error {
	if target == StateRuntime && s.Nodes.Len() == 0 {
		return coreerr.NewValidation("cannot enter runtime with zero nodes")
	}
	return nil
}

func (s *Session) fireHooksLocked(target State) {
	for _, h := range s.hooks {
		if h.TargetState != target {
			continue
		}
		corelog.WithSession(s.ID).Infof("firing hook %d for state %s", h.ID, target)
		// Hook scripts are opaque command text handed to the same
		// session-thread-owned manager as any other node command; a hook
		// not bound to a node runs as a host-local subprocess.
		if _, _, err := s.Manager.RunInNode(context.Background(), hostPseudoNode(), splitArgv(h.Script), false, ""); err != nil {
			corelog.WithSession(s.ID).Warnf("hook %d failed: %v", h.ID, err)
		}
	}
}

// hostPseudoNode is a container-less placeholder so RunInNode executes
// hook scripts directly on the host rather than inside any emulated node.
func hostPseudoNode() *node.Node {
	return node.NewNode(0, "__host__", node.KindDefault)
}

func splitArgv(script string) []string {
	if script == "" {
		return nil
	}
	return []string{"/bin/sh", "-c", script}
}

// instantiate realizes every node that has not already been realized and
// starts its services, in ascending node-id order (§4.1). Node and service
// failures are reported but do not abort the remaining nodes — the session
// still reaches Runtime with a degraded set (§4.1 failure semantics).
func (s *Session) instantiate(ctx context.Context) error {
	for _, n := range s.Nodes.All() {
		if err := s.Manager.Realize(n); err != nil {
			corelog.WithSession(s.ID).Errorf("realize node %s failed: %v", n.Name, err)
			continue
		}
		vars := s.templateVars(n)
		for _, r := range servicesched.Start(ctx, s.Manager, s.Catalog, n, vars) {
			if r.Err != nil {
				corelog.WithNode(n.Name).Warnf("service %s failed: %v", r.Name, r.Err)
			}
		}
	}
	return nil
}

func (s *Session) templateVars(n *node.Node) servicesched.TemplateVars {
	vars := servicesched.TemplateVars{
		"Session": s.Config,
		"Node":    n.Name,
		"Model":   n.Model,
	}
	ifaces := make(map[string]interface{}, len(n.Interfaces))
	for _, id := range n.SortedInterfaceIDs() {
		iface := n.Interfaces[id]
		ifaces[iface.Name] = map[string]string{"ipv4": iface.IPv4, "ipv6": iface.IPv6, "mac": iface.MAC}
	}
	vars["Interfaces"] = ifaces
	return vars
}

// teardown destroys mobility, then services on running nodes, then nodes,
// then networks, then filesystem roots — reverse dependency order (§3
// Ownership).
func (s *Session) teardown(ctx context.Context) {
	for _, m := range s.mobilityEngines {
		m.Stop()
	}
	for _, n := range s.Nodes.All() {
		servicesched.Shutdown(ctx, s.Manager, s.Catalog, n)
	}
	for _, n := range s.Nodes.All() {
		if err := s.Manager.Delete(n); err != nil {
			corelog.WithSession(s.ID).Errorf("delete node %s: %v", n.Name, err)
		}
	}
	for id, nw := range s.Networks {
		if err := nw.Teardown(); err != nil {
			corelog.WithSession(s.ID).Errorf("teardown network %d: %v", id, err)
		}
	}
}

// CreateNode allocates and registers a node. In Runtime, the node is
// realized immediately (§4.2 "In Runtime, realization happens
// immediately").
func (s *Session) CreateNode(spec node.Spec) (*node.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.Nodes.Create(spec)
	if err != nil {
		return nil, err
	}
	if s.State == StateRuntime {
		if err := s.Manager.Realize(n); err != nil {
			return nil, err
		}
	}
	s.Bus.Publish(eventbus.Event{Topic: eventbus.TopicNode, Kind: "node-add", Data: map[string]interface{}{"id": n.ID, "name": n.Name}})
	return n, nil
}

// DeleteNode tears down a node's interfaces, services, container, and
// filesystem root, then removes it from the registry (§4.2). Idempotent.
func (s *Session) DeleteNode(ctx context.Context, id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.Nodes.Get(id)
	if err != nil {
		return err
	}

	for _, ifaceID := range n.SortedInterfaceIDs() {
		iface := n.Interfaces[ifaceID]
		if nw, ok := s.Networks[iface.NetworkID]; ok {
			s.Manager.DetachInterface(n, nw, iface)
			if iface.IPv4 != "" {
				s.Allocator.ReleaseV4(iface.NetworkID, net.ParseIP(iface.IPv4))
			}
			if iface.IPv6 != "" {
				s.Allocator.ReleaseV6(iface.NetworkID, net.ParseIP(iface.IPv6))
			}
		}
	}

	servicesched.Shutdown(ctx, s.Manager, s.Catalog, n)
	if err := s.Manager.Delete(n); err != nil {
		return err
	}
	s.Nodes.Remove(id)
	s.Bus.Publish(eventbus.Event{Topic: eventbus.TopicNode, Kind: "node-delete", Data: map[string]interface{}{"id": id}})
	return nil
}

// CreateNetwork allocates a network id (from the disjoint >=1<<16 range)
// and realizes its backing bridge (§3 "Network").
func (s *Session) CreateNetwork(name string, kind network.Kind, v4CIDR, v6CIDR string) (*network.Network, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextNetID
	s.nextNetID++
	bridgeName := fmt.Sprintf("%s%d.%d", s.Settings.SessionPrefix, s.ID, id)

	nw := network.New(id, name, kind, bridgeName)
	if err := nw.Realize(); err != nil {
		return nil, err
	}
	if v4CIDR != "" || v6CIDR != "" {
		if err := s.Allocator.Register(id, v4CIDR, v6CIDR); err != nil {
			nw.Teardown()
			return nil, err
		}
	}
	s.Networks[id] = nw
	return nw, nil
}

// AttachInterface allocates an interface on n, attaching it to nw and
// drawing addresses from the allocator if nw has registered prefixes.
func (s *Session) AttachInterface(n *node.Node, nw *network.Network) (*node.Interface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var addrs node.Addresses
	if v4, prefix, err := s.Allocator.AllocateV4(nw.ID); err == nil {
		addrs.IPv4 = v4.String()
		addrs.IPv4Prefix = prefix
	}
	if v6, prefix, err := s.Allocator.AllocateV6(nw.ID); err == nil {
		addrs.IPv6 = v6.String()
		addrs.IPv6Prefix = prefix
	}

	iface, err := s.Manager.AttachInterface(s.ID, n, nw, addrs)
	if err != nil {
		return nil, err
	}
	iface.NetworkID = nw.ID
	s.Bus.Publish(eventbus.Event{Topic: eventbus.TopicNode, Kind: "iface-add", Data: map[string]interface{}{
		"node_id": n.ID, "iface_id": iface.ID, "network_id": nw.ID,
	}})
	return iface, nil
}

// AttachInterfaceWithAddresses attaches an interface to nw using a specific
// address assignment rather than drawing the next free one from the
// allocator — used by xml.import to reproduce a persisted interface exactly
// (§8 round-trip law).
func (s *Session) AttachInterfaceWithAddresses(n *node.Node, nw *network.Network, addrs node.Addresses) (*node.Interface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addrs.IPv4 != "" {
		if err := s.Allocator.ReserveV4(nw.ID, net.ParseIP(addrs.IPv4)); err != nil {
			return nil, err
		}
	}
	if addrs.IPv6 != "" {
		if err := s.Allocator.ReserveV6(nw.ID, net.ParseIP(addrs.IPv6)); err != nil {
			return nil, err
		}
	}

	iface, err := s.Manager.AttachInterface(s.ID, n, nw, addrs)
	if err != nil {
		return nil, err
	}
	iface.NetworkID = nw.ID
	s.Bus.Publish(eventbus.Event{Topic: eventbus.TopicNode, Kind: "iface-add", Data: map[string]interface{}{
		"node_id": n.ID, "iface_id": iface.ID, "network_id": nw.ID,
	}})
	return iface, nil
}

// MobilityEngineFor returns (creating if needed) the mobility engine driving
// wlan's node positions, wired to recompute reachability for that network
// after every tick (§4.6).
func (s *Session) MobilityEngineFor(wlan *network.Network) *mobility.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.mobilityEngines[wlan.ID]; ok {
		return m
	}
	m := mobility.New(s.Nodes, func() { s.recomputeReachability(wlan) }, 0, false)
	s.mobilityEngines[wlan.ID] = m
	return m
}

// MobilityEngines returns the per-WLAN mobility engines created so far,
// keyed by network id, for xml.export. It never creates one.
func (s *Session) MobilityEngines() map[uint32]*mobility.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint32]*mobility.Engine, len(s.mobilityEngines))
	for id, m := range s.mobilityEngines {
		out[id] = m
	}
	return out
}

// recomputeReachability implements §4.4 source 2: after a mobility tick,
// recompute R for every pair of nodes attached to wlan based on euclidean
// distance against the configured range, posting only the transitions.
func (s *Session) recomputeReachability(wlan *network.Network) {
	members := wlan.Members()
	type endpoint struct {
		node *node.Node
		ep   linkengine.Endpoint
	}
	var eps []endpoint
	for _, vethName := range members {
		n := nodeOwningVeth(s.Nodes, vethName)
		if n == nil {
			continue
		}
		iface := ifaceForVeth(n, vethName)
		if iface == nil {
			continue
		}
		eps = append(eps, endpoint{node: n, ep: linkengine.Endpoint{NodeName: n.Name, HostVeth: vethName, MAC: iface.MAC}})
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].node.ID < eps[j].node.ID })

	rangeLimit := s.Settings.WirelessRange
	for i := 0; i < len(eps); i++ {
		for j := i + 1; j < len(eps); j++ {
			a, b := eps[i], eps[j]
			reachable := distance(a.node.Position, b.node.Position) <= rangeLimit
			if err := s.Links.ApplyReachability(wlan, a.ep, b.ep, linkengine.ReachabilityUpdate{
				NodeA: a.node.Name, MACA: a.ep.MAC,
				NodeB: b.node.Name, MACB: b.ep.MAC,
				Reachable: reachable,
			}); err != nil {
				corelog.WithNetwork(wlan.Name).Warnf("reachability update %s<->%s: %v", a.node.Name, b.node.Name, err)
			}
		}
	}
}

func nodeOwningVeth(reg *node.Registry, vethName string) *node.Node {
	for _, n := range reg.All() {
		for _, id := range n.SortedInterfaceIDs() {
			if n.Interfaces[id].VethHost == vethName {
				return n
			}
		}
	}
	return nil
}

func ifaceForVeth(n *node.Node, vethName string) *node.Interface {
	for _, id := range n.SortedInterfaceIDs() {
		if n.Interfaces[id].VethHost == vethName {
			return n.Interfaces[id]
		}
	}
	return nil
}

func distance(a, b node.Position) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func toAnyMap(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
