// Package xmlsession implements the persisted XML session format (§6): the
// engine must emit and ingest a session XML recording config, the node
// graph, networks, links, hooks, mobility scripts, and current state, such
// that re-ingesting a produced file yields a topologically and behaviorally
// identical session (§8 round-trip law).
package xmlsession

import (
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/coreemu/coreemu/internal/config"
	"github.com/coreemu/coreemu/internal/coreerr"
	"github.com/coreemu/coreemu/pkg/linkengine"
	"github.com/coreemu/coreemu/pkg/mobility"
	"github.com/coreemu/coreemu/pkg/network"
	"github.com/coreemu/coreemu/pkg/node"
	"github.com/coreemu/coreemu/pkg/servicesched"
	"github.com/coreemu/coreemu/pkg/session"
)

// schemaVersion is carried on the root element so Parse can reject files
// from an incompatible future schema with a Validation error instead of
// silently mis-parsing (§12 supplemented feature).
const schemaVersion = "1"

// Document is the root of a persisted session (§6).
type Document struct {
	XMLName xml.Name `xml:"session"`
	Version string   `xml:"version,attr"`
	ID      uint32   `xml:"id,attr"`
	State   string   `xml:"state,attr"`

	Config   []ConfigEntry `xml:"config>entry"`
	Networks []NetworkElem `xml:"networks>network"`
	Nodes    []NodeElem    `xml:"nodes>node"`
	Links    []LinkElem    `xml:"links>link"`
	Hooks    []HookElem    `xml:"hooks>hook"`
	Scripts  []ScriptElem  `xml:"mobility>script"`
}

type ConfigEntry struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

type NetworkElem struct {
	ID         uint32 `xml:"id,attr"`
	Name       string `xml:"name,attr"`
	Kind       string `xml:"kind,attr"`
	Policy     string `xml:"policy,attr"`
	IPv4Prefix string `xml:"ipv4-prefix,omitempty"`
	IPv6Prefix string `xml:"ipv6-prefix,omitempty"`
}

type NodeElem struct {
	ID       uint32         `xml:"id,attr"`
	Name     string         `xml:"name,attr"`
	Kind     string         `xml:"kind,attr"`
	Model    string         `xml:"model,attr,omitempty"`
	PeerName string         `xml:"peer,attr,omitempty"`
	Position PositionElem   `xml:"position"`
	Geo      *GeoElem       `xml:"geo,omitempty"`
	Services []string       `xml:"services>service,omitempty"`
	Ifaces   []InterfaceElem `xml:"interfaces>interface,omitempty"`
}

type PositionElem struct {
	X float64 `xml:"x,attr"`
	Y float64 `xml:"y,attr"`
	Z float64 `xml:"z,attr"`
}

type GeoElem struct {
	Lat float64 `xml:"lat,attr"`
	Lon float64 `xml:"lon,attr"`
	Alt float64 `xml:"alt,attr"`
}

type InterfaceElem struct {
	ID         int    `xml:"id,attr"`
	Name       string `xml:"name,attr"`
	MAC        string `xml:"mac,attr"`
	NetworkID  uint32 `xml:"network-id,attr"`
	IPv4       string `xml:"ipv4,attr,omitempty"`
	IPv4Prefix int    `xml:"ipv4-prefix,attr,omitempty"`
	IPv6       string `xml:"ipv6,attr,omitempty"`
	IPv6Prefix int    `xml:"ipv6-prefix,attr,omitempty"`
}

type LinkElem struct {
	NetworkID uint32          `xml:"network-id,attr"`
	ANode     string          `xml:"a-node,attr"`
	AVeth     string          `xml:"a-veth,attr"`
	AMAC      string          `xml:"a-mac,attr"`
	ZNode     string          `xml:"z-node,attr"`
	ZVeth     string          `xml:"z-veth,attr"`
	ZMAC      string          `xml:"z-mac,attr"`
	Impair    ImpairmentElem  `xml:"impairment"`
}

type ImpairmentElem struct {
	BandwidthBPS   uint64 `xml:"bandwidth-bps,attr"`
	DelayUS        uint32 `xml:"delay-us,attr"`
	JitterUS       uint32 `xml:"jitter-us,attr"`
	LossPPM        uint32 `xml:"loss-ppm,attr"`
	DuplicatePPM   uint32 `xml:"duplicate-ppm,attr"`
	Unidirectional bool   `xml:"unidirectional,attr"`
}

type HookElem struct {
	ID          uint32 `xml:"id,attr"`
	TargetState string `xml:"target-state,attr"`
	Script      string `xml:"script"`
}

type ScriptElem struct {
	NodeID    uint32         `xml:"node-id,attr"`
	Waypoints []WaypointElem `xml:"waypoint"`
}

type WaypointElem struct {
	OffsetMS int64   `xml:"offset-ms,attr"`
	X        float64 `xml:"x,attr"`
	Y        float64 `xml:"y,attr"`
	Z        float64 `xml:"z,attr"`
}

// Export builds a Document snapshotting s's current data model (§6).
func Export(s *session.Session) *Document {
	doc := &Document{
		Version: schemaVersion,
		ID:      s.ID,
		State:   string(s.State),
	}

	for _, k := range sortedKeys(s.Config) {
		doc.Config = append(doc.Config, ConfigEntry{Key: k, Value: s.Config[k]})
	}

	var netIDs []uint32
	for id := range s.Networks {
		netIDs = append(netIDs, id)
	}
	sort.Slice(netIDs, func(i, j int) bool { return netIDs[i] < netIDs[j] })
	for _, id := range netIDs {
		nw := s.Networks[id]
		v4, v6 := s.Allocator.CIDRs(id)
		doc.Networks = append(doc.Networks, NetworkElem{
			ID: nw.ID, Name: nw.Name, Kind: string(nw.Kind), Policy: nw.Policy,
			IPv4Prefix: v4, IPv6Prefix: v6,
		})
	}

	for _, n := range s.Nodes.All() {
		ne := NodeElem{
			ID: n.ID, Name: n.Name, Kind: string(n.Kind), Model: n.Model, PeerName: n.PeerName,
			Position: PositionElem{X: n.Position.X, Y: n.Position.Y, Z: n.Position.Z},
			Services: append([]string(nil), n.Services...),
		}
		if n.Geo.Set {
			ne.Geo = &GeoElem{Lat: n.Geo.Lat, Lon: n.Geo.Lon, Alt: n.Geo.Alt}
		}
		for _, id := range n.SortedInterfaceIDs() {
			iface := n.Interfaces[id]
			ne.Ifaces = append(ne.Ifaces, InterfaceElem{
				ID: iface.ID, Name: iface.Name, MAC: iface.MAC, NetworkID: iface.NetworkID,
				IPv4: iface.IPv4, IPv4Prefix: iface.IPv4Prefix,
				IPv6: iface.IPv6, IPv6Prefix: iface.IPv6Prefix,
			})
		}
		doc.Nodes = append(doc.Nodes, ne)
	}

	links := s.Links.Links()
	sort.Slice(links, func(i, j int) bool {
		if links[i].NetworkID != links[j].NetworkID {
			return links[i].NetworkID < links[j].NetworkID
		}
		if links[i].A.NodeName != links[j].A.NodeName {
			return links[i].A.NodeName < links[j].A.NodeName
		}
		return links[i].Z.NodeName < links[j].Z.NodeName
	})
	for _, l := range links {
		doc.Links = append(doc.Links, LinkElem{
			NetworkID: l.NetworkID,
			ANode:     l.A.NodeName, AVeth: l.A.HostVeth, AMAC: l.A.MAC,
			ZNode:     l.Z.NodeName, ZVeth: l.Z.HostVeth, ZMAC: l.Z.MAC,
			Impair: ImpairmentElem{
				BandwidthBPS: l.Impair.BandwidthBPS, DelayUS: l.Impair.DelayUS,
				JitterUS: l.Impair.JitterUS, LossPPM: l.Impair.LossPPM,
				DuplicatePPM: l.Impair.DuplicatePPM, Unidirectional: l.Impair.Unidirectional,
			},
		})
	}

	hooks := s.Hooks()
	sort.Slice(hooks, func(i, j int) bool { return hooks[i].ID < hooks[j].ID })
	for _, h := range hooks {
		doc.Hooks = append(doc.Hooks, HookElem{ID: h.ID, TargetState: string(h.TargetState), Script: h.Script})
	}

	engines := s.MobilityEngines()
	var wlanIDs []uint32
	for id := range engines {
		wlanIDs = append(wlanIDs, id)
	}
	sort.Slice(wlanIDs, func(i, j int) bool { return wlanIDs[i] < wlanIDs[j] })
	for _, id := range wlanIDs {
		scripts := engines[id].Scripts()
		sort.Slice(scripts, func(i, j int) bool { return scripts[i].NodeID < scripts[j].NodeID })
		for _, sc := range scripts {
			se := ScriptElem{NodeID: sc.NodeID}
			for _, wp := range sc.Waypoints {
				se.Waypoints = append(se.Waypoints, WaypointElem{OffsetMS: wp.OffsetMS, X: wp.X, Y: wp.Y, Z: wp.Z})
			}
			doc.Scripts = append(doc.Scripts, se)
		}
	}

	return doc
}

// ExportBytes renders s to indented XML.
func ExportBytes(s *session.Session) ([]byte, error) {
	doc := Export(s)
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, coreerr.NewValidation(fmt.Sprintf("xml.export: %v", err))
	}
	return append([]byte(xml.Header), out...), nil
}

// Parse decodes data into a Document, rejecting a schema version other than
// the one this module writes (§12).
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, coreerr.NewValidation(fmt.Sprintf("xml.import: %v", err))
	}
	if doc.Version != schemaVersion {
		return nil, coreerr.NewValidation(fmt.Sprintf("xml.import: unsupported schema version %q", doc.Version))
	}
	return &doc, nil
}

// Materialize builds a live Session from doc. Per §6/§8 scenario 6, the
// imported session always starts in Definition state regardless of the
// state recorded in doc — the caller drives it forward with SetState.
func Materialize(doc *Document, settings *config.Settings, catalog servicesched.Catalog) (*session.Session, error) {
	s := session.New(doc.ID, settings, catalog)

	cfg := make(map[string]string, len(doc.Config))
	for _, e := range doc.Config {
		cfg[e.Key] = e.Value
	}
	s.SetConfig(cfg)

	netByID := make(map[uint32]*network.Network, len(doc.Networks))
	for _, ne := range doc.Networks {
		nw, err := s.CreateNetwork(ne.Name, network.Kind(ne.Kind), ne.IPv4Prefix, ne.IPv6Prefix)
		if err != nil {
			return nil, err
		}
		netByID[ne.ID] = nw
	}

	nodeByName := make(map[string]*node.Node, len(doc.Nodes))
	for _, ne := range doc.Nodes {
		spec := node.Spec{
			ID: ne.ID, Name: ne.Name, Kind: node.Kind(ne.Kind), Model: ne.Model,
			Position: node.Position{X: ne.Position.X, Y: ne.Position.Y, Z: ne.Position.Z},
			Services: ne.Services, PeerName: ne.PeerName,
		}
		if ne.Geo != nil {
			spec.Geo = node.Geo{Lat: ne.Geo.Lat, Lon: ne.Geo.Lon, Alt: ne.Geo.Alt, Set: true}
		}
		n, err := s.CreateNode(spec)
		if err != nil {
			return nil, err
		}
		nodeByName[n.Name] = n

		for _, ie := range ne.Ifaces {
			nw, ok := netByID[ie.NetworkID]
			if !ok {
				return nil, coreerr.NewValidation(fmt.Sprintf("xml.import: node %s interface %d references unknown network %d", ne.Name, ie.ID, ie.NetworkID))
			}
			addrs := node.Addresses{IPv4: ie.IPv4, IPv4Prefix: ie.IPv4Prefix, IPv6: ie.IPv6, IPv6Prefix: ie.IPv6Prefix}
			if _, err := s.AttachInterfaceWithAddresses(n, nw, addrs); err != nil {
				return nil, err
			}
		}
	}

	for _, le := range doc.Links {
		if _, ok := nodeByName[le.ANode]; !ok {
			continue
		}
		if _, ok := nodeByName[le.ZNode]; !ok {
			continue
		}
		aEp := linkengine.Endpoint{NodeName: le.ANode, HostVeth: le.AVeth, MAC: le.AMAC}
		zEp := linkengine.Endpoint{NodeName: le.ZNode, HostVeth: le.ZVeth, MAC: le.ZMAC}
		opts := network.Impairment{
			BandwidthBPS: le.Impair.BandwidthBPS, DelayUS: le.Impair.DelayUS,
			JitterUS: le.Impair.JitterUS, LossPPM: le.Impair.LossPPM,
			DuplicatePPM: le.Impair.DuplicatePPM, Unidirectional: le.Impair.Unidirectional,
		}
		if err := s.Links.LinkAdd(le.NetworkID, aEp, zEp, opts); err != nil {
			return nil, err
		}
	}

	for _, he := range doc.Hooks {
		s.AddHook(he.Script, session.State(he.TargetState))
	}

	for _, se := range doc.Scripts {
		n, err := s.Nodes.Get(se.NodeID)
		if err != nil {
			continue
		}
		if iface := firstInterface(n); iface == nil {
			continue
		}
		rows := make([][4]float64, len(se.Waypoints))
		for i, wp := range se.Waypoints {
			rows[i] = [4]float64{float64(wp.OffsetMS), wp.X, wp.Y, wp.Z}
		}
		script, err := mobility.ParseScript(se.NodeID, rows)
		if err != nil {
			return nil, err
		}
		if wlan := wlanForNode(s, n); wlan != nil {
			s.MobilityEngineFor(wlan).LoadScript(script)
		}
	}

	return s, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstInterface(n *node.Node) *node.Interface {
	ids := n.SortedInterfaceIDs()
	if len(ids) == 0 {
		return nil
	}
	return n.Interfaces[ids[0]]
}

func wlanForNode(s *session.Session, n *node.Node) *network.Network {
	for _, id := range n.SortedInterfaceIDs() {
		iface := n.Interfaces[id]
		if nw, ok := s.Networks[iface.NetworkID]; ok && (nw.Kind == network.KindWLAN || nw.Kind == network.KindExternalWLAN) {
			return nw
		}
	}
	return nil
}
