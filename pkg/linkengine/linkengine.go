// Package linkengine computes and applies per-direction link impairments
// and maintains the wireless reachability matrix (C4).
package linkengine

import (
	"fmt"
	"sync"

	"github.com/coreemu/coreemu/internal/coreerr"
	"github.com/coreemu/coreemu/internal/corelog"
	"github.com/coreemu/coreemu/pkg/eventbus"
	"github.com/coreemu/coreemu/pkg/network"
)

// Endpoint identifies one side of a Link: the host-visible veth to apply
// netem to and the MAC/node identity ebtables rules are keyed on.
type Endpoint struct {
	NodeName string
	HostVeth string
	MAC      string
}

// Link is a pair of Interfaces with the impairment currently applied
// between them (§3 "Link").
type Link struct {
	NetworkID uint32
	A, Z      Endpoint
	Impair    network.Impairment
}

func linkKey(networkID uint32, a, z string) string {
	if a > z {
		a, z = z, a
	}
	return fmt.Sprintf("%d|%s|%s", networkID, a, z)
}

// Engine owns every Link and, for wireless networks, the reachability
// matrix transitions that add/remove ebtables exceptions (C4).
type Engine struct {
	mu    sync.Mutex
	bus   *eventbus.Bus
	links map[string]*Link
}

// New returns a link engine publishing events on bus.
func New(bus *eventbus.Bus) *Engine {
	return &Engine{bus: bus, links: make(map[string]*Link)}
}

// LinkAdd applies opts to the veths backing a and z and emits link-add
// (§4.4). Networks is never implicit here — callers (the session) resolve
// or materialize the backing Network before calling LinkAdd.
func (e *Engine) LinkAdd(networkID uint32, a, z Endpoint, opts network.Impairment) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := linkKey(networkID, a.HostVeth, z.HostVeth)
	if _, exists := e.links[key]; exists {
		return coreerr.NewValidation("link already exists between " + a.HostVeth + " and " + z.HostVeth)
	}

	if err := network.ApplyImpairment(a.HostVeth, opts); err != nil {
		return err
	}
	if !opts.Unidirectional {
		if err := network.ApplyImpairment(z.HostVeth, opts); err != nil {
			network.ClearImpairment(a.HostVeth)
			return err
		}
	}

	link := &Link{NetworkID: networkID, A: a, Z: z, Impair: opts}
	e.links[key] = link

	e.bus.Publish(eventbus.Event{
		Topic: eventbus.TopicLink,
		Kind:  "link-add",
		Data: map[string]interface{}{
			"network_id": networkID,
			"a":          a.NodeName,
			"z":          z.NodeName,
		},
	})
	corelog.WithNetwork(fmt.Sprintf("%d", networkID)).Infof("link added %s<->%s", a.HostVeth, z.HostVeth)
	return nil
}

// LinkUpdate mutates the qdiscs of an existing link and emits link-change.
func (e *Engine) LinkUpdate(networkID uint32, a, z Endpoint, opts network.Impairment) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := linkKey(networkID, a.HostVeth, z.HostVeth)
	link, ok := e.links[key]
	if !ok {
		return coreerr.NewNotFound("link", key)
	}

	if err := network.ApplyImpairment(a.HostVeth, opts); err != nil {
		return err
	}
	if !opts.Unidirectional {
		if err := network.ApplyImpairment(z.HostVeth, opts); err != nil {
			return err
		}
	}
	link.Impair = opts

	e.bus.Publish(eventbus.Event{
		Topic: eventbus.TopicLink,
		Kind:  "link-change",
		Data: map[string]interface{}{
			"network_id": networkID,
			"a":          a.NodeName,
			"z":          z.NodeName,
		},
	})
	return nil
}

// LinkDelete removes the netem qdiscs for the pair and emits link-delete.
func (e *Engine) LinkDelete(networkID uint32, a, z Endpoint) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := linkKey(networkID, a.HostVeth, z.HostVeth)
	if _, ok := e.links[key]; !ok {
		return coreerr.NewNotFound("link", key)
	}
	delete(e.links, key)

	network.ClearImpairment(a.HostVeth)
	network.ClearImpairment(z.HostVeth)

	e.bus.Publish(eventbus.Event{
		Topic: eventbus.TopicLink,
		Kind:  "link-delete",
		Data: map[string]interface{}{
			"network_id": networkID,
			"a":          a.NodeName,
			"z":          z.NodeName,
		},
	})
	return nil
}

// Links returns a snapshot of every link currently tracked, for invariant
// checks and XML export.
func (e *Engine) Links() []*Link {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Link, 0, len(e.links))
	for _, l := range e.links {
		out = append(out, l)
	}
	return out
}
