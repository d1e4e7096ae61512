package linkengine

import (
	"github.com/coreemu/coreemu/pkg/eventbus"
	"github.com/coreemu/coreemu/pkg/network"
)

// ReachabilityUpdate is a single pairwise transition request, whether it
// originates from the external wireless policy plugin or the mobility
// engine (§4.4 "two distinct sources and nothing else").
type ReachabilityUpdate struct {
	NodeA, MACA string
	NodeB, MACB string
	Reachable   bool
}

// ApplyReachability pushes one transition into wlan's matrix. If the
// transition actually changes R (coalescing duplicate/simultaneous flips),
// it applies wlan's default impairment to the newly-ACCEPTed pair (open
// question (a): WLAN impairments apply equally to every ACCEPTed pair) and
// emits exactly one link event (§4.4).
func (e *Engine) ApplyReachability(wlan *network.Network, epA, epZ Endpoint, u ReachabilityUpdate) error {
	changed, err := wlan.SetReachable(u.NodeA, u.MACA, u.NodeB, u.MACB, u.Reachable)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if u.Reachable {
		if err := network.ApplyImpairment(epA.HostVeth, wlan.WirelessImpair); err != nil {
			return err
		}
		if !wlan.WirelessImpair.Unidirectional {
			if err := network.ApplyImpairment(epZ.HostVeth, wlan.WirelessImpair); err != nil {
				network.ClearImpairment(epA.HostVeth)
				return err
			}
		}
	} else {
		network.ClearImpairment(epA.HostVeth)
		network.ClearImpairment(epZ.HostVeth)
	}

	e.mu.Lock()
	key := linkKey(wlan.ID, epA.HostVeth, epZ.HostVeth)
	if u.Reachable {
		e.links[key] = &Link{NetworkID: wlan.ID, A: epA, Z: epZ, Impair: wlan.WirelessImpair}
	} else {
		delete(e.links, key)
	}
	e.mu.Unlock()

	kind := "link-add"
	if !u.Reachable {
		kind = "link-delete"
	}
	e.bus.Publish(eventbus.Event{
		Topic: eventbus.TopicLink,
		Kind:  kind,
		Data: map[string]interface{}{
			"network_id": wlan.ID,
			"a":          u.NodeA,
			"z":          u.NodeB,
			"reachable":  u.Reachable,
		},
	})
	return nil
}
