package network

import (
	"github.com/vishvananda/netlink"

	"github.com/coreemu/coreemu/internal/coreerr"
)

// ppmToPercent converts parts-per-million (the wire unit for loss and
// duplicate probabilities, §4.3) to the percentage netlink's Netem struct
// expects.
func ppmToPercent(ppm uint32) float32 {
	return float32(ppm) / 10000.0
}

// ApplyImpairment installs (or replaces) a netem qdisc on hostVethName's
// egress, carrying bandwidth, delay, jitter, loss, and duplication as
// specified by imp (§4.3). Bandwidth is layered as a tbf-equivalent rate
// limit via Netem's Rate field; delay and jitter combine into netem's
// "delay D J" form.
func ApplyImpairment(hostVethName string, imp Impairment) error {
	link, err := netlink.LinkByName(hostVethName)
	if err != nil {
		return coreerr.NewKernel("netem-find-link", hostVethName, err)
	}

	attrs := netlink.QdiscAttrs{
		LinkIndex: link.Attrs().Index,
		Handle:    netlink.MakeHandle(1, 0),
		Parent:    netlink.HANDLE_ROOT,
	}
	netem := netlink.NewNetem(attrs, netlink.NetemQdiscAttrs{
		Latency:   imp.DelayUS,
		Jitter:    imp.JitterUS,
		Loss:      ppmToPercent(imp.LossPPM),
		Duplicate: ppmToPercent(imp.DuplicatePPM),
	})
	if imp.BandwidthBPS > 0 {
		netem.Rate = uint32(imp.BandwidthBPS / 8)
	}

	if err := netlink.QdiscReplace(netem); err != nil {
		return coreerr.NewKernel("netem-apply", hostVethName, err)
	}
	return nil
}

// ClearImpairment removes any netem qdisc installed on hostVethName's
// egress. Missing qdiscs are tolerated so callers can use it
// unconditionally during detach/teardown.
func ClearImpairment(hostVethName string) error {
	link, err := netlink.LinkByName(hostVethName)
	if err != nil {
		return nil
	}
	qdiscs, err := netlink.QdiscList(link)
	if err != nil {
		return nil
	}
	for _, q := range qdiscs {
		if _, ok := q.(*netlink.Netem); ok {
			netlink.QdiscDel(q)
		}
	}
	return nil
}
