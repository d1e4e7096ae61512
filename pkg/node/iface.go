package node

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"

	"github.com/coreemu/coreemu/internal/coreerr"
	"github.com/coreemu/coreemu/internal/corelog"
)

// NetworkAttacher is the minimal surface the network fabric (C3) exposes
// back to the node manager so AttachInterface can plug the host-side veth
// into the right bridge without the node package importing the network
// package — implemented by network.Network.
type NetworkAttacher interface {
	AttachHostVeth(hostVethName string) error
	DetachHostVeth(hostVethName string) error
	BridgeName() string
}

// Addresses is the optional address assignment requested for an attach.
type Addresses struct {
	IPv4       string
	IPv4Prefix int
	IPv6       string
	IPv6Prefix int
}

// AttachInterface allocates an interface id, creates a veth pair, moves one
// end into the node's namespace and renames it "eth{id}", attaches the
// other end to nw's bridge, assigns MAC and addresses, and brings both
// ends up. All side effects are undone if any step fails (§4.2).
func (m *Manager) AttachInterface(sessionID uint32, n *Node, nw NetworkAttacher, addrs Addresses) (iface *Interface, err error) {
	n.mu.Lock()
	ifaceID := n.nextInterfaceID()
	n.mu.Unlock()

	ifaceName := fmt.Sprintf("eth%d", ifaceID)
	hostVeth := HostVethName(sessionID, n.ID, ifaceID)
	mac := GenerateMAC(sessionID, n.ID, ifaceID)

	var created []string
	rollback := func() {
		for _, name := range created {
			if link, lerr := netlink.LinkByName(name); lerr == nil {
				netlink.LinkDel(link)
			}
		}
		if nw != nil {
			nw.DetachHostVeth(hostVeth)
		}
	}

	vethAttrs := netlink.NewLinkAttrs()
	vethAttrs.Name = hostVeth
	veth := &netlink.Veth{
		LinkAttrs: vethAttrs,
		PeerName:  ifaceName + "-tmp",
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return nil, coreerr.NewKernel("veth-add", hostVeth, err)
	}
	created = append(created, hostVeth, ifaceName+"-tmp")

	if n.Container != nil {
		peer, perr := netlink.LinkByName(ifaceName + "-tmp")
		if perr != nil {
			rollback()
			return nil, coreerr.NewKernel("veth-find-peer", ifaceName+"-tmp", perr)
		}
		if err := netlink.LinkSetNsFd(peer, int(n.Container.Handle)); err != nil {
			rollback()
			return nil, coreerr.NewKernel("veth-move-ns", ifaceName+"-tmp", err)
		}

		nsErr := withNamespace(n.Container.Handle, func() error {
			link, lerr := netlink.LinkByName(ifaceName + "-tmp")
			if lerr != nil {
				return lerr
			}
			if err := netlink.LinkSetName(link, ifaceName); err != nil {
				return err
			}
			link, lerr = netlink.LinkByName(ifaceName)
			if lerr != nil {
				return lerr
			}
			hw, herr := net.ParseMAC(mac)
			if herr != nil {
				return herr
			}
			if err := netlink.LinkSetHardwareAddr(link, hw); err != nil {
				return err
			}
			if addrs.IPv4 != "" {
				if err := addAddr(link, addrs.IPv4, addrs.IPv4Prefix); err != nil {
					return err
				}
			}
			if addrs.IPv6 != "" {
				if err := addAddr(link, addrs.IPv6, addrs.IPv6Prefix); err != nil {
					return err
				}
			}
			return netlink.LinkSetUp(link)
		})
		if nsErr != nil {
			rollback()
			return nil, coreerr.NewKernel("veth-configure-ns", ifaceName, nsErr)
		}
	}

	hostLink, herr := netlink.LinkByName(hostVeth)
	if herr != nil {
		rollback()
		return nil, coreerr.NewKernel("veth-find-host", hostVeth, herr)
	}
	if err := netlink.LinkSetUp(hostLink); err != nil {
		rollback()
		return nil, coreerr.NewKernel("veth-up-host", hostVeth, err)
	}

	if nw != nil {
		if err := nw.AttachHostVeth(hostVeth); err != nil {
			rollback()
			return nil, err
		}
	}

	iface = &Interface{
		Name:       ifaceName,
		MAC:        mac,
		IPv4:       addrs.IPv4,
		IPv4Prefix: addrs.IPv4Prefix,
		IPv6:       addrs.IPv6,
		IPv6Prefix: addrs.IPv6Prefix,
		VethHost:   hostVeth,
	}

	n.mu.Lock()
	iface.ID = ifaceID
	n.Interfaces[ifaceID] = iface
	n.mu.Unlock()

	corelog.WithNode(n.Name).Infof("attached interface %s (host veth %s)", ifaceName, hostVeth)
	return iface, nil
}

// DetachInterface removes iface from its Network and deletes its veth pair.
func (m *Manager) DetachInterface(n *Node, net NetworkAttacher, iface *Interface) error {
	if net != nil {
		if err := net.DetachHostVeth(iface.VethHost); err != nil {
			corelog.WithNode(n.Name).Warnf("detach host veth %s: %v", iface.VethHost, err)
		}
	}
	if link, err := netlink.LinkByName(iface.VethHost); err == nil {
		if err := netlink.LinkDel(link); err != nil {
			return coreerr.NewKernel("veth-del", iface.VethHost, err)
		}
	}
	n.RemoveInterface(iface.ID)
	return nil
}

// addAddr assigns addr/prefixLen to link inside whatever namespace the
// caller's netlink handle is currently scoped to.
func addAddr(link netlink.Link, addr string, prefixLen int) error {
	ipnet := &net.IPNet{
		IP:   net.ParseIP(addr),
		Mask: prefixMask(addr, prefixLen),
	}
	if ipnet.IP == nil {
		return fmt.Errorf("invalid address %q", addr)
	}
	return netlink.AddrAdd(link, &netlink.Addr{IPNet: ipnet})
}

func prefixMask(addr string, prefixLen int) net.IPMask {
	if ip := net.ParseIP(addr); ip.To4() != nil {
		return net.CIDRMask(prefixLen, 32)
	}
	return net.CIDRMask(prefixLen, 128)
}
