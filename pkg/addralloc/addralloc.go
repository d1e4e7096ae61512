// Package addralloc implements the per-session IPv4/IPv6 prefix pools that
// assign unique interface addresses within a Network's prefix (§4.9).
package addralloc

import (
	"fmt"
	"math/big"
	"net"
	"sync"

	"github.com/coreemu/coreemu/internal/coreerr"
)

// Pool hands out unique host addresses within a fixed CIDR, skipping the
// network and broadcast addresses. One Pool exists per Network.
type Pool struct {
	mu       sync.Mutex
	network  *net.IPNet
	version  int // 4 or 6
	next     *big.Int
	last     *big.Int
	assigned map[string]bool // dotted/colon string -> in use
	freed    []*big.Int      // returned addresses, reused before next advances
}

// NewPool creates a Pool over cidr ("10.0.0.0/24" or "2001:db8::/64").
func NewPool(cidr string) (*Pool, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, coreerr.NewValidation(fmt.Sprintf("addralloc: invalid prefix %q: %v", cidr, err))
	}
	version := 4
	if ip.To4() == nil {
		version = 6
	}

	ones, bits := ipnet.Mask.Size()
	hostBits := bits - ones
	if version == 4 && hostBits < 2 {
		return nil, coreerr.NewValidation(fmt.Sprintf("addralloc: prefix %q too small for host addresses", cidr))
	}

	base := ipToInt(ipnet.IP)
	size := new(big.Int).Lsh(big.NewInt(1), uint(hostBits))
	last := new(big.Int).Add(base, size)
	last.Sub(last, big.NewInt(1))

	start := new(big.Int).Add(base, big.NewInt(1)) // skip network address
	if version == 4 {
		last.Sub(last, big.NewInt(1)) // skip broadcast address for IPv4
	}

	return &Pool{
		network:  ipnet,
		version:  version,
		next:     start,
		last:     last,
		assigned: make(map[string]bool),
	}, nil
}

// PrefixLen returns the pool's CIDR prefix length.
func (p *Pool) PrefixLen() int {
	ones, _ := p.network.Mask.Size()
	return ones
}

// CIDR returns the pool's prefix in CIDR notation.
func (p *Pool) CIDR() string {
	return p.network.String()
}

// Reserve marks addr as assigned without consuming it from the sequential
// cursor, used by xml.import to reproduce a persisted address exactly
// rather than drawing the next free one (§8 round-trip law).
func (p *Pool) Reserve(addr net.IP) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := addr.String()
	if p.assigned[key] {
		return coreerr.NewValidation(fmt.Sprintf("addralloc: %s already assigned", key))
	}
	p.assigned[key] = true
	return nil
}

// Allocate returns the next unused host address in the pool, skipping the
// network and (for IPv4) broadcast address.
func (p *Pool) Allocate() (net.IP, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.freed) > 0 {
		n := p.freed[len(p.freed)-1]
		p.freed = p.freed[:len(p.freed)-1]
		ip := intToIP(n, p.version)
		p.assigned[ip.String()] = true
		return ip, nil
	}

	for p.next.Cmp(p.last) <= 0 {
		candidate := new(big.Int).Set(p.next)
		p.next.Add(p.next, big.NewInt(1))
		ip := intToIP(candidate, p.version)
		if !p.assigned[ip.String()] {
			p.assigned[ip.String()] = true
			return ip, nil
		}
	}
	return nil, coreerr.NewValidation(fmt.Sprintf("addralloc: prefix %s exhausted", p.network.String()))
}

// Release returns addr to the pool for reuse, called on interface detach.
func (p *Pool) Release(addr net.IP) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := addr.String()
	if !p.assigned[key] {
		return
	}
	delete(p.assigned, key)
	p.freed = append(p.freed, ipToInt(addr))
}

func ipToInt(ip net.IP) *big.Int {
	if v4 := ip.To4(); v4 != nil {
		return new(big.Int).SetBytes(v4)
	}
	return new(big.Int).SetBytes(ip.To16())
}

func intToIP(n *big.Int, version int) net.IP {
	if version == 4 {
		b := n.Bytes()
		buf := make([]byte, 4)
		copy(buf[4-len(b):], b)
		return net.IP(buf)
	}
	b := n.Bytes()
	buf := make([]byte, 16)
	copy(buf[16-len(b):], b)
	return net.IP(buf)
}

// Allocator holds the IPv4 and IPv6 pools for every network kind in a
// session, keyed by network id.
type Allocator struct {
	mu    sync.Mutex
	v4    map[uint32]*Pool
	v6    map[uint32]*Pool
}

// NewAllocator creates an empty per-session allocator.
func NewAllocator() *Allocator {
	return &Allocator{v4: make(map[uint32]*Pool), v6: make(map[uint32]*Pool)}
}

// Register assigns the IPv4 and/or IPv6 prefixes a network will draw from.
// Either cidr may be empty to skip that family.
func (a *Allocator) Register(networkID uint32, v4CIDR, v6CIDR string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v4CIDR != "" {
		p, err := NewPool(v4CIDR)
		if err != nil {
			return err
		}
		a.v4[networkID] = p
	}
	if v6CIDR != "" {
		p, err := NewPool(v6CIDR)
		if err != nil {
			return err
		}
		a.v6[networkID] = p
	}
	return nil
}

// AllocateV4 draws the next IPv4 address for networkID.
func (a *Allocator) AllocateV4(networkID uint32) (net.IP, int, error) {
	a.mu.Lock()
	p, ok := a.v4[networkID]
	a.mu.Unlock()
	if !ok {
		return nil, 0, coreerr.NewNotFound("ipv4-pool", fmt.Sprintf("%d", networkID))
	}
	ip, err := p.Allocate()
	if err != nil {
		return nil, 0, err
	}
	return ip, p.PrefixLen(), nil
}

// AllocateV6 draws the next IPv6 address for networkID.
func (a *Allocator) AllocateV6(networkID uint32) (net.IP, int, error) {
	a.mu.Lock()
	p, ok := a.v6[networkID]
	a.mu.Unlock()
	if !ok {
		return nil, 0, coreerr.NewNotFound("ipv6-pool", fmt.Sprintf("%d", networkID))
	}
	ip, err := p.Allocate()
	if err != nil {
		return nil, 0, err
	}
	return ip, p.PrefixLen(), nil
}

// ReleaseV4 returns an IPv4 address to networkID's pool.
func (a *Allocator) ReleaseV4(networkID uint32, ip net.IP) {
	a.mu.Lock()
	p, ok := a.v4[networkID]
	a.mu.Unlock()
	if ok {
		p.Release(ip)
	}
}

// ReleaseV6 returns an IPv6 address to networkID's pool.
func (a *Allocator) ReleaseV6(networkID uint32, ip net.IP) {
	a.mu.Lock()
	p, ok := a.v6[networkID]
	a.mu.Unlock()
	if ok {
		p.Release(ip)
	}
}

// ReserveV4 marks ip as assigned in networkID's IPv4 pool.
func (a *Allocator) ReserveV4(networkID uint32, ip net.IP) error {
	a.mu.Lock()
	p, ok := a.v4[networkID]
	a.mu.Unlock()
	if !ok {
		return coreerr.NewNotFound("ipv4-pool", fmt.Sprintf("%d", networkID))
	}
	return p.Reserve(ip)
}

// ReserveV6 marks ip as assigned in networkID's IPv6 pool.
func (a *Allocator) ReserveV6(networkID uint32, ip net.IP) error {
	a.mu.Lock()
	p, ok := a.v6[networkID]
	a.mu.Unlock()
	if !ok {
		return coreerr.NewNotFound("ipv6-pool", fmt.Sprintf("%d", networkID))
	}
	return p.Reserve(ip)
}

// CIDRs returns the registered IPv4/IPv6 prefixes for networkID, empty
// string for a family with no registered pool.
func (a *Allocator) CIDRs(networkID uint32) (v4, v6 string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.v4[networkID]; ok {
		v4 = p.CIDR()
	}
	if p, ok := a.v6[networkID]; ok {
		v6 = p.CIDR()
	}
	return v4, v6
}
