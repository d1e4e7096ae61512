package addralloc

import "testing"

func TestAllocateSkipsNetworkAndBroadcast(t *testing.T) {
	p, err := NewPool("10.0.0.0/30")
	if err != nil {
		t.Fatal(err)
	}
	// /30 has 4 addresses: .0 (network), .1, .2, .3 (broadcast).
	// Only .1 and .2 should ever be handed out.
	a1, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	a2, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if a1.String() != "10.0.0.1" || a2.String() != "10.0.0.2" {
		t.Errorf("got %s, %s; want 10.0.0.1, 10.0.0.2", a1, a2)
	}
	if _, err := p.Allocate(); err == nil {
		t.Error("expected exhaustion error, got nil")
	}
}

func TestReleaseThenReallocate(t *testing.T) {
	p, err := NewPool("10.1.0.0/24")
	if err != nil {
		t.Fatal(err)
	}
	a, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	p.Release(a)
	b, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if a.String() != b.String() {
		t.Errorf("expected reused address %s, got %s", a, b)
	}
}

func TestUniqueAcrossAllocations(t *testing.T) {
	p, err := NewPool("10.2.0.0/24")
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		ip, err := p.Allocate()
		if err != nil {
			t.Fatal(err)
		}
		if seen[ip.String()] {
			t.Fatalf("duplicate address %s", ip)
		}
		seen[ip.String()] = true
	}
}

func TestAllocatorRegisterAndAllocate(t *testing.T) {
	a := NewAllocator()
	if err := a.Register(1, "10.0.0.0/24", "2001:db8::/64"); err != nil {
		t.Fatal(err)
	}
	v4, prefix, err := a.AllocateV4(1)
	if err != nil {
		t.Fatal(err)
	}
	if prefix != 24 {
		t.Errorf("prefix = %d, want 24", prefix)
	}
	if v4.String() != "10.0.0.1" {
		t.Errorf("v4 = %s, want 10.0.0.1", v4)
	}

	v6, prefix6, err := a.AllocateV6(1)
	if err != nil {
		t.Fatal(err)
	}
	if prefix6 != 64 {
		t.Errorf("prefix6 = %d, want 64", prefix6)
	}
	if v6.String() == "" {
		t.Error("expected non-empty v6 address")
	}
}

func TestAllocateUnknownNetwork(t *testing.T) {
	a := NewAllocator()
	if _, _, err := a.AllocateV4(99); err == nil {
		t.Error("expected NotFound error for unregistered network")
	}
}
