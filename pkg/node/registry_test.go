package node

import "testing"

func TestCreateAllocatesSmallestFreeID(t *testing.T) {
	r := NewRegistry()
	n1, err := r.Create(Spec{Name: "n1", Kind: KindDefault})
	if err != nil {
		t.Fatal(err)
	}
	if n1.ID != 1 {
		t.Errorf("first node id = %d, want 1", n1.ID)
	}

	n2, err := r.Create(Spec{Name: "n2", Kind: KindDefault})
	if err != nil {
		t.Fatal(err)
	}
	if n2.ID != 2 {
		t.Errorf("second node id = %d, want 2", n2.ID)
	}

	r.Remove(n1.ID)
	n3, err := r.Create(Spec{Name: "n3", Kind: KindDefault})
	if err != nil {
		t.Fatal(err)
	}
	if n3.ID != 1 {
		t.Errorf("reused id = %d, want 1 (smallest free)", n3.ID)
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create(Spec{Name: "n1", Kind: KindDefault}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create(Spec{Name: "n1", Kind: KindDefault}); err == nil {
		t.Error("expected duplicate name error")
	}
}

func TestCreateRejectsDuplicateExplicitID(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create(Spec{ID: 5, Name: "a", Kind: KindDefault}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create(Spec{ID: 5, Name: "b", Kind: KindDefault}); err == nil {
		t.Error("expected duplicate id error")
	}
}

func TestCreateRejectsUnknownKind(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create(Spec{Name: "a", Kind: Kind("bogus")}); err == nil {
		t.Error("expected unknown kind validation error")
	}
}

func TestRenameEnforcesUniqueness(t *testing.T) {
	r := NewRegistry()
	n1, _ := r.Create(Spec{Name: "a", Kind: KindDefault})
	r.Create(Spec{Name: "b", Kind: KindDefault})

	if err := r.Rename(n1.ID, "b"); err == nil {
		t.Error("expected rename collision error")
	}
	if err := r.Rename(n1.ID, "c"); err != nil {
		t.Fatal(err)
	}
	if got, err := r.GetByName("c"); err != nil || got.ID != n1.ID {
		t.Errorf("rename did not take effect: %v, %v", got, err)
	}
}

func TestAllReturnsSortedByID(t *testing.T) {
	r := NewRegistry()
	r.Create(Spec{ID: 5, Name: "e", Kind: KindDefault})
	r.Create(Spec{ID: 1, Name: "a", Kind: KindDefault})
	r.Create(Spec{ID: 3, Name: "c", Kind: KindDefault})

	all := r.All()
	var prev uint32
	for _, n := range all {
		if n.ID < prev {
			t.Fatalf("not sorted: %v", all)
		}
		prev = n.ID
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
}

func TestGetNotFound(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get(99); err == nil {
		t.Error("expected NotFound error")
	}
}

func TestGenerateMACDeterministic(t *testing.T) {
	a := GenerateMAC(1, 2, 3)
	b := GenerateMAC(1, 2, 3)
	if a != b {
		t.Errorf("GenerateMAC not deterministic: %s != %s", a, b)
	}
	c := GenerateMAC(1, 2, 4)
	if a == c {
		t.Errorf("GenerateMAC collided across interface ids: %s", a)
	}
	if a[:9] != "00:00:00:" {
		t.Errorf("MAC prefix = %q, want 00:00:00:", a[:9])
	}
}

func TestHostVethNameEncodesIdentity(t *testing.T) {
	a := HostVethName(1, 2, 0)
	b := HostVethName(1, 3, 0)
	if a == b {
		t.Error("host veth names collided across nodes")
	}
}
