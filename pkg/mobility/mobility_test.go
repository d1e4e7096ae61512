package mobility

import "testing"

func TestInterpolateBetweenWaypoints(t *testing.T) {
	wps := []Waypoint{
		{OffsetMS: 0, X: 0, Y: 0, Z: 0},
		{OffsetMS: 1000, X: 10, Y: 20, Z: 0},
	}
	x, y, z, ok := interpolate(wps, 500)
	if !ok {
		t.Fatal("expected ok")
	}
	if x != 5 || y != 10 || z != 0 {
		t.Errorf("interpolate(500) = (%v,%v,%v), want (5,10,0)", x, y, z)
	}
}

func TestInterpolateClampsBeforeFirstAndAfterLast(t *testing.T) {
	wps := []Waypoint{
		{OffsetMS: 100, X: 1, Y: 1, Z: 1},
		{OffsetMS: 200, X: 2, Y: 2, Z: 2},
	}
	x, y, z, ok := interpolate(wps, 0)
	if !ok || x != 1 || y != 1 || z != 1 {
		t.Errorf("interpolate(0) = (%v,%v,%v,%v), want (1,1,1,true)", x, y, z, ok)
	}
	x, y, z, ok = interpolate(wps, 1000)
	if !ok || x != 2 || y != 2 || z != 2 {
		t.Errorf("interpolate(1000) = (%v,%v,%v,%v), want (2,2,2,true)", x, y, z, ok)
	}
}

func TestInterpolateEmptyScript(t *testing.T) {
	if _, _, _, ok := interpolate(nil, 0); ok {
		t.Error("expected ok=false for an empty waypoint list")
	}
}

func TestParseScriptSortsByOffset(t *testing.T) {
	s, err := ParseScript(1, [][4]float64{
		{500, 1, 1, 1},
		{0, 0, 0, 0},
		{1000, 2, 2, 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{0, 500, 1000}
	for i, wp := range s.Waypoints {
		if wp.OffsetMS != want[i] {
			t.Errorf("waypoint %d offset = %d, want %d", i, wp.OffsetMS, want[i])
		}
	}
}

func TestParseScriptRejectsEmpty(t *testing.T) {
	if _, err := ParseScript(1, nil); err == nil {
		t.Error("expected error for empty script")
	}
}

func TestLoadScriptThenScripts(t *testing.T) {
	e := New(nil, nil, 0, false)
	s, err := ParseScript(7, [][4]float64{{0, 0, 0, 0}})
	if err != nil {
		t.Fatal(err)
	}
	e.LoadScript(s)
	got := e.Scripts()
	if len(got) != 1 || got[0].NodeID != 7 {
		t.Fatalf("Scripts() = %+v, want one script for node 7", got)
	}
}
