package servicesched

import (
	"reflect"
	"testing"
)

func TestOrderRespectsDependencies(t *testing.T) {
	catalog := Catalog{
		"base":    {Name: "base"},
		"sshd":    {Name: "sshd", Dependencies: []string{"base"}},
		"zebra":   {Name: "zebra", Dependencies: []string{"base"}},
		"bgpd":    {Name: "bgpd", Dependencies: []string{"zebra"}},
	}
	got := order(catalog, []string{"bgpd", "sshd"})
	want := []string{"base", "zebra", "bgpd", "sshd"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestOrderKeepsInsertionOrderForIndependentServices(t *testing.T) {
	catalog := Catalog{
		"charlie": {Name: "charlie"},
		"alpha":   {Name: "alpha"},
		"bravo":   {Name: "bravo"},
	}
	// None depend on each other, so top-level names resolve by the
	// insertion order of the names slice, not lexicographically; the
	// lexicographic tie-break applies only among a def's dependencies.
	got := order(catalog, []string{"charlie", "alpha", "bravo"})
	want := []string{"charlie", "alpha", "bravo"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestOrderSkipsUnknownDependency(t *testing.T) {
	catalog := Catalog{
		"sshd": {Name: "sshd", Dependencies: []string{"ghost"}},
	}
	got := order(catalog, []string{"sshd"})
	want := []string{"sshd"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestOrderDeduplicatesSharedDependency(t *testing.T) {
	catalog := Catalog{
		"base": {Name: "base"},
		"a":    {Name: "a", Dependencies: []string{"base"}},
		"b":    {Name: "b", Dependencies: []string{"base"}},
	}
	got := order(catalog, []string{"a", "b"})
	want := []string{"base", "a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}
