package cli

import (
	"reflect"
	"testing"
)

func TestVisualLenStripsANSI(t *testing.T) {
	if n := visualLen(Green("ok")); n != 2 {
		t.Errorf("visualLen(Green(\"ok\")) = %d, want 2", n)
	}
}

func TestCapWidthsNeverShrinksBelowHeader(t *testing.T) {
	headers := []string{"NAME", "STATUS"}
	widths := []int{20, 30}
	got := capWidths(widths, headers, 10, 0)
	want := []int{len("NAME"), len("STATUS")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("capWidths = %v, want %v", got, want)
	}
}

func TestWrapCellSplitsOnWordBoundaries(t *testing.T) {
	lines := wrapCell("one two three", 7)
	want := []string{"one two", "three"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("wrapCell = %v, want %v", lines, want)
	}
}

func TestDotPadFillsToWidth(t *testing.T) {
	got := DotPad("sshd", 10)
	if len(got) != 10 {
		t.Errorf("DotPad length = %d, want 10", len(got))
	}
	if got[:4] != "sshd" {
		t.Errorf("DotPad = %q, want prefix \"sshd\"", got)
	}
}
