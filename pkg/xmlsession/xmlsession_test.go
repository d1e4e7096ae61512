package xmlsession

import (
	"encoding/xml"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseRejectsUnknownSchemaVersion(t *testing.T) {
	data := []byte(`<session version="99" id="1" state="definition"></session>`)
	if _, err := Parse(data); err == nil {
		t.Error("expected error for unsupported schema version")
	}
}

func TestParseRejectsMalformedXML(t *testing.T) {
	if _, err := Parse([]byte("not xml")); err == nil {
		t.Error("expected error for malformed XML")
	}
}

func TestDocumentRoundTripsThroughXML(t *testing.T) {
	doc := &Document{
		XMLName: xml.Name{Local: "session"},
		Version: schemaVersion,
		ID:      7,
		State:   "runtime",
		Config:  []ConfigEntry{{Key: "mtu", Value: "1500"}},
		Networks: []NetworkElem{
			{ID: 1 << 16, Name: "n1", Kind: "switch", Policy: "", IPv4Prefix: "10.0.0.0/24"},
		},
		Nodes: []NodeElem{
			{
				ID: 1, Name: "n1", Kind: "default",
				Position: PositionElem{X: 1, Y: 2, Z: 0},
				Ifaces: []InterfaceElem{
					{ID: 0, Name: "eth0", MAC: "02:00:00:00:00:01", NetworkID: 1 << 16, IPv4: "10.0.0.1", IPv4Prefix: 24},
				},
			},
		},
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := Parse(out)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(doc, parsed); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}
