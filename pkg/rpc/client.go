package rpc

import (
	"context"
	"encoding/base64"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a thin typed wrapper over a grpc.ClientConn dialed against a
// coreemu server — used by cmd/coresh as a driver and by pkg/peer to forward
// operations to a remote host (§4.8).
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an already-dialed connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) call(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func must(values map[string]interface{}) *structpb.Struct {
	st, err := reply(values)
	if err != nil {
		panic(err) // values come from call sites below, always representable
	}
	return st
}

// SessionCreate creates a new session and returns its id.
func (c *Client) SessionCreate(ctx context.Context) (uint32, error) {
	out, err := c.call(ctx, "SessionCreate", must(nil))
	if err != nil {
		return 0, err
	}
	id, err := fieldUint32(out, "session_id")
	return id, err
}

// SessionDelete tears down and removes sessionID.
func (c *Client) SessionDelete(ctx context.Context, sessionID uint32) error {
	_, err := c.call(ctx, "SessionDelete", must(map[string]interface{}{"session_id": sessionID}))
	return err
}

// SessionSetState requests a session state transition.
func (c *Client) SessionSetState(ctx context.Context, sessionID uint32, target string) error {
	_, err := c.call(ctx, "SessionSetState", must(map[string]interface{}{
		"session_id": sessionID, "target_state": target,
	}))
	return err
}

// SessionSetConfig merges kv into sessionID's configuration.
func (c *Client) SessionSetConfig(ctx context.Context, sessionID uint32, kv map[string]string) error {
	cfg := make(map[string]interface{}, len(kv))
	for k, v := range kv {
		cfg[k] = v
	}
	cfgStruct, err := structpb.NewStruct(cfg)
	if err != nil {
		return err
	}
	in := must(map[string]interface{}{"session_id": sessionID})
	in.Fields["config"] = structpb.NewStructValue(cfgStruct)
	_, err = c.call(ctx, "SessionSetConfig", in)
	return err
}

// NodeCreate creates a node of kind/model in sessionID and returns its id.
func (c *Client) NodeCreate(ctx context.Context, sessionID uint32, name, kind, model string) (uint32, error) {
	out, err := c.call(ctx, "NodeCreate", must(map[string]interface{}{
		"session_id": sessionID, "name": name, "kind": kind, "model": model,
	}))
	if err != nil {
		return 0, err
	}
	id, err := fieldUint32(out, "node_id")
	return id, err
}

// NodeDelete removes nodeID from sessionID.
func (c *Client) NodeDelete(ctx context.Context, sessionID, nodeID uint32) error {
	_, err := c.call(ctx, "NodeDelete", must(map[string]interface{}{
		"session_id": sessionID, "node_id": nodeID,
	}))
	return err
}

// IfaceAdd attaches nodeID to networkID and returns the new interface id.
func (c *Client) IfaceAdd(ctx context.Context, sessionID, nodeID, networkID uint32) (int, error) {
	out, err := c.call(ctx, "IfaceAdd", must(map[string]interface{}{
		"session_id": sessionID, "node_id": nodeID, "network_id": networkID,
	}))
	if err != nil {
		return 0, err
	}
	id, err := fieldUint32(out, "iface_id")
	return int(id), err
}

// LinkOpts carries the optional per-direction impairment fields of
// link.add/link.update (§4.3) — any subset may be set.
type LinkOpts struct {
	ANode, AVeth, AMAC string
	ZNode, ZVeth, ZMAC string
	BandwidthBPS       uint64
	DelayUS            uint32
	JitterUS           uint32
	LossPPM            uint32
	DuplicatePPM       uint32
	Unidirectional     bool
}

func (o LinkOpts) toFields(sessionID, networkID uint32) map[string]interface{} {
	return map[string]interface{}{
		"session_id": sessionID, "network_id": networkID,
		"a_node": o.ANode, "a_veth": o.AVeth, "a_mac": o.AMAC,
		"z_node": o.ZNode, "z_veth": o.ZVeth, "z_mac": o.ZMAC,
		"bandwidth_bps": o.BandwidthBPS, "delay_us": o.DelayUS, "jitter_us": o.JitterUS,
		"loss_ppm": o.LossPPM, "duplicate_ppm": o.DuplicatePPM, "unidirectional": o.Unidirectional,
	}
}

// LinkAdd establishes a link on networkID with opts.
func (c *Client) LinkAdd(ctx context.Context, sessionID, networkID uint32, opts LinkOpts) error {
	_, err := c.call(ctx, "LinkAdd", must(opts.toFields(sessionID, networkID)))
	return err
}

// LinkUpdate replaces the impairment on an existing link.
func (c *Client) LinkUpdate(ctx context.Context, sessionID, networkID uint32, opts LinkOpts) error {
	_, err := c.call(ctx, "LinkUpdate", must(opts.toFields(sessionID, networkID)))
	return err
}

// LinkDelete removes the link between opts' endpoints.
func (c *Client) LinkDelete(ctx context.Context, sessionID, networkID uint32, opts LinkOpts) error {
	_, err := c.call(ctx, "LinkDelete", must(opts.toFields(sessionID, networkID)))
	return err
}

// SessionExportXML returns the persisted XML form of sessionID (§6
// xml.export).
func (c *Client) SessionExportXML(ctx context.Context, sessionID uint32) ([]byte, error) {
	out, err := c.call(ctx, "SessionExportXML", must(map[string]interface{}{"session_id": sessionID}))
	if err != nil {
		return nil, err
	}
	encoded := mustString(out, "xml")
	return base64.StdEncoding.DecodeString(encoded)
}

// SessionImportXML materializes data as a new session and returns its id
// (§6 xml.import).
func (c *Client) SessionImportXML(ctx context.Context, data []byte) (uint32, error) {
	out, err := c.call(ctx, "SessionImportXML", must(map[string]interface{}{
		"xml": base64.StdEncoding.EncodeToString(data),
	}))
	if err != nil {
		return 0, err
	}
	return fieldUint32(out, "session_id")
}

// WirelessLinkState pushes a reachability transition for a WLAN pair.
func (c *Client) WirelessLinkState(ctx context.Context, sessionID, networkID uint32, nodeA, macA, vethA, nodeB, macB, vethB string, up bool) error {
	_, err := c.call(ctx, "WirelessLinkState", must(map[string]interface{}{
		"session_id": sessionID, "network_id": networkID,
		"node_a": nodeA, "mac_a": macA, "veth_a": vethA,
		"node_b": nodeB, "mac_b": macB, "veth_b": vethB,
		"up": up,
	}))
	return err
}
