// Package rpc exposes the driver-facing operations of §6 over gRPC. The
// same service definition is what C9's distributed peer dials against a
// remote coreemu instance to forward node/link operations (§4.8) — pkg/peer
// is simply a client of this package pointed at a different host.
//
// Request/response payloads are generic google.golang.org/protobuf
// well-known Struct values rather than per-method generated messages: the
// operation table in §6 is still evolving (node.edit's patch shape, for
// instance, is explicitly open-ended), so a dynamic payload avoids a
// .proto/generated-code round trip for every table change while still
// running on the real protobuf wire format and the real grpc.Server.
package rpc

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/coreemu/coreemu/internal/coreerr"
	"github.com/coreemu/coreemu/internal/engine"
	"github.com/coreemu/coreemu/pkg/linkengine"
	"github.com/coreemu/coreemu/pkg/network"
	"github.com/coreemu/coreemu/pkg/node"
	"github.com/coreemu/coreemu/pkg/session"
)

const serviceName = "coreemu.v1.CoreEmu"

// Handler is the server-side contract for the §6 driver-facing operations
// served over gRPC. session.addHook, node.edit, node.command, node.terminal,
// the mobility operations and events.subscribe are not part of it.
type Handler interface {
	SessionCreate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SessionDelete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SessionSetState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SessionSetConfig(context.Context, *structpb.Struct) (*structpb.Struct, error)
	NodeCreate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	NodeDelete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IfaceAdd(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LinkAdd(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LinkUpdate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LinkDelete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WirelessLinkState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SessionExportXML(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SessionImportXML(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// unaryHandler adapts one Handler method into a grpc.MethodDesc.Handler,
// the same shape protoc-gen-go-grpc emits per RPC — factored into one
// helper since every method here shares the decode/interceptor plumbing.
func unaryHandler(name string, call func(Handler, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(Handler), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
		wrapped := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(Handler), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, wrapped)
	}
}

// ServiceDesc registers Handler against a *grpc.Server, mirroring the
// *_grpc.pb.go a .proto compile would otherwise produce.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SessionCreate", Handler: unaryHandler("SessionCreate", Handler.SessionCreate)},
		{MethodName: "SessionDelete", Handler: unaryHandler("SessionDelete", Handler.SessionDelete)},
		{MethodName: "SessionSetState", Handler: unaryHandler("SessionSetState", Handler.SessionSetState)},
		{MethodName: "SessionSetConfig", Handler: unaryHandler("SessionSetConfig", Handler.SessionSetConfig)},
		{MethodName: "NodeCreate", Handler: unaryHandler("NodeCreate", Handler.NodeCreate)},
		{MethodName: "NodeDelete", Handler: unaryHandler("NodeDelete", Handler.NodeDelete)},
		{MethodName: "IfaceAdd", Handler: unaryHandler("IfaceAdd", Handler.IfaceAdd)},
		{MethodName: "LinkAdd", Handler: unaryHandler("LinkAdd", Handler.LinkAdd)},
		{MethodName: "LinkUpdate", Handler: unaryHandler("LinkUpdate", Handler.LinkUpdate)},
		{MethodName: "LinkDelete", Handler: unaryHandler("LinkDelete", Handler.LinkDelete)},
		{MethodName: "WirelessLinkState", Handler: unaryHandler("WirelessLinkState", Handler.WirelessLinkState)},
		{MethodName: "SessionExportXML", Handler: unaryHandler("SessionExportXML", Handler.SessionExportXML)},
		{MethodName: "SessionImportXML", Handler: unaryHandler("SessionImportXML", Handler.SessionImportXML)},
	},
	Metadata: "coreemu.proto",
}

// Server implements Handler against a process-wide session registry.
type Server struct {
	Registry *engine.Registry
}

// NewServer returns a Server dispatching onto reg.
func NewServer(reg *engine.Registry) *Server {
	return &Server{Registry: reg}
}

func (s *Server) SessionCreate(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	sess := s.Registry.Create()
	return reply(map[string]interface{}{"session_id": sess.ID})
}

func (s *Server) SessionDelete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := fieldUint32(in, "session_id")
	if err != nil {
		return nil, err
	}
	if err := s.Registry.Delete(ctx, id); err != nil {
		return nil, toStatus(err)
	}
	return reply(nil)
}

func (s *Server) SessionSetState(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.session(in)
	if err != nil {
		return nil, err
	}
	target, err := fieldString(in, "target_state")
	if err != nil {
		return nil, err
	}
	if err := sess.SetState(ctx, session.State(target)); err != nil {
		return nil, toStatus(err)
	}
	return reply(nil)
}

func (s *Server) SessionSetConfig(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.session(in)
	if err != nil {
		return nil, err
	}
	kv := make(map[string]string)
	if cfg, ok := in.Fields["config"]; ok {
		for k, v := range cfg.GetStructValue().GetFields() {
			kv[k] = v.GetStringValue()
		}
	}
	sess.SetConfig(kv)
	return reply(nil)
}

func (s *Server) NodeCreate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.session(in)
	if err != nil {
		return nil, err
	}
	name, _ := fieldString(in, "name")
	kind, _ := fieldString(in, "kind")
	model, _ := fieldString(in, "model")
	n, err := sess.CreateNode(node.Spec{Name: name, Kind: node.Kind(kind), Model: model})
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]interface{}{"node_id": n.ID})
}

func (s *Server) NodeDelete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.session(in)
	if err != nil {
		return nil, err
	}
	nodeID, err := fieldUint32(in, "node_id")
	if err != nil {
		return nil, err
	}
	if err := sess.DeleteNode(ctx, nodeID); err != nil {
		return nil, toStatus(err)
	}
	return reply(nil)
}

func (s *Server) IfaceAdd(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.session(in)
	if err != nil {
		return nil, err
	}
	nodeID, err := fieldUint32(in, "node_id")
	if err != nil {
		return nil, err
	}
	networkID, err := fieldUint32(in, "network_id")
	if err != nil {
		return nil, err
	}
	n, err := sess.Nodes.Get(nodeID)
	if err != nil {
		return nil, toStatus(err)
	}
	nw, ok := sess.Networks[networkID]
	if !ok {
		return nil, toStatus(coreerr.NewNotFound("network", fmt.Sprintf("%d", networkID)))
	}
	iface, err := sess.AttachInterface(n, nw)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]interface{}{"iface_id": iface.ID})
}

func (s *Server) LinkAdd(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.session(in)
	if err != nil {
		return nil, err
	}
	networkID, aEp, zEp, opts, err := linkFields(in)
	if err != nil {
		return nil, err
	}
	if err := sess.Links.LinkAdd(networkID, aEp, zEp, opts); err != nil {
		return nil, toStatus(err)
	}
	return reply(nil)
}

func (s *Server) LinkUpdate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.session(in)
	if err != nil {
		return nil, err
	}
	networkID, aEp, zEp, opts, err := linkFields(in)
	if err != nil {
		return nil, err
	}
	if err := sess.Links.LinkUpdate(networkID, aEp, zEp, opts); err != nil {
		return nil, toStatus(err)
	}
	return reply(nil)
}

func (s *Server) LinkDelete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.session(in)
	if err != nil {
		return nil, err
	}
	networkID, aEp, zEp, _, err := linkFields(in)
	if err != nil {
		return nil, err
	}
	if err := sess.Links.LinkDelete(networkID, aEp, zEp); err != nil {
		return nil, toStatus(err)
	}
	return reply(nil)
}

func (s *Server) WirelessLinkState(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.session(in)
	if err != nil {
		return nil, err
	}
	networkID, err := fieldUint32(in, "network_id")
	if err != nil {
		return nil, err
	}
	nw, ok := sess.Networks[networkID]
	if !ok {
		return nil, toStatus(coreerr.NewNotFound("network", fmt.Sprintf("%d", networkID)))
	}
	nodeA, _ := fieldString(in, "node_a")
	nodeB, _ := fieldString(in, "node_b")
	macA, _ := fieldString(in, "mac_a")
	macB, _ := fieldString(in, "mac_b")
	up, _ := fieldBool(in, "up")

	vethA, _ := fieldString(in, "veth_a")
	vethB, _ := fieldString(in, "veth_b")
	err = sess.Links.ApplyReachability(nw,
		linkengine.Endpoint{NodeName: nodeA, HostVeth: vethA, MAC: macA},
		linkengine.Endpoint{NodeName: nodeB, HostVeth: vethB, MAC: macB},
		linkengine.ReachabilityUpdate{NodeA: nodeA, MACA: macA, NodeB: nodeB, MACB: macB, Reachable: up},
	)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(nil)
}

// SessionExportXML returns the persisted XML form of a session (§6
// xml.export), base64-encoded since structpb has no bytes kind of its own.
func (s *Server) SessionExportXML(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := fieldUint32(in, "session_id")
	if err != nil {
		return nil, err
	}
	data, err := s.Registry.ExportXML(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]interface{}{"xml": base64.StdEncoding.EncodeToString(data)})
}

// SessionImportXML materializes a session from its persisted XML form (§6
// xml.import) and registers it under a freshly allocated session id.
func (s *Server) SessionImportXML(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	encoded, err := fieldString(in, "xml")
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, toStatus(coreerr.NewValidation("xml.import: payload is not valid base64"))
	}
	sess, err := s.Registry.ImportXML(data)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]interface{}{"session_id": sess.ID})
}

func (s *Server) session(in *structpb.Struct) (*session.Session, error) {
	id, err := fieldUint32(in, "session_id")
	if err != nil {
		return nil, err
	}
	sess, err := s.Registry.Get(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return sess, nil
}

func linkFields(in *structpb.Struct) (networkID uint32, a, z linkengine.Endpoint, opts network.Impairment, err error) {
	networkID, err = fieldUint32(in, "network_id")
	if err != nil {
		return
	}
	a = linkengine.Endpoint{
		NodeName: mustString(in, "a_node"),
		HostVeth: mustString(in, "a_veth"),
		MAC:      mustString(in, "a_mac"),
	}
	z = linkengine.Endpoint{
		NodeName: mustString(in, "z_node"),
		HostVeth: mustString(in, "z_veth"),
		MAC:      mustString(in, "z_mac"),
	}
	opts = network.Impairment{
		BandwidthBPS:   uint64(mustFloat(in, "bandwidth_bps")),
		DelayUS:        uint32(mustFloat(in, "delay_us")),
		JitterUS:       uint32(mustFloat(in, "jitter_us")),
		LossPPM:        uint32(mustFloat(in, "loss_ppm")),
		DuplicatePPM:   uint32(mustFloat(in, "duplicate_ppm")),
		Unidirectional: mustBool(in, "unidirectional"),
	}
	return
}

// toStatus maps the five coreerr kinds (§7) onto gRPC status codes so a
// client sees the same failure taxonomy over the wire that it would see
// calling the Go API directly.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errorsIs(err, coreerr.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errorsIs(err, coreerr.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errorsIs(err, coreerr.ErrKernel):
		return status.Error(codes.Internal, err.Error())
	case errorsIs(err, coreerr.ErrRemote):
		return status.Error(codes.Unavailable, err.Error())
	case errorsIs(err, coreerr.ErrCancelled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}
