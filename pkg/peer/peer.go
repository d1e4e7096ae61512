// Package peer implements the distributed peer (C9): forwarding node and
// link operations to other coreemu hosts over the same gRPC service pkg/rpc
// exposes locally, splicing cross-host WLAN/switch bridges with GRE
// tunnels, and bootstrapping a remote host over SSH the way the session
// engine bootstraps a local node over its container runtime.
package peer

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/crypto/ssh"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/coreemu/coreemu/internal/config"
	"github.com/coreemu/coreemu/internal/coreerr"
	"github.com/coreemu/coreemu/internal/corelog"
	"github.com/coreemu/coreemu/pkg/rpc"
)

// SpliceBridge creates a GRE tunnel between localBridge and a peer host at
// remoteIP, then bridges the tunnel's local endpoint into localBridge —
// giving the two hosts' otherwise-separate bridges one shared broadcast
// domain for the first cross-host link on a network (§4.8). The caller is
// responsible for calling the mirror-image operation on the peer (via
// Bootstrap/Terminal or its own local engine) so both ends of the tunnel
// exist.
func SpliceBridge(localBridge, tunName string, localIP, remoteIP net.IP) error {
	attrs := netlink.NewLinkAttrs()
	attrs.Name = tunName
	gre := &netlink.Gretun{
		LinkAttrs: attrs,
		Local:     localIP,
		Remote:    remoteIP,
	}
	if err := netlink.LinkAdd(gre); err != nil {
		return coreerr.NewKernel("gre-add", tunName, err)
	}
	link, err := netlink.LinkByName(tunName)
	if err != nil {
		return coreerr.NewKernel("gre-find", tunName, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return coreerr.NewKernel("gre-up", tunName, err)
	}
	br, err := netlink.LinkByName(localBridge)
	if err != nil {
		return coreerr.NewKernel("bridge-find", localBridge, err)
	}
	if err := netlink.LinkSetMaster(link, br.(*netlink.Bridge)); err != nil {
		return coreerr.NewKernel("gre-set-master", tunName, err)
	}
	return nil
}

// Status is whether a peer channel is currently usable.
type Status int

const (
	StatusUp Status = iota
	StatusDegraded
)

// Peer is one remote coreemu host this process forwards operations to.
type Peer struct {
	Name    string
	Addr    string // host:port of the peer's gRPC listener
	status  Status
	conn    *grpc.ClientConn
	client  *rpc.Client
}

// Manager owns every configured peer connection and marks a peer degraded
// on the first Remote-classified failure, per §7's peer error handling:
// the failed forwarded operation returns a Remote error, and the peer stays
// degraded until the next Get reconnects it.
type Manager struct {
	mu    sync.Mutex
	peers map[string]*Peer
}

// New dials every peer named in settings.Peers ("name" -> "host:port").
// Dial failures are logged and leave that peer Degraded rather than
// aborting startup — a peer coming up later reconnects lazily on first use.
func New(settings *config.Settings) *Manager {
	m := &Manager{peers: make(map[string]*Peer)}
	for name, addr := range settings.Peers {
		p := &Peer{Name: name, Addr: addr, status: StatusDegraded}
		if conn, err := dial(addr); err != nil {
			corelog.Logger.Warnf("peer %s: initial dial failed: %v", name, err)
		} else {
			p.conn = conn
			p.client = rpc.NewClient(conn)
			p.status = StatusUp
		}
		m.peers[name] = p
	}
	return m
}

func dial(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// Get returns a peer by name, reconnecting first if it is degraded.
func (m *Manager) Get(name string) (*Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[name]
	if !ok {
		return nil, coreerr.NewNotFound("peer", name)
	}
	if p.status == StatusDegraded {
		conn, err := dial(p.Addr)
		if err != nil {
			return nil, coreerr.NewRemote(name, "reconnect", err)
		}
		p.conn = conn
		p.client = rpc.NewClient(conn)
		p.status = StatusUp
	}
	return p, nil
}

// markDegraded flags p as unusable after a forwarded call fails; the next
// Get retries the connection.
func (m *Manager) markDegraded(p *Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.status = StatusDegraded
}

// Status reports whether name is currently Up or Degraded.
func (m *Manager) Status(name string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[name]
	if !ok {
		return StatusDegraded, coreerr.NewNotFound("peer", name)
	}
	return p.status, nil
}

// ForwardNodeCreate asks peer to create a node on its own host and returns
// its remotely-assigned node id (§4.8 "node and link operations addressed
// to a peer host are forwarded over its control channel").
func (m *Manager) ForwardNodeCreate(ctx context.Context, peer string, sessionID uint32, name, kind, model string) (uint32, error) {
	p, err := m.Get(peer)
	if err != nil {
		return 0, err
	}
	id, err := p.client.NodeCreate(ctx, sessionID, name, kind, model)
	if err != nil {
		m.markDegraded(p)
		return 0, coreerr.NewRemote(peer, "node.create", err)
	}
	return id, nil
}

// ForwardLinkAdd asks peer to apply a link on its own host.
func (m *Manager) ForwardLinkAdd(ctx context.Context, peer string, sessionID, networkID uint32, opts rpc.LinkOpts) error {
	p, err := m.Get(peer)
	if err != nil {
		return err
	}
	if err := p.client.LinkAdd(ctx, sessionID, networkID, opts); err != nil {
		m.markDegraded(p)
		return coreerr.NewRemote(peer, "link.add", err)
	}
	return nil
}

// SSHConfig names the credentials used to bootstrap a peer host over SSH.
type SSHConfig struct {
	User       string
	PrivateKey []byte // PEM-encoded
}

// dialSSH opens an SSH connection to hostAddr, trusting any host key — the
// distributed peer list is an operator-curated trust boundary (§4.8), not
// an open network, so this mirrors the engine's own "trusted local root"
// posture rather than adding interactive host-key verification.
func dialSSH(hostAddr string, cfg SSHConfig) (*ssh.Client, error) {
	signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, coreerr.NewRemote(hostAddr, "ssh-parse-key", err)
	}
	client, err := ssh.Dial("tcp", hostAddr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	if err != nil {
		return nil, coreerr.NewRemote(hostAddr, "ssh-dial", err)
	}
	return client, nil
}

// Bootstrap starts (or verifies) the coreemu agent process on a peer host
// over SSH, the same role the container runtime plays for a local node:
// get a remote execution environment ready before any control-channel
// traffic is sent to it.
func Bootstrap(hostAddr string, cfg SSHConfig, agentPath string) error {
	client, err := dialSSH(hostAddr, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := runSSH(client, fmt.Sprintf("%s --version", agentPath)); err == nil {
		return nil // already running a reachable agent
	}
	return runSSH(client, fmt.Sprintf("nohup %s serve >/tmp/coreemu-agent.log 2>&1 &", agentPath))
}

// Terminal runs argv on a peer host over SSH and returns combined
// stdout/stderr — the distributed-peer analogue of node.terminal for a
// local container (§6).
func Terminal(hostAddr string, cfg SSHConfig, argv string) (string, error) {
	client, err := dialSSH(hostAddr, cfg)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", coreerr.NewRemote(hostAddr, "ssh-session", err)
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out
	if err := session.Run(argv); err != nil {
		return out.String(), coreerr.NewRemote(hostAddr, "ssh-run", err)
	}
	return out.String(), nil
}

func runSSH(client *ssh.Client, cmd string) error {
	session, err := client.NewSession()
	if err != nil {
		return coreerr.NewRemote(client.RemoteAddr().String(), "ssh-session", err)
	}
	defer session.Close()
	return session.Run(cmd)
}
