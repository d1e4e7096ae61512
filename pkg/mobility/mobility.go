// Package mobility advances node positions from a parsed waypoint script
// and triggers wireless reachability recomputation after each tick (C6).
package mobility

import (
	"sort"
	"sync"
	"time"

	"github.com/coreemu/coreemu/internal/coreerr"
	"github.com/coreemu/coreemu/pkg/node"
)

// Waypoint is one scripted position for a node at a given time offset.
type Waypoint struct {
	OffsetMS int64
	X, Y, Z  float64
}

// Script is a node's sorted waypoint list.
type Script struct {
	NodeID    uint32
	Waypoints []Waypoint // sorted by OffsetMS ascending
}

// ParseScript builds a Script from unordered (offsetMS, x, y, z) rows,
// sorting them by time offset (§4.6 "script parse produces a sorted list").
func ParseScript(nodeID uint32, rows [][4]float64) (*Script, error) {
	if len(rows) == 0 {
		return nil, coreerr.NewValidation("mobility script has no waypoints")
	}
	wps := make([]Waypoint, len(rows))
	for i, r := range rows {
		wps[i] = Waypoint{OffsetMS: int64(r[0]), X: r[1], Y: r[2], Z: r[3]}
	}
	sort.Slice(wps, func(i, j int) bool { return wps[i].OffsetMS < wps[j].OffsetMS })
	return &Script{NodeID: nodeID, Waypoints: wps}, nil
}

const defaultRefreshMS = 50

// ReachabilityFunc recomputes and applies reachability transitions for
// every pair after a tick has moved positions (§4.4 source 2).
type ReachabilityFunc func()

// Engine drives position updates for a set of per-node scripts on a single
// logical timer (C6). One Engine serves one wireless-capable network.
type Engine struct {
	mu         sync.Mutex
	refresh    time.Duration
	scripts    map[uint32]*Script
	nodes      *node.Registry
	recompute  ReachabilityFunc
	elapsedMS  int64
	loop       bool
	running    bool
	paused     bool
	stopSignal chan struct{}
	doneSignal chan struct{}
}

// New returns a mobility engine ticking every refreshMS (default 50 if 0)
// and driving positions for nodes in reg.
func New(reg *node.Registry, recompute ReachabilityFunc, refreshMS int, loop bool) *Engine {
	if refreshMS <= 0 {
		refreshMS = defaultRefreshMS
	}
	return &Engine{
		refresh:   time.Duration(refreshMS) * time.Millisecond,
		scripts:   make(map[uint32]*Script),
		nodes:     reg,
		recompute: recompute,
		loop:      loop,
	}
}

// LoadScript installs (or replaces) the waypoint script for a node. Per
// open question (b), mobility is suspended around the swap so an
// in-flight tick never observes a half-loaded script.
func (e *Engine) LoadScript(s *Script) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scripts[s.NodeID] = s
}

// Scripts returns a snapshot of every loaded waypoint script, for
// xml.export.
func (e *Engine) Scripts() []*Script {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Script, 0, len(e.scripts))
	for _, s := range e.scripts {
		out = append(out, s)
	}
	return out
}

// Start begins the tick loop. It is idempotent; calling Start on an
// already-running engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.paused = false
	e.stopSignal = make(chan struct{})
	e.doneSignal = make(chan struct{})
	e.mu.Unlock()

	go e.run()
}

// Pause freezes the tick loop in place, preserving last positions (§4.6).
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

// Resume un-freezes a paused engine.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
}

// Stop halts the tick loop, resets elapsed time to 0, and emits final
// positions — the last tick's positions remain on the Nodes (§4.6).
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopSignal)
	e.mu.Unlock()

	<-e.doneSignal

	e.mu.Lock()
	e.elapsedMS = 0
	e.mu.Unlock()
}

func (e *Engine) run() {
	defer close(e.doneSignal)
	ticker := time.NewTicker(e.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopSignal:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Engine) tick() {
	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()
		return
	}
	e.elapsedMS += e.refresh.Milliseconds()
	t := e.elapsedMS

	maxEnd := int64(0)
	for _, s := range e.scripts {
		if n := len(s.Waypoints); n > 0 && s.Waypoints[n-1].OffsetMS > maxEnd {
			maxEnd = s.Waypoints[n-1].OffsetMS
		}
	}
	if maxEnd > 0 && t > maxEnd {
		if e.loop {
			t = t % maxEnd
			e.elapsedMS = t
		}
	}

	for nodeID, s := range e.scripts {
		x, y, z, ok := interpolate(s.Waypoints, t)
		if !ok {
			continue
		}
		n, err := e.nodes.Get(nodeID)
		if err != nil {
			continue
		}
		n.SetPosition(x, y, z)
	}
	e.mu.Unlock()

	if e.recompute != nil {
		e.recompute()
	}
}

// interpolate linearly interpolates position at time t between the
// bracketing waypoints in wps. Before the first waypoint it returns the
// first position and after the last it returns the last position; ok is
// false only when wps is empty.
func interpolate(wps []Waypoint, t int64) (x, y, z float64, ok bool) {
	if len(wps) == 0 {
		return 0, 0, 0, false
	}
	if t <= wps[0].OffsetMS {
		return wps[0].X, wps[0].Y, wps[0].Z, true
	}
	last := wps[len(wps)-1]
	if t >= last.OffsetMS {
		return last.X, last.Y, last.Z, true
	}
	for i := 0; i < len(wps)-1; i++ {
		a, b := wps[i], wps[i+1]
		if t >= a.OffsetMS && t <= b.OffsetMS {
			span := float64(b.OffsetMS - a.OffsetMS)
			if span == 0 {
				return b.X, b.Y, b.Z, true
			}
			frac := float64(t-a.OffsetMS) / span
			return a.X + (b.X-a.X)*frac,
				a.Y + (b.Y-a.Y)*frac,
				a.Z + (b.Z-a.Z)*frac,
				true
		}
	}
	return 0, 0, 0, false
}
