package session

import "github.com/coreemu/coreemu/internal/coreerr"

// State is one of the six states in the session lifecycle (§4.1). The
// transient mobility signals (Start, Stop, Pause) are not session states —
// they are carried directly to the mobility engine (pkg/mobility) and never
// appear here.
type State string

const (
	StateDefinition    State = "definition"
	StateConfiguration State = "configuration"
	StateInstantiation State = "instantiation"
	StateRuntime       State = "runtime"
	StateDataCollect   State = "datacollect"
	StateShutdown      State = "shutdown"
)

// legalEdges enumerates every permitted transition (§4.1):
//   Definition -> Configuration -> Instantiation -> Runtime -> DataCollect -> Shutdown
//   any state -> Shutdown
//   Definition <-> Configuration
var legalEdges = map[State]map[State]bool{
	StateDefinition: {
		StateConfiguration: true,
		StateShutdown:      true,
	},
	StateConfiguration: {
		StateDefinition:    true,
		StateInstantiation: true,
		StateShutdown:      true,
	},
	StateInstantiation: {
		StateRuntime:  true,
		StateShutdown: true,
	},
	StateRuntime: {
		StateDataCollect: true,
		StateShutdown:    true,
	},
	StateDataCollect: {
		StateShutdown: true,
	},
	StateShutdown: {},
}

func checkEdge(from, to State) error {
	if from == to {
		return nil
	}
	if edges, ok := legalEdges[from]; ok && edges[to] {
		return nil
	}
	return coreerr.NewValidation("illegal state transition " + string(from) + " -> " + string(to))
}
