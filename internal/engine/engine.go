// Package engine holds the single process-wide registry mapping session id
// to *session.Session (§9 "Global state" design note): a single process-wide
// registry ensures no two sessions claim overlapping kernel-object names,
// and teardown on process exit iterates this registry.
package engine

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/coreemu/coreemu/internal/config"
	"github.com/coreemu/coreemu/internal/coreerr"
	"github.com/coreemu/coreemu/internal/corelog"
	"github.com/coreemu/coreemu/pkg/servicesched"
	"github.com/coreemu/coreemu/pkg/session"
	"github.com/coreemu/coreemu/pkg/xmlsession"
)

// Registry is the process-wide set of live sessions.
type Registry struct {
	mu       sync.Mutex
	settings *config.Settings
	catalog  servicesched.Catalog
	sessions map[uint32]*session.Session
	nextID   uint32
}

// New returns an empty registry that will hand every created Session the
// given settings and service catalog.
func New(settings *config.Settings, catalog servicesched.Catalog) *Registry {
	return &Registry{
		settings: settings,
		catalog:  catalog,
		sessions: make(map[uint32]*session.Session),
	}
}

// Create allocates the smallest free session id and returns a new Session in
// Definition state, registered under that id (§6 session.create).
func (r *Registry) Create() *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.smallestFreeIDLocked()
	s := session.New(id, r.settings, r.catalog)
	r.sessions[id] = s
	corelog.WithSession(id).Info("session created")
	return s
}

func (r *Registry) smallestFreeIDLocked() uint32 {
	for id := uint32(1); ; id++ {
		if _, used := r.sessions[id]; !used {
			return id
		}
	}
}

// Get looks up a session by id.
func (r *Registry) Get(id uint32) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, coreerr.NewNotFound("session", idString(id))
	}
	return s, nil
}

// Delete drives the session to Shutdown (if it isn't already there) and
// removes it from the registry (§6 session.delete).
func (r *Registry) Delete(ctx context.Context, id uint32) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return coreerr.NewNotFound("session", idString(id))
	}

	if err := s.SetState(ctx, session.StateShutdown); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	corelog.WithSession(id).Info("session deleted")
	return nil
}

// All returns every live session sorted by id.
func (r *Registry) All() []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint32, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*session.Session, len(ids))
	for i, id := range ids {
		out[i] = r.sessions[id]
	}
	return out
}

// Shutdown tears down every registered session, in ascending id order, for
// use at process exit (§9 "Teardown on process exit iterates this
// registry"). Errors are logged, not returned — shutdown proceeds best-effort
// through the remaining sessions.
func (r *Registry) Shutdown(ctx context.Context) {
	for _, s := range r.All() {
		if err := r.Delete(ctx, s.ID); err != nil {
			corelog.WithSession(s.ID).Errorf("shutdown: %v", err)
		}
	}
}

// ExportXML serializes a session to its persisted XML form (§6 session
// export, §8 round-trip law).
func (r *Registry) ExportXML(id uint32) ([]byte, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return xmlsession.ExportBytes(s)
}

// ImportXML parses a persisted XML session and materializes it as a new
// live session, registered under the smallest free id rather than the id
// recorded in the file — two operators importing the same export must not
// collide over a single process-wide id space (§9 "Global state").
func (r *Registry) ImportXML(data []byte) (*session.Session, error) {
	doc, err := xmlsession.Parse(data)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	id := r.smallestFreeIDLocked()
	r.mu.Unlock()
	doc.ID = id

	s, err := xmlsession.Materialize(doc, r.settings, r.catalog)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	corelog.WithSession(id).Info("session imported")
	return s, nil
}

func idString(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
