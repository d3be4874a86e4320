package group

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Juancal1728/multichat-relay/internal/store"
)

// Registry tracks group membership sets. Groups are created implicitly on
// first reference; membership add is idempotent. Every mutation persists
// the full snapshot synchronously before returning.
type Registry struct {
	store  store.RegistryStore
	logger *slog.Logger

	mu     sync.RWMutex
	groups map[string]map[string]struct{}
}

// NewRegistry loads any persisted membership snapshot. A load failure is
// logged and the registry starts empty.
func NewRegistry(st store.RegistryStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		store:  st,
		logger: logger,
		groups: make(map[string]map[string]struct{}),
	}

	loaded, err := st.LoadGroups()
	if err != nil {
		logger.Warn("failed to load groups, starting empty", "error", err)
		return r
	}
	for name, members := range loaded {
		set := make(map[string]struct{}, len(members))
		for _, m := range members {
			set[m] = struct{}{}
		}
		r.groups[name] = set
	}
	if len(r.groups) > 0 {
		logger.Info("loaded groups", "count", len(r.groups))
	}
	return r
}

// CreateGroup creates a group if absent and adds the creator as its first
// member when given. Idempotent on an existing name.
func (r *Registry) CreateGroup(name, creator string) error {
	r.mu.Lock()
	set, ok := r.groups[name]
	if !ok {
		set = make(map[string]struct{})
		r.groups[name] = set
	}
	if creator != "" {
		set[creator] = struct{}{}
	}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	return r.persist(snapshot)
}

// AddMember adds an identity to a group, creating the group if absent.
func (r *Registry) AddMember(name, identity string) error {
	r.mu.Lock()
	set, ok := r.groups[name]
	if !ok {
		set = make(map[string]struct{})
		r.groups[name] = set
	}
	set[identity] = struct{}{}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	return r.persist(snapshot)
}

// Members returns a group's member identities, empty for an unknown group.
func (r *Registry) Members(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.groups[name]
	if !ok {
		return nil
	}
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	sort.Strings(members)
	return members
}

// GroupsFor returns the groups an identity currently belongs to.
func (r *Registry) GroupsFor(identity string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, set := range r.groups {
		if _, ok := set[identity]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ListGroups returns every group name.
func (r *Registry) ListGroups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.groups))
	for name := range r.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RemoveFromAll removes an identity from every group it belongs to. Used
// by the identity deletion cascade.
func (r *Registry) RemoveFromAll(identity string) error {
	r.mu.Lock()
	changed := false
	for _, set := range r.groups {
		if _, ok := set[identity]; ok {
			delete(set, identity)
			changed = true
		}
	}
	var snapshot map[string][]string
	if changed {
		snapshot = r.snapshotLocked()
	}
	r.mu.Unlock()

	if !changed {
		return nil
	}
	return r.persist(snapshot)
}

// snapshotLocked copies the membership map for persistence. Callers must
// hold mu.
func (r *Registry) snapshotLocked() map[string][]string {
	snapshot := make(map[string][]string, len(r.groups))
	for name, set := range r.groups {
		members := make([]string, 0, len(set))
		for m := range set {
			members = append(members, m)
		}
		snapshot[name] = members
	}
	return snapshot
}

// persist writes the snapshot through to the registry store. In-memory
// state stays applied even when the write fails.
func (r *Registry) persist(snapshot map[string][]string) error {
	if err := r.store.SaveGroups(snapshot); err != nil {
		r.logger.Error("failed to persist groups", "error", err)
		return fmt.Errorf("persist groups: %w", err)
	}
	return nil
}
