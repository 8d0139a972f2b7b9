package ldap

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Snapshot is one complete generation of synthesized entries. It is never
// modified after NewSnapshot returns.
type Snapshot struct {
	generation string
	createdAt  time.Time

	groups       []*Entry
	units        []*Entry
	persons      []*Entry
	customGroups []*Entry

	personIndex map[string]*Entry // canonical DN -> person
}

// SnapshotStats summarizes a snapshot for logging and metrics.
type SnapshotStats struct {
	Generation          string
	CreatedAt           time.Time
	Groups              int
	OrganizationalUnits int
	Persons             int
	CustomGroups        int
}

// NewSnapshot derives custom groups from persons, stamps every entry with a
// fresh generation id and freezes them. Entries must not already belong to
// another snapshot.
func (l *Layout) NewSnapshot(groups, units, persons []*Entry) (*Snapshot, error) {
	customGroups, err := l.buildCustomGroups(persons)
	if err != nil {
		return nil, fmt.Errorf("build custom groups: %w", err)
	}

	s := &Snapshot{
		generation:   uuid.NewString(),
		createdAt:    time.Now(),
		groups:       groups,
		units:        units,
		persons:      persons,
		customGroups: customGroups,
		personIndex:  make(map[string]*Entry, len(persons)),
	}

	for _, p := range persons {
		if !p.IsPerson() {
			return nil, fmt.Errorf("entry %s is not a person", p.dn)
		}
	}

	for _, set := range [][]*Entry{groups, units, persons, customGroups} {
		for _, e := range set {
			if e.frozen {
				return nil, fmt.Errorf("entry %s already belongs to generation %s", e.dn, e.generation)
			}
		}
	}

	for _, set := range [][]*Entry{groups, units, persons, customGroups} {
		for _, e := range set {
			e.freeze(s.generation)
		}
	}

	for _, p := range persons {
		key := p.dn.Canonical()
		if _, exists := s.personIndex[key]; !exists {
			s.personIndex[key] = p
		}
	}

	return s, nil
}

// EmptySnapshot is served before the first sync pass completes.
func EmptySnapshot() *Snapshot {
	return &Snapshot{personIndex: map[string]*Entry{}}
}

// Generation returns the snapshot id, "" for the empty startup snapshot.
func (s *Snapshot) Generation() string {
	return s.generation
}

// Entries returns every entry in candidate order: groups, organizational
// units, persons, then custom groups.
func (s *Snapshot) Entries() []*Entry {
	out := make([]*Entry, 0, len(s.groups)+len(s.units)+len(s.persons)+len(s.customGroups))
	out = append(out, s.groups...)
	out = append(out, s.units...)
	out = append(out, s.persons...)
	out = append(out, s.customGroups...)
	return out
}

// FindPerson looks up a person by DN, case-insensitively.
func (s *Snapshot) FindPerson(dn DN) (*Entry, bool) {
	p, ok := s.personIndex[dn.Canonical()]
	return p, ok
}

// Stats returns entry counts for the snapshot.
func (s *Snapshot) Stats() SnapshotStats {
	return SnapshotStats{
		Generation:          s.generation,
		CreatedAt:           s.createdAt,
		Groups:              len(s.groups),
		OrganizationalUnits: len(s.units),
		Persons:             len(s.persons),
		CustomGroups:        len(s.customGroups),
	}
}

// Snapshots holds the current snapshot behind an atomically swapped
// reference. Readers call Load once per request and use only that value.
type Snapshots struct {
	current atomic.Pointer[Snapshot]
}

// NewSnapshots returns a holder serving the empty snapshot.
func NewSnapshots() *Snapshots {
	h := &Snapshots{}
	h.current.Store(EmptySnapshot())
	return h
}

// Load returns the latest published snapshot.
func (h *Snapshots) Load() *Snapshot {
	return h.current.Load()
}

// Publish makes s current and returns the snapshot it replaced.
func (h *Snapshots) Publish(s *Snapshot) *Snapshot {
	return h.current.Swap(s)
}

// Ready reports whether at least one sync pass has been published.
func (h *Snapshots) Ready() bool {
	return h.current.Load().generation != ""
}
