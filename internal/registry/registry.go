// Package registry is the operator-managed site configuration: zones, doors,
// door areas and roles. Writes are validated before they can reach a feed loop.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"zoneguard/internal/model"
	"zoneguard/internal/storage"
)

const (
	DefaultZoneName  = "Restricted Zone"
	DefaultZoneColor = "#ef4444"
)

// Backend is the persistence the registry writes through. storage.Store satisfies it.
type Backend interface {
	LoadSite(ctx context.Context) (storage.Site, error)
	PutObject(ctx context.Context, kind, id string, value any) error
	DeleteObject(ctx context.Context, kind, id string) (bool, error)
}

func DefaultRoles() []string {
	return []string{"Visitor", "Worker", "Admin"}
}

func DefaultAreas() []model.DoorArea {
	return []model.DoorArea{
		{ID: "office1", Name: "Office 1", FaceFeedID: 0, DoorFeedID: 1, AllowedRoles: []string{"Admin"}},
		{ID: "office2", Name: "Office 2", FaceFeedID: 2, DoorFeedID: 3, AllowedRoles: []string{"Admin", "Worker"}},
	}
}

// Snapshot is what a feed loop needs for one frame.
type Snapshot struct {
	Zones []model.Zone
	Doors []model.Door
	Areas []model.DoorArea
}

type Registry struct {
	mu      sync.RWMutex
	zones   map[string]model.Zone
	doors   map[string]model.Door
	areas   map[string]model.DoorArea
	roles   map[string]string
	backend Backend
	newID   func() string
}

// New returns an empty registry. backend may be nil.
func New(backend Backend) *Registry {
	return &Registry{
		zones:   make(map[string]model.Zone),
		doors:   make(map[string]model.Door),
		areas:   make(map[string]model.DoorArea),
		roles:   make(map[string]string),
		backend: backend,
		newID:   uuid.NewString,
	}
}

// Load reads the backend and seeds default roles and door areas when none exist.
// Stored objects that no longer validate are skipped and returned as an error list.
func (r *Registry) Load(ctx context.Context) ([]error, error) {
	var site storage.Site
	if r.backend != nil {
		var err error
		if site, err = r.backend.LoadSite(ctx); err != nil {
			return nil, fmt.Errorf("load site: %w", err)
		}
	}
	var skipped []error

	r.mu.Lock()
	for _, z := range site.Zones {
		if err := ValidateZone(z); err != nil {
			skipped = append(skipped, fmt.Errorf("zone %s: %w", z.ID, err))
			continue
		}
		r.zones[z.ID] = z
	}
	for _, d := range site.Doors {
		if err := ValidateDoor(d); err != nil {
			skipped = append(skipped, fmt.Errorf("door %s: %w", d.ID, err))
			continue
		}
		r.doors[d.ID] = d
	}
	for _, a := range site.Areas {
		r.areas[a.ID] = a
	}
	for _, role := range site.Roles {
		r.roles[strings.ToLower(role)] = role
	}
	seedRoles := len(r.roles) == 0
	seedAreas := len(r.areas) == 0
	r.mu.Unlock()

	if seedRoles {
		for _, role := range DefaultRoles() {
			if err := r.AddRole(ctx, role); err != nil {
				return skipped, err
			}
		}
	}
	if seedAreas {
		if _, err := r.SetAreas(ctx, DefaultAreas()); err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

// Snapshot returns the active zones of feedID plus all doors and areas.
func (r *Registry) Snapshot(feedID int) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s Snapshot
	for _, z := range r.zones {
		if z.FeedID == feedID && z.Active {
			s.Zones = append(s.Zones, z)
		}
	}
	sort.Slice(s.Zones, func(i, j int) bool { return s.Zones[i].ID < s.Zones[j].ID })
	s.Doors = sortedDoors(r.doors)
	s.Areas = sortedAreas(r.areas)
	return s
}

// Zones lists zones, all feeds when feedID is nil.
func (r *Registry) Zones(feedID *int) []model.Zone {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Zone, 0, len(r.zones))
	for _, z := range r.zones {
		if feedID == nil || z.FeedID == *feedID {
			out = append(out, z)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Zone(id string) (model.Zone, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	z, ok := r.zones[id]
	if !ok {
		return model.Zone{}, fmt.Errorf("zone %s: %w", id, ErrNotFound)
	}
	return z, nil
}

func (r *Registry) CreateZone(ctx context.Context, z model.Zone) (model.Zone, error) {
	if strings.TrimSpace(z.ID) == "" {
		z.ID = r.newID()
	}
	if strings.TrimSpace(z.Name) == "" {
		z.Name = DefaultZoneName
	}
	if z.Color == "" {
		z.Color = DefaultZoneColor
	}
	if err := ValidateZone(z); err != nil {
		return model.Zone{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.put(ctx, storage.KindZone, z.ID, z); err != nil {
		return model.Zone{}, err
	}
	r.zones[z.ID] = z
	return z, nil
}

// UpdateZone applies patch to a copy of the zone and stores it if it still validates.
// A patch error is returned as is and nothing is stored.
func (r *Registry) UpdateZone(ctx context.Context, id string, patch func(*model.Zone) error) (model.Zone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	z, ok := r.zones[id]
	if !ok {
		return model.Zone{}, fmt.Errorf("zone %s: %w", id, ErrNotFound)
	}
	z.Points = append([]model.Point(nil), z.Points...)
	if err := patch(&z); err != nil {
		return model.Zone{}, err
	}
	z.ID = id
	if err := ValidateZone(z); err != nil {
		return model.Zone{}, err
	}
	if err := r.put(ctx, storage.KindZone, id, z); err != nil {
		return model.Zone{}, err
	}
	r.zones[id] = z
	return z, nil
}

func (r *Registry) DeleteZone(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.zones[id]; !ok {
		return fmt.Errorf("zone %s: %w", id, ErrNotFound)
	}
	if err := r.del(ctx, storage.KindZone, id); err != nil {
		return err
	}
	delete(r.zones, id)
	return nil
}

func (r *Registry) Doors() []model.Door {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedDoors(r.doors)
}

func (r *Registry) CreateDoor(ctx context.Context, d model.Door) (model.Door, error) {
	if strings.TrimSpace(d.ID) == "" {
		d.ID = r.newID()
	}
	if d.RestrictionLevel == "" {
		d.RestrictionLevel = model.LevelRestricted
	}
	if err := ValidateDoor(d); err != nil {
		return model.Door{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.put(ctx, storage.KindDoor, d.ID, d); err != nil {
		return model.Door{}, err
	}
	r.doors[d.ID] = d
	return d, nil
}

func (r *Registry) UpdateDoor(ctx context.Context, id string, patch func(*model.Door) error) (model.Door, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doors[id]
	if !ok {
		return model.Door{}, fmt.Errorf("door %s: %w", id, ErrNotFound)
	}
	d.AllowedRoles = append([]string(nil), d.AllowedRoles...)
	if err := patch(&d); err != nil {
		return model.Door{}, err
	}
	d.ID = id
	if err := ValidateDoor(d); err != nil {
		return model.Door{}, err
	}
	if err := r.put(ctx, storage.KindDoor, id, d); err != nil {
		return model.Door{}, err
	}
	r.doors[id] = d
	return d, nil
}

func (r *Registry) DeleteDoor(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.doors[id]; !ok {
		return fmt.Errorf("door %s: %w", id, ErrNotFound)
	}
	if err := r.del(ctx, storage.KindDoor, id); err != nil {
		return err
	}
	delete(r.doors, id)
	return nil
}

func (r *Registry) Areas() []model.DoorArea {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedAreas(r.areas)
}

// SetAreas replaces every door area.
func (r *Registry) SetAreas(ctx context.Context, areas []model.DoorArea) ([]model.DoorArea, error) {
	next := make(map[string]model.DoorArea, len(areas))
	for _, a := range areas {
		if err := ValidateArea(a); err != nil {
			return nil, err
		}
		if _, dup := next[a.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidArea, a.ID)
		}
		next[a.ID] = a
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.areas {
		if _, keep := next[id]; !keep {
			if err := r.del(ctx, storage.KindArea, id); err != nil {
				return nil, err
			}
		}
	}
	for id, a := range next {
		if err := r.put(ctx, storage.KindArea, id, a); err != nil {
			return nil, err
		}
	}
	r.areas = next
	return sortedAreas(next), nil
}

func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

// AddRole is idempotent; role names compare case-insensitively.
func (r *Registry) AddRole(ctx context.Context, role string) error {
	role = strings.TrimSpace(role)
	if role == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRole)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(role)
	if _, ok := r.roles[key]; ok {
		return nil
	}
	if err := r.put(ctx, storage.KindRole, role, role); err != nil {
		return err
	}
	r.roles[key] = role
	return nil
}

func (r *Registry) DeleteRole(ctx context.Context, role string) error {
	key := strings.ToLower(strings.TrimSpace(role))
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.roles[key]
	if !ok {
		return fmt.Errorf("role %s: %w", role, ErrNotFound)
	}
	if err := r.del(ctx, storage.KindRole, stored); err != nil {
		return err
	}
	delete(r.roles, key)
	return nil
}

func (r *Registry) put(ctx context.Context, kind, id string, v any) error {
	if r.backend == nil {
		return nil
	}
	if err := r.backend.PutObject(ctx, kind, id, v); err != nil {
		return fmt.Errorf("persist %s %s: %w", kind, id, err)
	}
	return nil
}

func (r *Registry) del(ctx context.Context, kind, id string) error {
	if r.backend == nil {
		return nil
	}
	if _, err := r.backend.DeleteObject(ctx, kind, id); err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	return nil
}

func sortedDoors(m map[string]model.Door) []model.Door {
	out := make([]model.Door, 0, len(m))
	for _, d := range m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedAreas(m map[string]model.DoorArea) []model.DoorArea {
	out := make([]model.DoorArea, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
