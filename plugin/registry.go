package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/skillsenselab/orbit/errors"
	"github.com/skillsenselab/orbit/logger"
	"github.com/skillsenselab/orbit/validation"
)

// Discoverer produces provider descriptors. The discovery mechanism
// (static manifest, binary scan) is an injected collaborator.
type Discoverer interface {
	Discover(ctx context.Context) ([]Descriptor, error)
}

// Registry holds the set of discovered provider descriptors. The descriptor
// set is read-mostly: Discover runs once at startup under exclusive access,
// reads afterwards need no coordination beyond the RWMutex.
type Registry struct {
	mu          sync.RWMutex
	discoverers []Discoverer
	descriptors map[string]Descriptor
	order       []string
	log         *logger.Logger
}

// NewRegistry creates a Registry backed by the given discoverers.
func NewRegistry(log *logger.Logger, discoverers ...Discoverer) *Registry {
	if log == nil {
		log = logger.Get("registry")
	}
	return &Registry{
		discoverers: discoverers,
		descriptors: make(map[string]Descriptor),
		log:         log,
	}
}

// Discover runs all discoverers and records their descriptors. Two
// descriptors sharing an id is a registration error surfaced here, never
// deferred to first use. The resulting order is a stable sort by id so
// conflicts are reproducible within a process run.
func (r *Registry) Discover(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	found := make(map[string]Descriptor)
	for _, d := range r.discoverers {
		descs, err := d.Discover(ctx)
		if err != nil {
			return fmt.Errorf("plugin discovery: %w", err)
		}
		for _, desc := range descs {
			if err := desc.Validate(); err != nil {
				return fmt.Errorf("plugin discovery: descriptor %q: %w", desc.ID, err)
			}
			if _, dup := found[desc.ID]; dup {
				return fmt.Errorf("plugin discovery: duplicate provider id %q", desc.ID)
			}
			found[desc.ID] = desc
		}
	}

	order := make([]string, 0, len(found))
	for id := range found {
		order = append(order, id)
	}
	sort.Strings(order)

	r.descriptors = found
	r.order = order

	for _, id := range order {
		desc := found[id]
		r.log.Info("provider discovered", logger.Fields(
			logger.FieldProvider, desc.ID,
			logger.FieldCategory, string(desc.Category),
		))
	}
	return nil
}

// Descriptors returns all discovered descriptors sorted by id.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.descriptors[id])
	}
	return out
}

// Lookup returns the descriptor for id, or a NOT_FOUND error.
func (r *Registry) Lookup(id string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.descriptors[id]
	if !ok {
		return Descriptor{}, errors.NotFound(id)
	}
	return desc, nil
}

// ValidateConfig checks caller-supplied configuration against the
// descriptor's schema. Returns NOT_FOUND for unknown ids and CONFIG_INVALID
// when the configuration does not satisfy the schema.
func (r *Registry) ValidateConfig(id string, cfg map[string]any) error {
	desc, err := r.Lookup(id)
	if err != nil {
		return err
	}

	if desc.ConfigSchema == nil {
		if len(cfg) > 0 {
			return errors.ConfigInvalid(id, "provider accepts no configuration")
		}
		return nil
	}
	if cfg == nil {
		cfg = map[string]any{}
	}

	schemaType := reflect.Indirect(reflect.ValueOf(desc.ConfigSchema)).Type()
	target := reflect.New(schemaType).Interface()

	raw, err := json.Marshal(cfg)
	if err != nil {
		return errors.ConfigInvalid(id, err.Error())
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return errors.ConfigInvalid(id, err.Error())
	}

	if err := validation.Validate(target); err != nil {
		if appErr, ok := errors.AsAppError(err); ok {
			return errors.ConfigInvalid(id, appErr.Message).WithDetails(appErr.Details)
		}
		return errors.ConfigInvalid(id, err.Error())
	}
	return nil
}

// StaticDiscoverer serves a fixed descriptor list (manifest- or
// config-driven registration).
type StaticDiscoverer struct {
	descriptors []Descriptor
}

// NewStaticDiscoverer creates a discoverer over a fixed descriptor set.
func NewStaticDiscoverer(descriptors ...Descriptor) *StaticDiscoverer {
	return &StaticDiscoverer{descriptors: descriptors}
}

// Discover returns the static descriptor set.
func (s *StaticDiscoverer) Discover(_ context.Context) ([]Descriptor, error) {
	out := make([]Descriptor, len(s.descriptors))
	copy(out, s.descriptors)
	return out, nil
}
