package sources

import (
	"fmt"

	"github.com/JakeFAU/paperfetch/internal/newspaper"
)

// Registry resolves source ids and preserves a fixed discovery order.
type Registry struct {
	order []newspaper.LinkSource
	byID  map[string]newspaper.LinkSource
}

// NewRegistry builds a registry in the order the sources are given.
// Later sources with a duplicate id are ignored.
func NewRegistry(srcs ...newspaper.LinkSource) *Registry {
	r := &Registry{byID: make(map[string]newspaper.LinkSource, len(srcs))}
	for _, src := range srcs {
		if _, dup := r.byID[src.ID()]; dup {
			continue
		}
		r.byID[src.ID()] = src
		r.order = append(r.order, src)
	}
	return r
}

// Default returns every supported newspaper.
func Default(cfg Config) *Registry {
	return NewRegistry(
		NewPeople(cfg),
		NewEconomic(cfg),
		NewLegal(cfg),
		NewWorker(cfg),
		NewScience(cfg),
		NewXinhua(cfg),
	)
}

// All returns the sources in registry order.
func (r *Registry) All() []newspaper.LinkSource {
	out := make([]newspaper.LinkSource, len(r.order))
	copy(out, r.order)
	return out
}

// IDs returns the source ids in registry order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.order))
	for _, src := range r.order {
		ids = append(ids, src.ID())
	}
	return ids
}

// Lookup returns the source registered under id.
func (r *Registry) Lookup(id string) (newspaper.LinkSource, error) {
	src, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", newspaper.ErrUnknownSource, id)
	}
	return src, nil
}

// Resolve maps ids to sources in registry order, dropping duplicates.
// It fails on the first unknown id and when ids is empty.
func (r *Registry) Resolve(ids []string) ([]newspaper.LinkSource, error) {
	if len(ids) == 0 {
		return nil, newspaper.ErrNoSources
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, err := r.Lookup(id); err != nil {
			return nil, err
		}
		want[id] = struct{}{}
	}
	out := make([]newspaper.LinkSource, 0, len(want))
	for _, src := range r.order {
		if _, ok := want[src.ID()]; ok {
			out = append(out, src)
		}
	}
	return out, nil
}
