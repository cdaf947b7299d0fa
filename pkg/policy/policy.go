// Package policy holds the dependency-ordered set of resources compiled
// for one host: the Policy type, its Dependency edges, topological
// ordering, and the notify fan-out that propagates a dependency's change
// to everything depending on it.
package policy

import (
	"fmt"

	"github.com/jameshunt/clockwork/pkg/resource"
)

// Dependency records that resource A depends on resource B, by key.
type Dependency struct {
	A, B string
}

// Policy is the fully-compiled, dependency-ordered resource set for one
// host. Resources are indexed by key and kept in insertion order so that
// topological sort is deterministic for policies with no ordering
// constraint between two resources.
type Policy struct {
	Host string

	order []string
	byKey map[string]*resource.Resource
	deps  []Dependency
	seen  map[Dependency]bool
}

// New returns an empty Policy for the given host name.
func New(host string) *Policy {
	return &Policy{
		Host:  host,
		byKey: make(map[string]*resource.Resource),
		seen:  make(map[Dependency]bool),
	}
}

// AddResource registers r under its key. Registering the same key twice
// returns an error: resource keys must be unique within a policy.
func (p *Policy) AddResource(r *resource.Resource) error {
	key := r.Key()
	if _, exists := p.byKey[key]; exists {
		return fmt.Errorf("policy: duplicate resource key %q", key)
	}
	p.byKey[key] = r
	p.order = append(p.order, key)
	return nil
}

// Resource looks up a resource by its "kind:identifier" key.
func (p *Policy) Resource(key string) (*resource.Resource, bool) {
	r, ok := p.byKey[key]
	return r, ok
}

// Reorder replaces the policy's iteration order with the given resources,
// which must be a permutation of the policy's existing resource set. It is
// used by the manifest compiler to commit the topologically sorted order
// as the policy's canonical order once compilation succeeds.
func (p *Policy) Reorder(ordered []*resource.Resource) {
	order := make([]string, 0, len(ordered))
	for _, r := range ordered {
		order = append(order, r.Key())
	}
	p.order = order
}

// Resources returns every resource in the policy, in the policy's current
// order: insertion order until Reorder replaces it.
func (p *Policy) Resources() []*resource.Resource {
	out := make([]*resource.Resource, 0, len(p.order))
	for _, k := range p.order {
		out = append(out, p.byKey[k])
	}
	return out
}

// AddDependency records that the resource named a depends on the resource
// named b. Both must already be registered via AddResource. Duplicate
// edges are silently deduplicated.
func (p *Policy) AddDependency(a, b string) error {
	if _, ok := p.byKey[a]; !ok {
		return fmt.Errorf("policy: dependency references unknown resource %q", a)
	}
	if _, ok := p.byKey[b]; !ok {
		return fmt.Errorf("policy: dependency references unknown resource %q", b)
	}
	d := Dependency{A: a, B: b}
	if p.seen[d] {
		return nil
	}
	p.seen[d] = true
	p.deps = append(p.deps, d)
	p.byKey[a].AddDependency(p.byKey[b])
	return nil
}

// Dependencies returns every dependency edge registered on the policy.
func (p *Policy) Dependencies() []Dependency {
	return append([]Dependency(nil), p.deps...)
}

// ErrCyclicDependency is returned by TopoSort when the dependency graph
// contains a cycle.
type ErrCyclicDependency struct {
	Remaining []string
}

func (e *ErrCyclicDependency) Error() string {
	return fmt.Sprintf("policy: cyclic dependency involving resources %v", e.Remaining)
}

// TopoSort returns the policy's resources ordered so that every resource
// appears after everything it depends on, using a ready-list algorithm:
// resources with no unresolved dependencies are repeatedly peeled off in
// insertion order. If resources remain after no further progress can be
// made, the graph contains a cycle and ErrCyclicDependency is returned.
func (p *Policy) TopoSort() ([]*resource.Resource, error) {
	remaining := make(map[string]*resource.Resource, len(p.byKey))
	for k, v := range p.byKey {
		remaining[k] = v
	}

	var ordered []*resource.Resource
	for len(remaining) > 0 {
		var ready []string
		for _, k := range p.order {
			r, ok := remaining[k]
			if !ok {
				continue
			}
			if allResolved(r, remaining) {
				ready = append(ready, k)
			}
		}
		if len(ready) == 0 {
			left := make([]string, 0, len(remaining))
			for k := range remaining {
				left = append(left, k)
			}
			return nil, &ErrCyclicDependency{Remaining: left}
		}
		for _, k := range ready {
			ordered = append(ordered, remaining[k])
			delete(remaining, k)
		}
	}
	return ordered, nil
}

func allResolved(r *resource.Resource, remaining map[string]*resource.Resource) bool {
	for _, dep := range r.Dependencies() {
		if _, stillPending := remaining[dep.Key()]; stillPending {
			return false
		}
	}
	return true
}

// Notify walks the policy's dependency edges once, firing
// resource.Resource.Notify on every resource that depends (directly) on
// the resource identified by causeKey. Each dependency edge fires its
// Notify at most once per call, matching Notify's own dedup-by-cause
// behavior. It returns the set of resources that were newly notified (and
// therefore need to be re-Stat'd before Fixup).
func Notify(p *Policy, causeKey string) []*resource.Resource {
	var notified []*resource.Resource
	for _, d := range p.deps {
		if d.B != causeKey {
			continue
		}
		r, ok := p.byKey[d.A]
		if !ok {
			continue
		}
		if r.Notify(causeKey) {
			notified = append(notified, r)
		}
	}
	return notified
}
