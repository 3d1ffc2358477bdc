package provider

import "server/internal/domain"

// Route binds a job type to its primary adapter and, when the type supports
// automatic retry, the fallback adapter used after the first failure.
type Route struct {
	Primary  Adapter
	Fallback Adapter
}

// Registry resolves adapters by job type and by provider name. It is built
// once at startup from explicit configuration; there are no process-wide
// mutable singletons.
type Registry struct {
	routes map[domain.JobType]Route
	byName map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		routes: make(map[domain.JobType]Route),
		byName: make(map[string]Adapter),
	}
}

// Register wires a job type to its primary and optional fallback adapter.
func (r *Registry) Register(jobType domain.JobType, primary, fallback Adapter) {
	r.routes[jobType] = Route{Primary: primary, Fallback: fallback}
	r.byName[primary.Name()] = primary
	if fallback != nil {
		r.byName[fallback.Name()] = fallback
	}
}

// ForJobType returns the primary adapter for a job type.
func (r *Registry) ForJobType(t domain.JobType) (Adapter, bool) {
	route, ok := r.routes[t]
	if !ok {
		return nil, false
	}
	return route.Primary, true
}

// Fallback returns the alternate adapter for a job type, if the type
// supports automatic retry on a different provider.
func (r *Registry) Fallback(t domain.JobType) (Adapter, bool) {
	route, ok := r.routes[t]
	if !ok || route.Fallback == nil {
		return nil, false
	}
	return route.Fallback, true
}

// ByName returns the adapter registered under the given provider name.
func (r *Registry) ByName(name string) (Adapter, bool) {
	a, ok := r.byName[name]
	return a, ok
}
