// Package statehandler implements the Apply/Unapply hooks that keep
// secondary indices (the processing, failed, succeeded, and deleted
// collections) consistent with a job's current state. Each handler
// operates exclusively through the write transaction it is given; none
// performs a side effect of its own.
package statehandler

import "context"

// Transaction is the subset of *redisstore.WriteTransaction a handler
// needs. Declared here (rather than importing redisstore) so this
// package has no dependency on the storage core's concrete type and can
// be unit-tested against a fake.
type Transaction interface {
	AddToSet(ctx context.Context, key, value string, score float64)
	RemoveFromSet(ctx context.Context, key, value string)
	InsertToList(ctx context.Context, key, value string)
	RemoveFromList(ctx context.Context, key, value string)
	TrimList(ctx context.Context, key string, start, end int64)
}

// Handler reacts to a job entering or leaving the state it is registered
// for.
type Handler interface {
	// StateName is the lifecycle state this handler fires on.
	StateName() string
	// Apply runs when a job enters StateName.
	Apply(ctx context.Context, tx Transaction, jobID string, now int64)
	// Unapply runs when a job leaves StateName for another state.
	Unapply(ctx context.Context, tx Transaction, jobID string)
}

// Registry maps state names to the handlers registered for them. More
// than one handler may be registered per state.
type Registry struct {
	handlers map[string][]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]Handler)}
}

// Register adds a handler, keyed by its own StateName.
func (r *Registry) Register(h Handler) {
	r.handlers[h.StateName()] = append(r.handlers[h.StateName()], h)
}

// For returns every handler registered for a state name.
func (r *Registry) For(stateName string) []Handler {
	return r.handlers[stateName]
}

// Count returns the number of distinct states with at least one handler.
func (r *Registry) Count() int {
	return len(r.handlers)
}

// ApplyAll runs every handler registered for newState's Apply hook.
func (r *Registry) ApplyAll(ctx context.Context, tx Transaction, jobID, newState string, now int64) {
	for _, h := range r.handlers[newState] {
		h.Apply(ctx, tx, jobID, now)
	}
}

// UnapplyAll runs every handler registered for oldState's Unapply hook.
func (r *Registry) UnapplyAll(ctx context.Context, tx Transaction, jobID, oldState string) {
	for _, h := range r.handlers[oldState] {
		h.Unapply(ctx, tx, jobID)
	}
}

// NewDefaultRegistry returns a registry pre-populated with the four
// handlers every deployment needs: Processing, Failed, Succeeded, Deleted.
func NewDefaultRegistry(succeededListSize, deletedListSize int64) *Registry {
	r := NewRegistry()
	r.Register(&processingHandler{})
	r.Register(&failedHandler{})
	r.Register(&succeededHandler{cap: succeededListSize})
	r.Register(&deletedHandler{cap: deletedListSize})
	return r
}
