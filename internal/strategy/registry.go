// registry.go enforces the single-active-strategy rule: at most one
// strategy instance exists at a time, and switching strategies stops the
// previous one before the replacement is constructed.
package strategy

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Registry holds the available strategy implementations and the one active
// instance.
type Registry struct {
	logger *slog.Logger

	mu        sync.Mutex
	factories map[string]Factory
	descs     map[string]Descriptor
	order     []string
	active    Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger.With("component", "strategies"),
		factories: map[string]Factory{},
		descs:     map[string]Descriptor{},
	}
}

// RegisterBuiltins registers the shipped strategies.
func RegisterBuiltins(r *Registry) {
	r.Register(ArbitrageDescriptor(), NewArbitrage)
	r.Register(GridDescriptor(), NewGrid)
}

// Register adds a strategy implementation. Re-registering an id replaces it.
func (r *Registry) Register(desc Descriptor, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[desc.ID]; !exists {
		r.order = append(r.order, desc.ID)
	}
	r.factories[desc.ID] = factory
	r.descs[desc.ID] = desc
}

// Describe returns the descriptor for one strategy id.
func (r *Registry) Describe(id string) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descs[id]
	return d, ok
}

// DescribeAll returns all descriptors in registration order.
func (r *Registry) DescribeAll() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.descs[id])
	}
	return out
}

// SetActive stops any current strategy and constructs the named one with
// the given parameters. The new instance is not started. A construction
// failure leaves no active strategy.
func (r *Registry) SetActive(id string, gw Gateway, params Params) error {
	r.mu.Lock()
	factory, ok := r.factories[id]
	prev := r.active
	r.active = nil
	r.mu.Unlock()

	if prev != nil && prev.IsRunning() {
		prev.Stop()
	}
	if !ok {
		return fmt.Errorf("unknown strategy: %s", id)
	}

	s, err := factory(gw, params.Clone(), r.logger)
	if err != nil {
		r.logger.Error("strategy construction failed", "strategy", id, "error", err)
		return err
	}

	r.mu.Lock()
	r.active = s
	r.mu.Unlock()
	r.logger.Info("active strategy set", "strategy", id)
	return nil
}

// ClearActive stops and drops the active strategy, if any.
func (r *Registry) ClearActive() {
	r.mu.Lock()
	prev := r.active
	r.active = nil
	r.mu.Unlock()

	if prev != nil && prev.IsRunning() {
		prev.Stop()
	}
}

// Active returns the active strategy, nil when none is set.
func (r *Registry) Active() Strategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// StartActive starts the active strategy. Returns an error when none is set.
func (r *Registry) StartActive() error {
	s := r.Active()
	if s == nil {
		return fmt.Errorf("no active strategy")
	}
	s.Start()
	return nil
}

// StopActive stops the active strategy. Returns an error when none is set.
func (r *Registry) StopActive() error {
	s := r.Active()
	if s == nil {
		return fmt.Errorf("no active strategy")
	}
	s.Stop()
	return nil
}

// Status is the control-plane view of the active strategy.
type Status struct {
	Active      bool         `json:"active"`
	ID          string       `json:"id,omitempty"`
	Name        string       `json:"name,omitempty"`
	Running     bool         `json:"running"`
	Parameters  Params       `json:"parameters,omitempty"`
	Performance *Performance `json:"performance,omitempty"`
	LastUpdate  *time.Time   `json:"last_update,omitempty"`
}

// ActiveStatus snapshots the active strategy for the control plane.
func (r *Registry) ActiveStatus() Status {
	s := r.Active()
	if s == nil {
		return Status{}
	}

	desc := s.Descriptor()
	perf := s.Performance()
	status := Status{
		Active:      true,
		ID:          desc.ID,
		Name:        desc.Name,
		Running:     s.IsRunning(),
		Parameters:  s.Parameters(),
		Performance: &perf,
	}
	if last := s.LastTickTime(); !last.IsZero() {
		status.LastUpdate = &last
	}
	return status
}
