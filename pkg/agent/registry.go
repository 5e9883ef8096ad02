package agent

import (
	"fmt"
	"sync"

	"github.com/agentforge/core/pkg/eventbus"
)

// Constructor builds a fresh Contract for a new agent instance.
type Constructor func(id string) Contract

type registration struct {
	ctor   Constructor
	policy RestartPolicy
}

// Registry maps agent-type tags to constructors, generalizing the
// teacher's AgentFactory/ControllerFactory split (there keyed on a single
// config.AgentType enum) to an open set of string tags any component can
// register against.
type Registry struct {
	mu   sync.RWMutex
	regs map[string]registration
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{regs: make(map[string]registration)}
}

// Register adds a constructor for agentType. Re-registering the same tag
// overwrites the previous constructor.
func (reg *Registry) Register(agentType string, policy RestartPolicy, ctor Constructor) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.regs[agentType] = registration{ctor: ctor, policy: policy}
}

// Types lists every registered agent-type tag.
func (reg *Registry) Types() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]string, 0, len(reg.regs))
	for t := range reg.regs {
		out = append(out, t)
	}
	return out
}

// Build constructs a fresh Runtime for agentType, wired to the given event
// bus and options, but does not Start it.
func (reg *Registry) Build(agentType, id string, bus eventbus.EventBus, opts ...Option) (*Runtime, error) {
	reg.mu.RLock()
	r, ok := reg.regs[agentType]
	reg.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgentType, agentType)
	}

	contract := r.ctor(id)
	allOpts := append([]Option{WithRestartPolicy(r.policy)}, opts...)
	return New(id, agentType, contract, bus, allOpts...), nil
}
