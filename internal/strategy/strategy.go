// Package strategy defines the Strategy plug-in interface and a registry
// of concrete strategies the Executor fans out to each cycle.
package strategy

import (
	"context"
	"sync"

	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/atlas-desktop/trading-backend/internal/signal"
	"github.com/atlas-desktop/trading-backend/pkg/market"
	"go.uber.org/zap"
)

// Strategy is the minimal capability set the Executor requires of a
// plug-in. Implementations own no mutable cross-strategy state.
type Strategy interface {
	Name() string
	GenerateSignal(ctx context.Context, md *market.Data) (*signal.Signal, error)
	RiskProfile() risk.RiskProfile
	OnSignalExecuted(sig *signal.Signal, result signal.ExecutionResultRef) error
	EntropyScore() float64
}

// Base provides RiskProfile plus the default no-op OnSignalExecuted and
// EntropyScore so concrete strategies only need to implement
// Name/GenerateSignal.
type Base struct {
	logger *zap.Logger
	profile risk.RiskProfile
}

// NewBase constructs a Base with the given profile.
func NewBase(logger *zap.Logger, profile risk.RiskProfile) Base {
	return Base{logger: logger, profile: profile}
}

// RiskProfile returns the strategy's configured risk profile.
func (b Base) RiskProfile() risk.RiskProfile { return b.profile }

// OnSignalExecuted is a no-op by default.
func (b Base) OnSignalExecuted(*signal.Signal, signal.ExecutionResultRef) error { return nil }

// EntropyScore defaults to 0.5.
func (b Base) EntropyScore() float64 { return 0.5 }

// Registry manages available strategy factories.
type Registry struct {
	mu         sync.RWMutex
	factories  map[string]func() Strategy
	instances  map[string]Strategy
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]func() Strategy),
		instances: make(map[string]Strategy),
	}
}

// Register installs a factory under name.
func (r *Registry) Register(name string, factory func() Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns (constructing and caching on first use) the strategy
// instance for name.
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	if inst, ok := r.instances[name]; ok {
		r.mu.RUnlock()
		return inst, true
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[name]; ok {
		return inst, true
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, false
	}
	inst := factory()
	r.instances[name] = inst
	return inst, true
}

// List returns every registered strategy's active instance, constructing
// any not yet instantiated. Order is unspecified.
func (r *Registry) List() []Strategy {
	r.mu.RLock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	r.mu.RUnlock()

	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		if s, ok := r.Get(name); ok {
			out = append(out, s)
		}
	}
	return out
}

// Names returns the registered strategy names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// NewDefaultRegistry registers the built-in strategy set.
func NewDefaultRegistry(logger *zap.Logger) *Registry {
	r := NewRegistry()
	r.Register("momentum", func() Strategy { return NewMomentumStrategy(logger) })
	r.Register("mean_reversion", func() Strategy { return NewMeanReversionStrategy(logger) })
	r.Register("breakout", func() Strategy { return NewBreakoutStrategy(logger) })
	r.Register("trend_following", func() Strategy { return NewTrendFollowingStrategy(logger) })
	return r
}
