package executor

import (
	"math/rand"

	"github.com/atlas-desktop/trading-backend/internal/signal"
)

// EntropyInjector perturbs a freshly generated signal's confidence to avoid
// deterministic, easily-gamed strategy behavior. drop reports whether the
// signal should be discarded entirely.
type EntropyInjector interface {
	Inject(sig *signal.Signal, score float64) (drop bool)
}

// defaultEntropyInjector adds Gaussian noise scaled by the strategy's own
// EntropyScore and randomly drops per skip_probability.
type defaultEntropyInjector struct {
	cfg  EntropyConfig
	rand *rand.Rand
}

func newDefaultEntropyInjector(cfg EntropyConfig, seed int64) *defaultEntropyInjector {
	return &defaultEntropyInjector{cfg: cfg, rand: rand.New(rand.NewSource(seed))}
}

func (e *defaultEntropyInjector) Inject(sig *signal.Signal, score float64) bool {
	if !e.cfg.Enabled {
		return false
	}
	if e.cfg.SkipProbability > 0 && e.rand.Float64() < e.cfg.SkipProbability {
		return true
	}

	noise := e.rand.NormFloat64() * e.cfg.NoiseStdDev * score
	sig.SetConfidence(sig.Confidence + noise)
	return sig.Confidence < e.cfg.MinConfidence
}
