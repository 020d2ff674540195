package kem

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"time"
)

// CostModelConfig parameterises the table-driven exchanger used for
// large-scale simulation runs.
type CostModelConfig struct {
	// Seed drives all randomness in the exchanger. Identical seed and call
	// sequence reproduce identical exchanges.
	Seed int64
	// LinkMbps is the handshake link rate used for the transmission cost.
	// Zero disables the transmission term.
	LinkMbps float64
	// JitterFrac scatters each duration uniformly in
	// [1-JitterFrac, 1+JitterFrac]. Zero means fixed-cost exchanges.
	JitterFrac float64
	// FailureProb is the per-exchange probability of a modeled timeout.
	FailureProb float64
	// FixedDuration, when positive, overrides the profile-derived duration
	// entirely. Scenario studies use this to pin the exchange cost.
	FixedDuration time.Duration
}

// CostModel is an Exchanger backed by per-algorithm cost tables rather
// than real primitives. It is the implementation used for deterministic
// simulation; see Measured for the benchmarking twin.
type CostModel struct {
	cfg CostModelConfig
	rng *rand.Rand
	seq uint64
}

// NewCostModel builds a cost-table exchanger with its own seeded source.
func NewCostModel(cfg CostModelConfig) *CostModel {
	return &CostModel{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Begin starts one modeled encapsulation round at the given simulated
// instant. Unknown algorithms and sampled timeouts return *ExchangeError.
func (m *CostModel) Begin(now time.Time, algorithm string) (Exchange, error) {
	profile, ok := LookupProfile(algorithm)
	if !ok {
		return Exchange{}, &ExchangeError{Algorithm: algorithm, Reason: ReasonUnsupported}
	}

	// Draw in a fixed order so the consumed randomness per call is stable
	// regardless of outcome.
	failRoll := m.rng.Float64()
	jitterRoll := m.rng.Float64()
	var fp [8]byte
	m.rng.Read(fp[:])

	if m.cfg.FailureProb > 0 && failRoll < m.cfg.FailureProb {
		return Exchange{}, &ExchangeError{Algorithm: profile.Name, Reason: ReasonTimeout}
	}

	d := m.cfg.FixedDuration
	if d <= 0 {
		d = profile.ComputeCost() + profile.TransmitCost(m.cfg.LinkMbps)
	}
	if m.cfg.JitterFrac > 0 {
		scale := 1 + m.cfg.JitterFrac*(2*jitterRoll-1)
		d = time.Duration(float64(d) * scale)
	}

	m.seq++
	return Exchange{
		ID:             fmt.Sprintf("kex-%d", m.seq),
		Algorithm:      profile.Name,
		StartedAt:      now,
		CompletesAt:    now.Add(d),
		KeyFingerprint: hex.EncodeToString(fp[:]),
	}, nil
}
