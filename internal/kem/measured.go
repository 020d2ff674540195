package kem

import (
	"crypto/mlkem"
	"encoding/hex"
	"fmt"
	"time"
)

// Measured is an Exchanger backed by real ML-KEM primitive calls. Each
// Begin runs one keygen/encapsulate/decapsulate round and uses the
// observed wall time as the modeled duration. It exists for overhead
// benchmarking on the host at hand; deterministic simulation runs use
// CostModel instead.
type Measured struct {
	seq uint64
}

// NewMeasured builds a primitive-backed exchanger.
func NewMeasured() *Measured { return &Measured{} }

// Begin executes one real encapsulation round. Only the parameter sets in
// the standard library are supported.
func (m *Measured) Begin(now time.Time, algorithm string) (Exchange, error) {
	profile, ok := LookupProfile(algorithm)
	if !ok {
		return Exchange{}, &ExchangeError{Algorithm: algorithm, Reason: ReasonUnsupported}
	}

	start := time.Now()
	var shared []byte
	switch profile.Name {
	case "ML-KEM-768":
		dk, err := mlkem.GenerateKey768()
		if err != nil {
			return Exchange{}, fmt.Errorf("ML-KEM-768 keygen: %w", err)
		}
		ss, ct := dk.EncapsulationKey().Encapsulate()
		if _, err := dk.Decapsulate(ct); err != nil {
			return Exchange{}, fmt.Errorf("ML-KEM-768 decapsulate: %w", err)
		}
		shared = ss
	case "ML-KEM-1024":
		dk, err := mlkem.GenerateKey1024()
		if err != nil {
			return Exchange{}, fmt.Errorf("ML-KEM-1024 keygen: %w", err)
		}
		ss, ct := dk.EncapsulationKey().Encapsulate()
		if _, err := dk.Decapsulate(ct); err != nil {
			return Exchange{}, fmt.Errorf("ML-KEM-1024 decapsulate: %w", err)
		}
		shared = ss
	default:
		return Exchange{}, &ExchangeError{Algorithm: profile.Name, Reason: ReasonUnsupported}
	}
	elapsed := time.Since(start)

	m.seq++
	return Exchange{
		ID:             fmt.Sprintf("kex-real-%d", m.seq),
		Algorithm:      profile.Name,
		StartedAt:      now,
		CompletesAt:    now.Add(elapsed),
		KeyFingerprint: hex.EncodeToString(shared[:8]),
	}, nil
}
