package kem

import (
	"crypto/mlkem"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// BenchResult summarises a primitive benchmark for one algorithm.
type BenchResult struct {
	Algorithm       string
	PublicKeyBytes  int
	CiphertextBytes int
	KeygenMs        float64
	EncapsMs        float64
	DecapsMs        float64
}

// Benchmark times iterations of the real ML-KEM rounds for every
// parameter set the standard library provides. The means feed algorithm
// profile calibration for constrained platforms.
func Benchmark(iterations int) ([]BenchResult, error) {
	if iterations <= 0 {
		return nil, fmt.Errorf("iterations must be > 0, got %d", iterations)
	}

	res768, err := bench768(iterations)
	if err != nil {
		return nil, err
	}
	res1024, err := bench1024(iterations)
	if err != nil {
		return nil, err
	}
	return []BenchResult{res768, res1024}, nil
}

func bench768(iterations int) (BenchResult, error) {
	var keygen, encaps, decaps time.Duration
	var pkLen, ctLen int

	for i := 0; i < iterations; i++ {
		t0 := time.Now()
		dk, err := mlkem.GenerateKey768()
		if err != nil {
			return BenchResult{}, fmt.Errorf("ML-KEM-768 keygen: %w", err)
		}
		keygen += time.Since(t0)

		ek := dk.EncapsulationKey()
		t0 = time.Now()
		_, ct := ek.Encapsulate()
		encaps += time.Since(t0)

		t0 = time.Now()
		if _, err := dk.Decapsulate(ct); err != nil {
			return BenchResult{}, fmt.Errorf("ML-KEM-768 decapsulate: %w", err)
		}
		decaps += time.Since(t0)

		pkLen = len(ek.Bytes())
		ctLen = len(ct)
	}

	return BenchResult{
		Algorithm:       "ML-KEM-768",
		PublicKeyBytes:  pkLen,
		CiphertextBytes: ctLen,
		KeygenMs:        meanMs(keygen, iterations),
		EncapsMs:        meanMs(encaps, iterations),
		DecapsMs:        meanMs(decaps, iterations),
	}, nil
}

func bench1024(iterations int) (BenchResult, error) {
	var keygen, encaps, decaps time.Duration
	var pkLen, ctLen int

	for i := 0; i < iterations; i++ {
		t0 := time.Now()
		dk, err := mlkem.GenerateKey1024()
		if err != nil {
			return BenchResult{}, fmt.Errorf("ML-KEM-1024 keygen: %w", err)
		}
		keygen += time.Since(t0)

		ek := dk.EncapsulationKey()
		t0 = time.Now()
		_, ct := ek.Encapsulate()
		encaps += time.Since(t0)

		t0 = time.Now()
		if _, err := dk.Decapsulate(ct); err != nil {
			return BenchResult{}, fmt.Errorf("ML-KEM-1024 decapsulate: %w", err)
		}
		decaps += time.Since(t0)

		pkLen = len(ek.Bytes())
		ctLen = len(ct)
	}

	return BenchResult{
		Algorithm:       "ML-KEM-1024",
		PublicKeyBytes:  pkLen,
		CiphertextBytes: ctLen,
		KeygenMs:        meanMs(keygen, iterations),
		EncapsMs:        meanMs(encaps, iterations),
		DecapsMs:        meanMs(decaps, iterations),
	}, nil
}

func meanMs(total time.Duration, n int) float64 {
	return total.Seconds() * 1000 / float64(n)
}

// WriteBenchCSV emits results as tabular rows matching the published
// benchmark format.
func WriteBenchCSV(w io.Writer, results []BenchResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"algorithm", "type", "public_key_bytes", "ciphertext_bytes",
		"keygen_ms", "encaps_ms", "decaps_ms",
	}); err != nil {
		return err
	}
	for _, r := range results {
		row := []string{
			r.Algorithm,
			"KEM",
			strconv.Itoa(r.PublicKeyBytes),
			strconv.Itoa(r.CiphertextBytes),
			strconv.FormatFloat(r.KeygenMs, 'f', 3, 64),
			strconv.FormatFloat(r.EncapsMs, 'f', 3, 64),
			strconv.FormatFloat(r.DecapsMs, 'f', 3, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
