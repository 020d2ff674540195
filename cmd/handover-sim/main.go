// Command handover-sim runs the satellite handover simulation and writes
// one CSV row per handover outcome. The proactive SAT-PQH protocol and the
// reactive baseline share the same scenario, geometry, and cost model, so
// their outputs are directly comparable.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/handover-simulator/internal/config"
	"github.com/signalsfoundry/handover-simulator/internal/kem"
	"github.com/signalsfoundry/handover-simulator/internal/logging"
	"github.com/signalsfoundry/handover-simulator/internal/observability"
	"github.com/signalsfoundry/handover-simulator/internal/sim"
	"github.com/signalsfoundry/handover-simulator/model"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string

	protocol     string
	numUsers     int
	margin       time.Duration
	algorithm    string
	seed         int64
	duration     time.Duration
	scenarioPath string
	outputPath   string
	metricsAddr  string
	failureProb  float64
	measured     bool
}

func newRootCmd() *cobra.Command {
	var f rootFlags

	cmd := &cobra.Command{
		Use:   "handover-sim",
		Short: "Discrete-event simulator for post-quantum satellite handover",
		Long: `handover-sim compares a proactive post-quantum handover protocol
(SAT-PQH) against a reactive baseline over a simulated LEO constellation.
It emits one CSV row per handover outcome on stdout or into --output.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd, f)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to a YAML run configuration")
	cmd.Flags().StringVar(&f.protocol, "protocol", "", "protocol to simulate: baseline or sat-pqh")
	cmd.Flags().IntVar(&f.numUsers, "users", 0, "number of ground users")
	cmd.Flags().DurationVar(&f.margin, "margin", -1, "proactive lead-time margin, e.g. 15s")
	cmd.Flags().StringVar(&f.algorithm, "algorithm", "", "KEM algorithm, e.g. ML-KEM-768")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "random seed (0 keeps the configured value)")
	cmd.Flags().DurationVar(&f.duration, "duration", 0, "simulated duration, e.g. 1h")
	cmd.Flags().StringVar(&f.scenarioPath, "scenario", "", "path to a JSON constellation scenario")
	cmd.Flags().StringVarP(&f.outputPath, "output", "o", "", "CSV output path (default stdout)")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "listen address for Prometheus /metrics, e.g. :9090")
	cmd.Flags().Float64Var(&f.failureProb, "failure-prob", -1, "modeled per-exchange failure probability in [0,1)")
	cmd.Flags().BoolVar(&f.measured, "measured", false, "time real ML-KEM operations instead of the cost model")

	cmd.AddCommand(newBenchCmd())
	return cmd
}

// resolveConfig layers explicit flags over the YAML file over the defaults.
func resolveConfig(cmd *cobra.Command, f rootFlags) (config.Run, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return config.Run{}, err
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("protocol") {
		cfg.Protocol = model.Protocol(f.protocol)
	}
	if cmd.Flags().Changed("users") {
		cfg.NumUsers = f.numUsers
	}
	if cmd.Flags().Changed("margin") {
		cfg.LeadTimeMargin = f.margin
	}
	if cmd.Flags().Changed("algorithm") {
		cfg.KEMAlgorithm = f.algorithm
	}
	if cmd.Flags().Changed("seed") {
		cfg.RandomSeed = f.seed
	}
	if cmd.Flags().Changed("duration") {
		cfg.SimulationDuration = f.duration
	}
	if cmd.Flags().Changed("scenario") {
		cfg.ScenarioPath = f.scenarioPath
	}
	if cmd.Flags().Changed("output") {
		cfg.OutputPath = f.outputPath
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if cmd.Flags().Changed("failure-prob") {
		cfg.ExchangeFailureProb = f.failureProb
	}

	if err := cfg.Validate(); err != nil {
		return config.Run{}, err
	}
	return cfg, nil
}

func runSimulation(cmd *cobra.Command, f rootFlags) error {
	ctx := context.Background()
	log := logging.NewFromEnv()

	cfg, err := resolveConfig(cmd, f)
	if err != nil {
		return err
	}

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(ctx, shutdown, log)

	opts := []sim.Option{sim.WithLogger(log)}

	var collector *observability.HandoverCollector
	if cfg.MetricsAddr != "" {
		collector, err = observability.NewHandoverCollector(nil)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		opts = append(opts, sim.WithMetrics(collector))
		go serveMetrics(ctx, cfg.MetricsAddr, collector, log)
	}

	if f.measured {
		opts = append(opts, sim.WithExchanger(kem.NewMeasured()))
	}

	store, scenario, err := sim.BuildStore(cfg)
	if err != nil {
		return err
	}
	log.Info(ctx, "scenario loaded",
		logging.Int("satellites", len(scenario.SatelliteIDs)),
		logging.Int("users", len(scenario.UserIDs)),
	)

	engine, err := sim.New(cfg, store, opts...)
	if err != nil {
		return err
	}
	records, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	out, closeOut, err := openOutput(cfg.OutputPath)
	if err != nil {
		return err
	}
	defer closeOut()
	return sim.WriteRecordsCSV(out, records)
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output %q: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}

func serveMetrics(ctx context.Context, addr string, collector *observability.HandoverCollector, log logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	log.Info(ctx, "metrics server listening", logging.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn(ctx, "metrics server stopped", logging.String("error", err.Error()))
	}
}

func newBenchCmd() *cobra.Command {
	var (
		iterations int
		outputPath string
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark real ML-KEM key exchanges and emit per-algorithm CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := kem.Benchmark(iterations)
			if err != nil {
				return err
			}
			out, closeOut, err := openOutput(outputPath)
			if err != nil {
				return err
			}
			defer closeOut()
			return kem.WriteBenchCSV(out, results)
		},
	}
	cmd.Flags().IntVarP(&iterations, "iterations", "n", 100, "key exchanges per algorithm")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "CSV output path (default stdout)")
	return cmd
}
