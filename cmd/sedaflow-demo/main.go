package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glimte/sedaflow-go/claimcheck"
	"github.com/glimte/sedaflow-go/config"
	"github.com/glimte/sedaflow-go/contracts"
	"github.com/glimte/sedaflow-go/observability"
	"github.com/glimte/sedaflow-go/routing"
	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// defaultConfig drives the demo when no --config file is given.
const defaultConfig = `
stages:
  - name: itau-transfers
    capacity: 100
    concurrency: 2
  - name: atlas-transfers
    capacity: 100
    concurrency: 2
  - name: notifications
    capacity: 200
    concurrency: 1
  - name: audit
    capacity: 50
    concurrency: 1
    overflow: drop-oldest
  - name: document-archive
    capacity: 50
    concurrency: 1
  - name: failed-transfers
    capacity: 50
    concurrency: 1
routes:
  - entry: transfers
    maxRedeliveries: 3
    redeliveryDelay: 250ms
    deadLetterStage: failed-transfers
claimCheck:
  backend: memory
`

func main() {
	var (
		configPath string
		duration   time.Duration
		rate       time.Duration
		verbose    bool
	)

	rootCmd := &cobra.Command{
		Use:   "sedaflow-demo",
		Short: "Run a simulated bank transfer flow through the routing engine",
		Long: `sedaflow-demo wires up a small interbank transfer pipeline: a generator
produces transfer messages, a choice routes them to per-bank stages, an
audit wire tap captures a copy of every transfer, oversized supporting
documents travel by claim check, and transfers to unknown banks exhaust
redelivery and land on a dead letter stage.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, duration, rate, verbose)
		},
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file (built-in defaults when omitted)")
	rootCmd.Flags().DurationVarP(&duration, "duration", "d", 30*time.Second, "how long to generate traffic (0 runs until interrupted)")
	rootCmd.Flags().DurationVarP(&rate, "rate", "r", 500*time.Millisecond, "interval between generated transfers")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string, duration, rate time.Duration, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := buildStore(cfg.ClaimCheck)
	if err != nil {
		return err
	}

	router := routing.NewRouter(
		routing.WithLogger(logger),
		routing.WithMetrics(observability.NewMetricsRecorder()),
		routing.WithClaimCheckStore(store),
	)

	if err := registerRoutes(router, cfg, logger); err != nil {
		return fmt.Errorf("register routes: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	go watchStats(ctx, router, logger)

	logger.Info("generating transfers", "rate", rate)
	generate(ctx, router, rate, logger)

	logger.Info("draining stages")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := router.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	for _, s := range router.StageStats() {
		logger.Info("stage totals",
			"stage", s.Name,
			"enqueued", s.Enqueued,
			"processed", s.Processed,
			"dropped", s.Dropped,
		)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Parse([]byte(defaultConfig))
	}
	return config.Load(path)
}

func buildStore(cc config.ClaimCheck) (claimcheck.Store, error) {
	if cc.Backend == "sqlite" {
		return claimcheck.NewSQLiteStore(cc.Path)
	}
	return claimcheck.NewMemoryStore(), nil
}

func registerRoutes(router *routing.Router, cfg *config.Config, logger *slog.Logger) error {
	if err := router.RegisterSink("settled", routing.SinkFunc(func(ctx context.Context, env *contracts.Envelope) error {
		logger.Info("transfer settled",
			"correlationId", env.CorrelationID,
			"body", env.BodyString(),
		)
		return nil
	})); err != nil {
		return err
	}
	if err := router.RegisterSink("audit-log", routing.NewLogSink("audit-log", logger)); err != nil {
		return err
	}
	if err := router.RegisterSink("archive-log", routing.SinkFunc(func(ctx context.Context, env *contracts.Envelope) error {
		logger.Info("document archived",
			"correlationId", env.CorrelationID,
			"bytes", len(env.Body),
			"retrieved", env.HeaderBool(contracts.HeaderClaimRetrieved),
		)
		return nil
	})); err != nil {
		return err
	}
	if err := router.RegisterSink("dead-letter-log", routing.SinkFunc(func(ctx context.Context, env *contracts.Envelope) error {
		logger.Warn("transfer dead lettered",
			"correlationId", env.CorrelationID,
			"reason", env.HeaderString(contracts.HeaderDeadLetterReason),
			"redeliveries", env.Headers[contracts.HeaderRedeliveryCount],
		)
		return nil
	})); err != nil {
		return err
	}

	transferCfg, _ := cfg.RouteByEntry("transfers")

	// Entry route: audit copy of everything, then route by
	// destination bank. Unknown banks fail, redeliver, and dead
	// letter.
	transfers := routing.From("transfers").
		WithRedelivery(transferCfg.Policy()).
		Transform(validateTransfer).
		WireTap("audit").
		Choice(routing.Choice{
			Branches: []routing.Branch{
				{When: routing.HeaderEquals("destinationBank", "ITAU"), Then: routing.NewFlow().ToStage("itau-transfers")},
				{When: routing.HeaderEquals("destinationBank", "ATLAS"), Then: routing.NewFlow().ToStage("atlas-transfers")},
			},
			Otherwise: routing.NewFlow().Transform(func(ctx context.Context, env *contracts.Envelope) error {
				return fmt.Errorf("no route to bank %q", env.HeaderString("destinationBank"))
			}),
		})
	if err := router.Register(transfers); err != nil {
		return err
	}

	// Oversized supporting documents are externalized on the way in
	// and rehydrated at the archive stage.
	documents := routing.From("documents").
		ClaimCheckStore().
		ToStage("document-archive")
	if err := router.Register(documents); err != nil {
		return err
	}

	stageRoutes := []*routing.Route{
		routing.FromStage("itau-transfers", stageConfig(cfg, "itau-transfers")).
			Transform(settle("ITAU")).
			ToStage("notifications"),
		routing.FromStage("atlas-transfers", stageConfig(cfg, "atlas-transfers")).
			Transform(settle("ATLAS")).
			ToStage("notifications"),
		routing.FromStage("notifications", stageConfig(cfg, "notifications")).
			ToSink("settled"),
		routing.FromStage("audit", stageConfig(cfg, "audit")).
			ToSink("audit-log"),
		routing.FromStage("document-archive", stageConfig(cfg, "document-archive")).
			ClaimCheckRetrieve().
			ToSink("archive-log"),
		routing.FromStage("failed-transfers", stageConfig(cfg, "failed-transfers")).
			ToSink("dead-letter-log"),
	}
	for _, route := range stageRoutes {
		if err := router.Register(route); err != nil {
			return err
		}
	}
	return nil
}

func stageConfig(cfg *config.Config, name string) routing.StageConfig {
	if s, ok := cfg.StageByName(name); ok {
		return s.StageConfig()
	}
	return routing.StageConfig{}
}

func validateTransfer(ctx context.Context, env *contracts.Envelope) error {
	amount, ok := env.HeaderFloat("amount")
	if !ok || amount <= 0 {
		return errors.New("transfer amount must be positive")
	}
	return nil
}

// settle marks a transfer as settled by the given bank.
func settle(bank string) routing.TransformFunc {
	return func(ctx context.Context, env *contracts.Envelope) error {
		env.SetBodyString(fmt.Sprintf("SETTLED/%s: %s", bank, env.BodyString()))
		env.SetHeader("settledBy", bank)
		return nil
	}
}

var demoBanks = []string{"ITAU", "ITAU", "ATLAS", "ATLAS", "ATLAS", "PERSIA"}

func generate(ctx context.Context, router *routing.Router, rate time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			bank := demoBanks[rand.Intn(len(demoBanks))]
			amount := 100 + rand.Intn(5000)

			env := contracts.NewEnvelopeString(fmt.Sprintf("transfer #%d for %d to %s", seq, amount, bank))
			env.SetHeader("destinationBank", bank)
			env.SetHeader("amount", amount)

			if err := router.Dispatch(ctx, "transfers", env); err != nil {
				logger.Error("dispatch failed", "error", err)
				continue
			}
			logger.Debug("transfer dispatched", "seq", seq, "bank", bank, "amount", amount)

			// Every tenth transfer carries a bulky supporting
			// document that goes through the claim check.
			if seq%10 == 0 {
				doc := contracts.NewEnvelopeString(strings.Repeat("X", 64*1024))
				doc.CorrelationID = env.CorrelationID
				if err := router.Dispatch(ctx, "documents", doc); err != nil {
					logger.Error("document dispatch failed", "error", err)
				}
			}
		}
	}
}

func watchStats(ctx context.Context, router *routing.Router, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range router.StageStats() {
				logger.Info("stage stats",
					"stage", s.Name,
					"depth", s.Depth,
					"enqueued", s.Enqueued,
					"processed", s.Processed,
					"dropped", s.Dropped,
				)
			}
		}
	}
}
