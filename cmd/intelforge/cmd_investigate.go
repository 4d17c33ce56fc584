package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lvonguyen/intelforge/internal/config"
	"github.com/lvonguyen/intelforge/internal/correlate"
	"github.com/lvonguyen/intelforge/internal/engine"
	"github.com/lvonguyen/intelforge/internal/events"
	"github.com/lvonguyen/intelforge/internal/intel"
	"github.com/lvonguyen/intelforge/internal/patterns"
	"github.com/lvonguyen/intelforge/internal/ratelimit"
	"github.com/lvonguyen/intelforge/internal/score"
	"github.com/lvonguyen/intelforge/internal/source"
	"github.com/lvonguyen/intelforge/internal/store"
	"github.com/lvonguyen/intelforge/internal/validate"
)

var investigateFlags struct {
	configPath  string
	targetClass string
	sources     []string
	keywords    []string
	depth       string
	timeout     time.Duration
	minScore    float64
	jsonOut     bool
	verbose     bool
}

var investigateCmd = &cobra.Command{
	Use:   "investigate <target>",
	Short: "Run a single investigation and print the correlated entities",
	Args:  cobra.ExactArgs(1),
	RunE:  runInvestigate,
}

func init() {
	f := investigateCmd.Flags()
	f.StringVar(&investigateFlags.configPath, "config", "", "Path to config file (optional)")
	f.StringVar(&investigateFlags.targetClass, "class", "", "Target class (auto-detected when empty)")
	f.StringSliceVar(&investigateFlags.sources, "sources", nil, "Restrict to these source ids")
	f.StringSliceVar(&investigateFlags.keywords, "keywords", nil, "Extra search keywords")
	f.StringVar(&investigateFlags.depth, "depth", "standard", "Search depth: quick, standard, comprehensive")
	f.DurationVar(&investigateFlags.timeout, "timeout", 10*time.Minute, "Overall investigation timeout")
	f.Float64Var(&investigateFlags.minScore, "min-score", 0, "Only print entities at or above this confidence")
	f.BoolVar(&investigateFlags.jsonOut, "json", false, "Emit the full result set as JSON")
	f.BoolVar(&investigateFlags.verbose, "verbose", false, "Log progress events")
}

func runInvestigate(cmd *cobra.Command, args []string) error {
	target := args[0]
	out := cmd.OutOrStdout()

	cfg := config.DefaultConfig()
	if investigateFlags.configPath != "" {
		loaded, err := config.Load(investigateFlags.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	class := intel.TargetClass(investigateFlags.targetClass)
	if class == "" {
		class = patterns.ClassifyTarget(target)
		fmt.Fprintf(out, "Target class: %s (auto-detected)\n", class)
	}

	logger := zap.NewNop()
	if investigateFlags.verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	// Single-shot runs keep everything in memory; nothing outlives the
	// process.
	mem := store.NewMemory()
	defer mem.Close()

	proxies := ratelimit.NewProxyPool(cfg.ProxyPool, logger)
	proxies.Start()
	defer proxies.Stop()

	eng, err := engine.New(engine.Options{
		Registry:   registry,
		Store:      mem,
		Validator:  validate.New(cfg.Validation, logger),
		Limiter:    ratelimit.NewLimiter(cfg.RateLimit),
		Proxies:    proxies,
		Correlator: correlate.New(cfg.Correlation, logger),
		Scorer:     score.New(cfg.Scoring),
		Logger:     logger,
		Defaults:   cfg.Engine.Defaults,
	})
	if err != nil {
		return err
	}

	overrides := cfg.Engine.Defaults
	overrides.EnabledSources = investigateFlags.sources
	overrides.SearchDepth = investigateFlags.depth
	overrides.InvestigationTimeout = investigateFlags.timeout

	profile := map[string]any{}
	if len(investigateFlags.keywords) > 0 {
		profile["keywords"] = investigateFlags.keywords
	}

	progress, unsubscribe := eng.Bus().Subscribe(256)
	defer unsubscribe()
	go printProgress(out, progress)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inv, err := eng.Submit(ctx, engine.SubmitRequest{
		Target:      target,
		TargetClass: class,
		Profile:     profile,
		Config:      &overrides,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Investigation %s started with %d source(s)\n", inv.ID, len(registry.All()))

	if err := eng.Wait(ctx, inv.ID); err != nil {
		// Interrupt: ask the engine to stop and wait for the partial
		// results to be sealed.
		_ = eng.Cancel(inv.ID)
		waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = eng.Wait(waitCtx, inv.ID)
	}

	final, err := eng.Get(context.Background(), inv.ID)
	if err != nil {
		return err
	}
	results, err := eng.Results(context.Background(), inv.ID, store.FindingFilter{})
	if err != nil {
		return err
	}

	if investigateFlags.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	printSummary(out, final, results)
	return nil
}

func buildRegistry(cfg *config.Config, logger *zap.Logger) (*source.Registry, error) {
	registry := source.NewRegistry()
	definitions := source.DefaultDefinitions()
	if cfg.Sources.CatalogPath != "" {
		catalog := source.NewCatalog(logger)
		if err := catalog.LoadFile(cfg.Sources.CatalogPath); err != nil {
			return nil, err
		}
		definitions = catalog.All()
	}
	for _, def := range definitions {
		collector, err := source.NewAPICollector(def, cfg.Sources.HTTPTimeout)
		if err != nil {
			continue // source without credentials, skip
		}
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func printProgress(out io.Writer, ch <-chan events.Event) {
	for ev := range ch {
		switch ev.Type {
		case events.InvestigationStateChanged:
			fmt.Fprintf(out, "  state: %s\n", ev.State)
		case events.TaskRetried:
			fmt.Fprintf(out, "  retry: %s attempt %d (%s)\n", ev.SourceID, ev.Attempt, ev.Detail)
		case events.TaskFailed:
			fmt.Fprintf(out, "  failed: %s (%s)\n", ev.SourceID, ev.Detail)
		}
	}
}

func printSummary(out io.Writer, inv intel.Investigation, results intel.Results) {
	fmt.Fprintf(out, "\nState:    %s\n", inv.State)
	fmt.Fprintf(out, "Findings: %d\n", len(results.Findings))
	fmt.Fprintf(out, "Entities: %d\n", len(results.Entities))

	for _, task := range inv.Tasks {
		fmt.Fprintf(out, "  %-14s %-12s attempts=%d findings=%d\n",
			task.SourceID, task.Status, task.Attempts, task.Findings)
	}

	entities := score.TopEntities(results.Entities, investigateFlags.minScore)
	if len(entities) == 0 {
		return
	}

	fmt.Fprintf(out, "\n%-14s %-6s %-40s %s\n", "TYPE", "SCORE", "VALUE", "SOURCES")
	for _, ent := range entities {
		aliases := ""
		if len(ent.Aliases) > 0 {
			aliases = " (" + strings.Join(ent.Aliases, ", ") + ")"
		}
		fmt.Fprintf(out, "%-14s %-6.2f %-40s %d member(s)%s\n",
			ent.EntityType, ent.AggregateConfidence, ent.CanonicalValue, len(ent.Members), aliases)
	}
}
