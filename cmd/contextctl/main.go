// Command contextctl is a small CLI around the context-optimization core:
// a synthetic-workload demo (with recommendations), persistent-cache
// statistics, and a precise offline token-count diagnostic.
//
// Grounded on the teacher's cmd/main.go subcommand dispatch (banner + .env
// loading via godotenv) and internal/tui's terminal-aware printing.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/compresr/context-optimizer/internal/config"
	"github.com/compresr/context-optimizer/internal/dedup"
	"github.com/compresr/context-optimizer/internal/events"
	"github.com/compresr/context-optimizer/internal/manager"
	"github.com/compresr/context-optimizer/internal/optimizer"
	"github.com/compresr/context-optimizer/internal/pcache"
	"github.com/compresr/context-optimizer/internal/suggester"
	"github.com/compresr/context-optimizer/internal/summarizer"
	"github.com/compresr/context-optimizer/internal/tokenest"
)

const brandGreen = "\033[38;2;23;128;68m"

func printBanner() {
	fmt.Println(colorize(brandGreen+colorBold, "contextctl - context optimization core"))
}

func loadEnvFiles() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		_ = godotenv.Load()
		return
	}
	configEnv := filepath.Join(homeDir, ".config", "contextctl", ".env")
	if _, err := os.Stat(configEnv); err == nil {
		_ = godotenv.Load(configEnv)
	}
	_ = godotenv.Load()
}

func setupLogging(debug bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// setupMeterProvider wires the optimizer's otel counters to a stdout
// exporter, grounded on jonwraymond-toolops/observe's exporters.
// NewMetricsReader stdout branch and setupMetrics' PeriodicReader +
// otel.SetMeterProvider pattern. The reader's export interval is set far
// longer than any CLI invocation; the ForceFlush deferred in runDemo is what
// actually prints the collected metrics once, instead of mid-run.
func setupMeterProvider() (*sdkmetric.MeterProvider, error) {
	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout))
	if err != nil {
		return nil, err
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(time.Hour))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	return mp, nil
}

func main() {
	loadEnvFiles()

	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "demo":
		runDemo(os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "tokencount":
		runTokenCount(os.Args[2:])
	case "version", "-v", "--version":
		fmt.Println("contextctl dev")
	case "help", "-h", "--help":
		printHelp()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	printBanner()
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  contextctl demo")
	fmt.Println("  contextctl stats --config FILE")
	fmt.Println("  contextctl tokencount [--encoding NAME] FILE")
}

// runDemo pushes a handful of synthetic tool calls through a fresh Manager
// built from an in-memory executor registry, printing before/after sizes
// and the tags applied to each call.
func runDemo(args []string) {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)
	setupLogging(*debug)
	printBanner()

	bus := events.Default()
	bus.Subscribe(events.KindOptimizationApplied, func(payload any) {
		log.Debug().Interface("tag", payload).Msg("optimization applied")
	})
	bus.Subscribe(events.KindBudgetWarning, func(payload any) {
		printWarn(fmt.Sprintf("%v", payload))
	})
	bus.Subscribe(events.KindBudgetExceeded, func(payload any) {
		printErr(fmt.Sprintf("%v", payload))
	})

	var meter metric.Meter
	mp, err := setupMeterProvider()
	if err != nil {
		printWarn(fmt.Sprintf("otel metrics unavailable: %v", err))
	} else {
		meter = mp.Meter("contextctl")
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mp.ForceFlush(ctx)
			_ = mp.Shutdown(ctx)
		}()
	}

	sum := summarizer.New(tokenest.Default)
	opt := optimizer.New(optimizer.DefaultConfig(), tokenest.Default, sum, bus, meter)
	dd := dedup.New(dedup.DefaultConfig())
	sg := suggester.New()
	mgr := manager.New(dd, nil, opt, sum, sg, bus)
	defer mgr.Dispose(context.Background())

	calls := []struct {
		tool   string
		params map[string]any
		result string
	}{
		{"doc_lookup", map[string]any{"query": "context budget"}, `{"title":"Budget","body":"A budget bounds request/response size.","metadata":{"id":"1"}}`},
		{"grep_search", map[string]any{"pattern": "TODO"}, bigListPayload(40)},
		{"doc_lookup", map[string]any{"query": "context budget"}, `{"title":"Budget","body":"A budget bounds request/response size.","metadata":{"id":"1"}}`},
	}

	printHeader("demo calls")
	for _, c := range calls {
		executor := func(ctx context.Context) (string, error) { return c.result, nil }
		res := mgr.Process(context.Background(), c.tool, c.params, executor, nil)
		printKV("tool", c.tool)
		printKV("cached", res.WasCached)
		printKV("deduplicated", res.WasDeduplicated)
		printKV("response length", len(res.Response))
		for _, tag := range res.OptimizationsApplied {
			printTag(tag)
		}
	}

	printHeader("recommendations")
	for _, r := range mgr.Recommendations() {
		printKV(r.Kind+" "+r.ToolName, r.Message)
	}
}

func bigListPayload(n int) string {
	out := `{"items":[`
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%d", i)
	}
	out += "]}"
	return out
}

// runStats loads a config, opens the persistent cache at its configured
// path, and prints that cache's Stats(). It does not print recommendations.
func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args)

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "stats: --config is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	cache, err := pcache.Open(cfg.Cache.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open persistent cache")
	}
	defer cache.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := cache.Stats(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read stats")
	}

	printHeader("persistent cache statistics")
	printKV("total entries", stats.TotalEntries)
	printKV("expired entries", stats.ExpiredEntries)
	printKV("total hits", stats.TotalHits)
	printKV("cache size (bytes)", stats.CacheSizeBytes)
	for tool, count := range stats.PerToolCounts {
		printKV(tool, count)
	}
}

// runTokenCount prints both the canonical len/4 estimate and, for
// comparison only, a precise tiktoken-go count — never fed back into the
// pipeline, to preserve the conservation property in spec.md §8.
func runTokenCount(args []string) {
	fs := flag.NewFlagSet("tokencount", flag.ExitOnError)
	encoding := fs.String("encoding", "cl100k_base", "tiktoken encoding name")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "tokencount: FILE is required")
		os.Exit(1)
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read file")
	}
	text := string(data)

	printHeader("token count")
	printKV("canonical (len/4) estimate", tokenest.Default.Estimate(text))

	precise, err := tokenest.NewTiktokenEstimator(*encoding)
	if err != nil {
		printWarn(fmt.Sprintf("tiktoken encoding %q unavailable: %v", *encoding, err))
		return
	}
	printKV(fmt.Sprintf("tiktoken (%s) count", *encoding), precise.Estimate(text))
}
