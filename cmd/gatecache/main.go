package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gatecache/gatecache/pkg/config"
	"github.com/gatecache/gatecache/pkg/logger"
	"github.com/gatecache/gatecache/pkg/observability"
	"github.com/gatecache/gatecache/pkg/provider"
	"github.com/gatecache/gatecache/pkg/proxy"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "gatecache",
		Short: "gatecache - caching access-control proxy over expensive resources",
		Long: `gatecache fronts an expensive backend with a bounded resource pool,
memoized reads, and prefix-based access control. The demo command drives a
simulated workload through the full stack and reports statistics.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gatecache v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var initPath string
	initCmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(initPath, config.Default()); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Printf("wrote default configuration to %s\n", initPath)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&initPath, "output", "o", "gatecache.yaml", "Path for the generated configuration file")
	root.AddCommand(initCmd)

	var configFile string
	var readers, writers, ops, keys int
	var timeout time.Duration
	var logLevel string

	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a simulated workload through the proxy",
		Long: `Run a mixed read/write workload against a simulated slow backend and
print pool, cache, and reliability statistics when done.

Example:
  gatecache demo --readers 8 --writers 2 --ops 500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(configFile, &demoFlags{
				Readers:  readers,
				Writers:  writers,
				Ops:      ops,
				Keys:     keys,
				Timeout:  timeout,
				LogLevel: logLevel,
			})
		},
	}

	demoCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to a YAML configuration file (optional)")
	demoCmd.Flags().IntVar(&readers, "readers", 8, "Number of concurrent reader workers")
	demoCmd.Flags().IntVar(&writers, "writers", 2, "Number of concurrent writer workers")
	demoCmd.Flags().IntVar(&ops, "ops", 200, "Operations per worker")
	demoCmd.Flags().IntVar(&keys, "keys", 50, "Size of the simulated key space")
	demoCmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Workload timeout")
	demoCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.AddCommand(demoCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// demoFlags holds the workload shape for the demo command.
type demoFlags struct {
	Readers  int
	Writers  int
	Ops      int
	Keys     int
	Timeout  time.Duration
	LogLevel string
}

func loadConfig(filename string) (*config.Config, error) {
	cfg := config.Default()
	if filename == "" {
		return cfg, nil
	}
	if err := config.Load(filename, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", filename, err)
	}
	return cfg, nil
}

// runDemo stands up a proxy over a seeded in-memory backend and drives a
// concurrent mixed workload through it.
func runDemo(configFile string, flags *demoFlags) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logger.Init(logger.Config{Level: flags.LogLevel, Encoding: "console"}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.Get().With(zap.String("component", "gatecache-cli"))

	if cfg.Observability.EnableTracing {
		if err := observability.InitTracing(observability.TracingConfig{
			ServiceName:    cfg.Name,
			ServiceVersion: version,
			SamplingRate:   cfg.Observability.TracingSampleRate,
		}); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			if err := observability.Shutdown(context.Background()); err != nil {
				log.Warn("tracing shutdown failed", zap.Error(err))
			}
		}()
	}

	backend := provider.NewMemoryBackend(cfg.Provider, log)
	seed := make(map[string]interface{}, flags.Keys)
	for i := 0; i < flags.Keys; i++ {
		seed[demoKey(i)] = fmt.Sprintf("value-%d", i)
	}
	backend.Seed(seed)

	px, err := proxy.New(cfg, backend, log)
	if err != nil {
		return fmt.Errorf("failed to build proxy: %w", err)
	}

	log.Info("starting workload",
		zap.Int("readers", flags.Readers),
		zap.Int("writers", flags.Writers),
		zap.Int("ops_per_worker", flags.Ops),
		zap.Int("pool_capacity", cfg.Pool.Capacity))

	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)

	for w := 0; w < flags.Readers; w++ {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(time.Now().UnixNano()))
			for i := 0; i < flags.Ops; i++ {
				if _, err := px.Read(ctx, demoKey(rng.Intn(flags.Keys))); err != nil {
					return err
				}
			}
			return nil
		})
	}
	for w := 0; w < flags.Writers; w++ {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(time.Now().UnixNano()))
			for i := 0; i < flags.Ops; i++ {
				k := rng.Intn(flags.Keys)
				if err := px.Write(ctx, demoKey(k), fmt.Sprintf("updated-%d-%d", k, i)); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		_ = px.Shutdown()
		return fmt.Errorf("workload failed: %w", err)
	}
	duration := time.Since(start)

	stats := px.Stats()
	if err := px.Shutdown(); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	totalOps := (flags.Readers + flags.Writers) * flags.Ops
	log.Info("workload completed",
		zap.Duration("duration", duration),
		zap.Int("total_ops", totalOps),
		zap.Float64("ops_per_second", float64(totalOps)/duration.Seconds()),
		zap.Float64("pool_reuse_rate", stats.Pool.ReuseRate))

	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render stats: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// demoKey spreads keys over a handful of category prefixes so writes
// exercise scoped invalidation.
func demoKey(i int) string {
	categories := []string{"user", "product", "order", "session"}
	return fmt.Sprintf("%s:%d", categories[i%len(categories)], i)
}
