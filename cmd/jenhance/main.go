// Command jenhance inspects class files and applies annotation-driven
// enhancements to classes and jars.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/daimatz/jenhance/pkg/config"
	"github.com/daimatz/jenhance/pkg/intern"
	"github.com/daimatz/jenhance/pkg/pipeline"
)

// app holds what the subcommands share once flags are parsed.
type app struct {
	configPath  string
	verbose     bool
	metricsFile string

	cfg      *config.Config
	logger   *zap.Logger
	metrics  *prometheus.Registry
	interner *intern.Table
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "jenhance",
		Short: "Annotation-driven class file enhancement",
		Long: `jenhance rewrites JVM class files: methods carrying a registered
annotation (@TransactionAttribute, @RolesAllowed, @Interceptors or a
configured hook) are wrapped so that the matching hooks run around them.

A class that cannot be enhanced is written unchanged.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.finish()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "TOML configuration file (defaults apply when empty)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log at debug level")
	root.PersistentFlags().StringVar(&a.metricsFile, "metrics-file", "", "Write pipeline metrics in Prometheus text format to this file")

	root.AddCommand(newInspectCmd(a), newEnhanceCmd(a), newJarCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if a.configPath != "" {
		var err error
		if cfg, err = config.Load(a.configPath); err != nil {
			return err
		}
	}
	a.cfg = cfg

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(cfg.Level())
	if a.verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zc.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger
	a.metrics = prometheus.NewRegistry()
	return nil
}

func (a *app) finish() error {
	if a.logger == nil {
		return nil
	}
	defer func() { _ = a.logger.Sync() }()
	if a.interner != nil {
		hits, misses := a.interner.Stats()
		a.logger.Debug("intern table", zap.Uint64("hits", hits), zap.Uint64("misses", misses), zap.Int("held", a.interner.Len()))
		a.interner.Purge()
	}
	if a.metricsFile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(a.metricsFile, a.metrics); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}

// pipeline builds the enhancement pipeline described by the configuration.
func (a *app) pipeline() (*pipeline.Pipeline, error) {
	reg, err := a.cfg.Registry()
	if err != nil {
		return nil, err
	}
	if a.interner == nil {
		if a.interner, err = intern.New(a.cfg.InternCacheSize); err != nil {
			return nil, err
		}
	}
	return pipeline.New(reg,
		pipeline.WithLogger(a.logger),
		pipeline.WithMetrics(pipeline.NewMetrics(a.metrics)),
		pipeline.WithInterner(a.interner),
		pipeline.WithMaxClassSize(a.cfg.MaxClassSize),
	), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
