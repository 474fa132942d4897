package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agentos/internal/config"
	"agentos/internal/diagnostics"
	"agentos/internal/feedback"
	"agentos/internal/governance"
	"agentos/internal/kernel"
	"agentos/internal/mcprt"
	"agentos/internal/observability"
	"agentos/internal/registry"
	"agentos/internal/shared/logging"
	"agentos/internal/store"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// App is the assembled runtime behind every CLI verb.
type App struct {
	Cfg      config.Config
	Meta     config.Metadata
	Store    *store.Store
	Logger   *logging.FileLogger
	Services *registry.Registry
	Tools    *mcprt.ToolRegistry
	Breakers *mcprt.BreakerManager
	MCP      *mcprt.Runtime
	Catalog  *kernel.Catalog
	Kernel   *kernel.Kernel
	Feedback *feedback.Service
	Tuner    *feedback.Tuner
	Reporter *observability.Reporter
	Checker  *diagnostics.Checker
	Metrics  *observability.MetricsCollector
	Tracer   *observability.TracerProvider
	Approval *governance.ApprovalFile
}

// Close drains workers and flushes exporters.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Kernel != nil {
		a.Kernel.Close()
	}
	ctx := context.Background()
	if a.Tracer != nil {
		_ = a.Tracer.Shutdown(ctx)
	}
	if a.Metrics != nil {
		_ = a.Metrics.Shutdown(ctx)
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}

type rootFlags struct {
	configPath string
	stateRoot  string
	verbose    bool
	jsonOut    bool
	dryRun     bool
}

var flags rootFlags

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agentos",
		Short:         "Single-operator agent runtime",
		Long:          "agentos turns a natural-language task into a governed, evidenced run:\nclassification, strategy ranking, sequential fallback, and a sealed summary.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default: discovered under ~/.agentos)")
	pf.StringVar(&flags.stateRoot, "state-root", "", "override the state root directory")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "log debug detail to stderr")
	pf.BoolVar(&flags.jsonOut, "json", false, "emit machine-readable JSON")
	pf.BoolVar(&flags.dryRun, "dry-run", false, "plan and validate without executing or mutating")

	root.AddCommand(
		newSubmitCmd(),
		newStatusCmd(),
		newInspectCmd(),
		newObserveCmd(),
		newRecommendCmd(),
		newFeedbackCmd(),
		newPolicyCmd(),
		newServicesCmd(),
		newDiagnoseCmd(),
		newPipelineCmd(),
		newReplayCmd(),
		newBackupCmd(),
		newApproveCmd(),
	)
	return root
}

// discoverConfig resolves the config file: explicit flag, then viper's
// discovery chain (AGENTOS_CONFIG env, then ~/.agentos/config.toml).
func discoverConfig() string {
	if flags.configPath != "" {
		return flags.configPath
	}
	v := viper.New()
	v.SetEnvPrefix("AGENTOS")
	_ = v.BindEnv("config")
	if p := v.GetString("config"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(filepath.Join(home, ".agentos"))
	if err := v.ReadInConfig(); err != nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// buildApp loads configuration and wires the full runtime.
func buildApp() (*App, error) {
	opts := []config.Option{}
	if path := discoverConfig(); path != "" {
		opts = append(opts, config.WithPath(path))
	}
	if flags.stateRoot != "" {
		opts = append(opts, config.WithOverride(func(c *config.Config) { c.StateRoot = flags.stateRoot }))
	}
	cfg, meta, err := config.Load(opts...)
	if err != nil {
		return nil, err
	}

	logger := logging.NewConsoleLogger("cli")
	if flags.verbose {
		logger.SetLevel(logging.LevelDebug)
	} else {
		logger.SetLevel(logging.LevelWarn)
	}

	st, err := store.Open(cfg.StateRoot, logger)
	if err != nil {
		return nil, err
	}

	gatekeeper, err := governance.NewGatekeeper(cfg.Governance, cfg.StateRoot, logger)
	if err != nil {
		return nil, err
	}
	approval := governance.NewApprovalFile(cfg.StateRoot, cfg.Governance.ApprovalFile)

	services := registry.New(cfg.Governance.StrictContractLint, logger)
	if err := registry.RegisterBuiltins(services, st.Artifacts); err != nil {
		return nil, err
	}

	tools := mcprt.NewToolRegistry()
	if err := mcprt.RegisterDefaults(tools, nil); err != nil {
		return nil, err
	}
	breakers, err := mcprt.NewBreakerManager(cfg.Breaker, st.Breaker, logger)
	if err != nil {
		return nil, err
	}
	router := mcprt.NewRouter(cfg.Router, tools, breakers)
	mcpRT := mcprt.NewRuntime(cfg.Retry, router, tools, breakers, cfg.StateRoot, logger)

	catalog := kernel.NewCatalog()
	if err := catalog.RegisterDefaults(); err != nil {
		return nil, err
	}
	ranker, err := kernel.NewRanker(cfg.Ranker, cfg.Profiles, catalog, st.Index, logger)
	if err != nil {
		return nil, err
	}
	engine := kernel.NewEngine(cfg.Engine, cfg.Retry, catalog, services, mcpRT, gatekeeper, st.Events, st.Index, st.Artifacts, logger)
	pool := kernel.NewPool(engine, cfg.Pool.Workers, cfg.Pool.QueueDepth, logger)
	kern := kernel.New(cfg, ranker, engine, pool, st.Events, st.Overrides, logger)

	fb := feedback.NewService(st.Events, logger)
	tuner := feedback.NewTuner(cfg.Tuner, st.Index, st.Events, st.Overrides, fb, logger)

	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{
		Enabled: cfg.Telemetry.MetricsEnabled && cfg.Telemetry.MetricsPort > 0,
		Port:    cfg.Telemetry.MetricsPort,
	}, logger)
	if err != nil {
		return nil, err
	}
	tracer, err := observability.NewTracerProvider(observability.TracingConfig{
		Enabled:      cfg.Telemetry.TracingEnabled,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		SampleRate:   cfg.Telemetry.SampleRate,
		ServiceName:  cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return nil, err
	}

	engine.SetObservability(metrics, tracer)
	mcpRT.SetObservability(metrics, tracer)
	pool.SetMetrics(metrics)
	breakers.OnTransition(func(tool, state string) {
		metrics.RecordBreakerTransition(context.Background(), tool, state)
	})

	return &App{
		Cfg:      cfg,
		Meta:     meta,
		Store:    st,
		Logger:   logger,
		Services: services,
		Tools:    tools,
		Breakers: breakers,
		MCP:      mcpRT,
		Catalog:  catalog,
		Kernel:   kern,
		Feedback: fb,
		Tuner:    tuner,
		Reporter: observability.NewReporter(st.Index, observability.SLOTarget{}),
		Checker:  diagnostics.NewChecker(cfg, meta, services, breakers, st.Index, logger),
		Metrics:  metrics,
		Tracer:   tracer,
		Approval: approval,
	}, nil
}

// withApp wraps a RunE with app construction and teardown.
func withApp(fn func(app *App, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(app, cmd, args)
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
