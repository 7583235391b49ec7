// Command agent is the thin CLI entrypoint that wires the collection
// pipeline core (pkg/plugin, pkg/queue, pkg/batch, pkg/pipeline) to the
// built-in Input/Processor/Flusher plugins and runs
// every pipeline named in a JSON config file until terminated. Per
// spec.md's non-goals, this is deliberately minimal: no flag surface
// beyond what is needed to exercise the core, no log rotation, no
// hardened transport.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hostcollector/agent/pkg/batch"
	"github.com/hostcollector/agent/pkg/flushers"
	"github.com/hostcollector/agent/pkg/inputs"
	"github.com/hostcollector/agent/pkg/metrics"
	"github.com/hostcollector/agent/pkg/pipeline"
	"github.com/hostcollector/agent/pkg/plugin"
	"github.com/hostcollector/agent/pkg/processors"
	"github.com/hostcollector/agent/pkg/queue"
)

const (
	maxPriorityTier    = 2
	metricsGCGrace     = 30 * time.Second
	timeoutFlushPeriod = 1 * time.Second
	reapPeriod         = 5 * time.Second
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath  string
		metricsAddr string
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Host-resident telemetry collection agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, metricsAddr, logLevel)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the pipeline config JSON file (required)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

// fileConfig is the on-disk shape of the config file, matching the
// "Type"-keyed plugin config convention documented in spec.md §6.
// Translating this into pipeline.Config is this command's job, not
// pkg/pipeline's: the runtime package only knows about already-decoded
// PluginSpecs.
type fileConfig struct {
	Pipelines []filePipeline `json:"Pipelines"`
}

type filePipeline struct {
	Name                 string           `json:"Name"`
	Priority             int              `json:"Priority"`
	ProcessQueueCapacity int              `json:"ProcessQueueCapacity"`
	// ProcessorWorkers sizes the processor worker pool; 0 (the default
	// when the key is omitted) defers to pipeline.Config's own
	// runtime.NumCPU() fallback.
	ProcessorWorkers int              `json:"ProcessorWorkers"`
	Inputs           []filePluginSpec `json:"Inputs"`
	Processors       []filePluginSpec `json:"Processors"`
	Flushers         []filePluginSpec `json:"Flushers"`
}

type filePluginSpec struct {
	Type    string         `json:"Type"`
	Options map[string]any `json:"-"`
}

// UnmarshalJSON lets a plugin spec's object also carry its own Options
// inline (every key besides "Type") rather than nesting them under a
// separate field, matching §6's "every plugin receives a JSON object with
// at minimum Type: <typeName>; unknown keys are ... config".
func (s *filePluginSpec) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	typeName, _ := raw["Type"].(string)
	delete(raw, "Type")
	s.Type = typeName
	s.Options = raw
	return nil
}

func toPluginSpecs(specs []filePluginSpec) []pipeline.PluginSpec {
	out := make([]pipeline.PluginSpec, 0, len(specs))
	for _, s := range specs {
		out = append(out, pipeline.PluginSpec{TypeName: s.Type, Options: s.Options})
	}
	return out
}

func loadConfig(path string) (fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, err
	}
	var cfg fileConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("agent: parse config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, configPath, metricsAddr, logLevel string) error {
	logger := newLogger(logLevel)

	fileCfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	registry := plugin.NewRegistry(logger)
	errs := registry.Load(builtins(logger), nil)
	for _, e := range errs {
		return fmt.Errorf("agent: register builtin plugins: %w", e)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metricsMgr := metrics.NewManager(reg, metricsGCGrace)
	metricsMgr.RunGC(ctx.Done(), metricsGCGrace)

	droppedCounter := mustCounter(reg, "collection_agent_sender_dropped_total", "Items dropped after exceeding max send attempts.")
	weakRefCounter := mustCounter(reg, "collection_agent_weakref_drops_total", "SenderQueueItems whose owning pipeline could not be resolved at send time.")
	keyNotFoundCounter := mustCounter(reg, "collection_agent_out_key_not_found_total", "SenderQueueItems whose destination no longer matched a live flusher instance.")

	pqm := queue.NewProcessQueueManager(maxPriorityTier)
	sqm := queue.NewSenderQueueManager(logger, droppedCounter)
	tfm := batch.NewTimeoutFlushManager()
	pipelines := pipeline.NewRegistry()

	go reapLoop(ctx, pqm)
	go timeoutFlushLoop(ctx, tfm)

	deps := pipeline.Deps{
		Logger:              logger,
		PluginRegistry:      registry,
		ProcessQueueManager: pqm,
		SenderQueueManager:  sqm,
		Metrics:             metricsMgr,
		TimeoutFlush:        tfm,
		Pipelines:           pipelines,
		WeakRefDrops:        weakRefCounter,
		OutKeyNotFoundDrops: keyNotFoundCounter,
	}

	pls, err := applyAndStart(ctx, fileCfg, deps)
	if err != nil {
		return err
	}

	srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			level.Error(logger).Log("msg", "metrics server exited", "err", err)
		}
	}()

	waitForSignal(ctx)

	level.Info(logger).Log("msg", "shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(stopCtx)
	for _, p := range pls {
		if err := p.Stop(stopCtx); err != nil {
			level.Error(logger).Log("msg", "pipeline failed to stop cleanly", "pipeline", p.Name(), "err", err)
		}
	}
	return nil
}

func applyAndStart(ctx context.Context, fileCfg fileConfig, deps pipeline.Deps) ([]*pipeline.Pipeline, error) {
	pls := make([]*pipeline.Pipeline, 0, len(fileCfg.Pipelines))
	for _, fp := range fileCfg.Pipelines {
		cfg := pipeline.Config{
			Name:                 fp.Name,
			Priority:             fp.Priority,
			ProcessQueueCapacity: fp.ProcessQueueCapacity,
			ProcessorWorkers:     fp.ProcessorWorkers,
			Inputs:               toPluginSpecs(fp.Inputs),
			Processors:           toPluginSpecs(fp.Processors),
			Flushers:             toPluginSpecs(fp.Flushers),
		}
		if cfg.ProcessQueueCapacity == 0 {
			cfg.ProcessQueueCapacity = 1024
		}

		p := pipeline.New(cfg.Name, deps)
		if err := p.Apply(cfg); err != nil {
			return nil, fmt.Errorf("agent: apply pipeline %q: %w", cfg.Name, err)
		}
		if err := p.Start(ctx); err != nil {
			return nil, fmt.Errorf("agent: start pipeline %q: %w", cfg.Name, err)
		}
		pls = append(pls, p)
	}
	return pls, nil
}

// builtins lists every Input/Processor/Flusher this binary ships.
func builtins(logger log.Logger) []plugin.BuiltinRegistration {
	return []plugin.BuiltinRegistration{
		{Category: plugin.CategoryInput, TypeName: inputs.ContainerDiscoveryTypeName, Factory: inputs.NewContainerDiscoveryInput(logger)},
		{Category: plugin.CategoryInput, TypeName: inputs.PromScrapeTypeName, Factory: inputs.NewPromScrapeInput(logger)},
		{Category: plugin.CategoryInput, TypeName: inputs.ProcMonitorTypeName, Factory: inputs.NewProcMonitorInput(logger)},
		{Category: plugin.CategoryProcessor, TypeName: processors.TagAttachTypeName, Factory: processors.NewTagAttachProcessor()},
		{Category: plugin.CategoryProcessor, TypeName: processors.RegexParseTypeName, Factory: processors.NewRegexParseProcessor()},
		{Category: plugin.CategoryFlusher, TypeName: flushers.HTTPFlusherTypeName, Factory: flushers.NewHTTPFlusher()},
	}
}

func reapLoop(ctx context.Context, pqm *queue.ProcessQueueManager) {
	ticker := time.NewTicker(reapPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pqm.ReapDeleted()
		}
	}
}

func timeoutFlushLoop(ctx context.Context, tfm *batch.TimeoutFlushManager) {
	ticker := time.NewTicker(timeoutFlushPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			tfm.FlushTimeoutBatch(now)
		}
	}
}

func waitForSignal(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
}

func newLogger(levelName string) log.Logger {
	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	var lvl level.Option
	switch levelName {
	case "debug":
		lvl = level.AllowDebug()
	case "warn":
		lvl = level.AllowWarn()
	case "error":
		lvl = level.AllowError()
	default:
		lvl = level.AllowInfo()
	}
	return level.NewFilter(logger, lvl)
}

func mustCounter(reg prometheus.Registerer, name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	reg.MustRegister(c)
	return c
}
