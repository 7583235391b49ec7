package inputs

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/hostcollector/agent/pkg/event"
	"github.com/hostcollector/agent/pkg/plugin"
)

// PromScrapeTypeName is this Input's catalog registration name.
const PromScrapeTypeName = "prometheus_scrape"

// PromScrapeConfig is the raw options block for a Prometheus scrape Input.
type PromScrapeConfig struct {
	Targets  []string      `mapstructure:"Targets"`
	Interval time.Duration `mapstructure:"Interval"`
	Timeout  time.Duration `mapstructure:"Timeout"`
}

// PromScrapeInput polls a fixed list of scrape targets on a shared timer
// and parses each response with expfmt's text exposition-format parser,
// emitting one Metric Event per sample. Unlike ContainerDiscoveryInput,
// polling several small HTTP targets is cheap enough to run off one
// shared ticker rather than a dedicated goroutine per target.
type PromScrapeInput struct {
	meta   plugin.Meta
	logger log.Logger
	cfg    PromScrapeConfig

	client  *http.Client
	backoff plugin.Backoff
	cancel  context.CancelFunc
}

// NewPromScrapeInput is the registry Factory for PromScrapeTypeName.
func NewPromScrapeInput(logger log.Logger) plugin.Factory {
	return func(meta plugin.Meta) (any, error) {
		return &PromScrapeInput{
			meta:    meta,
			logger:  log.With(logger, "plugin", meta.ID),
			backoff: plugin.DefaultBackoff,
		}, nil
	}
}

// Init decodes cfg, requiring at least one scrape target.
func (in *PromScrapeInput) Init(cfg map[string]any) error {
	decoded := PromScrapeConfig{Interval: 15 * time.Second, Timeout: 5 * time.Second}
	if err := plugin.DecodeConfig(PromScrapeTypeName, cfg, &decoded); err != nil {
		return err
	}
	if len(decoded.Targets) == 0 {
		return &plugin.ConfigError{TypeName: PromScrapeTypeName, Field: "Targets", Err: fmt.Errorf("at least one target required")}
	}
	in.cfg = decoded
	in.client = &http.Client{Timeout: decoded.Timeout}
	return nil
}

// Start launches the shared scrape-loop goroutine.
func (in *PromScrapeInput) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	in.cancel = cancel
	go in.run(ctx)
	return nil
}

// Stop cancels the scrape loop. Idempotent.
func (in *PromScrapeInput) Stop() error {
	if in.cancel != nil {
		in.cancel()
	}
	return nil
}

func (in *PromScrapeInput) run(ctx context.Context) {
	ticker := time.NewTicker(in.cfg.Interval)
	defer ticker.Stop()

	for {
		for _, target := range in.cfg.Targets {
			in.scrapeOne(ctx, target)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (in *PromScrapeInput) scrapeOne(ctx context.Context, target string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		level.Warn(in.logger).Log("msg", "scrape: build request failed", "target", target, "err", err)
		return
	}

	resp, err := in.client.Do(req)
	if err != nil {
		level.Warn(in.logger).Log("msg", "scrape failed", "target", target, "err", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		level.Warn(in.logger).Log("msg", "scrape non-200 response", "target", target, "status", resp.StatusCode)
		return
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		level.Warn(in.logger).Log("msg", "scrape: parse failed", "target", target, "err", err)
		return
	}

	group := event.NewGroup(512, event.Provenance{
		ConfigName:   in.meta.ConfigName,
		ScrapeTarget: target,
		AcquiredAt:   time.Now(),
	})

	now := time.Now()
	for name, family := range families {
		for _, m := range family.GetMetric() {
			appendMetric(group, name, m, now)
		}
	}

	if group.Len() == 0 {
		return
	}
	in.pushWithBackoff(ctx, group)
}

func appendMetric(group *event.Group, name string, m *dto.Metric, now time.Time) {
	value, ok := metricValue(m)
	if !ok {
		return
	}

	labels := make([]event.Tag, 0, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		labels = append(labels, event.Tag{
			Key:   group.PutString(lp.GetName()),
			Value: group.PutString(lp.GetValue()),
		})
	}

	ts := now
	if m.GetTimestampMs() > 0 {
		ts = time.UnixMilli(m.GetTimestampMs())
	}

	group.AddEvent(event.NewMetricEvent(ts.Unix(), int32(ts.Nanosecond()), group.PutString(name), value, labels))
}

func metricValue(m *dto.Metric) (float64, bool) {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue(), true
	case m.Gauge != nil:
		return m.Gauge.GetValue(), true
	case m.Untyped != nil:
		return m.Untyped.GetValue(), true
	case m.Summary != nil:
		return m.Summary.GetSampleSum(), true
	case m.Histogram != nil:
		return m.Histogram.GetSampleSum(), true
	default:
		return 0, false
	}
}

func (in *PromScrapeInput) pushWithBackoff(ctx context.Context, group *event.Group) {
	attempt := 0
	for {
		err := in.meta.Push(group)
		if err == nil {
			return
		}
		attempt++
		delay := in.backoff.Delay(attempt)
		level.Debug(in.logger).Log("msg", "process queue full, backing off", "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}
