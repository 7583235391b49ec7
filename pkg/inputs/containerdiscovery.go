// Package inputs implements the Input-side plugins this agent ships out of
// the box: Kubernetes container discovery, a Prometheus exposition-format
// scraper, and a /proc-based host process monitor. Each is a thin,
// illustrative body behind the pkg/plugin.Input contract — the processor
// chain and queue plumbing downstream is the part this repo specifies in
// depth, not these sources.
package inputs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/hostcollector/agent/pkg/event"
	"github.com/hostcollector/agent/pkg/plugin"
)

// ContainerDiscoveryTypeName is this Input's catalog registration name.
const ContainerDiscoveryTypeName = "k8s_container_discovery"

// ContainerDiscoveryConfig is the raw options block for a container
// discovery Input, decoded with plugin.DecodeConfig plus the shared
// plugin.ContainerFilterConfig fields documented in spec.md §6.
type ContainerDiscoveryConfig struct {
	plugin.ContainerFilterConfig `mapstructure:",squash"`

	Kubeconfig    string        `mapstructure:"Kubeconfig"`
	PollInterval  time.Duration `mapstructure:"PollInterval"`
	AllNamespaces bool          `mapstructure:"AllNamespaces"`
	Namespace     string        `mapstructure:"Namespace"`
}

// ContainerDiscoveryInput polls the Kubernetes API on an interval and
// emits one log-kind Event per discovered container, carrying its
// identity as group/event tags, filtered by the configured
// ContainerFilter. It owns a dedicated goroutine (per §5's "poll-heavy
// Inputs own a thread" rule) rather than a shared timer, since the
// Kubernetes list call can itself block for an arbitrary amount of time.
type ContainerDiscoveryInput struct {
	meta   plugin.Meta
	logger log.Logger

	cfg    ContainerDiscoveryConfig
	filter plugin.ContainerFilter

	newClientset func(kubeconfig string) (kubernetes.Interface, error)
	clientset    kubernetes.Interface

	backoff  plugin.Backoff
	stopOnce func()
}

// NewContainerDiscoveryInput is the registry Factory for
// ContainerDiscoveryTypeName.
func NewContainerDiscoveryInput(logger log.Logger) plugin.Factory {
	return func(meta plugin.Meta) (any, error) {
		return &ContainerDiscoveryInput{
			meta:         meta,
			logger:       log.With(logger, "plugin", meta.ID),
			newClientset: defaultClientset,
			backoff:      plugin.DefaultBackoff,
		}, nil
	}
}

func defaultClientset(kubeconfig string) (kubernetes.Interface, error) {
	var cfg *rest.Config
	var err error
	if kubeconfig != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		cfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(cfg)
}

// Init decodes cfg and compiles the container filter; it does not yet
// build the clientset, deferring that potentially slow/fallible call to
// Start so Apply never blocks on API-server reachability.
func (in *ContainerDiscoveryInput) Init(cfg map[string]any) error {
	var decoded ContainerDiscoveryConfig
	decoded.PollInterval = 15 * time.Second
	if err := plugin.DecodeConfig(ContainerDiscoveryTypeName, cfg, &decoded); err != nil {
		return err
	}
	if decoded.PollInterval <= 0 {
		return &plugin.ConfigError{TypeName: ContainerDiscoveryTypeName, Field: "PollInterval", Err: fmt.Errorf("must be positive")}
	}

	filter, err := plugin.NewContainerFilter(decoded.ContainerFilterConfig)
	if err != nil {
		return err
	}

	in.cfg = decoded
	in.filter = filter
	return nil
}

// Start launches the polling goroutine. It returns once the clientset has
// been constructed (surfacing a construction error immediately) but
// before the first poll completes.
func (in *ContainerDiscoveryInput) Start(ctx context.Context) error {
	clientset, err := in.newClientset(in.cfg.Kubeconfig)
	if err != nil {
		return fmt.Errorf("container discovery: build clientset: %w", err)
	}
	in.clientset = clientset

	ctx, cancel := context.WithCancel(ctx)
	in.stopOnce = cancel
	go in.run(ctx)
	return nil
}

// Stop cancels the polling goroutine. Idempotent: a nil stopOnce means
// Start was never called or Stop already ran.
func (in *ContainerDiscoveryInput) Stop() error {
	if in.stopOnce != nil {
		in.stopOnce()
	}
	return nil
}

func (in *ContainerDiscoveryInput) run(ctx context.Context) {
	ticker := time.NewTicker(in.cfg.PollInterval)
	defer ticker.Stop()

	for {
		in.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (in *ContainerDiscoveryInput) poll(ctx context.Context) {
	ns := in.cfg.Namespace
	if in.cfg.AllNamespaces {
		ns = ""
	}

	pods, err := in.clientset.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		level.Warn(in.logger).Log("msg", "container discovery: list pods failed", "err", err)
		return
	}

	group := event.NewGroup(256, event.Provenance{
		ConfigName: in.meta.ConfigName,
		AcquiredAt: time.Now(),
	})

	for _, pod := range pods.Items {
		for _, c := range pod.Status.ContainerStatuses {
			id := containerIdentity(pod, c)
			if !in.filter.Matches(id) {
				continue
			}
			in.appendContainer(group, pod, c)
		}
	}

	if group.Len() == 0 {
		return
	}
	in.pushWithBackoff(ctx, group)
}

func containerIdentity(pod corev1.Pod, status corev1.ContainerStatus) plugin.ContainerIdentity {
	var env, containerLabel map[string]string
	for _, c := range pod.Spec.Containers {
		if c.Name != status.Name {
			continue
		}
		env = make(map[string]string, len(c.Env))
		for _, e := range c.Env {
			env[e.Name] = e.Value
		}
		break
	}
	return plugin.ContainerIdentity{
		Namespace:      pod.Namespace,
		PodName:        pod.Name,
		ContainerName:  status.Name,
		K8sLabels:      pod.Labels,
		Env:            env,
		ContainerLabel: containerLabel,
	}
}

func (in *ContainerDiscoveryInput) appendContainer(group *event.Group, pod corev1.Pod, status corev1.ContainerStatus) {
	state := "unknown"
	switch {
	case status.State.Running != nil:
		state = "running"
	case status.State.Waiting != nil:
		state = "waiting"
	case status.State.Terminated != nil:
		state = "terminated"
	}

	e := event.NewLogEvent(time.Now().Unix(), 0, group.PutString(status.ContainerID))
	e.Tags = []event.Tag{
		{Key: group.PutString("namespace"), Value: group.PutString(pod.Namespace)},
		{Key: group.PutString("pod"), Value: group.PutString(pod.Name)},
		{Key: group.PutString("container"), Value: group.PutString(status.Name)},
		{Key: group.PutString("state"), Value: group.PutString(state)},
		{Key: group.PutString("image"), Value: group.PutString(status.Image)},
	}
	group.AddEvent(e)
}

func (in *ContainerDiscoveryInput) pushWithBackoff(ctx context.Context, group *event.Group) {
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
