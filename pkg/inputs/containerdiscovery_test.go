package inputs

import (
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/hostcollector/agent/pkg/event"
)

func TestContainerIdentityExtractsEnvForMatchingContainer(t *testing.T) {
	pod := corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "web-0",
			Namespace: "default",
			Labels:    map[string]string{"app": "web"},
		},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{
				{Name: "sidecar", Env: []corev1.EnvVar{{Name: "SIDE", Value: "1"}}},
				{Name: "app", Env: []corev1.EnvVar{{Name: "PORT", Value: "8080"}}},
			},
		},
	}
	status := corev1.ContainerStatus{Name: "app"}

	id := containerIdentity(pod, status)

	if id.Namespace != "default" || id.PodName != "web-0" || id.ContainerName != "app" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if id.K8sLabels["app"] != "web" {
		t.Errorf("K8sLabels = %v", id.K8sLabels)
	}
	if id.Env["PORT"] != "8080" {
		t.Errorf("Env = %v, want PORT=8080 from the matching container only", id.Env)
	}
	if _, ok := id.Env["SIDE"]; ok {
		t.Errorf("Env leaked sidecar container's vars: %v", id.Env)
	}
}

func TestContainerIdentityNoMatchingContainerLeavesEnvNil(t *testing.T) {
	pod := corev1.Pod{
		Spec: corev1.PodSpec{Containers: []corev1.Container{{Name: "other"}}},
	}
	id := containerIdentity(pod, corev1.ContainerStatus{Name: "app"})
	if id.Env != nil {
		t.Errorf("Env = %v, want nil when no container spec matches", id.Env)
	}
}

func TestAppendContainerTagsRunningState(t *testing.T) {
	in := &ContainerDiscoveryInput{}
	group := event.NewGroup(16, event.Provenance{})

	pod := corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "web-0", Namespace: "default"}}
	status := corev1.ContainerStatus{
		Name:        "app",
		ContainerID: "docker://abc123",
		Image:       "web:latest",
		State:       corev1.ContainerState{Running: &corev1.ContainerStateRunning{}},
	}

	in.appendContainer(group, pod, status)

	if group.Len() != 1 {
		t.Fatalf("expected 1 event, got %d", group.Len())
	}
	e := group.Events[0]
	if e.Kind != event.KindLog {
		t.Fatalf("Kind = %v, want KindLog", e.Kind)
	}

	tags := make(map[string]string, len(e.Tags))
	for _, tag := range e.Tags {
		tags[group.String(tag.Key)] = group.String(tag.Value)
	}
	if tags["namespace"] != "default" || tags["pod"] != "web-0" || tags["container"] != "app" {
		t.Errorf("identity tags = %v", tags)
	}
	if tags["state"] != "running" {
		t.Errorf("state tag = %q, want running", tags["state"])
	}
	if tags["image"] != "web:latest" {
		t.Errorf("image tag = %q, want web:latest", tags["image"])
	}
}

func TestAppendContainerTagsWaitingAndTerminatedState(t *testing.T) {
	cases := []struct {
		state corev1.ContainerState
		want  string
	}{
		{corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{}}, "waiting"},
		{corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{}}, "terminated"},
		{corev1.ContainerState{}, "unknown"},
	}

	in := &ContainerDiscoveryInput{}
	for _, c := range cases {
		group := event.NewGroup(8, event.Provenance{})
		in.appendContainer(group, corev1.Pod{}, corev1.ContainerStatus{State: c.state})

		var got string
		for _, tag := range group.Events[0].Tags {
			if group.String(tag.Key) == "state" {
				got = group.String(tag.Value)
			}
		}
		if got != c.want {
			t.Errorf("state tag = %q, want %q", got, c.want)
		}
	}
}
