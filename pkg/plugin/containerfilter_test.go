package plugin_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hostcollector/agent/pkg/plugin"
)

var _ = Describe("ContainerFilter", func() {
	It("treats an anchored value as a regex and everything else as exact", func() {
		f, err := plugin.NewFieldFilter(map[string]string{
			"app":  "^web-.*$",
			"tier": "frontend",
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(f.Matches(map[string]string{"app": "web-1", "tier": "frontend"})).To(BeTrue())
		Expect(f.Matches(map[string]string{"app": "worker-1", "tier": "frontend"})).To(BeFalse())
		Expect(f.Matches(map[string]string{"app": "web-1", "tier": "backend"})).To(BeFalse())
	})

	It("matches everything when empty", func() {
		f, err := plugin.NewFieldFilter(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(f.IsEmpty()).To(BeTrue())
		Expect(f.Matches(map[string]string{"anything": "goes"})).To(BeTrue())
	})

	It("reports a compile error for a malformed anchored pattern", func() {
		_, err := plugin.NewFieldFilter(map[string]string{"bad": "^(unterminated$"})
		Expect(err).To(HaveOccurred())
	})

	It("applies namespace/pod/container regexes and label include/exclude together", func() {
		cf, err := plugin.NewContainerFilter(plugin.ContainerFilterConfig{
			K8sNamespaceRegex: "^kube-.*$",
			IncludeK8sLabel:   map[string]string{"app": "collector"},
			ExcludeContainerLabel: map[string]string{
				"sidecar": "true",
			},
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(cf.Matches(plugin.ContainerIdentity{
			Namespace:      "kube-system",
			K8sLabels:      map[string]string{"app": "collector"},
			ContainerLabel: map[string]string{"sidecar": "false"},
		})).To(BeTrue())

		Expect(cf.Matches(plugin.ContainerIdentity{
			Namespace:      "default",
			K8sLabels:      map[string]string{"app": "collector"},
			ContainerLabel: map[string]string{},
		})).To(BeFalse())

		Expect(cf.Matches(plugin.ContainerIdentity{
			Namespace:      "kube-system",
			K8sLabels:      map[string]string{"app": "collector"},
			ContainerLabel: map[string]string{"sidecar": "true"},
		})).To(BeFalse())
	})
})
