package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hostcollector/agent/pkg/metrics"
	"github.com/hostcollector/agent/pkg/plugin"
)

var _ = Describe("Manager", func() {
	It("returns instance metrics whose collectors accept increments", func() {
		reg := prometheus.NewRegistry()
		m := metrics.NewManager(reg, time.Minute)

		im := m.NewInstanceMetrics("cfg", plugin.CategoryInput, "hostmonitor", "1")
		im.InEvents.Inc()
		im.OutEvents.Add(3)
		im.DiscardedEvents.Inc()
		im.OutFailedEvents.Inc()
		im.OutKeyNotFoundEvents.Inc()
		im.TotalProcessTimeMs.Add(5)
		im.OutSizeBytes.Add(128)
		im.Latency.Observe(0.01)

		families, err := reg.Gather()
		Expect(err).NotTo(HaveOccurred())
		Expect(families).NotTo(BeEmpty())
	})

	It("does not delete a released instance's series before the grace period elapses", func() {
		reg := prometheus.NewRegistry()
		m := metrics.NewManager(reg, time.Hour)
		m.NewInstanceMetrics("cfg", plugin.CategoryInput, "hostmonitor", "1")

		m.Release("cfg", plugin.CategoryInput, "hostmonitor", "1")
		Expect(m.PendingReleases()).To(Equal(1))

		m.GC(time.Now())
		Expect(m.PendingReleases()).To(Equal(1), "grace period has not elapsed yet")
	})

	It("deletes a released instance's series once the grace period elapses", func() {
		reg := prometheus.NewRegistry()
		m := metrics.NewManager(reg, time.Millisecond)
		m.NewInstanceMetrics("cfg", plugin.CategoryInput, "hostmonitor", "1")

		m.Release("cfg", plugin.CategoryInput, "hostmonitor", "1")
		m.GC(time.Now().Add(time.Hour))

		Expect(m.PendingReleases()).To(Equal(0))
	})
})
