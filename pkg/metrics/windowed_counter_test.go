package metrics_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hostcollector/agent/pkg/metrics"
)

var _ = Describe("WindowedCounter", func() {
	It("accumulates adds into the current interval until the next tick", func() {
		w := metrics.NewWindowedCounter(3)
		w.Add(5)
		w.Add(2)
		Expect(w.Total()).To(Equal(int64(0)), "Total reflects the last tick, not the in-progress interval")

		Expect(w.Tick()).To(Equal(int64(7)))
	})

	It("forgets an interval's contribution once it rotates out of the window", func() {
		w := metrics.NewWindowedCounter(2)
		w.Add(10)
		Expect(w.Tick()).To(Equal(int64(10)))

		w.Add(1)
		Expect(w.Tick()).To(Equal(int64(11)))

		w.Add(1)
		Expect(w.Tick()).To(Equal(int64(2)), "the interval that contributed 10 should have rotated out")
	})
})
