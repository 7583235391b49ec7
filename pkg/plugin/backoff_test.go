package plugin_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hostcollector/agent/pkg/plugin"
)

var _ = Describe("Backoff", func() {
	It("doubles the delay per attempt up to the cap", func() {
		b := plugin.Backoff{Base: 10 * time.Millisecond, Max: 100 * time.Millisecond}

		Expect(b.Delay(1)).To(Equal(10 * time.Millisecond))
		Expect(b.Delay(2)).To(Equal(20 * time.Millisecond))
		Expect(b.Delay(3)).To(Equal(40 * time.Millisecond))
		Expect(b.Delay(10)).To(Equal(100 * time.Millisecond))
	})

	It("keeps jittered delays within the spread around the computed value", func() {
		b := plugin.Backoff{Base: 100 * time.Millisecond, Max: time.Second, Jitter: 0.2}
		for i := 0; i < 20; i++ {
			d := b.Delay(2)
			Expect(d).To(BeNumerically(">=", 160*time.Millisecond))
			Expect(d).To(BeNumerically("<=", 240*time.Millisecond))
		}
	})

	It("treats attempt numbers below 1 as attempt 1", func() {
		b := plugin.Backoff{Base: 5 * time.Millisecond, Max: time.Second}
		Expect(b.Delay(0)).To(Equal(b.Delay(1)))
	})
})
