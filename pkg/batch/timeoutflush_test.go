package batch_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hostcollector/agent/pkg/batch"
)

type fakeFlusher struct {
	flushed []string
}

func (f *fakeFlusher) FlushBatch(batchKey string) {
	f.flushed = append(f.flushed, batchKey)
}

var _ = Describe("TimeoutFlushManager", func() {
	var m *batch.TimeoutFlushManager

	BeforeEach(func() {
		m = batch.NewTimeoutFlushManager()
	})

	It("creates a new record on first update and refreshes it on the next", func() {
		f := &fakeFlusher{}
		m.UpdateRecord("cfg", 0, "k1", 3*time.Second, f)
		Expect(m.Len()).To(Equal(1))

		m.UpdateRecord("cfg", 0, "k1", 3*time.Second, f)
		Expect(m.Len()).To(Equal(1))
	})

	It("flushes only records that are due and drops them afterward", func() {
		f := &fakeFlusher{}
		m.UpdateRecord("cfg", 0, "k0", 0, f)           // immediate-flush path
		m.UpdateRecord("cfg", 0, "k1", time.Hour, f)   // not due
		m.UpdateRecord("cfg", 0, "k2", 0, f)           // immediate-flush path

		m.FlushTimeoutBatch(time.Now())

		Expect(f.flushed).To(ConsistOf("k0", "k2"))
		Expect(m.Len()).To(Equal(1))
	})

	It("flushes a record once its timeout has elapsed", func() {
		f := &fakeFlusher{}
		m.UpdateRecord("cfg", 0, "k1", time.Second, f)

		m.FlushTimeoutBatch(time.Now())
		Expect(f.flushed).To(BeEmpty())

		m.FlushTimeoutBatch(time.Now().Add(2 * time.Second))
		Expect(f.flushed).To(ConsistOf("k1"))
	})

	It("gives an unregistered flusher exactly one more flush before forgetting it", func() {
		f := &fakeFlusher{}
		m.UpdateRecord("cfg", 0, "k1", time.Hour, f)

		m.UnregisterFlushers("cfg", []batch.BatchFlusher{f})
		Expect(m.Len()).To(Equal(0))

		m.FlushTimeoutBatch(time.Now())
		Expect(f.flushed).To(HaveLen(1))

		m.FlushTimeoutBatch(time.Now())
		Expect(f.flushed).To(HaveLen(1), "deferred flusher must not be flushed a second time")
	})

	It("releases its mutex across flusher callbacks so FlushBatch can call UpdateRecord", func() {
		var rearming *fakeFlusher
		rearming = &fakeFlusher{}
		reentrant := &reentrantFlusher{m: m, inner: rearming}

		m.UpdateRecord("cfg", 0, "k1", 0, reentrant)
		m.FlushTimeoutBatch(time.Now())

		Expect(m.Len()).To(Equal(1), "FlushBatch's UpdateRecord call must have taken effect")
	})
})

type reentrantFlusher struct {
	m     *batch.TimeoutFlushManager
	inner *fakeFlusher
}

func (r *reentrantFlusher) FlushBatch(batchKey string) {
	r.inner.FlushBatch(batchKey)
	r.m.UpdateRecord("cfg", 0, "k2", time.Hour, r.inner)
}
