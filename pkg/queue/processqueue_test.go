package queue_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hostcollector/agent/pkg/event"
	"github.com/hostcollector/agent/pkg/queue"
)

type fakeFeedback struct {
	paused, resumed int
}

func (f *fakeFeedback) Pause()  { f.paused++ }
func (f *fakeFeedback) Resume() { f.resumed++ }

func newItem() queue.ProcessQueueItem {
	return queue.ProcessQueueItem{Group: event.NewGroup(8, event.Provenance{})}
}

var _ = Describe("ProcessQueue", func() {
	It("never exceeds capacity and reports ErrQueueFull", func() {
		q := queue.NewProcessQueue(queue.NextQueueKey(), 2, 0, 2)
		Expect(q.Push(newItem())).To(Succeed())
		Expect(q.Push(newItem())).To(Succeed())
		Expect(q.Push(newItem())).To(MatchError(queue.ErrQueueFull))
		Expect(q.Len()).To(Equal(2))
	})

	It("pops in FIFO order", func() {
		q := queue.NewProcessQueue(queue.NextQueueKey(), 4, 0, 4)
		a, b := newItem(), newItem()
		a.Priority = 1
		b.Priority = 2
		Expect(q.Push(a)).To(Succeed())
		Expect(q.Push(b)).To(Succeed())

		got1, ok := q.Pop()
		Expect(ok).To(BeTrue())
		Expect(got1.Priority).To(Equal(1))

		got2, ok := q.Pop()
		Expect(ok).To(BeTrue())
		Expect(got2.Priority).To(Equal(2))
	})

	It("seals the pushed group's arena", func() {
		q := queue.NewProcessQueue(queue.NextQueueKey(), 2, 0, 2)
		g := event.NewGroup(8, event.Provenance{})
		Expect(g.Sealed()).To(BeFalse())
		Expect(q.Push(queue.ProcessQueueItem{Group: g})).To(Succeed())
		Expect(g.Sealed()).To(BeTrue())
	})

	It("notifies Pause at the high watermark and Resume at the low watermark", func() {
		q := queue.NewProcessQueue(queue.NextQueueKey(), 4, 1, 3)
		fb := &fakeFeedback{}
		q.RegisterFeedback(fb)

		for i := 0; i < 3; i++ {
			Expect(q.Push(newItem())).To(Succeed())
		}
		Expect(fb.paused).To(Equal(1))

		_, _ = q.Pop()
		_, _ = q.Pop()
		Expect(fb.resumed).To(Equal(1))
	})

	It("does not re-notify when crossing the same watermark repeatedly", func() {
		q := queue.NewProcessQueue(queue.NextQueueKey(), 4, 1, 2)
		fb := &fakeFeedback{}
		q.RegisterFeedback(fb)

		Expect(q.Push(newItem())).To(Succeed())
		Expect(q.Push(newItem())).To(Succeed())
		Expect(q.Push(newItem())).To(Succeed())
		Expect(fb.paused).To(Equal(1))
	})

	It("suppresses Pop while disabled and resumes after EnablePop", func() {
		q := queue.NewProcessQueue(queue.NextQueueKey(), 2, 0, 2)
		Expect(q.Push(newItem())).To(Succeed())

		q.DisablePop("downstream unavailable")
		_, ok := q.Pop()
		Expect(ok).To(BeFalse())

		q.EnablePop()
		_, ok = q.Pop()
		Expect(ok).To(BeTrue())
	})

	It("rejects pushes after Close", func() {
		q := queue.NewProcessQueue(queue.NextQueueKey(), 2, 0, 2)
		q.Close()
		Expect(q.Push(newItem())).To(MatchError(queue.ErrQueueClosed))
	})
})
