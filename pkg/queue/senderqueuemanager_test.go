package queue_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hostcollector/agent/pkg/backoff"
	"github.com/hostcollector/agent/pkg/queue"
)

var _ = Describe("SenderQueueManager", func() {
	It("drains ready items up to the requested limit", func() {
		m := queue.NewSenderQueueManager(nil, nil, queue.WithInflightCap(10))
		Expect(m.Push(&queue.SenderQueueItem{Destination: "a", Payload: []byte("1")}, false)).To(Succeed())
		Expect(m.Push(&queue.SenderQueueItem{Destination: "a", Payload: []byte("2")}, false)).To(Succeed())

		items := m.Drain(1)
		Expect(items).To(HaveLen(1))
	})

	It("does not drain items whose EarliestRetry has not yet passed", func() {
		m := queue.NewSenderQueueManager(nil, nil, queue.WithInflightCap(10))
		Expect(m.Push(&queue.SenderQueueItem{
			Destination:   "a",
			EarliestRetry: time.Now().Add(time.Hour),
		}, false)).To(Succeed())

		items := m.Drain(10)
		Expect(items).To(BeEmpty())
	})

	It("respects the global in-flight cap across destinations", func() {
		m := queue.NewSenderQueueManager(nil, nil, queue.WithInflightCap(1))
		Expect(m.Push(&queue.SenderQueueItem{Destination: "a"}, false)).To(Succeed())
		Expect(m.Push(&queue.SenderQueueItem{Destination: "b"}, false)).To(Succeed())

		items := m.Drain(10)
		Expect(items).To(HaveLen(1))

		more := m.Drain(10)
		Expect(more).To(BeEmpty())

		m.OnAck(items[0])
		more = m.Drain(10)
		Expect(more).To(HaveLen(1))
	})

	It("re-queues a NACKed item at the head with an incremented attempt and backoff delay", func() {
		m := queue.NewSenderQueueManager(nil, nil,
			queue.WithInflightCap(10),
			queue.WithBackoff(backoff.Backoff{Base: time.Millisecond, Max: time.Second}),
			queue.WithMaxAttempts(5),
		)
		item := &queue.SenderQueueItem{Destination: "a", Attempt: 0}
		Expect(m.Push(item, false)).To(Succeed())

		drained := m.Drain(1)
		Expect(drained).To(HaveLen(1))

		m.OnNack(drained[0], 0)
		Expect(drained[0].Attempt).To(Equal(1))
		Expect(drained[0].EarliestRetry).To(BeTemporally(">", time.Now()))
	})

	It("dead-letters an item once MaxAttempts is reached instead of re-queuing it", func() {
		var deadLettered []*queue.SenderQueueItem
		m := queue.NewSenderQueueManager(nil, nil,
			queue.WithInflightCap(10),
			queue.WithMaxAttempts(1),
			queue.WithDeadLetter(func(item *queue.SenderQueueItem, _ error) {
				deadLettered = append(deadLettered, item)
			}),
		)
		item := &queue.SenderQueueItem{Destination: "a"}
		Expect(m.Push(item, false)).To(Succeed())

		drained := m.Drain(1)
		m.OnNack(drained[0], time.Millisecond)

		Expect(deadLettered).To(HaveLen(1))
		Expect(m.Len()).To(Equal(0))
	})
})
