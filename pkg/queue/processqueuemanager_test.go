package queue_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hostcollector/agent/pkg/queue"
)

var _ = Describe("ProcessQueueManager", func() {
	It("serves a strictly higher priority tier before a lower one", func() {
		m := queue.NewProcessQueueManager(2)
		low := queue.NextQueueKey()
		high := queue.NextQueueKey()

		lowQ := m.CreateOrUpdate(low, 2, 8)
		highQ := m.CreateOrUpdate(high, 0, 8)

		Expect(lowQ.Push(newItem())).To(Succeed())
		Expect(highQ.Push(newItem())).To(Succeed())

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		key, _, ok := m.Next(ctx)
		Expect(ok).To(BeTrue())
		Expect(key).To(Equal(high))
	})

	It("round robins within a tier instead of always serving the same queue", func() {
		m := queue.NewProcessQueueManager(0)
		a := queue.NextQueueKey()
		b := queue.NextQueueKey()

		qa := m.CreateOrUpdate(a, 0, 8)
		qb := m.CreateOrUpdate(b, 0, 8)
		Expect(qa.Push(newItem())).To(Succeed())
		Expect(qb.Push(newItem())).To(Succeed())

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		seen := map[queue.QueueKey]bool{}
		for i := 0; i < 2; i++ {
			key, _, ok := m.Next(ctx)
			Expect(ok).To(BeTrue())
			seen[key] = true
		}
		Expect(seen).To(HaveLen(2))
	})

	It("blocks until an item is pushed, then returns it", func() {
		m := queue.NewProcessQueueManager(0)
		key := queue.NextQueueKey()
		q := m.CreateOrUpdate(key, 0, 8)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		resultCh := make(chan bool, 1)
		go func() {
			_, _, ok := m.Next(ctx)
			resultCh <- ok
		}()

		time.Sleep(50 * time.Millisecond)
		Expect(q.Push(newItem())).To(Succeed())

		Eventually(resultCh, time.Second).Should(Receive(BeTrue()))
	})

	It("returns false once ctx is cancelled with nothing pending", func() {
		m := queue.NewProcessQueueManager(0)
		m.CreateOrUpdate(queue.NextQueueKey(), 0, 8)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, _, ok := m.Next(ctx)
		Expect(ok).To(BeFalse())
	})

	It("serves a starved low-priority item ahead of a busy high-priority tier when aging is enabled", func() {
		m := queue.NewProcessQueueManager(1, queue.WithAging(10*time.Millisecond))
		low := queue.NextQueueKey()
		high := queue.NextQueueKey()

		lowQ := m.CreateOrUpdate(low, 1, 8)
		highQ := m.CreateOrUpdate(high, 0, 8)

		starved := newItem()
		starved.ReceivedAt = time.Now().Add(-time.Hour)
		Expect(lowQ.Push(starved)).To(Succeed())
		Expect(highQ.Push(newItem())).To(Succeed())

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		key, _, ok := m.Next(ctx)
		Expect(ok).To(BeTrue())
		Expect(key).To(Equal(low), "the long-waiting low-priority item should jump the queue")
	})

	It("preserves strict priority when aging is not enabled (default)", func() {
		m := queue.NewProcessQueueManager(1)
		low := queue.NextQueueKey()
		high := queue.NextQueueKey()

		lowQ := m.CreateOrUpdate(low, 1, 8)
		highQ := m.CreateOrUpdate(high, 0, 8)

		starved := newItem()
		starved.ReceivedAt = time.Now().Add(-time.Hour)
		Expect(lowQ.Push(starved)).To(Succeed())
		Expect(highQ.Push(newItem())).To(Succeed())

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		key, _, ok := m.Next(ctx)
		Expect(ok).To(BeTrue())
		Expect(key).To(Equal(high))
	})

	It("keeps draining a deleted queue during its grace window, then reaps it", func() {
		m := queue.NewProcessQueueManager(0)
		key := queue.NextQueueKey()
		q := m.CreateOrUpdate(key, 0, 8)
		Expect(q.Push(newItem())).To(Succeed())

		m.Delete(key, 50*time.Millisecond)
		Expect(q.Push(newItem())).To(MatchError(queue.ErrQueueClosed))

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _, ok := m.Next(ctx)
		Expect(ok).To(BeTrue())

		m.ReapDeleted()
		time.Sleep(60 * time.Millisecond)
		m.ReapDeleted()
	})
})
