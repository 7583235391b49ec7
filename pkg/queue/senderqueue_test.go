package queue_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hostcollector/agent/pkg/queue"
)

var _ = Describe("SenderQueue", func() {
	It("pops in FIFO order", func() {
		q := queue.NewSenderQueue("backend-a", false)
		a := &queue.SenderQueueItem{Payload: []byte("a")}
		b := &queue.SenderQueueItem{Payload: []byte("b")}
		Expect(q.Push(a)).To(Succeed())
		Expect(q.Push(b)).To(Succeed())

		got, ok := q.Pop()
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(a))
	})

	It("pushes retries to the front, ahead of newer items", func() {
		q := queue.NewSenderQueue("backend-a", false)
		a := &queue.SenderQueueItem{Payload: []byte("a")}
		b := &queue.SenderQueueItem{Payload: []byte("b")}
		Expect(q.Push(a)).To(Succeed())

		retry := &queue.SenderQueueItem{Payload: []byte("retry"), Attempt: 1}
		q.PushFront(retry)
		Expect(q.Push(b)).To(Succeed())

		first, _ := q.Pop()
		Expect(first).To(Equal(retry))
	})
})
