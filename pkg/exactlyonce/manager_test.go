package exactlyonce_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hostcollector/agent/pkg/checkpoint"
	"github.com/hostcollector/agent/pkg/exactlyonce"
	"github.com/hostcollector/agent/pkg/queue"
)

var _ = Describe("Manager", func() {
	var (
		store *checkpoint.Store
		key   queue.QueueKey
		m     *exactlyonce.Manager
	)

	BeforeEach(func() {
		var err error
		store, _, err = checkpoint.Open(GinkgoT().TempDir(), "journal", 50)
		Expect(err).NotTo(HaveOccurred())

		key = queue.NextQueueKey()
		m = exactlyonce.NewManager(nil, nil)
		Expect(m.CreateOrUpdateQueue(key, 0, store)).To(Succeed())
	})

	AfterEach(func() {
		store.Close()
	})

	It("rejects sender pushes for an unknown queue", func() {
		err := m.PushSenderQueue(queue.NextQueueKey(), &queue.SenderQueueItem{HashKey: "a"})
		Expect(err).To(MatchError(exactlyonce.ErrUnknownQueue))
	})

	It("persists a Sending checkpoint before admitting the item", func() {
		item := &queue.SenderQueueItem{HashKey: "a"}
		Expect(m.PushSenderQueue(key, item)).To(Succeed())

		cp := store.Get("a")
		Expect(cp).NotTo(BeNil())
		Expect(cp.State).To(Equal(checkpoint.StateSending))
		Expect(m.IsSending(key, "a")).To(BeTrue())
	})

	It("refuses a second in-flight send for the same hash key", func() {
		Expect(m.PushSenderQueue(key, &queue.SenderQueueItem{HashKey: "a"})).To(Succeed())
		err := m.PushSenderQueue(key, &queue.SenderQueueItem{HashKey: "a"})
		Expect(err).To(MatchError(exactlyonce.ErrAlreadySending))
	})

	It("marks the checkpoint Acked and clears in-flight state on OnAck", func() {
		item := &queue.SenderQueueItem{HashKey: "a"}
		Expect(m.PushSenderQueue(key, item)).To(Succeed())

		m.OnAck(item)

		Expect(m.IsSending(key, "a")).To(BeFalse())
		Expect(store.Get("a").State).To(Equal(checkpoint.StateAcked))
	})

	It("reverts the checkpoint to Unsent and allows a retry push on a non-permanent OnNack", func() {
		item := &queue.SenderQueueItem{HashKey: "a"}
		Expect(m.PushSenderQueue(key, item)).To(Succeed())

		m.OnNack(item, time.Millisecond, false)

		Expect(m.IsSending(key, "a")).To(BeFalse())
		Expect(store.Get("a").State).To(Equal(checkpoint.StateUnsent))

		retry := &queue.SenderQueueItem{HashKey: "a"}
		Expect(m.PushSenderQueue(key, retry)).To(Succeed())
	})

	It("leaves the checkpoint Sending on a permanent OnNack", func() {
		item := &queue.SenderQueueItem{HashKey: "a"}
		Expect(m.PushSenderQueue(key, item)).To(Succeed())

		m.OnNack(item, 0, true)

		Expect(store.Get("a").State).To(Equal(checkpoint.StateSending))
		Expect(m.IsSending(key, "a")).To(BeTrue())
	})

	It("rejects further use of a queue once deleted, including after ClearTimeoutQueues", func() {
		item := &queue.SenderQueueItem{HashKey: "a"}
		Expect(m.PushSenderQueue(key, item)).To(Succeed())

		m.DeleteQueue(key)
		err := m.PushSenderQueue(key, &queue.SenderQueueItem{HashKey: "b"})
		Expect(err).To(MatchError(exactlyonce.ErrUnknownQueue))

		m.ClearTimeoutQueues()

		err = m.PushProcessQueue(key, queue.ProcessQueueItem{})
		Expect(err).To(MatchError(exactlyonce.ErrUnknownQueue))
	})
})
