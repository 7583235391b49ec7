package checkpoint_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hostcollector/agent/pkg/checkpoint"
)

var _ = Describe("Store", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("returns no sending checkpoints and an empty snapshot on a fresh journal", func() {
		s, sending, err := checkpoint.Open(dir, "journal", 50)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()

		Expect(sending).To(BeEmpty())
		Expect(s.Snapshot()).To(BeEmpty())
	})

	It("persists and retrieves the latest state per hash key", func() {
		s, _, err := checkpoint.Open(dir, "journal", 50)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()

		Expect(s.Persist(&checkpoint.RangeCheckpoint{HashKey: "k1", State: checkpoint.StateUnsent})).To(Succeed())
		Expect(s.Persist(&checkpoint.RangeCheckpoint{HashKey: "k1", State: checkpoint.StateSending})).To(Succeed())

		got := s.Get("k1")
		Expect(got).NotTo(BeNil())
		Expect(got.State).To(Equal(checkpoint.StateSending))
	})

	It("replays Sending checkpoints as in-flight work to retry after reopening", func() {
		s, _, err := checkpoint.Open(dir, "journal", 50)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Persist(&checkpoint.RangeCheckpoint{HashKey: "k1", State: checkpoint.StateSending})).To(Succeed())
		Expect(s.Persist(&checkpoint.RangeCheckpoint{HashKey: "k2", State: checkpoint.StateAcked})).To(Succeed())
		Expect(s.Close()).To(Succeed())

		reopened, sending, err := checkpoint.Open(dir, "journal", 50)
		Expect(err).NotTo(HaveOccurred())
		defer reopened.Close()

		Expect(sending).To(HaveLen(1))
		Expect(sending[0].HashKey).To(Equal("k1"))
		Expect(reopened.Snapshot()).To(HaveLen(2))
	})

	It("compacts once more than half of tracked keys are acked", func() {
		s, _, err := checkpoint.Open(dir, "journal", 50)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()

		for i := 0; i < 4; i++ {
			key := fmt.Sprintf("k%d", i)
			Expect(s.Persist(&checkpoint.RangeCheckpoint{HashKey: key, State: checkpoint.StateUnsent})).To(Succeed())
		}
		for i := 0; i < 3; i++ {
			key := fmt.Sprintf("k%d", i)
			Expect(s.Persist(&checkpoint.RangeCheckpoint{HashKey: key, State: checkpoint.StateAcked})).To(Succeed())
		}

		Expect(s.Snapshot()).To(HaveLen(4))

		Expect(s.Close()).To(Succeed())
		reopened, _, err := checkpoint.Open(dir, "journal", 50)
		Expect(err).NotTo(HaveOccurred())
		defer reopened.Close()
		Expect(reopened.Snapshot()).To(HaveLen(4))
	})
})
