package plugin_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hostcollector/agent/pkg/event"
	"github.com/hostcollector/agent/pkg/plugin"
	"github.com/hostcollector/agent/pkg/queue"
)

type fakeInput struct{ stopped bool }

func (f *fakeInput) Init(map[string]any) error    { return nil }
func (f *fakeInput) Start(context.Context) error  { return nil }
func (f *fakeInput) Stop() error                  { f.stopped = true; return nil }

type fakeFlusher struct{}

func (f *fakeFlusher) Init(map[string]any) error { return nil }
func (f *fakeFlusher) Start() error               { return nil }
func (f *fakeFlusher) Stop() error                { return nil }
func (f *fakeFlusher) Serialize(g *event.Group) (*queue.SenderQueueItem, error) {
	return &queue.SenderQueueItem{}, nil
}
func (f *fakeFlusher) Send(context.Context, *queue.SenderQueueItem) plugin.SendResult {
	return plugin.SendResult{Status: plugin.SendOK}
}

var _ = Describe("Registry", func() {
	var r *plugin.Registry

	BeforeEach(func() {
		r = plugin.NewRegistry(nil)
	})

	It("registers and creates an input plugin by type name", func() {
		err := r.Register(plugin.CategoryInput, "fake_input", func(meta plugin.Meta) (any, error) {
			return &fakeInput{}, nil
		}, false, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.IsValidInput("fake_input")).To(BeTrue())

		in, err := r.CreateInput("fake_input", plugin.Meta{ID: "1", TypeName: "fake_input"})
		Expect(err).NotTo(HaveOccurred())
		Expect(in).NotTo(BeNil())
	})

	It("rejects duplicate registration without override", func() {
		factory := func(meta plugin.Meta) (any, error) { return &fakeFlusher{}, nil }
		Expect(r.Register(plugin.CategoryFlusher, "dup", factory, false, false)).To(Succeed())
		err := r.Register(plugin.CategoryFlusher, "dup", factory, false, false)
		Expect(err).To(HaveOccurred())
		Expect(err).To(MatchError(plugin.ErrDuplicatePlugin))
	})

	It("fails to create an unknown type", func() {
		_, err := r.CreateFlusher("does_not_exist", plugin.Meta{})
		Expect(err).To(MatchError(plugin.ErrUnknownPlugin))
	})

	It("refuses a second instantiation of a singleton input until released", func() {
		err := r.Register(plugin.CategoryInput, "single", func(meta plugin.Meta) (any, error) {
			return &fakeInput{}, nil
		}, true, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.IsGlobalSingletonInput("single")).To(BeTrue())

		_, err = r.CreateInput("single", plugin.Meta{ID: "a"})
		Expect(err).NotTo(HaveOccurred())

		_, err = r.CreateInput("single", plugin.Meta{ID: "b"})
		Expect(err).To(HaveOccurred())

		r.ReleaseSingleton("single")
		_, err = r.CreateInput("single", plugin.Meta{ID: "c"})
		Expect(err).NotTo(HaveOccurred())
	})

	It("loads builtins and logs but does not fail on optional loader errors", func() {
		errs := r.Load(
			[]plugin.BuiltinRegistration{
				{Category: plugin.CategoryFlusher, TypeName: "built", Factory: func(plugin.Meta) (any, error) { return &fakeFlusher{}, nil }},
			},
			func(reg *plugin.Registry) []error {
				return []error{plugin.ErrUnknownPlugin}
			},
		)
		Expect(errs).To(BeEmpty())
		Expect(r.IsValidFlusher("built")).To(BeTrue())
	})
})
