package plugin_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hostcollector/agent/pkg/plugin"
)

type fakeOptions struct {
	Path     string        `mapstructure:"Path"`
	Interval time.Duration `mapstructure:"Interval"`
	Tags     []string      `mapstructure:"Tags"`
}

var _ = Describe("DecodeConfig", func() {
	It("decodes a weakly typed map into a plugin's options struct", func() {
		var opts fakeOptions
		err := plugin.DecodeConfig("fake_input", map[string]any{
			"Path":     "/var/log/app.log",
			"Interval": "15s",
			"Tags":     "a,b,c",
		}, &opts)

		Expect(err).NotTo(HaveOccurred())
		Expect(opts.Path).To(Equal("/var/log/app.log"))
		Expect(opts.Interval).To(Equal(15 * time.Second))
		Expect(opts.Tags).To(Equal([]string{"a", "b", "c"}))
	})

	It("wraps decode failures in a ConfigError naming the plugin type", func() {
		var opts fakeOptions
		err := plugin.DecodeConfig("fake_input", map[string]any{
			"Interval": "not-a-duration",
		}, &opts)

		Expect(err).To(HaveOccurred())
		var cfgErr *plugin.ConfigError
		Expect(err).To(BeAssignableToTypeOf(cfgErr))
	})
})

var _ = Describe("RequireString", func() {
	It("returns the value when present and non-empty", func() {
		v, err := plugin.RequireString("fake_input", map[string]any{"Path": "/tmp/x"}, "Path")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal("/tmp/x"))
	})

	It("errors when the field is missing", func() {
		_, err := plugin.RequireString("fake_input", map[string]any{}, "Path")
		Expect(err).To(HaveOccurred())
	})

	It("errors when the field is an empty string", func() {
		_, err := plugin.RequireString("fake_input", map[string]any{"Path": ""}, "Path")
		Expect(err).To(HaveOccurred())
	})
})
