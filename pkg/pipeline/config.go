package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// PluginSpec is one Input/Processor/Flusher entry inside a pipeline
// Config: the catalog type name plus its raw, not-yet-decoded options. The
// plugin's own Init call is what turns Options into a typed struct.
type PluginSpec struct {
	TypeName string
	Options  map[string]any
}

// contentHash returns a stable identity for this spec's bytes, used by
// Reload to tell an unchanged plugin slot from a changed one without
// comparing the decoded option structs field by field.
func (s PluginSpec) contentHash() string {
	// json.Marshal of a map is deterministic as of Go 1.12 (keys sorted),
	// so two PluginSpecs with equal TypeName/Options always hash equal.
	b, err := json.Marshal(struct {
		T string
		O map[string]any
	}{s.TypeName, s.Options})
	if err != nil {
		// Options came from a decoded config document; a marshal failure
		// here means a non-JSON-able value slipped in (e.g. a channel),
		// which is a programmer error in the caller, not a runtime one.
		panic(fmt.Sprintf("pipeline: plugin spec %q not marshalable: %v", s.TypeName, err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Config describes one pipeline as Apply/Reload receive it: a name, its
// priority tier, its Process Queue capacity, and the three plugin chains
// that make it up.
type Config struct {
	Name     string
	Priority int
	// ProcessQueueCapacity sizes the bounded Process Queue this pipeline's
	// Inputs push into. A Reload that changes this value replaces the
	// queue (a capacity change is a new logical queue, per
	// ProcessQueueManager's CreateOrUpdate contract) rather than resizing
	// it in place.
	ProcessQueueCapacity int

	// ProcessorWorkers sizes this pipeline's processor worker pool —
	// the goroutines that drain the Process Queue and run the
	// Processor/Flusher chain. Zero defaults to runtime.NumCPU() when
	// the pipeline is Applied. A Reload that changes this value does not
	// resize the already-running pool: the pool is built only by Start,
	// and a Stopped pipeline must be Applied again (with that Config's own
	// ProcessorWorkers) before it can Start.
	ProcessorWorkers int

	Inputs     []PluginSpec
	Processors []PluginSpec
	Flushers   []PluginSpec
}
