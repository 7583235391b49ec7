// Package processors implements the illustrative Processor bodies shipped
// with this agent: static tag attachment and a regex log-body extractor.
// Per spec.md's non-goals, processor body logic is out of scope beyond the
// pkg/plugin.Processor contract each must satisfy; these exist only to
// exercise the chain end to end.
package processors

import (
	"github.com/hostcollector/agent/pkg/event"
	"github.com/hostcollector/agent/pkg/plugin"
)

// TagAttachTypeName is this Processor's catalog registration name.
const TagAttachTypeName = "tag_attach"

// TagAttachConfig is the raw options block for TagAttachProcessor.
type TagAttachConfig struct {
	Tags map[string]string `mapstructure:"Tags"`
}

// TagAttachProcessor merges a static set of key/value tags into every
// group it processes' GroupTags, overwriting any existing key of the same
// name. GroupTags apply to every Event in the group rather than needing a
// per-event arena write, matching event.Group's documented "group-wide,
// not arena-backed" field.
type TagAttachProcessor struct {
	tags map[string]string
}

// NewTagAttachProcessor is the registry Factory for TagAttachTypeName.
func NewTagAttachProcessor() plugin.Factory {
	return func(plugin.Meta) (any, error) {
		return &TagAttachProcessor{}, nil
	}
}

// Init decodes cfg into the static tag set.
func (p *TagAttachProcessor) Init(cfg map[string]any) error {
	var decoded TagAttachConfig
	if err := plugin.DecodeConfig(TagAttachTypeName, cfg, &decoded); err != nil {
		return err
	}
	p.tags = decoded.Tags
	return nil
}

// Process merges the configured tags into group.GroupTags.
func (p *TagAttachProcessor) Process(group *event.Group) {
	for k, v := range p.tags {
		group.GroupTags[k] = v
	}
}
