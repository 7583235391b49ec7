package processors

import (
	"fmt"
	"regexp"

	"github.com/hostcollector/agent/pkg/event"
	"github.com/hostcollector/agent/pkg/plugin"
)

// RegexParseTypeName is this Processor's catalog registration name.
const RegexParseTypeName = "regex_parse"

// RegexParseConfig is the raw options block for RegexParseProcessor.
type RegexParseConfig struct {
	// Pattern must contain at least one named capture group; each match
	// becomes an event Tag named after the group.
	Pattern string `mapstructure:"Pattern"`
	// DropUnmatched discards a Log event outright when Pattern does not
	// match its body, instead of passing it through untagged.
	DropUnmatched bool `mapstructure:"DropUnmatched"`
}

// RegexParseProcessor runs a compiled pattern against each Log event's
// body and attaches one Tag per named capture group. Non-Log events and,
// unless DropUnmatched, non-matching Log events pass through unchanged.
// The compiled pattern is a single shared *regexp.Regexp: Go's
// regexp.Regexp is safe for concurrent use by multiple goroutines, which
// collapses the thread-local-compiled-copy contract this is ported from
// (per SPEC_FULL.md §9) down to one value.
type RegexParseProcessor struct {
	re            *regexp.Regexp
	dropUnmatched bool
}

// NewRegexParseProcessor is the registry Factory for RegexParseTypeName.
func NewRegexParseProcessor() plugin.Factory {
	return func(plugin.Meta) (any, error) {
		return &RegexParseProcessor{}, nil
	}
}

// Init compiles Pattern, which must carry at least one named group.
func (p *RegexParseProcessor) Init(cfg map[string]any) error {
	var decoded RegexParseConfig
	if err := plugin.DecodeConfig(RegexParseTypeName, cfg, &decoded); err != nil {
		return err
	}
	if decoded.Pattern == "" {
		return &plugin.ConfigError{TypeName: RegexParseTypeName, Field: "Pattern", Err: fmt.Errorf("required")}
	}

	re, err := regexp.Compile(decoded.Pattern)
	if err != nil {
		return &plugin.ConfigError{TypeName: RegexParseTypeName, Field: "Pattern", Err: err}
	}
	hasNamedGroup := false
	for _, name := range re.SubexpNames() {
		if name != "" {
			hasNamedGroup = true
			break
		}
	}
	if !hasNamedGroup {
		return &plugin.ConfigError{TypeName: RegexParseTypeName, Field: "Pattern", Err: fmt.Errorf("must contain at least one named capture group")}
	}

	p.re = re
	p.dropUnmatched = decoded.DropUnmatched
	return nil
}

// Process tags every matching Log event in place; non-matching events are
// dropped (DropUnmatched) or left as-is.
func (p *RegexParseProcessor) Process(group *event.Group) {
	kept := group.Events[:0]
	for _, e := range group.Events {
		if e.Kind != event.KindLog || len(e.Log.Body) == 0 {
			kept = append(kept, e)
			continue
		}

		body := group.String(e.Log.Body[0])
		match := p.re.FindStringSubmatch(body)
		if match == nil {
			if !p.dropUnmatched {
				kept = append(kept, e)
			}
			continue
		}

		for i, name := range p.re.SubexpNames() {
			if i == 0 || name == "" {
				continue
			}
			e.Tags = append(e.Tags, event.Tag{
				Key:   group.PutString(name),
				Value: group.PutString(match[i]),
			})
		}
		kept = append(kept, e)
	}
	group.Events = kept
}
