package plugin

import (
	"regexp"
	"strings"
)

// FieldFilter holds include/exclude rules for a flat string-keyed field set
// (K8s pod labels, container labels, or environment variables). Each rule
// value is either an exact string match or, when anchored with ^...$, a
// compiled regular expression — mirroring the convention used by the
// collection daemon this filter design is ported from: a value is only
// treated as a pattern when it both starts with ^ and ends with $,
// otherwise it is compared literally.
type FieldFilter struct {
	exact map[string]string
	regex map[string]*regexp.Regexp
}

// NewFieldFilter compiles rules into a FieldFilter. A malformed anchored
// pattern is reported as an error identifying the offending key.
func NewFieldFilter(rules map[string]string) (FieldFilter, error) {
	f := FieldFilter{
		exact: make(map[string]string),
		regex: make(map[string]*regexp.Regexp),
	}
	for k, v := range rules {
		if isAnchoredPattern(v) {
			re, err := regexp.Compile(v)
			if err != nil {
				return FieldFilter{}, &ConfigError{Field: k, Err: err}
			}
			f.regex[k] = re
			continue
		}
		f.exact[k] = v
	}
	return f, nil
}

func isAnchoredPattern(v string) bool {
	return len(v) >= 2 && strings.HasPrefix(v, "^") && strings.HasSuffix(v, "$")
}

// IsEmpty reports whether the filter has no rules at all, in which case it
// matches everything.
func (f FieldFilter) IsEmpty() bool {
	return len(f.exact) == 0 && len(f.regex) == 0
}

// Matches reports whether every rule in f is satisfied by fields. An empty
// filter always matches. A rule whose key is absent from fields fails the
// match.
func (f FieldFilter) Matches(fields map[string]string) bool {
	for k, want := range f.exact {
		if fields[k] != want {
			return false
		}
	}
	for k, re := range f.regex {
		if !re.MatchString(fields[k]) {
			return false
		}
	}
	return true
}

// MatchCriteria is an include/exclude pair over the same field set: a
// candidate passes when it matches Include (or Include is empty) and does
// not match Exclude (or Exclude is empty).
type MatchCriteria struct {
	Include FieldFilter
	Exclude FieldFilter
}

// Matches applies the include-then-exclude rule.
func (m MatchCriteria) Matches(fields map[string]string) bool {
	if !m.Include.IsEmpty() && !m.Include.Matches(fields) {
		return false
	}
	if !m.Exclude.IsEmpty() && m.Exclude.Matches(fields) {
		return false
	}
	return true
}

// ContainerFilterConfig is the raw, unvalidated form of container
// discovery filter settings as they arrive from a pipeline's JSON config.
type ContainerFilterConfig struct {
	K8sNamespaceRegex string `mapstructure:"K8sNamespaceRegex"`
	K8sPodRegex       string `mapstructure:"K8sPodRegex"`
	K8sContainerRegex string `mapstructure:"K8sContainerRegex"`

	IncludeK8sLabel map[string]string `mapstructure:"IncludeK8sLabel"`
	ExcludeK8sLabel map[string]string `mapstructure:"ExcludeK8sLabel"`

	IncludeEnv map[string]string `mapstructure:"IncludeEnv"`
	ExcludeEnv map[string]string `mapstructure:"ExcludeEnv"`

	IncludeContainerLabel map[string]string `mapstructure:"IncludeContainerLabel"`
	ExcludeContainerLabel map[string]string `mapstructure:"ExcludeContainerLabel"`
}

// K8sFilter matches a pod/container identity plus its label set.
type K8sFilter struct {
	NamespaceReg *regexp.Regexp
	PodReg       *regexp.Regexp
	ContainerReg *regexp.Regexp
	LabelFilter  MatchCriteria
}

// IsEmpty reports whether the filter constrains anything at all.
func (k K8sFilter) IsEmpty() bool {
	return k.NamespaceReg == nil && k.PodReg == nil && k.ContainerReg == nil && k.LabelFilter.Include.IsEmpty() && k.LabelFilter.Exclude.IsEmpty()
}

// ContainerIdentity is the subset of container/pod facts a ContainerFilter
// evaluates.
type ContainerIdentity struct {
	Namespace      string
	PodName        string
	ContainerName  string
	K8sLabels      map[string]string
	Env            map[string]string
	ContainerLabel map[string]string
}

// ContainerFilter is the compiled, ready-to-evaluate form of
// ContainerFilterConfig.
type ContainerFilter struct {
	K8s            K8sFilter
	EnvFilter      MatchCriteria
	ContainerLabel MatchCriteria
}

// NewContainerFilter compiles cfg into a ContainerFilter.
func NewContainerFilter(cfg ContainerFilterConfig) (ContainerFilter, error) {
	var cf ContainerFilter
	var err error

	if cfg.K8sNamespaceRegex != "" {
		if cf.K8s.NamespaceReg, err = regexp.Compile(cfg.K8sNamespaceRegex); err != nil {
			return ContainerFilter{}, &ConfigError{Field: "K8sNamespaceRegex", Err: err}
		}
	}
	if cfg.K8sPodRegex != "" {
		if cf.K8s.PodReg, err = regexp.Compile(cfg.K8sPodRegex); err != nil {
			return ContainerFilter{}, &ConfigError{Field: "K8sPodRegex", Err: err}
		}
	}
	if cfg.K8sContainerRegex != "" {
		if cf.K8s.ContainerReg, err = regexp.Compile(cfg.K8sContainerRegex); err != nil {
			return ContainerFilter{}, &ConfigError{Field: "K8sContainerRegex", Err: err}
		}
	}

	if cf.K8s.LabelFilter.Include, err = NewFieldFilter(cfg.IncludeK8sLabel); err != nil {
		return ContainerFilter{}, err
	}
	if cf.K8s.LabelFilter.Exclude, err = NewFieldFilter(cfg.ExcludeK8sLabel); err != nil {
		return ContainerFilter{}, err
	}
	if cf.EnvFilter.Include, err = NewFieldFilter(cfg.IncludeEnv); err != nil {
		return ContainerFilter{}, err
	}
	if cf.EnvFilter.Exclude, err = NewFieldFilter(cfg.ExcludeEnv); err != nil {
		return ContainerFilter{}, err
	}
	if cf.ContainerLabel.Include, err = NewFieldFilter(cfg.IncludeContainerLabel); err != nil {
		return ContainerFilter{}, err
	}
	if cf.ContainerLabel.Exclude, err = NewFieldFilter(cfg.ExcludeContainerLabel); err != nil {
		return ContainerFilter{}, err
	}

	return cf, nil
}

// Matches reports whether id passes every configured constraint.
func (cf ContainerFilter) Matches(id ContainerIdentity) bool {
	if cf.K8s.NamespaceReg != nil && !cf.K8s.NamespaceReg.MatchString(id.Namespace) {
		return false
	}
	if cf.K8s.PodReg != nil && !cf.K8s.PodReg.MatchString(id.PodName) {
		return false
	}
	if cf.K8s.ContainerReg != nil && !cf.K8s.ContainerReg.MatchString(id.ContainerName) {
		return false
	}
	if !cf.K8s.LabelFilter.Matches(id.K8sLabels) {
		return false
	}
	if !cf.EnvFilter.Matches(id.Env) {
		return false
	}
	if !cf.ContainerLabel.Matches(id.ContainerLabel) {
		return false
	}
	return true
}
