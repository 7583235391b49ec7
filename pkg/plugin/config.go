package plugin

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// ConfigError wraps a plugin Init failure with the plugin's identifying
// metadata so a pipeline builder can report which plugin and config
// rejected its parameters.
type ConfigError struct {
	TypeName string
	Field    string
	Err      error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("plugin %q: field %q: %v", e.TypeName, e.Field, e.Err)
	}
	return fmt.Sprintf("plugin %q: %v", e.TypeName, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// DecodeConfig decodes a generic cfg map (as produced by unmarshaling the
// pipeline config's JSON plugin block) into dst, a pointer to a plugin's
// own options struct. It uses the same composed-hook mapstructure decoder
// idiom used across this codebase's config loaders: weakly typed input so
// numeric/bool/duration strings from JSON/YAML sources decode cleanly, and
// a handful of standard hooks layered on top.
func DecodeConfig(typeName string, cfg map[string]any, dst any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           dst,
		TagName:          "mapstructure",
		ErrorUnused:      false,
	})
	if err != nil {
		return &ConfigError{TypeName: typeName, Err: err}
	}

	if err := decoder.Decode(cfg); err != nil {
		return &ConfigError{TypeName: typeName, Err: err}
	}

	return nil
}

// RequireString returns cfg[key] as a non-empty string, or a ConfigError
// if it is missing or the wrong type. Input plugins commonly need this for
// a mandatory field (e.g. a file path) the mapstructure decode alone
// cannot express as "required".
func RequireString(typeName string, cfg map[string]any, key string) (string, error) {
	v, ok := cfg[key]
	if !ok {
		return "", &ConfigError{TypeName: typeName, Field: key, Err: fmt.Errorf("required field missing")}
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", &ConfigError{TypeName: typeName, Field: key, Err: fmt.Errorf("expected non-empty string")}
	}
	return s, nil
}
