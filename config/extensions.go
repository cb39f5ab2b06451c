package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// UnmarshalExtension decodes a named extension section into out. Sections are
// owned by individual tools; unknown sections are simply absent.
func (c *Config) UnmarshalExtension(name string, out interface{}) error {
	raw, ok := c.Extensions[name]
	if !ok {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "yaml",
	})
	if err != nil {
		return fmt.Errorf("create decoder for extension %q: %w", name, err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("decode extension %q: %w", name, err)
	}
	return nil
}
