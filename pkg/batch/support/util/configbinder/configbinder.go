// Package configbinder decodes loosely typed configuration maps into structs.
package configbinder

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Bind decodes input, typically a map read from YAML or the environment, into target
// using its mapstructure tags. Scalars convert weakly: "5432" fills an int field and a
// numeric password fills a string field.
func Bind(input interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode properties: %w", err)
	}
	return nil
}
