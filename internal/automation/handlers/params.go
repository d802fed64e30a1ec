package handlers

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// decodeParams copies plan params into a typed struct. Scalars are weakly
// typed so "true" and true both decode into a bool.
func decodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}
