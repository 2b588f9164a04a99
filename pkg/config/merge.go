package config

import (
	"fmt"

	"dario.cat/mergo"
)

// mergeOverride merges src onto dst in place, letting any non-zero field
// set in src override dst's built-in default.
func mergeOverride(dst, src any) error {
	if err := mergo.Merge(dst, src, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge configuration: %w", err)
	}
	return nil
}
