//go:build property
// +build property

package canonical

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: hashing is independent of map construction order.
func TestHashInsertionOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("hash is construction-order independent", prop.ForAll(
		func(keys []string, values []string) bool {
			forward := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				forward[keys[i]] = values[i]
			}
			backward := make(map[string]any)
			for i := min(len(keys), len(values)) - 1; i >= 0; i-- {
				backward[keys[i]] = values[i]
			}

			h1, err1 := Hash(forward)
			h2, err2 := Hash(backward)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("canonicalization is deterministic", prop.ForAll(
		func(keys []string, nums []int64) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys) && i < len(nums); i++ {
				obj[keys[i]] = nums[i]
			}
			c1, err1 := Canonicalize(obj)
			c2, err2 := Canonicalize(obj)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return c1 == c2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.Int64()),
	))

	properties.TestingRun(t)
}
