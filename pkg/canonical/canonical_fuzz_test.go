package canonical

import (
	"encoding/json"
	"testing"
)

func FuzzCanonicalize(f *testing.F) {
	f.Add([]byte(`{"a":1,"b":2}`))
	f.Add([]byte(`{"z":{"y":"foo","x":"bar"},"a":1}`))
	f.Add([]byte(`{"html":"<script>alert('x')</script> &"}`))
	f.Add([]byte(`{"num":123.456,"bool":true,"null":null}`))
	f.Add([]byte(`{"arr":[3,1,2],"nested":{"deep":{"key":"val"}}}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"":"empty_key","a":""}`))
	f.Add([]byte(`{"unicode":"こんにちは","emoji":"🚀"}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			t.Skip("invalid JSON input")
		}

		c1, err := Canonicalize(v)
		if err != nil {
			return
		}
		c2, err := Canonicalize(v)
		if err != nil {
			t.Fatalf("second canonicalization failed after first succeeded: %v", err)
		}
		if c1 != c2 {
			t.Errorf("non-deterministic canonicalization:\n  first:  %s\n  second: %s", c1, c2)
		}

		var check any
		if err := json.Unmarshal([]byte(c1), &check); err != nil {
			t.Errorf("canonical output is not valid JSON: %s", c1)
		}
	})
}
