package checkpoint

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultMergeObjects tests the right-biased key overlay
func TestDefaultMergeObjects(t *testing.T) {
	merger := MergerFor("anything")

	merged, ok := merger.Merge(
		[]byte(`{"sum": 10, "i": 4, "label": "a"}`),
		[]byte(`{"sum": 15, "i": 5}`),
	)
	require.True(t, ok)

	var state map[string]any
	require.NoError(t, json.Unmarshal(merged, &state))
	assert.Equal(t, float64(15), state["sum"], "delta keys win")
	assert.Equal(t, float64(5), state["i"])
	assert.Equal(t, "a", state["label"], "base-only keys survive")
}

// TestDefaultMergeArrays tests element-wise addition of numeric arrays
func TestDefaultMergeArrays(t *testing.T) {
	merger := MergerFor("anything")

	merged, ok := merger.Merge([]byte(`[1, 2, 3]`), []byte(`[10, 20, 30]`))
	require.True(t, ok)
	assert.JSONEq(t, `[11, 22, 33]`, string(merged))
}

// TestDefaultMergeUnclassifiable tests the base-unchanged fallback
func TestDefaultMergeUnclassifiable(t *testing.T) {
	merger := MergerFor("anything")

	tests := []struct {
		name  string
		base  string
		delta string
	}{
		{name: "length mismatch", base: `[1, 2]`, delta: `[1, 2, 3]`},
		{name: "non-numeric array", base: `[1, "x"]`, delta: `[1, 2]`},
		{name: "shape mismatch", base: `{"a": 1}`, delta: `[1]`},
		{name: "scalars", base: `42`, delta: `43`},
		{name: "garbage delta", base: `{"a": 1}`, delta: `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, ok := merger.Merge([]byte(tt.base), []byte(tt.delta))
			assert.False(t, ok)
			assert.Equal(t, tt.base, string(merged), "base must pass through unchanged")
		})
	}
}

type maxMerger struct{}

func (maxMerger) Merge(base, delta []byte) ([]byte, bool) {
	var a, b float64
	if json.Unmarshal(base, &a) != nil || json.Unmarshal(delta, &b) != nil {
		return base, false
	}
	if b > a {
		return delta, true
	}
	return base, true
}

// TestMergerRegistry tests kind-specific merger dispatch
func TestMergerRegistry(t *testing.T) {
	RegisterMerger("highwater", maxMerger{})

	merged, ok := MergerFor("highwater").Merge([]byte(`5`), []byte(`9`))
	require.True(t, ok)
	assert.Equal(t, `9`, string(merged))

	// Unregistered kinds fall back to the default
	_, ok = MergerFor("other").Merge([]byte(`5`), []byte(`9`))
	assert.False(t, ok)
}
