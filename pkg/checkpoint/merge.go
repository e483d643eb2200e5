package checkpoint

import (
	"encoding/json"
	"sync"
)

// Merger folds one delta into a base state snapshot. Implementations
// must be pure: no I/O, no mutation of the inputs. ok=false means the
// delta could not be applied and the returned bytes are the base
// unchanged.
type Merger interface {
	Merge(base, delta []byte) (merged []byte, ok bool)
}

var (
	mergerMu sync.RWMutex
	mergers  = make(map[string]Merger)
)

// RegisterMerger binds a merger to a task kind tag. Kinds without a
// registered merger get the default JSON merge.
func RegisterMerger(kind string, m Merger) {
	mergerMu.Lock()
	defer mergerMu.Unlock()
	mergers[kind] = m
}

// MergerFor returns the merger for a kind tag, falling back to the
// default.
func MergerFor(kind string) Merger {
	mergerMu.RLock()
	defer mergerMu.RUnlock()
	if m, ok := mergers[kind]; ok {
		return m
	}
	return defaultMerger{}
}

// defaultMerger handles the two common state shapes:
//
//   - JSON objects on both sides: right-biased key overlay, delta keys
//     win;
//   - JSON numeric arrays of equal length: element-wise addition.
//
// Anything else is unclassifiable and leaves the base unchanged.
type defaultMerger struct{}

func (defaultMerger) Merge(base, delta []byte) ([]byte, bool) {
	if merged, ok := mergeObjects(base, delta); ok {
		return merged, true
	}
	if merged, ok := addArrays(base, delta); ok {
		return merged, true
	}
	return base, false
}

func mergeObjects(base, delta []byte) ([]byte, bool) {
	var baseObj, deltaObj map[string]any
	if json.Unmarshal(base, &baseObj) != nil || baseObj == nil {
		return nil, false
	}
	if json.Unmarshal(delta, &deltaObj) != nil || deltaObj == nil {
		return nil, false
	}
	merged := make(map[string]any, len(baseObj)+len(deltaObj))
	for k, v := range baseObj {
		merged[k] = v
	}
	for k, v := range deltaObj {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, false
	}
	return out, true
}

func addArrays(base, delta []byte) ([]byte, bool) {
	baseNums, ok := numericArray(base)
	if !ok {
		return nil, false
	}
	deltaNums, ok := numericArray(delta)
	if !ok || len(baseNums) != len(deltaNums) {
		return nil, false
	}
	sums := make([]float64, len(baseNums))
	for i := range baseNums {
		sums[i] = baseNums[i] + deltaNums[i]
	}
	out, err := json.Marshal(sums)
	if err != nil {
		return nil, false
	}
	return out, true
}

func numericArray(data []byte) ([]float64, bool) {
	var arr []any
	if json.Unmarshal(data, &arr) != nil || arr == nil {
		return nil, false
	}
	nums := make([]float64, len(arr))
	for i, v := range arr {
		n, isNum := v.(float64)
		if !isNum {
			return nil, false
		}
		nums[i] = n
	}
	return nums, true
}
