package taskkind

import (
	"context"
	"fmt"
	"time"
)

func init() {
	Register(&Echo{})
	Register(&Square{})
	Register(&IterSum{})
}

// Echo returns its first argument unchanged. Useful for wiring and
// load tests.
type Echo struct{}

func (k *Echo) Name() string { return "echo" }

func (k *Echo) Run(_ context.Context, _ *Runtime, args []any) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	return args[0], nil
}

// Square computes the square of a numeric argument
type Square struct{}

func (k *Square) Name() string { return "square" }

func (k *Square) Run(_ context.Context, rt *Runtime, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("square: want 1 argument, got %d", len(args))
	}
	n, err := toFloat(args[0])
	if err != nil {
		return nil, fmt.Errorf("square: %w", err)
	}
	rt.SetProgress(100)
	return n * n, nil
}

// IterSum sums the integers 1..n one iteration at a time, recording
// its running total in the runtime so a replacement worker can resume
// mid-sum. An optional second argument adds a per-iteration delay in
// milliseconds for exercising the checkpoint loop.
type IterSum struct{}

func (k *IterSum) Name() string { return "itersum" }

func (k *IterSum) Run(ctx context.Context, rt *Runtime, args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("itersum: want at least 1 argument")
	}
	limit, err := toFloat(args[0])
	if err != nil {
		return nil, fmt.Errorf("itersum: %w", err)
	}
	n := int64(limit)
	if n < 0 {
		return nil, fmt.Errorf("itersum: negative limit %d", n)
	}

	var delay time.Duration
	if len(args) > 1 {
		ms, err := toFloat(args[1])
		if err != nil {
			return nil, fmt.Errorf("itersum: %w", err)
		}
		delay = time.Duration(ms) * time.Millisecond
	}

	var sum float64
	var start int64 = 1
	if resumed := rt.ResumedState(); resumed != nil {
		if v, ok := resumed["sum"]; ok {
			sum, _ = v.(float64)
		}
		if v, ok := resumed["i"]; ok {
			if i, castOK := v.(float64); castOK {
				start = int64(i) + 1
			}
		}
	}

	for i := start; i <= n; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		sum += float64(i)
		rt.Set("sum", sum)
		rt.Set("i", float64(i))
		if n > 0 {
			rt.SetProgress(float64(i) / float64(n) * 100)
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}
	rt.SetProgress(100)
	return sum, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("non-numeric argument %v (%T)", v, v)
	}
}
