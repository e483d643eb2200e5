/*
Package taskkind defines the executable task types workers can run.

Foreman never ships code over the wire. A job's func_code field names a
kind registered in the worker binary; the broker only routes the name
and the per-task arguments. Adding a task type means implementing Kind
and registering it before the worker connects:

	type Resize struct{}

	func (k *Resize) Name() string { return "resize" }

	func (k *Resize) Run(ctx context.Context, rt *taskkind.Runtime, args []any) (any, error) {
		...
	}

	func init() { taskkind.Register(&Resize{}) }

# Built-ins

  - echo: returns its first argument, for wiring tests
  - square: squares a numeric argument
  - itersum: sums 1..n iteratively, recording resumable state

# Checkpointable State

Kinds record progress through the Runtime: Set writes one key of task
state, SetProgress records a percentage. The worker's checkpoint loop
snapshots the runtime concurrently and ships base and delta
checkpoints to the broker. A kind that wants to survive worker loss
reads ResumedState at startup and skips the work already done, as
itersum does.

Arguments arrive JSON-decoded, so numbers are float64 and structured
arguments are map[string]any.
*/
package taskkind
