// Package serial provides one-at-a-time execution contexts. Everything submitted to an
// Executor runs in submission order and never concurrently with another task of the
// same Executor.
package serial

type Executor interface {
	// Async schedules task and returns without waiting. It must be safe to call from
	// inside a running task.
	Async(task func())
}
