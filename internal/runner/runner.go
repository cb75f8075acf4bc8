// Package runner wraps the external batch job runner. The rest of the system
// only sees the two-operation interface below: an authoritative snapshot of
// running jobs, and fire-and-forget dispatch.
package runner

import "context"

type Runner interface {
	// CountRunningJobs returns the number of runs of jobName currently in
	// an explicit running state.
	CountRunningJobs(ctx context.Context, jobName string) (int, error)

	// StartJob dispatches one run and returns the runner's run id.
	StartJob(ctx context.Context, jobName string, args map[string]string) (string, error)
}
