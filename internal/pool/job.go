// Package pool implements the two-room pool actor pair: a WaitingRoom that
// orders pending jobs by urgency and holds the pool's worker tokens, and a
// WorkingRoom that submits admitted jobs to an underlying worker Pool and
// reports results back. Token count always equals the pool's worker
// count: a token is either sitting in the waiting room or checked out by
// a job currently running in the working room, never both or neither.
package pool

import (
	"github.com/rasterflow/rasterflow/internal/actor"
	"github.com/rasterflow/rasterflow/internal/sched/priorities"
)

// Class ranks a job's category. Jobs are admitted strictly in class
// order — every MaxPriority job runs before any Production job, every
// Production job before any Cache job — and within a class, Production
// jobs are ordered by Urgency (ascending: a lower value is more urgent).
type Class int

const (
	ClassMaxPriority Class = iota
	ClassProduction
	ClassCache
)

// Job is one unit of pool work: a thunk to run, the class/urgency that
// determines admission order, and where to deliver its result.
type Job struct {
	ID          string
	Class       Class
	Urgency     int            // meaningful for ClassProduction; lower sorts first
	PriorityKey priorities.Key // ties this job to a global-priorities-watcher queue; zero value if untracked
	Run         func() (any, error)
	ReplyTo     actor.Address
	ReplyKey    string // envelope Title the result is delivered under
}

// less orders two pending jobs: by Class first, then by Urgency within
// ClassProduction, then by ID for a stable tie-break.
func (j Job) less(other Job) bool {
	if j.Class != other.Class {
		return j.Class < other.Class
	}
	if j.Class == ClassProduction && j.Urgency != other.Urgency {
		return j.Urgency < other.Urgency
	}
	return j.ID < other.ID
}

// SubmitJobArgs is the payload of a WaitingRoom "submit_job" envelope.
type SubmitJobArgs struct {
	Job Job
}

// RunJobArgs is the payload of a WaitingRoom-to-WorkingRoom "run_job"
// envelope: a job that has been admitted and granted a token.
type RunJobArgs struct {
	Job Job
}

// SetUrgencyArgs is the payload of a "set_urgency" envelope: a direct
// refresh of a still-queued job's urgency without resubmitting it. No
// actor in this repository sends it; the priorities watcher's
// "global_priorities_update" broadcast is what re-keys tagged jobs.
type SetUrgencyArgs struct {
	JobID   string
	Urgency int
}

// JobResult is delivered to Job.ReplyTo under Job.ReplyKey when a job
// completes, successfully or not.
type JobResult struct {
	JobID  string
	Result any
	Err    error
}
