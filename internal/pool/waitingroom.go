package pool

import (
	"sort"

	"github.com/rasterflow/rasterflow/internal/actor"
	"github.com/rasterflow/rasterflow/internal/sched/priorities"
)

// WaitingRoom holds admitted-but-not-yet-running jobs for one pool, in
// urgency order, and the pool's worker tokens. It never runs a job
// itself — it hands a (job, token) pair to the WorkingRoom once both a
// token is free and the job is at the front of the queue.
type WaitingRoom struct {
	poolName string
	pending  []Job
	tokens   int
}

// NewWaitingRoom creates a waiting room starting with all of the pool's
// tokens (the working room holds none until a job is dispatched to it).
func NewWaitingRoom(poolName string, workerCount int) *WaitingRoom {
	return &WaitingRoom{poolName: poolName, tokens: workerCount}
}

func (wr *WaitingRoom) workingRoomAddr() actor.Address {
	return actor.Address{Group: actor.Pool, GroupID: wr.poolName, Actor: "WorkingRoom"}
}

// Receive implements actor.Actor. Valid titles: "submit_job",
// "set_urgency", "release_token", "global_priorities_update" (broadcast
// by the global priorities watcher; refreshes the Urgency of any pending
// job tagged with the update's Key).
func (wr *WaitingRoom) Receive(env actor.Envelope) ([]actor.Envelope, error) {
	switch env.Title {
	case "submit_job":
		args := env.Args.(SubmitJobArgs)
		wr.pending = append(wr.pending, args.Job)
		return wr.dispatchReady(), nil

	case "set_urgency":
		args := env.Args.(SetUrgencyArgs)
		for i := range wr.pending {
			if wr.pending[i].ID == args.JobID {
				wr.pending[i].Urgency = args.Urgency
				break
			}
		}
		return nil, nil

	case "global_priorities_update":
		args := env.Args.(priorities.GlobalPrioritiesUpdate)
		urgency := args.MinProdIdx
		if args.Removed {
			// No query is left waiting on this key; nothing in the pool
			// should be treated as more urgent because of it. Jobs
			// tagged with this key sort after every other production
			// job, and among themselves by Job.less's ID tie-break.
			urgency = int(^uint(0) >> 1)
		}
		for i := range wr.pending {
			if wr.pending[i].PriorityKey == args.Key {
				wr.pending[i].Urgency = urgency
			}
		}
		return nil, nil

	case "release_token":
		wr.tokens++
		return wr.dispatchReady(), nil

	default:
		return nil, nil
	}
}

// PendingCount reports how many jobs are queued, for tests and
// diagnostics.
func (wr *WaitingRoom) PendingCount() int { return len(wr.pending) }

// Tokens reports the waiting room's currently held (idle) token count.
func (wr *WaitingRoom) Tokens() int { return wr.tokens }

// dispatchReady hands as many (job, token) pairs to the working room as
// current tokens and pending jobs allow, always picking the most urgent
// pending job first.
func (wr *WaitingRoom) dispatchReady() []actor.Envelope {
	var out []actor.Envelope
	for wr.tokens > 0 && len(wr.pending) > 0 {
		idx := wr.bestIndex()
		job := wr.pending[idx]
		wr.pending = append(wr.pending[:idx], wr.pending[idx+1:]...)
		wr.tokens--

		out = append(out, actor.Envelope{
			Dest:  wr.workingRoomAddr(),
			Title: "run_job",
			Args:  RunJobArgs{Job: job},
			Kind:  actor.Basic,
		})
	}
	return out
}

func (wr *WaitingRoom) bestIndex() int {
	best := 0
	for i := 1; i < len(wr.pending); i++ {
		if wr.pending[i].less(wr.pending[best]) {
			best = i
		}
	}
	return best
}

// sortPending is exposed only for tests that want to assert admission
// order deterministically without racing dispatchReady's in-place scan.
func (wr *WaitingRoom) sortPending() {
	sort.SliceStable(wr.pending, func(i, j int) bool { return wr.pending[i].less(wr.pending[j]) })
}
