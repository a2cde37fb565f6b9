package pool

import "github.com/rasterflow/rasterflow/internal/actor"

// WorkingRoom submits jobs handed to it by the WaitingRoom to an
// underlying worker Pool, polls their futures on each keep-alive tick,
// and on completion delivers the result to the job's ReplyTo and returns
// its token to the waiting room.
type WorkingRoom struct {
	poolName string
	underlying Pool

	running map[string]runningJob
}

type runningJob struct {
	job    Job
	future Future
}

// NewWorkingRoom wraps underlying, the concrete worker pool (ThreadPool
// or ProcessPool) this room submits jobs to.
func NewWorkingRoom(poolName string, underlying Pool) *WorkingRoom {
	return &WorkingRoom{poolName: poolName, underlying: underlying, running: make(map[string]runningJob)}
}

func (wr *WorkingRoom) waitingRoomAddr() actor.Address {
	return actor.Address{Group: actor.Pool, GroupID: wr.poolName, Actor: "WaitingRoom"}
}

// Receive implements actor.Actor. The only title it accepts is
// "run_job"; polling and completion happen in ExtReceiveNothing.
func (wr *WorkingRoom) Receive(env actor.Envelope) ([]actor.Envelope, error) {
	if env.Title != "run_job" {
		return nil, nil
	}
	args := env.Args.(RunJobArgs)
	f := wr.underlying.Apply(args.Job.Run)
	wr.running[args.Job.ID] = runningJob{job: args.Job, future: f}
	return nil, nil
}

// ExtReceiveNothing implements actor.KeepAlive: it polls every running
// job's future, and for each that has completed, delivers its result and
// releases its token back to the waiting room.
func (wr *WorkingRoom) ExtReceiveNothing() ([]actor.Envelope, error) {
	var out []actor.Envelope
	for id, rj := range wr.running {
		result, err, done := rj.future.Poll()
		if !done {
			continue
		}
		delete(wr.running, id)

		out = append(out, actor.Envelope{
			Dest:  rj.job.ReplyTo,
			Title: rj.job.ReplyKey,
			Args:  JobResult{JobID: id, Result: result, Err: err},
			Kind:  actor.Basic,
		})
		out = append(out, actor.Envelope{
			Dest:  wr.waitingRoomAddr(),
			Title: "release_token",
			Kind:  actor.Basic,
		})
	}
	return out, nil
}

// RunningCount reports how many jobs are in flight, for tests and
// diagnostics.
func (wr *WorkingRoom) RunningCount() int { return len(wr.running) }
