package execctx

import "time"

// AddVariable returns a copy of ctx with one variable set.
func AddVariable(ctx *Enhanced, name string, value any) *Enhanced {
	out := clone(ctx)
	out.Variables[name] = value
	return out
}

// AddBoundaryEvent returns a copy of ctx with the event appended to the
// active set.
func AddBoundaryEvent(ctx *Enhanced, event BoundaryEvent) *Enhanced {
	out := clone(ctx)
	out.Events.Active = append(out.Events.Active, event)
	return out
}

// AddTimerEvent returns a copy of ctx with the timer appended.
func AddTimerEvent(ctx *Enhanced, timer TimerEvent) *Enhanced {
	out := clone(ctx)
	out.Events.Timers = append(out.Events.Timers, timer)
	return out
}

// AddParallelBranch returns a copy of ctx with the branch appended to the
// active branches.
func AddParallelBranch(ctx *Enhanced, branch ParallelBranch) *Enhanced {
	out := clone(ctx)
	out.ParallelExecution.ActiveBranches = append(out.ParallelExecution.ActiveBranches, branch)
	return out
}

// CompleteParallelBranch marks one branch completed, stamps its completion
// time, stores its result, and records its id in completedBranches. All
// other branches are untouched. Unknown branch ids leave the branch list
// unchanged but still record the id.
func CompleteParallelBranch(ctx *Enhanced, branchID string, result any) *Enhanced {
	out := clone(ctx)
	now := time.Now()
	for i := range out.ParallelExecution.ActiveBranches {
		b := &out.ParallelExecution.ActiveBranches[i]
		if b.BranchID == branchID {
			b.Status = BranchCompleted
			b.CompletedAt = &now
			b.Result = result
			break
		}
	}
	out.ParallelExecution.CompletedBranches = append(out.ParallelExecution.CompletedBranches, branchID)
	return out
}

// EnterSubprocess pushes a frame onto the subprocess stack.
func EnterSubprocess(ctx *Enhanced, frame SubprocessContext) *Enhanced {
	out := clone(ctx)
	out.Subprocesses.Stack = append(out.Subprocesses.Stack, frame)
	return out
}

// ExitSubprocess pops the top of the subprocess stack. On an empty stack
// it returns the context unchanged.
func ExitSubprocess(ctx *Enhanced) *Enhanced {
	if len(ctx.Subprocesses.Stack) == 0 {
		return ctx
	}
	out := clone(ctx)
	out.Subprocesses.Stack = out.Subprocesses.Stack[:len(out.Subprocesses.Stack)-1]
	return out
}

// FireEvent appends a fired event instance to the history.
func FireEvent(ctx *Enhanced, instance EventInstance) *Enhanced {
	out := clone(ctx)
	out.Events.Fired = append(out.Events.Fired, instance)
	return out
}
