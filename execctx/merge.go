package execctx

// Merge combines base with updates field-wise and returns a new context.
//
// Variables merge as a shallow key overwrite where updates win.
// Current-state collections (events.active, events.pending, events.timers,
// parallelExecution state, subprocesses, gateways) are replaced wholesale
// when present in updates. History collections (events.fired and the
// external event lists) are appended, order-preserving, duplicates
// allowed. A nil collection in updates means "absent": the base value is
// left untouched.
func Merge(base, updates *Enhanced) *Enhanced {
	if base == nil {
		base = CreateEmpty()
	}
	out := clone(base)
	if updates == nil {
		return out
	}

	for k, v := range updates.Variables {
		out.Variables[k] = v
	}

	// Replace-class fields
	if updates.Events.Active != nil {
		out.Events.Active = copySlice(updates.Events.Active)
	}
	if updates.Events.Pending != nil {
		out.Events.Pending = copySlice(updates.Events.Pending)
	}
	if updates.Events.Timers != nil {
		out.Events.Timers = copySlice(updates.Events.Timers)
	}
	if updates.ParallelExecution.ActiveBranches != nil {
		out.ParallelExecution.ActiveBranches = copySlice(updates.ParallelExecution.ActiveBranches)
	}
	if updates.ParallelExecution.CompletedBranches != nil {
		out.ParallelExecution.CompletedBranches = copySlice(updates.ParallelExecution.CompletedBranches)
	}
	if updates.ParallelExecution.JoinPoints != nil {
		out.ParallelExecution.JoinPoints = copySlice(updates.ParallelExecution.JoinPoints)
	}
	if updates.Subprocesses.Stack != nil {
		out.Subprocesses.Stack = copySlice(updates.Subprocesses.Stack)
	}
	if updates.Subprocesses.EventSubprocesses != nil {
		out.Subprocesses.EventSubprocesses = copySlice(updates.Subprocesses.EventSubprocesses)
	}
	if updates.Gateways.InclusiveStates != nil {
		out.Gateways.InclusiveStates = copyMap(updates.Gateways.InclusiveStates)
	}
	if updates.Gateways.ComplexConditions != nil {
		out.Gateways.ComplexConditions = copyMap(updates.Gateways.ComplexConditions)
	}

	// Append-class fields
	if updates.Events.Fired != nil {
		out.Events.Fired = append(out.Events.Fired, updates.Events.Fired...)
	}
	if updates.External.MessageEvents != nil {
		out.External.MessageEvents = append(out.External.MessageEvents, updates.External.MessageEvents...)
	}
	if updates.External.WebhookEvents != nil {
		out.External.WebhookEvents = append(out.External.WebhookEvents, updates.External.WebhookEvents...)
	}
	if updates.External.SignalEvents != nil {
		out.External.SignalEvents = append(out.External.SignalEvents, updates.External.SignalEvents...)
	}

	return out
}

// clone makes a copy deep enough that mutating the result's collections
// never touches the original.
func clone(ctx *Enhanced) *Enhanced {
	out := CreateEmpty()
	for k, v := range ctx.Variables {
		out.Variables[k] = v
	}
	out.Events.Active = copySlice(ctx.Events.Active)
	out.Events.Pending = copySlice(ctx.Events.Pending)
	out.Events.Fired = copySlice(ctx.Events.Fired)
	out.Events.Timers = copySlice(ctx.Events.Timers)
	out.ParallelExecution.ActiveBranches = copySlice(ctx.ParallelExecution.ActiveBranches)
	out.ParallelExecution.CompletedBranches = copySlice(ctx.ParallelExecution.CompletedBranches)
	out.ParallelExecution.JoinPoints = copySlice(ctx.ParallelExecution.JoinPoints)
	out.Subprocesses.Stack = copySlice(ctx.Subprocesses.Stack)
	out.Subprocesses.EventSubprocesses = copySlice(ctx.Subprocesses.EventSubprocesses)
	out.External.MessageEvents = copySlice(ctx.External.MessageEvents)
	out.External.WebhookEvents = copySlice(ctx.External.WebhookEvents)
	out.External.SignalEvents = copySlice(ctx.External.SignalEvents)
	out.Gateways.InclusiveStates = copyMap(ctx.Gateways.InclusiveStates)
	out.Gateways.ComplexConditions = copyMap(ctx.Gateways.ComplexConditions)
	return out
}

func copySlice[T any](in []T) []T {
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
