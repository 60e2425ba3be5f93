package execctx

import "time"

// historyRetention is how long fired and external events are kept before
// prune discards them.
const historyRetention = time.Hour

// Prune drops state that can no longer influence the run: expired timers,
// fired and external webhook/signal events older than one hour, parallel
// branches that are no longer running, and event-subprocesses that are no
// longer running. Everything else passes through unmodified.
func Prune(ctx *Enhanced, now time.Time) *Enhanced {
	if ctx == nil {
		return CreateEmpty()
	}
	out := clone(ctx)
	cutoff := now.Add(-historyRetention)

	timers := out.Events.Timers[:0]
	for _, t := range out.Events.Timers {
		if t.ExpiresAt.After(now) {
			timers = append(timers, t)
		}
	}
	out.Events.Timers = timers

	fired := out.Events.Fired[:0]
	for _, e := range out.Events.Fired {
		if e.FiredAt.After(cutoff) {
			fired = append(fired, e)
		}
	}
	out.Events.Fired = fired

	out.External.WebhookEvents = pruneExternal(out.External.WebhookEvents, cutoff)
	out.External.SignalEvents = pruneExternal(out.External.SignalEvents, cutoff)

	branches := out.ParallelExecution.ActiveBranches[:0]
	for _, b := range out.ParallelExecution.ActiveBranches {
		if b.Status == BranchRunning {
			branches = append(branches, b)
		}
	}
	out.ParallelExecution.ActiveBranches = branches

	subs := out.Subprocesses.EventSubprocesses[:0]
	for _, s := range out.Subprocesses.EventSubprocesses {
		if s.Status == "running" {
			subs = append(subs, s)
		}
	}
	out.Subprocesses.EventSubprocesses = subs

	return out
}

func pruneExternal(events []ExternalEvent, cutoff time.Time) []ExternalEvent {
	kept := events[:0]
	for _, e := range events {
		if e.ReceivedAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}
