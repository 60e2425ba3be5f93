package execctx

// Validate is a fail-closed predicate over a raw context value as it comes
// back from the cache or an external caller. It never panics: nil or
// non-object input, any missing top-level enhanced field, any field that
// should be an array but is not, and any element failing its per-type
// shape check all yield false.
func Validate(raw any) bool {
	obj, ok := raw.(map[string]any)
	if !ok || obj == nil {
		return false
	}
	for _, k := range enhancedKeys {
		if _, present := obj[k]; !present {
			return false
		}
	}

	events, ok := asObject(obj["events"])
	if !ok {
		return false
	}
	if !validArray(events["active"], validBoundaryEvent) {
		return false
	}
	if !validArray(events["pending"], validBoundaryEvent) {
		return false
	}
	if !validArray(events["timers"], validTimerEvent) {
		return false
	}
	if _, ok := asArray(events["fired"]); !ok {
		return false
	}

	parallel, ok := asObject(obj["parallelExecution"])
	if !ok {
		return false
	}
	if !validArray(parallel["activeBranches"], validBranch) {
		return false
	}
	if _, ok := asArray(parallel["completedBranches"]); !ok {
		return false
	}
	if !validArray(parallel["joinPoints"], validJoinPoint) {
		return false
	}

	subprocesses, ok := asObject(obj["subprocesses"])
	if !ok {
		return false
	}
	if _, ok := asArray(subprocesses["stack"]); !ok {
		return false
	}
	if _, ok := asArray(subprocesses["eventSubprocesses"]); !ok {
		return false
	}

	external, ok := asObject(obj["external"])
	if !ok {
		return false
	}
	for _, k := range []string{"messageEvents", "webhookEvents", "signalEvents"} {
		if _, ok := asArray(external[k]); !ok {
			return false
		}
	}

	if _, ok := asObject(obj["gateways"]); !ok {
		return false
	}

	return true
}

func asObject(v any) (map[string]any, bool) {
	obj, ok := v.(map[string]any)
	return obj, ok && obj != nil
}

func asArray(v any) ([]any, bool) {
	arr, ok := v.([]any)
	return arr, ok
}

func validArray(v any, elem func(map[string]any) bool) bool {
	arr, ok := asArray(v)
	if !ok {
		return false
	}
	for _, e := range arr {
		obj, ok := asObject(e)
		if !ok || !elem(obj) {
			return false
		}
	}
	return true
}

func hasKeys(obj map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			return false
		}
	}
	return true
}

func validBoundaryEvent(obj map[string]any) bool {
	return hasKeys(obj, "id", "type", "attachedToRef", "interrupting", "activatedAt", "config")
}

func validTimerEvent(obj map[string]any) bool {
	return hasKeys(obj, "id", "eventId", "expiresAt", "duration")
}

func validBranch(obj map[string]any) bool {
	return hasKeys(obj, "id", "branchId", "currentLocation", "status", "startedAt")
}

func validJoinPoint(obj map[string]any) bool {
	return hasKeys(obj, "id", "gatewayId", "requiredBranches", "completedBranches", "isReady")
}
