package execctx

import (
	"encoding/json"
	"time"
)

// BoundaryEvent is an event attached to a running step or subprocess that
// can interrupt or observe it.
type BoundaryEvent struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	AttachedToRef string         `json:"attachedToRef"`
	Interrupting  bool           `json:"interrupting"`
	ActivatedAt   time.Time      `json:"activatedAt"`
	Config        map[string]any `json:"config"`
}

// EventInstance records one fired event.
type EventInstance struct {
	ID      string         `json:"id"`
	EventID string         `json:"eventId"`
	Type    string         `json:"type"`
	FiredAt time.Time      `json:"firedAt"`
	Payload map[string]any `json:"payload,omitempty"`
}

// TimerEvent is a pending timer attached to a boundary event.
type TimerEvent struct {
	ID        string    `json:"id"`
	EventID   string    `json:"eventId"`
	ExpiresAt time.Time `json:"expiresAt"`
	Duration  int64     `json:"duration"`
}

// BranchStatus enumerates parallel branch lifecycle states.
type BranchStatus string

const (
	BranchRunning   BranchStatus = "running"
	BranchCompleted BranchStatus = "completed"
	BranchFailed    BranchStatus = "failed"
)

// ParallelBranch is one concurrently navigating branch of a run.
type ParallelBranch struct {
	ID              string       `json:"id"`
	BranchID        string       `json:"branchId"`
	CurrentLocation string       `json:"currentLocation"`
	Status          BranchStatus `json:"status"`
	StartedAt       time.Time    `json:"startedAt"`
	CompletedAt     *time.Time   `json:"completedAt,omitempty"`
	Result          any          `json:"result,omitempty"`
}

// JoinPoint synchronizes completion of a set of parallel branches.
type JoinPoint struct {
	ID                string   `json:"id"`
	GatewayID         string   `json:"gatewayId"`
	RequiredBranches  []string `json:"requiredBranches"`
	CompletedBranches []string `json:"completedBranches"`
	IsReady           bool     `json:"isReady"`
}

// SubprocessContext is one frame of the subprocess stack.
type SubprocessContext struct {
	ID           string         `json:"id"`
	SubprocessID string         `json:"subprocessId"`
	EnteredAt    time.Time      `json:"enteredAt"`
	Variables    map[string]any `json:"variables,omitempty"`
}

// EventSubprocess is an event-triggered subprocess attached to the run.
type EventSubprocess struct {
	ID        string    `json:"id"`
	TriggerID string    `json:"triggerId"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
}

// ExternalEvent is a message, webhook, or signal received from outside.
type ExternalEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	ReceivedAt time.Time      `json:"receivedAt"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// EventState groups the boundary/timer event collections.
type EventState struct {
	Active  []BoundaryEvent `json:"active"`
	Pending []BoundaryEvent `json:"pending"`
	Fired   []EventInstance `json:"fired"`
	Timers  []TimerEvent    `json:"timers"`
}

// ParallelState groups parallel-branch bookkeeping.
type ParallelState struct {
	ActiveBranches    []ParallelBranch `json:"activeBranches"`
	CompletedBranches []string         `json:"completedBranches"`
	JoinPoints        []JoinPoint      `json:"joinPoints"`
}

// SubprocessState groups the subprocess stack and event subprocesses.
type SubprocessState struct {
	Stack             []SubprocessContext `json:"stack"`
	EventSubprocesses []EventSubprocess   `json:"eventSubprocesses"`
}

// ExternalState groups externally received events.
type ExternalState struct {
	MessageEvents []ExternalEvent `json:"messageEvents"`
	WebhookEvents []ExternalEvent `json:"webhookEvents"`
	SignalEvents  []ExternalEvent `json:"signalEvents"`
}

// GatewayState groups inclusive-gateway and complex-condition state.
type GatewayState struct {
	InclusiveStates   map[string]any `json:"inclusiveStates"`
	ComplexConditions map[string]any `json:"complexConditions"`
}

// Enhanced is the structured superset of a plain variable bag. Once
// enhanced, every collection field exists (never nil after CreateEmpty,
// Enhance, or a merge), so callers can range without nil checks.
type Enhanced struct {
	Variables         map[string]any  `json:"variables"`
	Events            EventState      `json:"events"`
	ParallelExecution ParallelState   `json:"parallelExecution"`
	Subprocesses      SubprocessState `json:"subprocesses"`
	External          ExternalState   `json:"external"`
	Gateways          GatewayState    `json:"gateways"`
}

// enhancedKeys are the top-level fields whose joint presence marks a raw
// bag as already enhanced.
var enhancedKeys = []string{"events", "parallelExecution", "subprocesses", "external", "gateways"}

// CreateEmpty returns an enhanced context with every collection initialized.
func CreateEmpty() *Enhanced {
	return &Enhanced{
		Variables: map[string]any{},
		Events: EventState{
			Active:  []BoundaryEvent{},
			Pending: []BoundaryEvent{},
			Fired:   []EventInstance{},
			Timers:  []TimerEvent{},
		},
		ParallelExecution: ParallelState{
			ActiveBranches:    []ParallelBranch{},
			CompletedBranches: []string{},
			JoinPoints:        []JoinPoint{},
		},
		Subprocesses: SubprocessState{
			Stack:             []SubprocessContext{},
			EventSubprocesses: []EventSubprocess{},
		},
		External: ExternalState{
			MessageEvents: []ExternalEvent{},
			WebhookEvents: []ExternalEvent{},
			SignalEvents:  []ExternalEvent{},
		},
		Gateways: GatewayState{
			InclusiveStates:   map[string]any{},
			ComplexConditions: map[string]any{},
		},
	}
}

// IsEnhanced reports whether a raw bag already carries the enhanced shape.
func IsEnhanced(raw map[string]any) bool {
	if raw == nil {
		return false
	}
	for _, k := range enhancedKeys {
		if _, ok := raw[k]; !ok {
			return false
		}
	}
	return true
}

// Enhance lifts a raw variable bag into an enhanced context. A bag that
// already carries the enhanced shape is decoded as-is; anything else is
// treated wholesale as variables with every other field empty.
func Enhance(raw map[string]any) *Enhanced {
	if IsEnhanced(raw) {
		if ctx, err := decodeEnhanced(raw); err == nil {
			return ctx
		}
	}
	ctx := CreateEmpty()
	for k, v := range raw {
		ctx.Variables[k] = v
	}
	return ctx
}

// Simplify projects an enhanced context back down to its variable bag.
func Simplify(ctx *Enhanced) map[string]any {
	if ctx == nil || ctx.Variables == nil {
		return map[string]any{}
	}
	return ctx.Variables
}

func decodeEnhanced(raw map[string]any) (*Enhanced, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	ctx := CreateEmpty()
	if err := json.Unmarshal(data, ctx); err != nil {
		return nil, err
	}
	ensureCollections(ctx)
	return ctx, nil
}

// ensureCollections backfills nil collections so the "every array field
// always exists" invariant holds after JSON decoding.
func ensureCollections(ctx *Enhanced) {
	if ctx.Variables == nil {
		ctx.Variables = map[string]any{}
	}
	if ctx.Events.Active == nil {
		ctx.Events.Active = []BoundaryEvent{}
	}
	if ctx.Events.Pending == nil {
		ctx.Events.Pending = []BoundaryEvent{}
	}
	if ctx.Events.Fired == nil {
		ctx.Events.Fired = []EventInstance{}
	}
	if ctx.Events.Timers == nil {
		ctx.Events.Timers = []TimerEvent{}
	}
	if ctx.ParallelExecution.ActiveBranches == nil {
		ctx.ParallelExecution.ActiveBranches = []ParallelBranch{}
	}
	if ctx.ParallelExecution.CompletedBranches == nil {
		ctx.ParallelExecution.CompletedBranches = []string{}
	}
	if ctx.ParallelExecution.JoinPoints == nil {
		ctx.ParallelExecution.JoinPoints = []JoinPoint{}
	}
	if ctx.Subprocesses.Stack == nil {
		ctx.Subprocesses.Stack = []SubprocessContext{}
	}
	if ctx.Subprocesses.EventSubprocesses == nil {
		ctx.Subprocesses.EventSubprocesses = []EventSubprocess{}
	}
	if ctx.External.MessageEvents == nil {
		ctx.External.MessageEvents = []ExternalEvent{}
	}
	if ctx.External.WebhookEvents == nil {
		ctx.External.WebhookEvents = []ExternalEvent{}
	}
	if ctx.External.SignalEvents == nil {
		ctx.External.SignalEvents = []ExternalEvent{}
	}
	if ctx.Gateways.InclusiveStates == nil {
		ctx.Gateways.InclusiveStates = map[string]any{}
	}
	if ctx.Gateways.ComplexConditions == nil {
		ctx.Gateways.ComplexConditions = map[string]any{}
	}
}
