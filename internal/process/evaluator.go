package process

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrNoModel is returned by Evaluate when no model is given.
var ErrNoModel = errors.New("process: model is required")

// ErrNoNode is returned by Evaluate for a location without a node id.
var ErrNoNode = errors.New("process: location has no node id")

// Result is the outcome of evaluating the boundary events of one activity.
type Result struct {
	NextLocations []Location

	// Context is the updated context. The input context is never modified.
	Context Context

	// ShouldTerminate is set when an interrupting event fired.
	ShouldTerminate bool

	FiredEvents []EventInstance
}

// Evaluator decides which boundary events fire for an active location.
// The zero value is ready to use.
type Evaluator struct {
	// Clock defaults to time.Now.
	Clock func() time.Time

	// NewID generates timer and event-instance ids. Defaults to uuid.NewString.
	NewID func() string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (e Evaluator) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

func (e Evaluator) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Evaluator) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// eventResult is the contribution of a single boundary event.
type eventResult struct {
	locations []Location
	fired     *EventInstance
	terminate bool
}

// Evaluate inspects every boundary event attached to the location's base
// activity in declaration order. Results are merged; the first event that
// interrupts the activity stops evaluation of the remaining ones.
func (e Evaluator) Evaluate(model Model, loc Location, ctx Context) (Result, error) {
	if model == nil {
		return Result{}, ErrNoModel
	}
	base := loc.BaseNodeID()
	if base == "" {
		return Result{}, ErrNoNode
	}

	now := e.now()
	res := Result{Context: ctx}
	for _, be := range model.BoundaryEvents(base) {
		var er eventResult
		switch be.Kind {
		case KindTimer:
			er, res.Context = e.evalTimer(model, loc, base, be, res.Context, now)
		case KindError:
			er, res.Context = e.evalError(model, loc, base, be, res.Context, now)
		case KindMessage:
			er, res.Context = e.evalMessage(model, loc, base, be, res.Context, now)
		case KindSignal:
			er, res.Context = e.evalSignal(model, loc, base, be, res.Context, now)
		default:
			// Compensation and unknown kinds are monitored, never fired.
			er = eventResult{locations: []Location{monitor(model, loc, base, be, LocationEventMonitoring)}}
		}

		res.NextLocations = append(res.NextLocations, er.locations...)
		if er.fired != nil {
			res.FiredEvents = append(res.FiredEvents, *er.fired)
			res.Context = res.Context.withFired(*er.fired)
			e.logger().Debug("boundary event fired",
				slog.String("event_id", be.ID),
				slog.String("kind", be.Kind.String()),
				slog.String("attached_to", base),
				slog.Bool("interrupting", er.terminate),
			)
		}
		if er.terminate {
			res.ShouldTerminate = true
			break
		}
	}
	return res, nil
}

func (e Evaluator) evalTimer(model Model, loc Location, base string, be BoundaryEvent, ctx Context, now time.Time) (eventResult, Context) {
	timer, ok := ctx.Timer(be.ID)
	if !ok {
		timer = TimerEvent{
			ID:         e.newID(),
			EventID:    be.ID,
			AttachedTo: base,
			Duration:   be.Definition.Duration,
			DueDate:    be.Definition.DueDate,
			Cycle:      be.Definition.Cycle,
			CreatedAt:  now,
			ExpiresAt:  e.expiresAt(be, now),
		}
		ctx = ctx.WithTimer(timer)
		return eventResult{locations: []Location{timerWaiting(model, loc, base, be, timer)}}, ctx
	}

	if now.Before(timer.ExpiresAt) {
		return eventResult{locations: []Location{timerWaiting(model, loc, base, be, timer)}}, ctx
	}

	fired := e.fire(be, base, timer, now)
	ctx = ctx.WithoutTimer(be.ID)
	return eventResult{
		locations: follow(model, loc, be),
		fired:     &fired,
		terminate: be.IsInterrupting(),
	}, ctx
}

// expiresAt resolves the deadline of a new timer: due date, then duration,
// then cycle interval, then DefaultTimerDuration.
func (e Evaluator) expiresAt(be BoundaryEvent, now time.Time) time.Time {
	def := be.Definition
	if def.DueDate != "" {
		due, err := time.Parse(time.RFC3339, def.DueDate)
		if err == nil {
			return due
		}
		e.logger().Warn("invalid timer due date",
			slog.String("event_id", be.ID),
			slog.String("due_date", def.DueDate),
			slog.Any("error", err),
		)
	}
	if def.Duration == "" {
		if d, ok := cycleInterval(def.Cycle); ok {
			return now.Add(d)
		}
	}
	return now.Add(ParseDuration(def.Duration))
}

func (e Evaluator) evalError(model Model, loc Location, base string, be BoundaryEvent, ctx Context, now time.Time) (eventResult, Context) {
	code := be.Definition.ErrorCode
	for _, rec := range ctx.errors {
		if code != "" && rec.Code != code {
			continue
		}
		fired := e.fire(be, base, rec, now)
		return eventResult{
			locations: follow(model, loc, be),
			fired:     &fired,
			terminate: true,
		}, ctx
	}
	return eventResult{locations: []Location{monitor(model, loc, base, be, LocationEventMonitoring)}}, ctx
}

func (e Evaluator) evalMessage(model Model, loc Location, base string, be BoundaryEvent, ctx Context, now time.Time) (eventResult, Context) {
	def := be.Definition
	for i, msg := range ctx.messages {
		if msg.ReceivedAt.IsZero() || msg.MessageRef != def.MessageRef {
			continue
		}
		if def.CorrelationKey != "" && msg.CorrelationKey != def.CorrelationKey {
			continue
		}
		fired := e.fire(be, base, msg, now)
		ctx = ctx.withoutMessageAt(i)
		return eventResult{
			locations: follow(model, loc, be),
			fired:     &fired,
			terminate: be.IsInterrupting(),
		}, ctx
	}
	return eventResult{locations: []Location{monitor(model, loc, base, be, LocationMessageWaiting)}}, ctx
}

func (e Evaluator) evalSignal(model Model, loc Location, base string, be BoundaryEvent, ctx Context, now time.Time) (eventResult, Context) {
	for _, sig := range ctx.signals {
		if sig.ReceivedAt.IsZero() || sig.SignalRef != be.Definition.SignalRef {
			continue
		}
		// Signals are broadcasts and stay in the context.
		fired := e.fire(be, base, sig, now)
		return eventResult{
			locations: follow(model, loc, be),
			fired:     &fired,
			terminate: be.IsInterrupting(),
		}, ctx
	}
	return eventResult{locations: []Location{monitor(model, loc, base, be, LocationSignalWaiting)}}, ctx
}

func (e Evaluator) fire(be BoundaryEvent, base string, payload any, now time.Time) EventInstance {
	return EventInstance{
		ID:      e.newID(),
		EventID: be.ID,
		Kind:    be.Kind,
		Payload: payload,
		FiredAt: now,
		Source:  base,
	}
}

// follow produces one location per outgoing flow of the boundary event.
func follow(model Model, loc Location, be BoundaryEvent) []Location {
	flows := model.OutgoingFlows(be.ID)
	out := make([]Location, 0, len(flows))
	for _, f := range flows {
		md := map[string]string{"flow_id": f.ID}
		if f.Condition != "" {
			md["condition"] = f.Condition
		}
		out = append(out, model.NewLocation(f.Target, loc.RoutineID, LocationFlowTarget, LocationOptions{
			EventID:  be.ID,
			Metadata: md,
		}))
	}
	return out
}

func monitor(model Model, loc Location, base string, be BoundaryEvent, typ LocationType) Location {
	return model.NewLocation(be.ID, loc.RoutineID, typ, LocationOptions{
		ParentNodeID: base,
		EventID:      be.ID,
		Metadata:     map[string]string{"kind": be.Kind.String()},
	})
}

func timerWaiting(model Model, loc Location, base string, be BoundaryEvent, t TimerEvent) Location {
	return model.NewLocation(be.ID, loc.RoutineID, LocationTimerWaiting, LocationOptions{
		ParentNodeID: base,
		EventID:      be.ID,
		Metadata: map[string]string{
			"kind":       be.Kind.String(),
			"timer_id":   t.ID,
			"expires_at": t.ExpiresAt.UTC().Format(time.RFC3339Nano),
		},
	})
}
