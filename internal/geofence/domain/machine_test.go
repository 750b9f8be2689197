package geofence

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func circleFence(minDwell time.Duration) Geofence {
	return Geofence{
		ID:         "home",
		UserID:     "u1",
		Name:       "Home",
		Shape:      NewCircle(Point{}, 100),
		Priority:   PriorityNormal,
		Active:     true,
		Conditions: Conditions{MinimumDwellTime: minDwell},
	}
}

type fixStep struct {
	sec    int
	meters float64
}

func runMachine(t *testing.T, m Machine, g Geofence, state *RuntimeState, steps []fixStep) []Event {
	t.Helper()
	var out []Event
	for _, s := range steps {
		in := Input{
			At:       epoch.Add(time.Duration(s.sec) * time.Second),
			Location: metersNorth(Point{}, s.meters),
			Accuracy: 5,
		}
		out = append(out, m.Step(g, state, in)...)
	}
	return out
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, 0, len(events))
	for _, evt := range events {
		types = append(types, evt.Type)
	}
	return types
}

func sameTypes(a []EventType, b ...EventType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMachineEnterThenDwell(t *testing.T) {
	g := circleFence(30 * time.Second)
	state := NewRuntimeState("u1", g.ID)
	events := runMachine(t, NewMachine(0, 0), g, state, []fixStep{{0, 50}, {10, 50}, {40, 50}})

	if !sameTypes(eventTypes(events), EventEnter, EventDwell) {
		t.Fatalf("unexpected events %v", eventTypes(events))
	}
	if !events[0].OccurredAt.Equal(epoch) {
		t.Fatalf("enter at %s", events[0].OccurredAt)
	}
	if !events[1].OccurredAt.Equal(epoch.Add(40 * time.Second)) {
		t.Fatalf("dwell at %s", events[1].OccurredAt)
	}
	if events[1].Metadata[MetaDwellSeconds] != "40" {
		t.Fatalf("dwell metadata %v", events[1].Metadata)
	}
	if state.Status != StatusDwelling {
		t.Fatalf("expected dwelling, got %s", state.Status)
	}
	if state.Analytics.EnterCount != 1 || state.Analytics.DwellCount != 1 || state.Analytics.ExitCount != 0 {
		t.Fatalf("unexpected analytics %+v", state.Analytics)
	}
}

func TestMachineEnterThenExit(t *testing.T) {
	g := circleFence(30 * time.Second)
	state := NewRuntimeState("u1", g.ID)
	events := runMachine(t, NewMachine(0, 0), g, state, []fixStep{{0, 50}, {5, 200}})

	if !sameTypes(eventTypes(events), EventEnter, EventExit) {
		t.Fatalf("unexpected events %v", eventTypes(events))
	}
	if !events[1].OccurredAt.Equal(epoch.Add(5 * time.Second)) {
		t.Fatalf("exit at %s", events[1].OccurredAt)
	}
	if state.Status != StatusOutside {
		t.Fatalf("expected outside, got %s", state.Status)
	}
	a := state.Analytics
	if a.CompletedVisits != 1 || a.TotalDwell != 5*time.Second || a.AverageDwell != 5*time.Second {
		t.Fatalf("unexpected visit analytics %+v", a)
	}
	if a.TotalTriggers != 2 || !a.LastTriggeredAt.Equal(epoch.Add(5*time.Second)) {
		t.Fatalf("unexpected trigger analytics %+v", a)
	}
}

func TestMachineRepeatedInsideIsIdempotent(t *testing.T) {
	g := circleFence(0)
	state := NewRuntimeState("u1", g.ID)
	steps := make([]fixStep, 0, 20)
	for i := 0; i < 20; i++ {
		steps = append(steps, fixStep{i * 10, 10})
	}
	events := runMachine(t, NewMachine(0, 0), g, state, steps)
	if !sameTypes(eventTypes(events), EventEnter) {
		t.Fatalf("expected single enter, got %v", eventTypes(events))
	}
}

func TestMachineDebouncesTransientExit(t *testing.T) {
	g := circleFence(0)
	state := NewRuntimeState("u1", g.ID)
	m := NewMachine(5*time.Second, 0)
	events := runMachine(t, m, g, state, []fixStep{
		{0, 10}, {5, 10}, // enter confirmed at 5s
		{20, 10},
		{21, 500}, // jitter
		{23, 10},
		{40, 10},
	})
	if !sameTypes(eventTypes(events), EventEnter) {
		t.Fatalf("transient outside must not exit: %v", eventTypes(events))
	}
	if state.Status != StatusInside || state.PendingFrom != "" {
		t.Fatalf("expected inside, got %+v", state)
	}
	if !state.DwellStartedAt.Equal(epoch.Add(5 * time.Second)) {
		t.Fatalf("dwell timer must survive a reverted exit: %s", state.DwellStartedAt)
	}
}

func TestMachineDebouncesTransientEnter(t *testing.T) {
	g := circleFence(0)
	state := NewRuntimeState("u1", g.ID)
	m := NewMachine(5*time.Second, 0)
	events := runMachine(t, m, g, state, []fixStep{{0, 500}, {1, 10}, {3, 500}, {10, 500}})
	if len(events) != 0 {
		t.Fatalf("jitter must not enter: %v", eventTypes(events))
	}
	if state.Status != StatusOutside {
		t.Fatalf("expected outside, got %s", state.Status)
	}
}

func TestMachineConfirmationDelay(t *testing.T) {
	g := circleFence(0)
	state := NewRuntimeState("u1", g.ID)
	m := NewMachine(3*time.Second, 0)

	events := runMachine(t, m, g, state, []fixStep{{0, 10}, {2, 10}})
	if len(events) != 0 || state.Status != StatusPendingEnter {
		t.Fatalf("expected pending enter, got %s %v", state.Status, eventTypes(events))
	}
	events = runMachine(t, m, g, state, []fixStep{{3, 10}})
	if !sameTypes(eventTypes(events), EventEnter) || !events[0].OccurredAt.Equal(epoch.Add(3*time.Second)) {
		t.Fatalf("expected enter at 3s, got %v", events)
	}

	events = runMachine(t, m, g, state, []fixStep{{10, 300}, {12, 300}})
	if len(events) != 0 || state.Status != StatusPendingExit {
		t.Fatalf("expected pending exit, got %s", state.Status)
	}
	events = runMachine(t, m, g, state, []fixStep{{13, 300}})
	if !sameTypes(eventTypes(events), EventExit) {
		t.Fatalf("expected exit, got %v", eventTypes(events))
	}
	// Visit spans from the confirming enter fix to the first outside fix.
	if state.Analytics.TotalDwell != 7*time.Second {
		t.Fatalf("unexpected dwell %s", state.Analytics.TotalDwell)
	}
}

func TestMachineNoDwellBelowMinimum(t *testing.T) {
	g := circleFence(60 * time.Second)
	state := NewRuntimeState("u1", g.ID)
	events := runMachine(t, NewMachine(0, 0), g, state, []fixStep{{0, 10}, {30, 10}, {59, 10}, {60, 400}})
	if !sameTypes(eventTypes(events), EventEnter, EventExit) {
		t.Fatalf("59s stay must not dwell: %v", eventTypes(events))
	}
}

func TestMachineDwellOncePerVisit(t *testing.T) {
	g := circleFence(10 * time.Second)
	state := NewRuntimeState("u1", g.ID)
	m := NewMachine(0, 0)
	events := runMachine(t, m, g, state, []fixStep{{0, 10}, {10, 10}, {20, 10}, {30, 10}, {40, 400}, {50, 10}, {65, 10}})
	want := []EventType{EventEnter, EventDwell, EventExit, EventEnter, EventDwell}
	if !sameTypes(eventTypes(events), want...) {
		t.Fatalf("unexpected events %v", eventTypes(events))
	}
}

func TestMachineDwellingSurvivesRevertedExit(t *testing.T) {
	g := circleFence(10 * time.Second)
	state := NewRuntimeState("u1", g.ID)
	m := NewMachine(5*time.Second, 0)
	events := runMachine(t, m, g, state, []fixStep{{0, 10}, {5, 10}, {20, 10}, {21, 400}, {22, 10}, {30, 10}})
	if !sameTypes(eventTypes(events), EventEnter, EventDwell) {
		t.Fatalf("unexpected events %v", eventTypes(events))
	}
	if state.Status != StatusDwelling {
		t.Fatalf("expected dwelling, got %s", state.Status)
	}
}

func TestMachineConditionsGateEnter(t *testing.T) {
	g := circleFence(0)
	g.Conditions.MaxSpeed = f64(2)
	state := NewRuntimeState("u1", g.ID)
	m := NewMachine(0, 0)

	fast := Input{At: epoch, Location: Point{}, Observation: Observation{Speed: f64(10)}}
	if events := m.Step(g, state, fast); len(events) != 0 {
		t.Fatalf("fast fix must not enter")
	}
	if state.Status != StatusPendingEnter {
		t.Fatalf("expected pending enter, got %s", state.Status)
	}
	noSpeed := Input{At: epoch.Add(time.Second), Location: Point{}}
	if events := m.Step(g, state, noSpeed); len(events) != 0 {
		t.Fatalf("missing speed must fail closed")
	}
	slow := Input{At: epoch.Add(2 * time.Second), Location: Point{}, Observation: Observation{Speed: f64(1)}}
	events := m.Step(g, state, slow)
	if !sameTypes(eventTypes(events), EventEnter) {
		t.Fatalf("slow fix should enter: %v", eventTypes(events))
	}
	// Exit is not gated by conditions.
	exit := Input{At: epoch.Add(3 * time.Second), Location: metersNorth(Point{}, 500), Observation: Observation{Speed: f64(50)}}
	if events := m.Step(g, state, exit); !sameTypes(eventTypes(events), EventExit) {
		t.Fatalf("expected exit: %v", eventTypes(events))
	}
}

func TestMachineInactiveResetsSilently(t *testing.T) {
	g := circleFence(0)
	state := NewRuntimeState("u1", g.ID)
	m := NewMachine(0, 0)
	runMachine(t, m, g, state, []fixStep{{0, 10}})
	if state.Status != StatusInside {
		t.Fatalf("expected inside")
	}

	g.Active = false
	if events := runMachine(t, m, g, state, []fixStep{{10, 10}}); len(events) != 0 {
		t.Fatalf("deactivation must not emit: %v", eventTypes(events))
	}
	if state.Status != StatusOutside || !state.DwellStartedAt.IsZero() {
		t.Fatalf("expected reset, got %+v", state)
	}
	if state.Analytics.CompletedVisits != 0 || state.Analytics.ExitCount != 0 {
		t.Fatalf("reset must leave visit analytics alone: %+v", state.Analytics)
	}

	g.Active = true
	events := runMachine(t, m, g, state, []fixStep{{20, 10}})
	if !sameTypes(eventTypes(events), EventEnter) {
		t.Fatalf("reactivation should re-enter: %v", eventTypes(events))
	}
}

func TestMachineExpiryAndSchedule(t *testing.T) {
	g := circleFence(0)
	g.ExpiresAt = epoch.Add(time.Minute)
	state := NewRuntimeState("u1", g.ID)
	m := NewMachine(0, 0)
	runMachine(t, m, g, state, []fixStep{{0, 10}})
	if events := runMachine(t, m, g, state, []fixStep{{60, 10}}); len(events) != 0 || state.Status != StatusOutside {
		t.Fatalf("expired geofence must reset silently")
	}

	g = circleFence(0)
	g.Schedule = &Schedule{Enabled: true, ActiveRange: &TimeRange{Start: NewTimeOfDay(9, 0, 0), End: NewTimeOfDay(10, 0, 30)}}
	state = NewRuntimeState("u1", g.ID)
	events := runMachine(t, m, g, state, []fixStep{{0, 10}, {20, 300}, {40, 10}})
	// 10:00:40 is past the schedule and emits nothing.
	if !sameTypes(eventTypes(events), EventEnter, EventExit) {
		t.Fatalf("unexpected events %v", eventTypes(events))
	}

	state = NewRuntimeState("u1", g.ID)
	slow := NewMachine(30*time.Second, 0)
	events = runMachine(t, slow, g, state, []fixStep{{0, 10}, {31, 10}})
	if len(events) != 0 || state.Status != StatusOutside {
		t.Fatalf("schedule end must clear pending enter, got %s %v", state.Status, eventTypes(events))
	}
}

func TestMachineRequireConfirmation(t *testing.T) {
	g := circleFence(0)
	g.Conditions.RequireConfirmation = true
	state := NewRuntimeState("u1", g.ID)
	events := runMachine(t, NewMachine(0, 0), g, state, []fixStep{{0, 10}})
	if len(events) != 1 || events[0].Metadata[MetaConfirmation] != ConfirmationPending {
		t.Fatalf("expected pending confirmation metadata, got %+v", events)
	}
	if !state.AwaitingConfirmation {
		t.Fatalf("expected awaiting confirmation")
	}
}

func TestMachineRecentEventRing(t *testing.T) {
	g := circleFence(0)
	state := NewRuntimeState("u1", g.ID)
	m := NewMachine(0, 3)
	steps := []fixStep{}
	for i := 0; i < 5; i++ {
		steps = append(steps, fixStep{i * 20, 10}, fixStep{i*20 + 10, 500})
	}
	events := runMachine(t, m, g, state, steps)
	if len(events) != 10 {
		t.Fatalf("expected 10 events, got %d", len(events))
	}
	recent := state.Analytics.RecentEvents
	if len(recent) != 3 {
		t.Fatalf("ring should hold 3, got %d", len(recent))
	}
	if recent[2].ID != events[9].ID || recent[0].ID != events[7].ID {
		t.Fatalf("ring should keep newest events")
	}
	if state.Analytics.TotalTriggers != 10 || state.Analytics.CompletedVisits != 5 {
		t.Fatalf("unexpected analytics %+v", state.Analytics)
	}
}

func TestBuildEventIDDeterministic(t *testing.T) {
	a := BuildEventID("u1", "g1", EventEnter, epoch)
	if a != BuildEventID("u1", "g1", EventEnter, epoch) {
		t.Fatalf("expected stable id")
	}
	if a == BuildEventID("u1", "g1", EventExit, epoch) {
		t.Fatalf("expected distinct ids per type")
	}
}
