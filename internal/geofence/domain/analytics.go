package geofence

import "time"

// DefaultRecentEventLimit bounds Analytics.RecentEvents.
const DefaultRecentEventLimit = 20

// Analytics are running statistics for one (user, geofence) pair.
type Analytics struct {
	TotalTriggers   int           `json:"total_triggers"`
	EnterCount      int           `json:"enter_count"`
	ExitCount       int           `json:"exit_count"`
	DwellCount      int           `json:"dwell_count"`
	CompletedVisits int           `json:"completed_visits"`
	LastTriggeredAt time.Time     `json:"last_triggered_at,omitempty"`
	TotalDwell      time.Duration `json:"total_dwell"`
	AverageDwell    time.Duration `json:"average_dwell"`
	RecentEvents    []Event       `json:"recent_events,omitempty"`
}

// Record counts evt and appends it to the ring of recent events, keeping at
// most limit entries (newest last).
func (a *Analytics) Record(evt Event, limit int) {
	if a == nil {
		return
	}
	if limit <= 0 {
		limit = DefaultRecentEventLimit
	}
	a.TotalTriggers++
	switch evt.Type {
	case EventEnter:
		a.EnterCount++
	case EventExit:
		a.ExitCount++
	case EventDwell:
		a.DwellCount++
	}
	if evt.OccurredAt.After(a.LastTriggeredAt) {
		a.LastTriggeredAt = evt.OccurredAt
	}
	a.RecentEvents = append(a.RecentEvents, evt)
	if over := len(a.RecentEvents) - limit; over > 0 {
		trimmed := make([]Event, limit)
		copy(trimmed, a.RecentEvents[over:])
		a.RecentEvents = trimmed
	}
}

// FinalizeVisit accumulates the dwell time of a completed visit.
func (a *Analytics) FinalizeVisit(dwell time.Duration) {
	if a == nil {
		return
	}
	if dwell < 0 {
		dwell = 0
	}
	a.CompletedVisits++
	a.TotalDwell += dwell
	a.AverageDwell = a.TotalDwell / time.Duration(a.CompletedVisits)
}

// Clone returns a deep copy.
func (a Analytics) Clone() Analytics {
	out := a
	if a.RecentEvents != nil {
		out.RecentEvents = make([]Event, len(a.RecentEvents))
		for i, evt := range a.RecentEvents {
			out.RecentEvents[i] = cloneEvent(evt)
		}
	}
	return out
}

func cloneEvent(evt Event) Event {
	if evt.Metadata != nil {
		meta := make(map[string]string, len(evt.Metadata))
		for k, v := range evt.Metadata {
			meta[k] = v
		}
		evt.Metadata = meta
	}
	return evt
}
