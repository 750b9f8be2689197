package geofence

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Gate names reported by Check.
const (
	GateSpeed   = "speed"
	GateDwell   = "dwell"
	GateDevices = "devices"
	GateWeather = "weather"
	GateBattery = "battery"
)

// WeatherGate restricts transitions to certain weather.
type WeatherGate struct {
	AllowedTags    []string `json:"allowed_tags,omitempty"`
	MinTemperature *float64 `json:"min_temperature,omitempty"`
	MaxTemperature *float64 `json:"max_temperature,omitempty"`
}

// BatteryGate restricts transitions by device power state.
type BatteryGate struct {
	MinimumLevel    float64 `json:"minimum_level"`
	RequireCharging bool    `json:"require_charging"`
}

// Conditions are extra predicates attached to a geofence.
type Conditions struct {
	MinimumDwellTime    time.Duration `json:"minimum_dwell_time"`
	MinSpeed            *float64      `json:"min_speed,omitempty"`
	MaxSpeed            *float64      `json:"max_speed,omitempty"`
	RequiredDevices     []string      `json:"required_devices,omitempty"`
	Weather             *WeatherGate  `json:"weather,omitempty"`
	Battery             *BatteryGate  `json:"battery,omitempty"`
	RequireConfirmation bool          `json:"require_confirmation"`
}

// Observation is the context a condition check runs against. Nil pointers and
// a nil NearbyDevices slice mean the collector supplied nothing. DwellGated is
// set when checking the Inside to Dwelling transition.
type Observation struct {
	Speed         *float64
	DwellSoFar    time.Duration
	DwellGated    bool
	BatteryLevel  *float64
	Charging      *bool
	WeatherTag    string
	Temperature   *float64
	NearbyDevices []string
}

// ConditionReport lists the gates that did not pass.
type ConditionReport struct {
	Failed  []string
	Missing []string
}

// Satisfied returns true when every active gate passed.
func (r ConditionReport) Satisfied() bool {
	return len(r.Failed) == 0 && len(r.Missing) == 0
}

// Err describes the report as an error, wrapping ErrMissingObservation when
// a gate had no data.
func (r ConditionReport) Err() error {
	if r.Satisfied() {
		return nil
	}
	if len(r.Missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingObservation, strings.Join(r.Missing, ","))
	}
	return fmt.Errorf("geofence: conditions failed: %s", strings.Join(r.Failed, ","))
}

// Active reports whether any transition gate is configured.
func (c Conditions) Active() bool {
	return c.MinSpeed != nil || c.MaxSpeed != nil || len(c.RequiredDevices) > 0 ||
		c.Weather != nil || c.Battery != nil
}

// DwellEnabled reports whether dwell events can fire.
func (c Conditions) DwellEnabled() bool {
	return c.MinimumDwellTime > 0
}

// DwellReached reports whether d passes the dwell gate.
func (c Conditions) DwellReached(d time.Duration) bool {
	return c.DwellEnabled() && !c.dwellGateFailed(Observation{DwellGated: true, DwellSoFar: d})
}

func (c Conditions) dwellGateFailed(obs Observation) bool {
	return obs.DwellGated && c.DwellEnabled() && obs.DwellSoFar < c.MinimumDwellTime
}

// Satisfied is shorthand for Check(obs).Satisfied().
func (c Conditions) Satisfied(obs Observation) bool {
	return c.Check(obs).Satisfied()
}

// Check evaluates every configured gate. A gate whose input is absent fails.
func (c Conditions) Check(obs Observation) ConditionReport {
	var report ConditionReport

	if c.MinSpeed != nil || c.MaxSpeed != nil {
		switch {
		case obs.Speed == nil:
			report.Missing = append(report.Missing, GateSpeed)
		case c.MinSpeed != nil && *obs.Speed < *c.MinSpeed,
			c.MaxSpeed != nil && *obs.Speed > *c.MaxSpeed:
			report.Failed = append(report.Failed, GateSpeed)
		}
	}

	if c.dwellGateFailed(obs) {
		report.Failed = append(report.Failed, GateDwell)
	}

	if len(c.RequiredDevices) > 0 {
		if obs.NearbyDevices == nil {
			report.Missing = append(report.Missing, GateDevices)
		} else if !containsAll(obs.NearbyDevices, c.RequiredDevices) {
			report.Failed = append(report.Failed, GateDevices)
		}
	}

	if w := c.Weather; w != nil {
		needTemp := w.MinTemperature != nil || w.MaxTemperature != nil
		switch {
		case len(w.AllowedTags) > 0 && obs.WeatherTag == "",
			needTemp && obs.Temperature == nil:
			report.Missing = append(report.Missing, GateWeather)
		case len(w.AllowedTags) > 0 && !containsFold(w.AllowedTags, obs.WeatherTag),
			w.MinTemperature != nil && *obs.Temperature < *w.MinTemperature,
			w.MaxTemperature != nil && *obs.Temperature > *w.MaxTemperature:
			report.Failed = append(report.Failed, GateWeather)
		}
	}

	if b := c.Battery; b != nil {
		switch {
		case obs.BatteryLevel == nil, b.RequireCharging && obs.Charging == nil:
			report.Missing = append(report.Missing, GateBattery)
		case *obs.BatteryLevel < b.MinimumLevel, b.RequireCharging && !*obs.Charging:
			report.Failed = append(report.Failed, GateBattery)
		}
	}

	return report
}

// Validate checks ranges and bounds.
func (c Conditions) Validate() error {
	if c.MinimumDwellTime < 0 {
		return fmt.Errorf("%w: negative minimum dwell time", ErrInvalidConditions)
	}
	if err := validBound("min speed", c.MinSpeed); err != nil {
		return err
	}
	if err := validBound("max speed", c.MaxSpeed); err != nil {
		return err
	}
	if c.MinSpeed != nil && *c.MinSpeed < 0 {
		return fmt.Errorf("%w: negative min speed", ErrInvalidConditions)
	}
	if c.MinSpeed != nil && c.MaxSpeed != nil && *c.MinSpeed > *c.MaxSpeed {
		return fmt.Errorf("%w: min speed above max speed", ErrInvalidConditions)
	}
	for _, id := range c.RequiredDevices {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: empty required device id", ErrInvalidConditions)
		}
	}
	if w := c.Weather; w != nil {
		if err := validBound("min temperature", w.MinTemperature); err != nil {
			return err
		}
		if err := validBound("max temperature", w.MaxTemperature); err != nil {
			return err
		}
		if w.MinTemperature != nil && w.MaxTemperature != nil && *w.MinTemperature > *w.MaxTemperature {
			return fmt.Errorf("%w: min temperature above max temperature", ErrInvalidConditions)
		}
	}
	if b := c.Battery; b != nil {
		if math.IsNaN(b.MinimumLevel) || b.MinimumLevel < 0 || b.MinimumLevel > 100 {
			return fmt.Errorf("%w: battery level must be within 0-100", ErrInvalidConditions)
		}
	}
	return nil
}

func validBound(name string, v *float64) error {
	if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
		return fmt.Errorf("%w: %s is not finite", ErrInvalidConditions, name)
	}
	return nil
}

func containsAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, id := range have {
		set[id] = struct{}{}
	}
	for _, id := range want {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

func (c Conditions) clone() Conditions {
	out := c
	out.MinSpeed = cloneFloat(c.MinSpeed)
	out.MaxSpeed = cloneFloat(c.MaxSpeed)
	out.RequiredDevices = append([]string(nil), c.RequiredDevices...)
	if c.Weather != nil {
		w := *c.Weather
		w.AllowedTags = append([]string(nil), c.Weather.AllowedTags...)
		w.MinTemperature = cloneFloat(c.Weather.MinTemperature)
		w.MaxTemperature = cloneFloat(c.Weather.MaxTemperature)
		out.Weather = &w
	}
	if c.Battery != nil {
		b := *c.Battery
		out.Battery = &b
	}
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
