package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/twpayne/go-polyline"

	geofence "locshare-cloud/internal/geofence/domain"
)

// Version is the record layout written by EncodeGeofence.
const Version = 1

// ErrUnsupportedVersion is returned for records written by a newer layout.
var ErrUnsupportedVersion = errors.New("geofence codec: unsupported version")

// ErrMalformed is returned when a record does not match the layout.
var ErrMalformed = errors.New("geofence codec: malformed record")

// Record is the storage form of a geofence.
type Record = map[string]any

// EncodeGeofence converts a geofence to its storage form. Durations are
// seconds and times RFC3339Nano.
func EncodeGeofence(g geofence.Geofence) Record {
	rec := Record{
		"v":          Version,
		"id":         g.ID,
		"user_id":    g.UserID,
		"name":       g.Name,
		"priority":   string(g.Priority),
		"active":     g.Active,
		"shape":      encodeShape(g.Shape),
		"conditions": encodeConditions(g.Conditions),
		"actions": Record{
			"notify":        g.Actions.Notify,
			"log":           g.Actions.Log,
			"update_status": g.Actions.UpdateStatus,
			"message":       g.Actions.Message,
		},
	}
	putTime(rec, "expires_at", g.ExpiresAt)
	putTime(rec, "created_at", g.CreatedAt)
	putTime(rec, "updated_at", g.UpdatedAt)
	if g.Schedule != nil {
		rec["schedule"] = encodeSchedule(*g.Schedule)
	}
	return rec
}

// DecodeGeofence parses a storage record. It checks the layout only; callers
// validate the result with Geofence.Validate.
func DecodeGeofence(rec Record) (geofence.Geofence, error) {
	if rec == nil {
		return geofence.Geofence{}, fmt.Errorf("%w: nil record", ErrMalformed)
	}
	r := reader{rec: rec}
	version := r.integer("v")
	if version == 0 {
		version = Version
	}
	if version > Version {
		return geofence.Geofence{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	g := geofence.Geofence{
		ID:     r.str("id"),
		UserID: r.str("user_id"),
		Name:   r.str("name"),
		Active: r.flag("active"),
	}
	priority, err := decodePriority(r.str("priority"))
	if err != nil {
		return geofence.Geofence{}, err
	}
	g.Priority = priority
	g.ExpiresAt = r.timestamp("expires_at")
	g.CreatedAt = r.timestamp("created_at")
	g.UpdatedAt = r.timestamp("updated_at")

	shape, err := decodeShape(r.object("shape"))
	if err != nil {
		return geofence.Geofence{}, err
	}
	g.Shape = shape

	if sched := r.object("schedule"); sched != nil {
		schedule, err := decodeSchedule(sched)
		if err != nil {
			return geofence.Geofence{}, err
		}
		g.Schedule = &schedule
	}
	if cond := r.object("conditions"); cond != nil {
		conditions, err := decodeConditions(cond)
		if err != nil {
			return geofence.Geofence{}, err
		}
		g.Conditions = conditions
	}
	if act := r.object("actions"); act != nil {
		a := reader{rec: act}
		g.Actions = geofence.Actions{
			Notify:       a.flag("notify"),
			Log:          a.flag("log"),
			UpdateStatus: a.flag("update_status"),
			Message:      a.str("message"),
		}
	}
	if r.err != nil {
		return geofence.Geofence{}, r.err
	}
	return g, nil
}

// MarshalGeofence encodes a geofence as JSON.
func MarshalGeofence(g geofence.Geofence) ([]byte, error) {
	return json.Marshal(EncodeGeofence(g))
}

// UnmarshalGeofence decodes JSON written by MarshalGeofence.
func UnmarshalGeofence(data []byte) (geofence.Geofence, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return geofence.Geofence{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return DecodeGeofence(rec)
}

// EncodePolyline returns the vertices as an encoded polyline.
func EncodePolyline(points []geofence.Point) string {
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Latitude, p.Longitude}
	}
	return string(polyline.EncodeCoords(coords))
}

// DecodePolyline parses an encoded polyline into vertices.
func DecodePolyline(encoded string) ([]geofence.Point, error) {
	if strings.TrimSpace(encoded) == "" {
		return nil, fmt.Errorf("%w: empty polyline", ErrMalformed)
	}
	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: polyline: %v", ErrMalformed, err)
	}
	points := make([]geofence.Point, len(coords))
	for i, c := range coords {
		points[i] = geofence.Point{Latitude: c[0], Longitude: c[1]}
	}
	return points, nil
}

func encodeShape(s geofence.Shape) Record {
	switch s.Kind {
	case geofence.ShapeCircle:
		return Record{
			"kind":          string(geofence.ShapeCircle),
			"center":        encodePoint(s.Center),
			"radius_meters": s.RadiusMeters,
		}
	default:
		vertices := make([]any, len(s.Vertices))
		for i, v := range s.Vertices {
			vertices[i] = encodePoint(v)
		}
		return Record{
			"kind":     string(s.Kind),
			"vertices": vertices,
		}
	}
}

func decodeShape(rec Record) (geofence.Shape, error) {
	if rec == nil {
		return geofence.Shape{}, fmt.Errorf("%w: missing shape", ErrMalformed)
	}
	r := reader{rec: rec}
	switch kind := r.str("kind"); kind {
	case string(geofence.ShapeCircle):
		center := decodePoint(&r, r.object("center"))
		shape := geofence.NewCircle(center, r.num("radius_meters"))
		return shape, r.err
	case string(geofence.ShapePolygon):
		var points []geofence.Point
		if encoded := r.str("polyline"); encoded != "" {
			decoded, err := DecodePolyline(encoded)
			if err != nil {
				return geofence.Shape{}, err
			}
			points = decoded
		} else {
			for _, item := range r.list("vertices") {
				obj, ok := item.(map[string]any)
				if !ok {
					return geofence.Shape{}, fmt.Errorf("%w: vertex is not an object", ErrMalformed)
				}
				points = append(points, decodePoint(&r, obj))
			}
		}
		return geofence.NewPolygon(points), r.err
	default:
		return geofence.Shape{}, fmt.Errorf("%w: unknown shape kind %q", ErrMalformed, kind)
	}
}

func encodePoint(p geofence.Point) Record {
	return Record{"lat": p.Latitude, "lng": p.Longitude}
}

func decodePoint(parent *reader, rec Record) geofence.Point {
	if rec == nil {
		parent.fail("missing point")
		return geofence.Point{}
	}
	r := reader{rec: rec}
	p := geofence.Point{Latitude: r.num("lat"), Longitude: r.num("lng")}
	if r.err != nil && parent.err == nil {
		parent.err = r.err
	}
	return p
}

func encodeSchedule(s geofence.Schedule) Record {
	days := make([]any, len(s.ActiveDays))
	for i, d := range s.ActiveDays {
		days[i] = strings.ToLower(d.String()[:3])
	}
	rec := Record{
		"enabled":     s.Enabled,
		"active_days": days,
		"timezone":    s.Timezone,
	}
	if s.ActiveRange != nil {
		rec["active_range"] = encodeRange(*s.ActiveRange)
	}
	if len(s.CustomRanges) > 0 {
		ranges := make([]any, len(s.CustomRanges))
		for i, tr := range s.CustomRanges {
			ranges[i] = encodeRange(tr)
		}
		rec["custom_ranges"] = ranges
	}
	return rec
}

func decodeSchedule(rec Record) (geofence.Schedule, error) {
	r := reader{rec: rec}
	s := geofence.Schedule{
		Enabled:  r.flag("enabled"),
		Timezone: r.str("timezone"),
	}
	for _, item := range r.list("active_days") {
		name, ok := item.(string)
		if !ok {
			return geofence.Schedule{}, fmt.Errorf("%w: weekday is not a string", ErrMalformed)
		}
		day, err := geofence.ParseWeekday(name)
		if err != nil {
			return geofence.Schedule{}, err
		}
		s.ActiveDays = append(s.ActiveDays, day)
	}
	if obj := r.object("active_range"); obj != nil {
		tr, err := decodeRange(obj)
		if err != nil {
			return geofence.Schedule{}, err
		}
		s.ActiveRange = &tr
	}
	for _, item := range r.list("custom_ranges") {
		obj, ok := item.(map[string]any)
		if !ok {
			return geofence.Schedule{}, fmt.Errorf("%w: range is not an object", ErrMalformed)
		}
		tr, err := decodeRange(obj)
		if err != nil {
			return geofence.Schedule{}, err
		}
		s.CustomRanges = append(s.CustomRanges, tr)
	}
	return s, r.err
}

func encodeRange(tr geofence.TimeRange) Record {
	return Record{"start": tr.Start.String(), "end": tr.End.String()}
}

func decodeRange(rec Record) (geofence.TimeRange, error) {
	r := reader{rec: rec}
	start, err := geofence.ParseTimeOfDay(r.str("start"))
	if err != nil {
		return geofence.TimeRange{}, err
	}
	end, err := geofence.ParseTimeOfDay(r.str("end"))
	if err != nil {
		return geofence.TimeRange{}, err
	}
	return geofence.TimeRange{Start: start, End: end}, r.err
}

func encodeConditions(c geofence.Conditions) Record {
	rec := Record{
		"minimum_dwell_seconds": c.MinimumDwellTime.Seconds(),
		"require_confirmation":  c.RequireConfirmation,
	}
	putFloat(rec, "min_speed", c.MinSpeed)
	putFloat(rec, "max_speed", c.MaxSpeed)
	if len(c.RequiredDevices) > 0 {
		rec["required_devices"] = stringsToAny(c.RequiredDevices)
	}
	if c.Weather != nil {
		w := Record{}
		if len(c.Weather.AllowedTags) > 0 {
			w["allowed_tags"] = stringsToAny(c.Weather.AllowedTags)
		}
		putFloat(w, "min_temperature", c.Weather.MinTemperature)
		putFloat(w, "max_temperature", c.Weather.MaxTemperature)
		rec["weather"] = w
	}
	if c.Battery != nil {
		rec["battery"] = Record{
			"minimum_level":    c.Battery.MinimumLevel,
			"require_charging": c.Battery.RequireCharging,
		}
	}
	return rec
}

func decodeConditions(rec Record) (geofence.Conditions, error) {
	r := reader{rec: rec}
	c := geofence.Conditions{
		MinimumDwellTime:    r.seconds("minimum_dwell_seconds"),
		MinSpeed:            r.optNum("min_speed"),
		MaxSpeed:            r.optNum("max_speed"),
		RequiredDevices:     r.strs("required_devices"),
		RequireConfirmation: r.flag("require_confirmation"),
	}
	if obj := r.object("weather"); obj != nil {
		w := reader{rec: obj}
		c.Weather = &geofence.WeatherGate{
			AllowedTags:    w.strs("allowed_tags"),
			MinTemperature: w.optNum("min_temperature"),
			MaxTemperature: w.optNum("max_temperature"),
		}
		if w.err != nil {
			return geofence.Conditions{}, w.err
		}
	}
	if obj := r.object("battery"); obj != nil {
		b := reader{rec: obj}
		c.Battery = &geofence.BatteryGate{
			MinimumLevel:    b.num("minimum_level"),
			RequireCharging: b.flag("require_charging"),
		}
		if b.err != nil {
			return geofence.Conditions{}, b.err
		}
	}
	return c, r.err
}

func decodePriority(value string) (geofence.Priority, error) {
	switch value {
	case "":
		return geofence.PriorityNormal, nil
	case string(geofence.PriorityLow):
		return geofence.PriorityLow, nil
	case string(geofence.PriorityNormal):
		return geofence.PriorityNormal, nil
	case string(geofence.PriorityHigh):
		return geofence.PriorityHigh, nil
	case string(geofence.PriorityCritical):
		return geofence.PriorityCritical, nil
	default:
		return "", fmt.Errorf("%w: unknown priority %q", ErrMalformed, value)
	}
}

func putTime(rec Record, key string, t time.Time) {
	if !t.IsZero() {
		rec[key] = t.UTC().Format(time.RFC3339Nano)
	}
}

func putFloat(rec Record, key string, v *float64) {
	if v != nil {
		rec[key] = *v
	}
}

func stringsToAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// reader pulls typed fields out of a record and keeps the first error.
type reader struct {
	rec Record
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)
	}
}

func (r *reader) str(key string) string {
	v, ok := r.rec[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.fail("%s is not a string", key)
	}
	return s
}

func (r *reader) flag(key string) bool {
	v, ok := r.rec[key]
	if !ok || v == nil {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		r.fail("%s is not a bool", key)
	}
	return b
}

func (r *reader) num(key string) float64 {
	v, ok := r.rec[key]
	if !ok || v == nil {
		return 0
	}
	f, ok := toFloat(v)
	if !ok {
		r.fail("%s is not a number", key)
	}
	return f
}

func (r *reader) optNum(key string) *float64 {
	if v, ok := r.rec[key]; !ok || v == nil {
		return nil
	}
	f := r.num(key)
	return &f
}

func (r *reader) integer(key string) int {
	return int(math.Round(r.num(key)))
}

func (r *reader) seconds(key string) time.Duration {
	return time.Duration(math.Round(r.num(key) * float64(time.Second)))
}

func (r *reader) timestamp(key string) time.Time {
	s := r.str(key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		r.fail("%s: %v", key, err)
		return time.Time{}
	}
	return t.UTC()
}

func (r *reader) object(key string) Record {
	v, ok := r.rec[key]
	if !ok || v == nil {
		return nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		r.fail("%s is not an object", key)
		return nil
	}
	return obj
}

func (r *reader) list(key string) []any {
	v, ok := r.rec[key]
	if !ok || v == nil {
		return nil
	}
	switch items := v.(type) {
	case []any:
		return items
	case []map[string]any:
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = item
		}
		return out
	case []string:
		return stringsToAny(items)
	default:
		r.fail("%s is not a list", key)
		return nil
	}
}

func (r *reader) strs(key string) []string {
	items := r.list(key)
	if items == nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			r.fail("%s holds a non-string", key)
			return nil
		}
		out = append(out, s)
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
