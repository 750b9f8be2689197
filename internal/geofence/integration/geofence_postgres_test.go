package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	gfapp "locshare-cloud/internal/geofence/application"
	geofence "locshare-cloud/internal/geofence/domain"
	gfrepo "locshare-cloud/internal/geofence/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestGeofenceLifecycle_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "geofences") ||
		!tableExists(db, "geofence_user_states") ||
		!tableExists(db, "geofence_runtime_states") ||
		!tableExists(db, "geofence_events") {
		t.Skip("missing tables; run migrations")
	}

	ctx := context.Background()
	userID := "user-it-geofence"
	_, _ = db.ExecContext(ctx, "DELETE FROM geofence_events WHERE user_id = $1", userID)
	_, _ = db.ExecContext(ctx, "DELETE FROM geofence_runtime_states WHERE user_id = $1", userID)
	_, _ = db.ExecContext(ctx, "DELETE FROM geofence_user_states WHERE user_id = $1", userID)
	_, _ = db.ExecContext(ctx, "DELETE FROM geofences WHERE user_id = $1", userID)

	fences := gfrepo.NewGeofenceRepository(db)
	states := gfrepo.NewStateRepository(db)
	eventLog := gfrepo.NewEventRepository(db)

	cfg := gfapp.DefaultEngineConfig()
	cfg.ConfirmationDelay = 0
	service, err := gfapp.NewService(fences, states, eventLog, gfapp.NewEngine(cfg))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	center := geofence.Point{Latitude: 48.8584, Longitude: 2.2945}
	g := &geofence.Geofence{
		ID:       "gf-it-1",
		UserID:   userID,
		Name:     "Tower",
		Priority: geofence.PriorityHigh,
		Active:   true,
		Shape:    geofence.NewCircle(center, 200),
		Actions:  geofence.Actions{Log: true},
	}
	if err := service.SaveGeofence(ctx, g); err != nil {
		t.Fatalf("save geofence: %v", err)
	}

	stored, err := fences.Get(ctx, userID, "gf-it-1")
	if err != nil {
		t.Fatalf("get geofence: %v", err)
	}
	if stored.Name != "Tower" || stored.Shape.RadiusMeters != 200 {
		t.Fatalf("unexpected stored geofence: %+v", stored)
	}

	start := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	fixes := []gfapp.PositionFix{
		{UserID: userID, Location: center, Accuracy: 5, Timestamp: start},
		{UserID: userID, Location: geofence.Point{Latitude: 48.8700, Longitude: 2.2945}, Accuracy: 5, Timestamp: start.Add(10 * time.Minute)},
	}
	for _, fix := range fixes {
		if _, err := service.HandlePositionFix(ctx, fix, gfapp.Ambient{}); err != nil {
			t.Fatalf("handle fix: %v", err)
		}
	}

	user, err := states.LoadUser(ctx, userID)
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	if user == nil || !user.LastFixAt.Equal(start.Add(10*time.Minute)) {
		t.Fatalf("unexpected user state: %+v", user)
	}
	rs := user.States["gf-it-1"]
	if rs == nil || rs.Status != geofence.StatusOutside || rs.Analytics.CompletedVisits != 1 {
		t.Fatalf("unexpected runtime state: %+v", rs)
	}

	list, err := eventLog.ListByUser(ctx, userID, start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(list) != 2 || list[0].Type != geofence.EventEnter || list[1].Type != geofence.EventExit {
		t.Fatalf("unexpected events: %+v", list)
	}
	if list[1].Metadata[geofence.MetaDwellSeconds] != "600" {
		t.Fatalf("unexpected exit metadata: %+v", list[1].Metadata)
	}

	// replaying the same events is a no-op
	if err := eventLog.Append(ctx, list); err != nil {
		t.Fatalf("replay append: %v", err)
	}
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM geofence_events WHERE user_id = $1", userID).Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 events, got %d", count)
	}

	if err := service.DeleteGeofence(ctx, userID, "gf-it-1"); err != nil {
		t.Fatalf("delete geofence: %v", err)
	}
	if _, err := fences.Get(ctx, userID, "gf-it-1"); !errors.Is(err, geofence.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	user, err = states.LoadUser(ctx, userID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if _, ok := user.States["gf-it-1"]; ok {
		t.Fatalf("runtime state not removed")
	}
}

func tableExists(db *sql.DB, table string) bool {
	var name sql.NullString
	if err := db.QueryRow("SELECT to_regclass($1)", "public."+table).Scan(&name); err != nil {
		return false
	}
	return name.Valid
}
