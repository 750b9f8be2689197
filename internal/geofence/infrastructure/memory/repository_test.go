package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	geofence "locshare-cloud/internal/geofence/domain"
)

func testFence(userID, id string) *geofence.Geofence {
	return &geofence.Geofence{
		ID:     id,
		UserID: userID,
		Name:   id,
		Shape:  geofence.NewCircle(geofence.Point{Latitude: 52.52, Longitude: 13.405}, 100),
		Active: true,
	}
}

func TestGeofenceRepositoryKeepsInsertionOrder(t *testing.T) {
	repo := NewGeofenceRepository()
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		if err := repo.Save(ctx, testFence("u1", id)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	updated := testFence("u1", "a")
	updated.Name = "renamed"
	_ = repo.Save(ctx, updated)

	list, _ := repo.ListByUser(ctx, "u1")
	if len(list) != 3 || list[0].ID != "c" || list[1].ID != "a" || list[2].ID != "b" {
		t.Fatalf("unexpected order %+v", list)
	}
	if list[1].Name != "renamed" {
		t.Fatalf("expected update in place, got %s", list[1].Name)
	}

	if err := repo.Delete(ctx, "u1", "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(ctx, "u1", "a"); !errors.Is(err, geofence.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := repo.Delete(ctx, "u1", "a"); !errors.Is(err, geofence.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	list, _ = repo.ListByUser(ctx, "u1")
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "b" {
		t.Fatalf("unexpected order after delete %+v", list)
	}
	if got := repo.CountActive(time.Now()); got != 2 {
		t.Fatalf("expected 2 active, got %d", got)
	}
}

func TestStateRepositoryReturnsCopies(t *testing.T) {
	repo := NewStateRepository()
	ctx := context.Background()
	if state, _ := repo.LoadUser(ctx, "u1"); state != nil {
		t.Fatalf("expected nil state for unknown user")
	}
	user := geofence.NewUserState("u1")
	user.State("g1").Status = geofence.StatusInside
	if err := repo.SaveUser(ctx, user); err != nil {
		t.Fatalf("save: %v", err)
	}
	user.State("g1").Status = geofence.StatusOutside

	loaded, _ := repo.LoadUser(ctx, "u1")
	if loaded.States["g1"].Status != geofence.StatusInside {
		t.Fatalf("stored state must not alias caller state")
	}
}

func TestEventRepositoryRangeAndDedupe(t *testing.T) {
	repo := NewEventRepository()
	ctx := context.Background()
	base := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	evts := []geofence.Event{
		{ID: "e2", UserID: "u1", Type: geofence.EventExit, OccurredAt: base.Add(2 * time.Minute)},
		{ID: "e1", UserID: "u1", Type: geofence.EventEnter, OccurredAt: base},
		{ID: "e3", UserID: "u2", Type: geofence.EventEnter, OccurredAt: base},
	}
	if err := repo.Append(ctx, evts); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = repo.Append(ctx, evts[:1])

	all, _ := repo.ListByUser(ctx, "u1", time.Time{}, time.Time{})
	if len(all) != 2 || all[0].ID != "e1" || all[1].ID != "e2" {
		t.Fatalf("unexpected events %+v", all)
	}
	ranged, _ := repo.ListByUser(ctx, "u1", base, base.Add(2*time.Minute))
	if len(ranged) != 1 || ranged[0].ID != "e1" {
		t.Fatalf("expected half-open range, got %+v", ranged)
	}
	if err := repo.Append(ctx, []geofence.Event{{UserID: "u1"}}); err == nil {
		t.Fatalf("expected error for empty id")
	}
}
