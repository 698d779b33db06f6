package internal

import (
	"context"
	"testing"
	"time"
)

const inactivityWarning = "This room has been inactive for a while and will be archived unless someone posts soon."

func TestSweepWarnsOnceThenArchives(t *testing.T) {
	clock := newTestClock()
	hub := newTestHub(t, clock, newMemoryBlobs())
	sweeper := NewSweeper(hub, SweeperConfig{})
	ctx := context.Background()

	alice := newTestClient(hub)
	_ = hub.Join(ctx, alice, "alice", "quiet")
	hub.PostMessage(alice, "anyone around?")
	drainEvents(t, alice)

	clock.Advance(4 * 24 * time.Hour)
	if report := sweeper.Sweep(ctx); len(report.Warned) != 0 || len(report.Archived) != 0 {
		t.Fatalf("nothing should happen before five days: %+v", report)
	}

	clock.Advance(24*time.Hour + time.Minute)
	report := sweeper.Sweep(ctx)
	if len(report.Warned) != 1 || report.Warned[0] != "quiet" {
		t.Fatalf("expected a warning for quiet, got %+v", report)
	}
	notices := eventsOfType(drainEvents(t, alice), TypeSystemMessage)
	if len(notices) != 1 || notices[0].Text != inactivityWarning {
		t.Fatalf("unexpected warning events: %+v", notices)
	}

	clock.Advance(time.Hour)
	if report := sweeper.Sweep(ctx); len(report.Warned) != 0 {
		t.Fatalf("room warned twice: %+v", report)
	}

	clock.Advance(2 * 24 * time.Hour)
	report = sweeper.Sweep(ctx)
	if len(report.Archived) != 1 || report.Archived[0] != "quiet" {
		t.Fatalf("expected quiet archived, got %+v", report)
	}
	if hub.Exists("quiet") {
		t.Fatalf("room still live after archive")
	}
	if got := hub.GetArchive("quiet"); len(got) != 1 || got[0].Text != "anyone around?" {
		t.Fatalf("unexpected archive: %+v", got)
	}
	snapshot := hub.Metrics().Snapshot()
	if snapshot["warnings_total"] != uint64(1) || snapshot["rooms_archived_total"] != uint64(1) {
		t.Fatalf("unexpected metrics: %+v", snapshot)
	}
}

func TestSweepArchivesWithoutPriorWarning(t *testing.T) {
	clock := newTestClock()
	hub := newTestHub(t, clock, nil)
	sweeper := NewSweeper(hub, SweeperConfig{})
	ctx := context.Background()
	_ = hub.CreateRoom(ctx, "forgotten")

	clock.Advance(8 * 24 * time.Hour)
	report := sweeper.Sweep(ctx)
	if len(report.Archived) != 1 || len(report.Warned) != 0 {
		t.Fatalf("expected direct archive, got %+v", report)
	}
	if got := hub.GetArchive("forgotten"); got == nil || len(got) != 0 {
		t.Fatalf("empty room should archive as an empty slice, got %#v", got)
	}
}

func TestActivityKeepsRoomAlive(t *testing.T) {
	clock := newTestClock()
	blobs := newMemoryBlobs()
	hub := newTestHub(t, clock, blobs)
	sweeper := NewSweeper(hub, SweeperConfig{})
	ctx := context.Background()

	alice := newTestClient(hub)
	_ = hub.Join(ctx, alice, "alice", "busy")

	clock.Advance(4 * 24 * time.Hour)
	hub.PostMessage(alice, "still here")
	clock.Advance(4 * 24 * time.Hour)
	if _, err := hub.SubmitUpload(ctx, "busy", "alice", FileUpload{OriginalName: "a.txt", Data: []byte("x")}); err != nil {
		t.Fatalf("SubmitUpload: %v", err)
	}
	clock.Advance(4 * 24 * time.Hour)

	report := sweeper.Sweep(ctx)
	if len(report.Warned) != 0 || len(report.Archived) != 0 {
		t.Fatalf("active room was swept: %+v", report)
	}
}

func TestJoinDoesNotCountAsActivity(t *testing.T) {
	clock := newTestClock()
	hub := newTestHub(t, clock, nil)
	sweeper := NewSweeper(hub, SweeperConfig{})
	ctx := context.Background()
	_ = hub.CreateRoom(ctx, "lurkers")

	clock.Advance(6 * 24 * time.Hour)
	alice := newTestClient(hub)
	_ = hub.Join(ctx, alice, "alice", "lurkers")

	if report := sweeper.Sweep(ctx); len(report.Warned) != 1 {
		t.Fatalf("expected warning despite a fresh join, got %+v", report)
	}
}

func TestOverlappingSweepIsSkipped(t *testing.T) {
	hub := newTestHub(t, newTestClock(), nil)
	sweeper := NewSweeper(hub, SweeperConfig{})

	sweeper.running.Store(true)
	report := sweeper.Sweep(context.Background())
	if !report.Skipped {
		t.Fatalf("expected skipped report, got %+v", report)
	}
	if got := hub.Metrics().Snapshot()["sweeps_skipped_total"]; got != uint64(1) {
		t.Fatalf("sweeps_skipped_total = %v, want 1", got)
	}
	sweeper.running.Store(false)
	if report := sweeper.Sweep(context.Background()); report.Skipped {
		t.Fatalf("sweep should run once the previous one finished")
	}
}

func TestSweeperStartArchivesOnTick(t *testing.T) {
	clock := newTestClock()
	hub := newTestHub(t, clock, nil)
	ctx := context.Background()
	_ = hub.CreateRoom(ctx, "stale")
	clock.Advance(30 * 24 * time.Hour)

	sweeper := NewSweeper(hub, SweeperConfig{Interval: 10 * time.Millisecond})
	sweeper.Start(ctx)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Exists("stale") {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper never archived the stale room")
		}
		time.Sleep(5 * time.Millisecond)
	}
	sweeper.Stop()
	sweeper.Stop()
}

func TestRecreatedRoomStartsUnwarned(t *testing.T) {
	clock := newTestClock()
	hub := newTestHub(t, clock, nil)
	sweeper := NewSweeper(hub, SweeperConfig{})
	ctx := context.Background()

	alice := newTestClient(hub)
	_ = hub.Join(ctx, alice, "alice", "cycle")
	hub.PostMessage(alice, "first life")
	clock.Advance(5*24*time.Hour + time.Minute)
	if report := sweeper.Sweep(ctx); len(report.Warned) != 1 {
		t.Fatalf("expected a warning, got %+v", report)
	}
	clock.Advance(2 * 24 * time.Hour)
	if report := sweeper.Sweep(ctx); len(report.Archived) != 1 {
		t.Fatalf("expected archive, got %+v", report)
	}

	if err := hub.Join(ctx, alice, "alice", "cycle"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	drainEvents(t, alice)
	clock.Advance(5*24*time.Hour + time.Minute)
	report := sweeper.Sweep(ctx)
	if len(report.Warned) != 1 || report.Warned[0] != "cycle" {
		t.Fatalf("recreated room should be warned again, got %+v", report)
	}
	if notices := eventsOfType(drainEvents(t, alice), TypeSystemMessage); len(notices) != 1 || notices[0].Text != inactivityWarning {
		t.Fatalf("unexpected notices: %+v", notices)
	}
}

func TestActivityAfterWarningDoesNotRearm(t *testing.T) {
	clock := newTestClock()
	hub := newTestHub(t, clock, nil)
	sweeper := NewSweeper(hub, SweeperConfig{})
	ctx := context.Background()

	alice := newTestClient(hub)
	_ = hub.Join(ctx, alice, "alice", "sleepy")
	hub.PostMessage(alice, "hello")
	clock.Advance(5*24*time.Hour + time.Minute)
	if report := sweeper.Sweep(ctx); len(report.Warned) != 1 {
		t.Fatalf("expected a warning, got %+v", report)
	}

	clock.Advance(24 * time.Hour)
	hub.PostMessage(alice, "back again")
	clock.Advance(5*24*time.Hour + time.Minute)
	if report := sweeper.Sweep(ctx); len(report.Warned) != 0 || len(report.Archived) != 0 {
		t.Fatalf("room should stay quiet between day five and seven, got %+v", report)
	}

	clock.Advance(2 * 24 * time.Hour)
	if report := sweeper.Sweep(ctx); len(report.Archived) != 1 {
		t.Fatalf("expected archive seven days after the last post, got %+v", report)
	}
	if got := hub.GetArchive("sleepy"); len(got) != 2 || got[1].Text != "back again" {
		t.Fatalf("unexpected archive: %+v", got)
	}
}
