package gc

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/qaforge/qasandbox/internal/sandbox"
)

type fakeLifecycle struct {
	records []sandbox.Record
	killed  []string
	killErr map[string]error
}

func (f *fakeLifecycle) List(context.Context) ([]sandbox.Record, error) {
	return f.records, nil
}

func (f *fakeLifecycle) Kill(_ context.Context, id string) error {
	if err := f.killErr[id]; err != nil {
		return err
	}
	f.killed = append(f.killed, id)
	return nil
}

func TestSweepAgeThreshold(t *testing.T) {
	now := time.Now()
	lc := &fakeLifecycle{records: []sandbox.Record{
		{ID: "young", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "old", CreatedAt: now.Add(-23 * time.Hour)},
	}}

	// With a 24h threshold neither sandbox is reclaimed.
	n, err := New(lc, 24*time.Hour, time.Hour).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 0 || len(lc.killed) != 0 {
		t.Errorf("reclaimed %d (%v), want 0", n, lc.killed)
	}

	// Dropping it to 1h reclaims both.
	n, err = New(lc, time.Hour, time.Hour).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 2 || len(lc.killed) != 2 {
		t.Errorf("reclaimed %d (%v), want 2", n, lc.killed)
	}
}

func TestSweepContinuesPastFailedTeardown(t *testing.T) {
	now := time.Now()
	lc := &fakeLifecycle{
		records: []sandbox.Record{
			{ID: "stuck", CreatedAt: now.Add(-48 * time.Hour)},
			{ID: "fine", CreatedAt: now.Add(-48 * time.Hour)},
		},
		killErr: map[string]error{"stuck": fmt.Errorf("daemon wedged")},
	}

	n, err := New(lc, 24*time.Hour, time.Hour).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("reclaimed = %d, want 1", n)
	}
	if len(lc.killed) != 1 || lc.killed[0] != "fine" {
		t.Errorf("killed = %v", lc.killed)
	}
}

func TestHeartbeatSparesActiveSandbox(t *testing.T) {
	now := time.Now()
	dir := t.TempDir()
	if err := sandbox.TouchDir(dir); err != nil {
		t.Fatalf("TouchDir: %v", err)
	}

	rec := sandbox.Record{
		ID:          "busy",
		CreatedAt:   now.Add(-48 * time.Hour),
		StoragePath: dir,
	}
	if expired(rec, now, 24*time.Hour) {
		t.Error("sandbox with fresh heartbeat should be spared")
	}

	// Without the heartbeat it is well past the threshold.
	rec.StoragePath = ""
	if !expired(rec, now, 24*time.Hour) {
		t.Error("sandbox without heartbeat should be reclaimed")
	}
}
