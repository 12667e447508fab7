// Package gc reclaims sandboxes past their retention threshold. Age is
// measured from creation, or from the last recorded heartbeat when an
// agent has been touching the sandbox to keep it alive.
package gc

import (
	"context"
	"log"
	"time"

	"github.com/qaforge/qasandbox/internal/sandbox"
)

// Lifecycle is the slice of the sandbox manager the collector needs.
type Lifecycle interface {
	List(ctx context.Context) ([]sandbox.Record, error)
	Kill(ctx context.Context, id string) error
}

// Collector sweeps on a fixed schedule. One stuck sandbox never blocks
// reclamation of the rest: teardown failures are logged and skipped.
type Collector struct {
	mgr      Lifecycle
	maxAge   time.Duration
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func New(mgr Lifecycle, maxAge, interval time.Duration) *Collector {
	return &Collector{
		mgr:      mgr,
		maxAge:   maxAge,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop. Call Stop to terminate.
func (c *Collector) Start() {
	go c.loop()
}

func (c *Collector) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Collector) loop() {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if n, err := c.Sweep(context.Background()); err != nil {
				log.Printf("gc: sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("gc: reclaimed %d sandbox(es)", n)
			}
		}
	}
}

// Sweep kills every sandbox older than the retention threshold and
// reports how many were reclaimed.
func (c *Collector) Sweep(ctx context.Context) (int, error) {
	records, err := c.mgr.List(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	reclaimed := 0
	for _, rec := range records {
		if !expired(rec, now, c.maxAge) {
			continue
		}
		log.Printf("gc: reclaiming %s (%s, created %s)", rec.Name, rec.ShortID, rec.CreatedAt.Format(time.RFC3339))
		if err := c.mgr.Kill(ctx, rec.ID); err != nil {
			log.Printf("gc: teardown of %s failed, continuing: %v", rec.ShortID, err)
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}

// expired checks the sandbox against the retention threshold using its
// most recent sign of life.
func expired(rec sandbox.Record, now time.Time, maxAge time.Duration) bool {
	return now.Sub(lastActivity(rec)) > maxAge
}

// lastActivity is the creation time, or the heartbeat if one was recorded
// later.
func lastActivity(rec sandbox.Record) time.Time {
	if rec.StoragePath != "" {
		if hb, ok := sandbox.HeartbeatTime(rec.StoragePath); ok && hb.After(rec.CreatedAt) {
			return hb
		}
	}
	return rec.CreatedAt
}
