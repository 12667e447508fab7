// Package pool keeps a small fixed set of pre-warmed sandboxes that
// agents claim instead of paying cold-start latency. Claims carry a lease:
// a claimant that crashes without releasing loses its slot back to the
// pool once the lease expires.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qaforge/qasandbox/internal/sberr"
	"github.com/qaforge/qasandbox/internal/shortid"
)

// Provisioner creates the warm sandboxes the pool hands out.
type Provisioner interface {
	Provision(ctx context.Context, name string) (string, error)
}

// Toucher heartbeats a sandbox so the garbage collector spares it, and
// reports ErrNotFound for sandboxes that no longer exist.
type Toucher interface {
	Touch(ctx context.Context, id string) error
}

// ProvisionerFunc adapts a function to the Provisioner interface.
type ProvisionerFunc func(ctx context.Context, name string) (string, error)

func (f ProvisionerFunc) Provision(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

type slot struct {
	sandboxID string
	label     string
	available bool
	claimedAt time.Time
}

type Pool struct {
	mu       sync.Mutex
	slots    []*slot
	leaseTTL time.Duration
	toucher  Toucher

	stop chan struct{}
	done chan struct{}
}

// New creates an empty pool. Warm it before serving claims. A zero
// leaseTTL disables lease expiry; a nil toucher disables liveness
// checking (warm sandboxes then age out under the collector).
func New(leaseTTL time.Duration, toucher Toucher) *Pool {
	return &Pool{
		leaseTTL: leaseTTL,
		toucher:  toucher,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Warm provisions size sandboxes concurrently and adds them as available
// slots. The pool does not grow or shrink afterwards.
func (p *Pool) Warm(ctx context.Context, prov Provisioner, size int) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < size; i++ {
		label := fmt.Sprintf("pool-%d", i)
		g.Go(func() error {
			id, err := prov.Provision(ctx, "qa-"+label)
			if err != nil {
				return fmt.Errorf("warm %s: %w", label, err)
			}
			p.mu.Lock()
			p.slots = append(p.slots, &slot{sandboxID: id, label: label, available: true})
			p.mu.Unlock()
			log.Printf("pool: warmed %s (%s)", label, shortid.From(id))
			return nil
		})
	}
	return g.Wait()
}

// Claim atomically takes an available slot, verifying first that its
// sandbox still exists; slots whose sandbox was reclaimed behind the
// pool's back are dropped instead of handed out. The second return is
// false when the pool is exhausted; callers fall back to a cold-started
// sandbox.
func (p *Pool) Claim(ctx context.Context) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < len(p.slots); {
		s := p.slots[i]
		if !s.available {
			i++
			continue
		}
		if p.toucher != nil {
			if err := p.toucher.Touch(ctx, s.sandboxID); err != nil {
				if errors.Is(err, sberr.ErrNotFound) {
					log.Printf("pool: %s (%s) is gone, dropping slot", s.label, shortid.From(s.sandboxID))
					p.slots = append(p.slots[:i], p.slots[i+1:]...)
					continue
				}
				log.Printf("pool: liveness check for %s failed, skipping: %v", s.label, err)
				i++
				continue
			}
		}
		s.available = false
		s.claimedAt = time.Now()
		return s.sandboxID, true
	}
	return "", false
}

// Release returns a claimed slot to the pool. Unknown IDs are logged and
// ignored: the sandbox may have been cold-started outside the pool.
func (p *Pool) Release(sandboxID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		if s.sandboxID == sandboxID {
			s.available = true
			s.claimedAt = time.Time{}
			return
		}
	}
	log.Printf("pool: release of non-pooled sandbox %s ignored", shortid.From(sandboxID))
}

// Reap returns slots whose lease expired without a release. Reports how
// many were reclaimed.
func (p *Pool) Reap(now time.Time) int {
	if p.leaseTTL <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	reclaimed := 0
	for _, s := range p.slots {
		if !s.available && !s.claimedAt.IsZero() && now.Sub(s.claimedAt) > p.leaseTTL {
			log.Printf("pool: lease on %s (%s) expired, reclaiming", s.label, shortid.From(s.sandboxID))
			s.available = true
			s.claimedAt = time.Time{}
			reclaimed++
		}
	}
	return reclaimed
}

// KeepAlive heartbeats every unclaimed slot so idle warm sandboxes never
// age out under the garbage collector. Slots whose sandbox is already
// gone are dropped. Claimed slots are the claimant's responsibility.
func (p *Pool) KeepAlive(ctx context.Context) {
	if p.toucher == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < len(p.slots); {
		s := p.slots[i]
		if !s.available {
			i++
			continue
		}
		if err := p.toucher.Touch(ctx, s.sandboxID); err != nil {
			if errors.Is(err, sberr.ErrNotFound) {
				log.Printf("pool: %s (%s) is gone, dropping slot", s.label, shortid.From(s.sandboxID))
				p.slots = append(p.slots[:i], p.slots[i+1:]...)
				continue
			}
			log.Printf("pool: heartbeat for %s failed: %v", s.label, err)
		}
		i++
	}
}

// StartReaper runs lease expiry and warm-slot heartbeats on a fixed
// interval until Stop.
func (p *Pool) StartReaper(interval time.Duration) {
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.Reap(time.Now())
				p.KeepAlive(context.Background())
			}
		}
	}()
}

func (p *Pool) Stop() {
	close(p.stop)
	<-p.done
}

// SandboxIDs lists every pooled sandbox, claimed or not. Used at shutdown
// to tear the warm pool down.
func (p *Pool) SandboxIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.slots))
	for _, s := range p.slots {
		ids = append(ids, s.sandboxID)
	}
	return ids
}

// Available reports how many slots are currently claimable.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.slots {
		if s.available {
			n++
		}
	}
	return n
}
