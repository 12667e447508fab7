// Package ports hands out local ports to concurrent agent sessions. A
// session's port is derived from a hash of its identifier so repeated runs
// of the same named session land on the same port, then confirmed free
// with an OS-level bind check.
package ports

import (
	"fmt"
	"hash/fnv"
	"net"

	"github.com/qaforge/qasandbox/internal/sberr"
)

type Allocator struct {
	// Base is the first port of the allocation window.
	Base int
	// Range is the window size; candidates wrap within [Base, Base+Range).
	Range int
}

// Allocate returns a free port for the session, probing upward from the
// hash-derived candidate. The lease is implicit: callers should bind the
// port immediately and hold the listener for the session's lifetime.
func (a Allocator) Allocate(sessionID string) (int, error) {
	if a.Base <= 0 || a.Range <= 0 {
		return 0, fmt.Errorf("port window base=%d range=%d: %w", a.Base, a.Range, sberr.ErrInvalidConfig)
	}
	start := int(hash(sessionID) % uint32(a.Range))
	for i := 0; i < a.Range; i++ {
		port := a.Base + (start+i)%a.Range
		if bindable(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free port in [%d, %d): %w", a.Base, a.Base+a.Range, sberr.ErrResourceExhausted)
}

func hash(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// bindable confirms the port is free by binding and releasing it.
func bindable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
