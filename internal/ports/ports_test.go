package ports

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/qaforge/qasandbox/internal/sberr"
)

func TestAllocateDeterministic(t *testing.T) {
	a := Allocator{Base: 42000, Range: 50}

	first, err := a.Allocate("browser-worker-1")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	second, err := a.Allocate("browser-worker-1")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if first != second {
		t.Errorf("same session allocated %d then %d", first, second)
	}
	if first < 42000 || first >= 42050 {
		t.Errorf("port %d outside window", first)
	}
}

func TestAllocateProbesPastBusyPort(t *testing.T) {
	a := Allocator{Base: 42100, Range: 50}

	want, err := a.Allocate("probe-session")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	// Occupy the deterministic candidate and allocate again.
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", want))
	if err != nil {
		t.Fatalf("bind %d: %v", want, err)
	}
	defer l.Close()

	got, err := a.Allocate("probe-session")
	if err != nil {
		t.Fatalf("Allocate with busy candidate: %v", err)
	}
	if got == want {
		t.Errorf("allocated busy port %d", got)
	}
}

func TestAllocateInvalidWindow(t *testing.T) {
	if _, err := (Allocator{}).Allocate("x"); !errors.Is(err, sberr.ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestAllocateExhaustedWindow(t *testing.T) {
	a := Allocator{Base: 42200, Range: 2}

	var held []net.Listener
	for port := 42200; port < 42202; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			t.Skipf("cannot occupy port %d: %v", port, err)
		}
		held = append(held, l)
	}
	defer func() {
		for _, l := range held {
			l.Close()
		}
	}()

	if _, err := a.Allocate("x"); !errors.Is(err, sberr.ErrResourceExhausted) {
		t.Errorf("err = %v, want ErrResourceExhausted", err)
	}
}
