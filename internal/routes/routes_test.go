package routes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/qaforge/qasandbox/internal/sberr"
)

const emptyDoc = "http:\n  routers:\n  services:\n"

func newTestRegistrar(t *testing.T, contents string) *Registrar {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qasandbox.yml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("seed routing document: %v", err)
	}
	r := New(path, "example.com", "websecure", "letsencrypt")
	r.Start()
	t.Cleanup(r.Stop)
	return r
}

func readDoc(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read routing document: %v", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parse routing document: %v", err)
	}
	return doc
}

func sectionOf(t *testing.T, doc map[string]any, name string) map[string]any {
	t.Helper()
	httpSec, ok := doc["http"].(map[string]any)
	if !ok {
		t.Fatalf("document has no http section: %v", doc)
	}
	m, _ := httpSec[name].(map[string]any)
	return m
}

func TestRegisterIdempotent(t *testing.T) {
	r := newTestRegistrar(t, emptyDoc)
	ctx := context.Background()

	if err := r.Register(ctx, "abc123def456", "http://demo.qa-ingress:3000"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(ctx, "abc123def456", "http://demo.qa-ingress:3000"); err != nil {
		t.Fatalf("second register: %v", err)
	}

	doc := readDoc(t, r.path)
	routers := sectionOf(t, doc, "routers")
	services := sectionOf(t, doc, "services")
	if len(routers) != 1 || len(services) != 1 {
		t.Fatalf("routers=%d services=%d, want exactly 1 each", len(routers), len(services))
	}

	router := routers["qa-abc123def456"].(map[string]any)
	if rule := router["rule"]; rule != "Host(`qa-abc123def456.example.com`)" {
		t.Errorf("rule = %v", rule)
	}
	if svc := router["service"]; svc != "qa-abc123def456" {
		t.Errorf("service ref = %v", svc)
	}
}

func TestRegisterFirstWriterWins(t *testing.T) {
	r := newTestRegistrar(t, emptyDoc)
	ctx := context.Background()

	if err := r.Register(ctx, "abc123def456", "http://first.qa-ingress:3000"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(ctx, "abc123def456", "http://second.qa-ingress:3000"); err != nil {
		t.Fatalf("conflicting register should no-op, got: %v", err)
	}

	services := sectionOf(t, readDoc(t, r.path), "services")
	lb := services["qa-abc123def456"].(map[string]any)["loadBalancer"].(map[string]any)
	servers := lb["servers"].([]any)
	url := servers[0].(map[string]any)["url"]
	if url != "http://first.qa-ingress:3000" {
		t.Errorf("backend = %v, want first writer's URL", url)
	}
}

func TestUnregisterRemovesBothBlocks(t *testing.T) {
	r := newTestRegistrar(t, emptyDoc)
	ctx := context.Background()

	if err := r.Register(ctx, "abc123def456", "http://demo.qa-ingress:3000"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Unregister(ctx, "abc123def456"); err != nil {
		t.Fatalf("unregister: %v", err)
	}

	doc := readDoc(t, r.path)
	if n := len(sectionOf(t, doc, "routers")); n != 0 {
		t.Errorf("routers left = %d", n)
	}
	if n := len(sectionOf(t, doc, "services")); n != 0 {
		t.Errorf("services left = %d", n)
	}
}

func TestUnregisterAbsentIsNoop(t *testing.T) {
	r := newTestRegistrar(t, emptyDoc)
	if err := r.Unregister(context.Background(), "feedfacecafe"); err != nil {
		t.Fatalf("unregister absent: %v", err)
	}
}

func TestRegisterPreservesForeignEntries(t *testing.T) {
	seeded := `http:
  routers:
    dashboard:
      rule: Host(` + "`dash.example.com`" + `)
      service: dashboard
  services:
    dashboard:
      loadBalancer:
        servers:
          - url: http://dashboard:8080
`
	r := newTestRegistrar(t, seeded)
	ctx := context.Background()

	if err := r.Register(ctx, "abc123def456", "http://demo.qa-ingress:3000"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Unregister(ctx, "abc123def456"); err != nil {
		t.Fatalf("unregister: %v", err)
	}

	routers := sectionOf(t, readDoc(t, r.path), "routers")
	if _, ok := routers["dashboard"]; !ok {
		t.Error("foreign router entry was lost")
	}
}

func TestMissingAnchorsIsConfigConflict(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{"no http section", "tcp:\n  routers:\n"},
		{"no routers", "http:\n  services:\n"},
		{"routers not a mapping", "http:\n  routers: 42\n  services:\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistrar(t, tt.contents)
			err := r.Register(context.Background(), "abc123def456", "http://x:3000")
			if !errors.Is(err, sberr.ErrConfigConflict) {
				t.Errorf("err = %v, want ErrConfigConflict", err)
			}
		})
	}
}

func TestMissingDocumentIsConfigConflict(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "absent.yml"), "example.com", "websecure", "letsencrypt")
	r.Start()
	defer r.Stop()

	err := r.Register(context.Background(), "abc123def456", "http://x:3000")
	if !errors.Is(err, sberr.ErrConfigConflict) {
		t.Errorf("err = %v, want ErrConfigConflict", err)
	}
}

func TestConcurrentRegistersAllLand(t *testing.T) {
	r := newTestRegistrar(t, emptyDoc)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			short := fmt.Sprintf("%012x", i)
			errs[i] = r.Register(ctx, short, fmt.Sprintf("http://sbx-%d.qa-ingress:3000", i))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}
	routers := sectionOf(t, readDoc(t, r.path), "routers")
	if len(routers) != n {
		t.Errorf("routers = %d, want %d", len(routers), n)
	}
}
