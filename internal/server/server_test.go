package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/qaforge/qasandbox/internal/config"
	"github.com/qaforge/qasandbox/internal/pool"
	"github.com/qaforge/qasandbox/internal/sandbox"
	"github.com/qaforge/qasandbox/internal/sberr"
)

type fakeLifecycle struct {
	records []sandbox.Record
	killed  []string
	touched []string
}

func (f *fakeLifecycle) Init(_ context.Context, name string, _ sandbox.Limits) (string, error) {
	return "abc123def456789abcdef0123456789a", nil
}

func (f *fakeLifecycle) Kill(_ context.Context, id string) error {
	f.killed = append(f.killed, id)
	return nil
}

func (f *fakeLifecycle) Get(_ context.Context, id string) (sandbox.Record, error) {
	for _, r := range f.records {
		if r.ID == id {
			return r, nil
		}
	}
	return sandbox.Record{}, fmt.Errorf("sandbox %s: %w", id, sberr.ErrNotFound)
}

func (f *fakeLifecycle) List(context.Context) ([]sandbox.Record, error) {
	return f.records, nil
}

func (f *fakeLifecycle) Touch(_ context.Context, id string) error {
	for _, r := range f.records {
		if r.ID == id {
			f.touched = append(f.touched, id)
			return nil
		}
	}
	return fmt.Errorf("sandbox %s: %w", id, sberr.ErrNotFound)
}

func newTestServer(t *testing.T, lc *fakeLifecycle, p *pool.Pool) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.BaseDomain = "example.com"
	ts := httptest.NewServer(New(cfg, lc, p).Router())
	t.Cleanup(ts.Close)
	return ts
}

func TestCreateSandbox(t *testing.T) {
	ts := newTestServer(t, &fakeLifecycle{}, nil)

	resp, err := http.Post(ts.URL+"/api/sandboxes", "application/json", strings.NewReader(`{"name":"demo","memory":"1g"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body createResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ShortID != "abc123def456" {
		t.Errorf("short_id = %q", body.ShortID)
	}
	if body.Host != "https://qa-abc123def456.example.com" {
		t.Errorf("host = %q", body.Host)
	}
}

func TestCreateSandboxBadMemory(t *testing.T) {
	ts := newTestServer(t, &fakeLifecycle{}, nil)

	resp, err := http.Post(ts.URL+"/api/sandboxes", "application/json", strings.NewReader(`{"memory":"lots"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHeartbeat(t *testing.T) {
	lc := &fakeLifecycle{records: []sandbox.Record{{ID: "sbx-1"}}}
	ts := newTestServer(t, lc, nil)

	resp, err := http.Post(ts.URL+"/api/sandboxes/sbx-1/heartbeat", "", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if len(lc.touched) != 1 {
		t.Errorf("touched = %v", lc.touched)
	}
}

func TestHeartbeatUnknownSandbox(t *testing.T) {
	ts := newTestServer(t, &fakeLifecycle{}, nil)

	resp, err := http.Post(ts.URL+"/api/sandboxes/nope/heartbeat", "", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPoolClaimAndExhaustion(t *testing.T) {
	p := pool.New(time.Minute, nil)
	prov := pool.ProvisionerFunc(func(_ context.Context, name string) (string, error) {
		return "warm-" + name, nil
	})
	if err := p.Warm(context.Background(), prov, 1); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	ts := newTestServer(t, &fakeLifecycle{}, p)

	claim := func() claimResponse {
		resp, err := http.Post(ts.URL+"/api/pool/claim", "", nil)
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		defer resp.Body.Close()
		var body claimResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return body
	}

	first := claim()
	if first.Empty || first.SandboxID == "" {
		t.Fatalf("first claim = %+v", first)
	}
	second := claim()
	if !second.Empty {
		t.Fatalf("second claim = %+v, want empty", second)
	}

	// Release and claim again.
	body := strings.NewReader(`{"sandbox_id":"` + first.SandboxID + `"}`)
	resp, err := http.Post(ts.URL+"/api/pool/release", "application/json", body)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("release status = %d", resp.StatusCode)
	}
	third := claim()
	if third.Empty {
		t.Errorf("claim after release = %+v", third)
	}
}

func TestKillSandbox(t *testing.T) {
	lc := &fakeLifecycle{}
	ts := newTestServer(t, lc, nil)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sandboxes/sbx-9", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if len(lc.killed) != 1 || lc.killed[0] != "sbx-9" {
		t.Errorf("killed = %v", lc.killed)
	}
}
