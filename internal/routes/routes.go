// Package routes maintains the shared Traefik dynamic-configuration
// document that maps qa-<short_id>.<base_domain> hostnames to sandbox
// backends. The document is a single shared resource with no per-entry
// addressing, so every mutation is a whole-document read-modify-write.
// All register/unregister calls are serialized through one owning
// goroutine; callers never touch the file directly.
package routes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/qaforge/qasandbox/internal/sberr"
	"github.com/qaforge/qasandbox/internal/shortid"
)

type opKind int

const (
	opRegister opKind = iota
	opUnregister
)

type request struct {
	op         opKind
	shortID    string
	backendURL string
	reply      chan error
}

// Registrar is the single writer of the routing document. Start it before
// use; Register and Unregister block until the owning goroutine has
// applied and persisted the mutation.
type Registrar struct {
	path         string
	baseDomain   string
	entryPoint   string
	certResolver string

	requests chan request
	stop     chan struct{}
	done     chan struct{}
}

func New(path, baseDomain, entryPoint, certResolver string) *Registrar {
	return &Registrar{
		path:         path,
		baseDomain:   baseDomain,
		entryPoint:   entryPoint,
		certResolver: certResolver,
		requests:     make(chan request),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the owning goroutine. Call Stop to drain and terminate.
func (r *Registrar) Start() {
	go r.loop()
}

func (r *Registrar) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Registrar) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case req := <-r.requests:
			req.reply <- r.apply(req)
		}
	}
}

// Register inserts a router and a service block for the short ID.
// Idempotent: if an entry already exists the call is a no-op and the
// existing backend wins.
func (r *Registrar) Register(ctx context.Context, shortID, backendURL string) error {
	return r.send(ctx, request{op: opRegister, shortID: shortID, backendURL: backendURL, reply: make(chan error, 1)})
}

// Unregister removes both blocks for the short ID. Succeeds as a no-op if
// no entry exists.
func (r *Registrar) Unregister(ctx context.Context, shortID string) error {
	return r.send(ctx, request{op: opUnregister, shortID: shortID, reply: make(chan error, 1)})
}

func (r *Registrar) send(ctx context.Context, req request) error {
	select {
	case r.requests <- req:
	case <-r.stop:
		return fmt.Errorf("route registrar stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// apply performs one read-modify-write cycle. Only ever called from the
// owning goroutine.
func (r *Registrar) apply(req request) error {
	doc, err := r.load()
	if err != nil {
		return err
	}
	routers, services, err := anchors(doc)
	if err != nil {
		return err
	}

	key := "qa-" + req.shortID
	switch req.op {
	case opRegister:
		if _, ok := routers[key]; ok {
			return nil
		}
		routers[key] = map[string]any{
			"rule":        fmt.Sprintf("Host(`%s`)", shortid.Hostname(req.shortID, r.baseDomain)),
			"service":     key,
			"entryPoints": []any{r.entryPoint},
			"tls":         map[string]any{"certResolver": r.certResolver},
		}
		services[key] = map[string]any{
			"loadBalancer": map[string]any{
				"servers": []any{map[string]any{"url": req.backendURL}},
			},
		}
	case opUnregister:
		_, inRouters := routers[key]
		_, inServices := services[key]
		if !inRouters && !inServices {
			return nil
		}
		delete(routers, key)
		delete(services, key)
	}
	return r.store(doc)
}

func (r *Registrar) load() (map[string]any, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("routing document %s: %v: %w", r.path, err, sberr.ErrConfigConflict)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("routing document %s: %v: %w", r.path, err, sberr.ErrConfigConflict)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// anchors locates the http.routers and http.services sections. A document
// without them is structurally broken and must be fixed by an operator,
// never silently repaired.
func anchors(doc map[string]any) (routers, services map[string]any, err error) {
	httpSec, err := section(doc, "http")
	if err != nil {
		return nil, nil, err
	}
	routers, err = section(httpSec, "routers")
	if err != nil {
		return nil, nil, err
	}
	services, err = section(httpSec, "services")
	if err != nil {
		return nil, nil, err
	}
	return routers, services, nil
}

func section(parent map[string]any, name string) (map[string]any, error) {
	raw, ok := parent[name]
	if !ok {
		return nil, fmt.Errorf("routing document has no %q section: %w", name, sberr.ErrConfigConflict)
	}
	if raw == nil {
		// An empty YAML mapping decodes as nil; materialize it.
		m := map[string]any{}
		parent[name] = m
		return m, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("routing document %q section is not a mapping: %w", name, sberr.ErrConfigConflict)
	}
	return m, nil
}

// store atomically replaces the document: write a temp file in the same
// directory, then rename over the original, so the proxy's hot-reload
// watcher never observes a partial write.
func (r *Registrar) store(doc map[string]any) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal routing document: %w", err)
	}
	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".qasandbox-routes-*")
	if err != nil {
		return fmt.Errorf("temp routing document: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write routing document: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod routing document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close routing document: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replace routing document: %w", err)
	}
	return nil
}
