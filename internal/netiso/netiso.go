// Package netiso creates and destroys per-sandbox private Docker networks
// and attaches sandboxes to the shared ingress network the reverse proxy
// lives on. Isolation is a hardening layer: unless strict mode is enabled,
// failures fall back to the shared default network instead of failing
// sandbox creation.
package netiso

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"

	"github.com/qaforge/qasandbox/internal/shortid"
)

// DefaultNetworkID is the sentinel returned when private network creation
// fails and the sandbox falls back to the runtime's default network.
const DefaultNetworkID = "default"

const (
	labelManagedBy = "managed-by"
	labelValue     = "qasandbox"
	labelSandbox   = "qasandbox.name"
)

// API is the slice of the Docker client the manager needs.
type API interface {
	NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error)
	NetworkConnect(ctx context.Context, networkID, containerID string, config *network.EndpointSettings) error
	NetworkRemove(ctx context.Context, networkID string) error
	NetworkList(ctx context.Context, options network.ListOptions) ([]network.Summary, error)
}

// Network identifies a private network by daemon ID and by the name
// sandbox creation references it under.
type Network struct {
	ID   string
	Name string
}

// IsDefault reports whether this is the shared fallback network rather
// than a private one.
func (n Network) IsDefault() bool {
	return n.ID == DefaultNetworkID || n.ID == ""
}

type Manager struct {
	cli     API
	ingress string
	strict  bool
}

func NewManager(cli API, ingressNetwork string, strict bool) *Manager {
	return &Manager{cli: cli, ingress: ingressNetwork, strict: strict}
}

// Create provisions a private bridge network for the sandbox. The name
// carries a creation timestamp so rapid create/destroy cycles of the same
// sandbox name cannot collide.
func (m *Manager) Create(ctx context.Context, sandboxName string) (Network, error) {
	name := networkName(sandboxName, time.Now())
	resp, err := m.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{
			labelManagedBy: labelValue,
			labelSandbox:   sandboxName,
		},
	})
	if err != nil {
		if m.strict {
			return Network{}, fmt.Errorf("create network %s: %w", name, err)
		}
		log.Printf("network create for %s failed, falling back to default network: %v", sandboxName, err)
		return Network{ID: DefaultNetworkID}, nil
	}
	return Network{ID: resp.ID, Name: name}, nil
}

// AttachIngress connects the sandbox to the shared ingress network so the
// reverse proxy can reach it. Failure is logged, not returned: the sandbox
// stays usable internally even if external routing never comes up.
func (m *Manager) AttachIngress(ctx context.Context, containerID string) {
	if err := m.cli.NetworkConnect(ctx, m.ingress, containerID, nil); err != nil {
		log.Printf("ingress attach for %s failed: %v", shortid.From(containerID), err)
	}
}

// Destroy removes a private network. No-op for the default sentinel. The
// sandbox must already be removed; a network with a live member cannot be
// deleted.
func (m *Manager) Destroy(ctx context.Context, networkID string) error {
	if networkID == DefaultNetworkID || networkID == "" {
		return nil
	}
	if err := m.cli.NetworkRemove(ctx, networkID); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove network %s: %w", shortid.From(networkID), err)
	}
	return nil
}

// DestroyOrphaned removes any managed networks labeled with the sandbox
// name. This is the recovery path for sandboxes whose container was
// removed behind our back: the container labels are gone, but the network
// labels still identify what it owned.
func (m *Manager) DestroyOrphaned(ctx context.Context, sandboxName string) error {
	f := filters.NewArgs(
		filters.Arg("label", labelManagedBy+"="+labelValue),
		filters.Arg("label", labelSandbox+"="+sandboxName),
	)
	nets, err := m.cli.NetworkList(ctx, network.ListOptions{Filters: f})
	if err != nil {
		return fmt.Errorf("list networks for %s: %w", sandboxName, err)
	}
	for _, n := range nets {
		if err := m.Destroy(ctx, n.ID); err != nil {
			return err
		}
		log.Printf("removed orphaned network %s for %s", n.Name, sandboxName)
	}
	return nil
}

func networkName(sandboxName string, now time.Time) string {
	return fmt.Sprintf("%s-net-%d", sandboxName, now.UnixNano())
}
