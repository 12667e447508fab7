// Package sandbox creates, executes commands in, and tears down isolated
// Docker sandboxes for build/test agents. Each sandbox gets a private
// network, a bind-mounted storage directory, and a public route through
// the shared reverse proxy.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/qaforge/qasandbox/internal/config"
	"github.com/qaforge/qasandbox/internal/netiso"
	"github.com/qaforge/qasandbox/internal/routes"
	"github.com/qaforge/qasandbox/internal/sberr"
	"github.com/qaforge/qasandbox/internal/shortid"
)

const (
	labelManagedBy = "managed-by"
	labelValue     = "qasandbox"
	labelName      = "qasandbox.name"
	labelCreatedAt = "qasandbox.created-at"
	labelNetwork   = "qasandbox.network"
	labelStorage   = "qasandbox.storage"

	workdir = "/workspace"

	// routeMarkerFile persists the route key in the sandbox's storage
	// directory so Kill can find the route even after the container (and
	// its labels) were removed behind our back.
	routeMarkerFile = ".qa-route"
)

var stopTimeoutSeconds = 10

// API is the slice of the Docker client the manager needs. The concrete
// client satisfies it; tests substitute a fake.
type API interface {
	netiso.API
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error)
}

// Limits bounds a sandbox's resource consumption. Zero fields inherit the
// configured defaults; negative fields are rejected.
type Limits struct {
	Memory    int64
	NanoCPUs  int64
	PidsLimit int64
}

// Record describes one managed sandbox, reconstructed from container
// labels.
type Record struct {
	ID          string    `json:"id"`
	ShortID     string    `json:"short_id"`
	Name        string    `json:"name"`
	NetworkID   string    `json:"network_id"`
	StoragePath string    `json:"storage_path"`
	CreatedAt   time.Time `json:"created_at"`
	Running     bool      `json:"running"`
}

type Manager struct {
	cfg      config.Config
	cli      API
	networks *netiso.Manager
	routes   *routes.Registrar
}

// NewManager connects to the Docker daemon and verifies it is reachable.
func NewManager(cfg config.Config, reg *routes.Registrar) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("docker ping: %w", err)
	}
	return newManager(cfg, cli, reg), nil
}

func newManager(cfg config.Config, cli API, reg *routes.Registrar) *Manager {
	return &Manager{
		cfg:      cfg,
		cli:      cli,
		networks: netiso.NewManager(cli, cfg.IngressNetwork, cfg.IsolationStrict),
		routes:   reg,
	}
}

// Init creates a sandbox and registers its public route. On success the
// returned ID resolves to a running, routable sandbox; on route failure
// the half-made sandbox is torn down rather than left unreachable.
func (m *Manager) Init(ctx context.Context, name string, limits Limits) (string, error) {
	limits, err := m.fillLimits(limits)
	if err != nil {
		return "", err
	}
	if name == "" {
		name = "qa-agent-" + uuid.NewString()[:8]
	}

	if err := m.preflight(limits); err != nil {
		return "", err
	}

	storageDir := filepath.Join(m.cfg.StorageRoot, name)
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return "", fmt.Errorf("storage dir %s: %w", storageDir, err)
	}

	net, err := m.networks.Create(ctx, name)
	if err != nil {
		return "", err
	}

	endpoints := map[string]*network.EndpointSettings{}
	if !net.IsDefault() {
		endpoints[net.Name] = &network.EndpointSettings{}
	}

	pidsLimit := limits.PidsLimit
	resp, err := m.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      m.cfg.Image,
			Cmd:        []string{"sleep", "infinity"},
			WorkingDir: workdir,
			Labels: map[string]string{
				labelManagedBy: labelValue,
				labelName:      name,
				labelCreatedAt: time.Now().UTC().Format(time.RFC3339),
				labelNetwork:   net.ID,
				labelStorage:   storageDir,
			},
		},
		&container.HostConfig{
			Binds:       []string{storageDir + ":" + workdir},
			CapDrop:     []string{"ALL"},
			SecurityOpt: []string{"no-new-privileges"},
			Resources: container.Resources{
				Memory:    limits.Memory,
				NanoCPUs:  limits.NanoCPUs,
				PidsLimit: &pidsLimit,
			},
		},
		&network.NetworkingConfig{EndpointsConfig: endpoints},
		nil, name,
	)
	if err != nil {
		m.networks.Destroy(ctx, net.ID)
		return "", fmt.Errorf("container create: %v: %w", err, sberr.ErrResourceExhausted)
	}

	if err := os.WriteFile(filepath.Join(storageDir, routeMarkerFile), []byte(shortid.From(resp.ID)), 0o644); err != nil {
		log.Printf("route marker for %s: %v", name, err)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		m.networks.Destroy(ctx, net.ID)
		return "", fmt.Errorf("container start: %v: %w", err, sberr.ErrResourceExhausted)
	}

	m.networks.AttachIngress(ctx, resp.ID)

	backend := fmt.Sprintf("http://%s.%s:%d", name, m.cfg.IngressNetwork, m.cfg.InternalPort)
	if err := m.routes.Register(ctx, shortid.From(resp.ID), backend); err != nil {
		// A sandbox with no route is unusable; kill it instead of
		// leaving it running unreachable.
		if killErr := m.Kill(ctx, resp.ID); killErr != nil {
			log.Printf("cleanup after route failure for %s: %v", shortid.From(resp.ID), killErr)
		}
		return "", fmt.Errorf("register route: %w", err)
	}

	return resp.ID, nil
}

// Kill stops and removes the sandbox, then destroys its private network
// and removes its route, in that order. Idempotent: killing an
// already-terminated sandbox succeeds after a logged warning.
func (m *Manager) Kill(ctx context.Context, id string) error {
	insp, err := m.cli.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			log.Printf("kill %s: sandbox already terminated", id)
			return m.reapOrphans(ctx, id)
		}
		return fmt.Errorf("inspect %s: %w", shortid.From(id), err)
	}

	networkID := insp.Config.Labels[labelNetwork]

	if err := m.cli.ContainerStop(ctx, insp.ID, container.StopOptions{Timeout: &stopTimeoutSeconds}); err != nil && !errdefs.IsNotFound(err) {
		log.Printf("stop %s: %v", shortid.From(insp.ID), err)
	}
	if err := m.cli.ContainerRemove(ctx, insp.ID, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove %s: %w", shortid.From(insp.ID), err)
	}

	if err := m.networks.Destroy(ctx, networkID); err != nil {
		return err
	}
	return m.routes.Unregister(ctx, shortid.From(insp.ID))
}

// reapOrphans cleans up what an externally-removed container left behind.
// Its labels are gone with it, so the ref has to be resolved both ways:
// a container ID yields the route key directly, a sandbox name yields it
// through the marker in the storage directory, and networks are found by
// their own labels.
func (m *Manager) reapOrphans(ctx context.Context, ref string) error {
	if err := m.networks.DestroyOrphaned(ctx, ref); err != nil {
		return err
	}
	if isHexID(ref) {
		return m.routes.Unregister(ctx, shortid.From(ref))
	}
	marker := filepath.Join(m.cfg.StorageRoot, ref, routeMarkerFile)
	if data, err := os.ReadFile(marker); err == nil {
		return m.routes.Unregister(ctx, strings.TrimSpace(string(data)))
	}
	return nil
}

// isHexID reports whether ref is shaped like a container ID rather than a
// sandbox name.
func isHexID(ref string) bool {
	if len(ref) < shortid.Length {
		return false
	}
	for _, c := range ref {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Get resolves a sandbox ID (full or unique prefix) to its record.
func (m *Manager) Get(ctx context.Context, id string) (Record, error) {
	insp, err := m.cli.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return Record{}, fmt.Errorf("sandbox %s: %w", shortid.From(id), sberr.ErrNotFound)
		}
		return Record{}, fmt.Errorf("inspect %s: %w", shortid.From(id), err)
	}
	if insp.Config.Labels[labelManagedBy] != labelValue {
		return Record{}, fmt.Errorf("container %s is not a managed sandbox: %w", shortid.From(id), sberr.ErrNotFound)
	}

	created, _ := time.Parse(time.RFC3339, insp.Config.Labels[labelCreatedAt])
	running := insp.State != nil && insp.State.Running
	return Record{
		ID:          insp.ID,
		ShortID:     shortid.From(insp.ID),
		Name:        insp.Config.Labels[labelName],
		NetworkID:   insp.Config.Labels[labelNetwork],
		StoragePath: insp.Config.Labels[labelStorage],
		CreatedAt:   created,
		Running:     running,
	}, nil
}

// List returns all managed sandboxes, stopped ones included.
func (m *Manager) List(ctx context.Context) ([]Record, error) {
	f := filters.NewArgs(filters.Arg("label", labelManagedBy+"="+labelValue))
	summaries, err := m.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("list sandboxes: %w", err)
	}

	records := make([]Record, 0, len(summaries))
	for _, s := range summaries {
		created, err := time.Parse(time.RFC3339, s.Labels[labelCreatedAt])
		if err != nil {
			created = time.Unix(s.Created, 0)
		}
		records = append(records, Record{
			ID:          s.ID,
			ShortID:     shortid.From(s.ID),
			Name:        s.Labels[labelName],
			NetworkID:   s.Labels[labelNetwork],
			StoragePath: s.Labels[labelStorage],
			CreatedAt:   created,
			Running:     s.State == "running",
		})
	}
	return records, nil
}

// fillLimits applies configured defaults and rejects malformed values.
func (m *Manager) fillLimits(l Limits) (Limits, error) {
	if l.Memory < 0 || l.NanoCPUs < 0 || l.PidsLimit < 0 {
		return Limits{}, fmt.Errorf("negative resource limit %+v: %w", l, sberr.ErrInvalidConfig)
	}
	if l.Memory == 0 {
		l.Memory = m.cfg.MemoryLimit
	}
	if l.NanoCPUs == 0 {
		l.NanoCPUs = m.cfg.NanoCPUs
	}
	if l.PidsLimit == 0 {
		l.PidsLimit = m.cfg.PidsLimit
	}
	return l, nil
}

// preflight refuses creation when the host clearly cannot satisfy the
// memory limit, before asking the daemon.
func (m *Manager) preflight(l Limits) error {
	vm, err := mem.VirtualMemory()
	if err != nil {
		// Host stats are advisory; let the daemon decide.
		return nil
	}
	if l.Memory > 0 && uint64(l.Memory) > vm.Available {
		return fmt.Errorf("requested %d bytes, host has %d available: %w", l.Memory, vm.Available, sberr.ErrResourceExhausted)
	}
	return nil
}
