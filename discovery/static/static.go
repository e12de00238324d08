package static

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/kbukum/discoverykit/discovery"
	apperrors "github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/logger"
)

// Provider implements discovery.RegistryClient over an in-memory catalog.
// It honours blocking-query semantics, so the reconciler runs against it
// exactly as it runs against Consul. Useful for local development and tests.
type Provider struct {
	mu       sync.Mutex
	services map[string]map[string]discovery.ServiceInstance
	indexes  map[string]uint64
	index    uint64
	changed  chan struct{}
	checks   map[string]string // check ID -> instance ID
	log      *logger.Logger
}

func init() {
	discovery.RegisterProviderFactory("static", func(cfg discovery.Config, _ any, log *logger.Logger) (discovery.RegistryClient, error) {
		return NewProvider(cfg.StaticEndpoints, log), nil
	})
}

// NewProvider creates a Provider pre-populated from static config.
func NewProvider(endpoints []discovery.StaticEndpoint, log *logger.Logger) *Provider {
	if log == nil {
		log = logger.Nop()
	}
	p := &Provider{
		services: make(map[string]map[string]discovery.ServiceInstance),
		indexes:  make(map[string]uint64),
		index:    1,
		changed:  make(chan struct{}),
		checks:   make(map[string]string),
		log:      log.WithComponent("static-registry"),
	}
	for _, ep := range endpoints {
		p.put(ep.Instance())
	}
	return p
}

// Register adds or replaces an instance.
func (p *Provider) Register(_ context.Context, instance discovery.ServiceInstance, opts discovery.RegistrationOptions) (discovery.Ack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if instance.Health == "" {
		// A TTL check starts critical until the first heartbeat.
		instance.Health = discovery.HealthCritical
	}
	p.put(instance)
	checkID := opts.CheckID
	if checkID == "" {
		checkID = discovery.CheckIDFor(instance.InstanceID)
	}
	p.checks[checkID] = instance.InstanceID
	p.log.Debug("registered", logger.Fields(logger.FieldInstanceID, instance.InstanceID))
	return discovery.Ack{InstanceID: instance.InstanceID, At: time.Now()}, nil
}

// Deregister removes an instance. Unknown IDs are acknowledged.
func (p *Provider) Deregister(_ context.Context, instanceID string) (discovery.Ack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, instances := range p.services {
		if _, ok := instances[instanceID]; ok {
			delete(instances, instanceID)
			p.bump(name)
			break
		}
	}
	for checkID, id := range p.checks {
		if id == instanceID {
			delete(p.checks, checkID)
		}
	}
	return discovery.Ack{InstanceID: instanceID, At: time.Now()}, nil
}

// Heartbeat sets the health of the instance owning checkID.
func (p *Provider) Heartbeat(_ context.Context, checkID string, status discovery.HealthStatus, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.checks[checkID]
	if !ok {
		// Consul answers 404 for a TTL check it does not know.
		appErr := apperrors.ServerError(http.StatusNotFound, fmt.Sprintf("CheckID %q does not have associated TTL", checkID))
		appErr.Retryable = false
		return appErr
	}
	p.setHealth(id, status)
	return nil
}

// FetchCatalog returns the instances of a service once its index moves past
// waitIndex, or the current view after waitTime.
func (p *Provider) FetchCatalog(ctx context.Context, serviceName string, waitIndex uint64, waitTime time.Duration) (discovery.CatalogSnapshot, error) {
	var timeout <-chan time.Time
	if waitTime > 0 {
		timer := time.NewTimer(waitTime)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		p.mu.Lock()
		idx := p.serviceIndex(serviceName)
		if waitIndex == 0 || idx > waitIndex {
			snap := p.snapshot(serviceName, idx)
			p.mu.Unlock()
			return snap, nil
		}
		changed := p.changed
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return discovery.CatalogSnapshot{}, ctx.Err()
		case <-changed:
		case <-timeout:
			p.mu.Lock()
			snap := p.snapshot(serviceName, p.serviceIndex(serviceName))
			p.mu.Unlock()
			return snap, nil
		}
	}
}

// SetInstances replaces every instance of a service.
func (p *Provider) SetInstances(serviceName string, instances []discovery.ServiceInstance) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make(map[string]discovery.ServiceInstance, len(instances))
	for _, inst := range instances {
		inst.ServiceName = serviceName
		next[inst.InstanceID] = inst
	}
	p.services[serviceName] = next
	p.bump(serviceName)
}

// SetHealth changes the health of one instance.
func (p *Provider) SetHealth(instanceID string, status discovery.HealthStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setHealth(instanceID, status)
}

// Instances returns the stored instances of a service ordered by ID.
func (p *Provider) Instances(serviceName string) []discovery.ServiceInstance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot(serviceName, 0).Instances
}

// Services returns the known service names, sorted.
func (p *Provider) Services() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.services))
}

// put must be called with p.mu held.
func (p *Provider) put(inst discovery.ServiceInstance) {
	instances, ok := p.services[inst.ServiceName]
	if !ok {
		instances = make(map[string]discovery.ServiceInstance)
		p.services[inst.ServiceName] = instances
	}
	instances[inst.InstanceID] = inst
	p.bump(inst.ServiceName)
}

// setHealth must be called with p.mu held.
func (p *Provider) setHealth(instanceID string, status discovery.HealthStatus) {
	for name, instances := range p.services {
		inst, ok := instances[instanceID]
		if !ok || inst.Health == status {
			continue
		}
		inst.Health = status
		instances[instanceID] = inst
		p.bump(name)
		return
	}
}

// bump advances the index of a service and wakes blocked queries.
func (p *Provider) bump(serviceName string) {
	p.index++
	p.indexes[serviceName] = p.index
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *Provider) serviceIndex(serviceName string) uint64 {
	if idx, ok := p.indexes[serviceName]; ok {
		return idx
	}
	return p.index
}

func (p *Provider) snapshot(serviceName string, index uint64) discovery.CatalogSnapshot {
	instances := p.services[serviceName]
	list := make([]discovery.ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		list = append(list, inst)
	}
	return discovery.NewSnapshot(serviceName, index, list)
}

var _ discovery.RegistryClient = (*Provider)(nil)
