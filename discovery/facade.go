package discovery

import (
	"errors"
	"fmt"
)

// Lookup errors returned by the Facade.
var (
	ErrNotWarm            = errors.New("service instances not known yet")
	ErrNoHealthyInstances = errors.New("no healthy instances")
)

// Facade is the read API handed to callers. It only reads the cache and
// never blocks on the registry.
type Facade struct {
	cache    *InstanceCache
	strategy Strategy
}

// NewFacade creates a Facade. A nil strategy selects round robin.
func NewFacade(cache *InstanceCache, strategy Strategy) *Facade {
	if strategy == nil {
		strategy = NewRoundRobin()
	}
	return &Facade{cache: cache, strategy: strategy}
}

// Resolve returns the passing instances of a service ordered by instance ID.
// It returns an empty slice while the service is not warm.
func (f *Facade) Resolve(serviceName string) []ServiceInstance {
	instances, _ := f.cache.Get(serviceName)
	return instances
}

// ResolveQuery applies tag and health filters. It fails with ErrNotWarm
// until the first snapshot of the service has been published.
func (f *Facade) ResolveQuery(q Query) ([]ServiceInstance, error) {
	instances, _, err := f.ResolveWithIndex(q)
	return instances, err
}

// ResolveWithIndex is ResolveQuery that also returns the index of the
// snapshot the instances were read from.
func (f *Facade) ResolveWithIndex(q Query) ([]ServiceInstance, uint64, error) {
	entry, ok := f.cache.Entry(q.ServiceName)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotWarm, q.ServiceName)
	}
	return entry.Snapshot.filter(q.filter()), entry.Snapshot.Index, nil
}

// IsWarm reports whether the service has been populated.
func (f *Facade) IsWarm(serviceName string) bool {
	return f.cache.IsWarm(serviceName)
}

// Pick selects one passing instance with the configured strategy.
func (f *Facade) Pick(serviceName string) (ServiceInstance, error) {
	return f.PickQuery(Query{ServiceName: serviceName})
}

// PickQuery selects one instance matching q.
func (f *Facade) PickQuery(q Query) (ServiceInstance, error) {
	instances, err := f.ResolveQuery(q)
	if err != nil {
		return ServiceInstance{}, err
	}
	if len(instances) == 0 {
		return ServiceInstance{}, fmt.Errorf("%w: %s", ErrNoHealthyInstances, q.ServiceName)
	}
	return f.strategy.Pick(q.ServiceName, instances), nil
}

// Strategy returns the selection policy in use.
func (f *Facade) Strategy() Strategy { return f.strategy }

// Snapshot returns the full published snapshot of a service, whatever the
// health of its instances.
func (f *Facade) Snapshot(serviceName string) (CatalogSnapshot, bool) {
	entry, ok := f.cache.Entry(serviceName)
	if !ok {
		return CatalogSnapshot{}, false
	}
	return entry.Snapshot, true
}
