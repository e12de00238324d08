package discovery

import (
	"maps"
	"net"
	"slices"
	"sort"
	"strconv"
)

// HealthStatus is the aggregated health of an instance as reported by the registry.
type HealthStatus string

const (
	HealthPassing  HealthStatus = "passing"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
	HealthUnknown  HealthStatus = "unknown"
)

// ParseHealthStatus maps a registry status string onto a HealthStatus.
// Consul's "maintenance" counts as critical.
func ParseHealthStatus(s string) HealthStatus {
	switch s {
	case "passing":
		return HealthPassing
	case "warning":
		return HealthWarning
	case "critical", "maintenance":
		return HealthCritical
	default:
		return HealthUnknown
	}
}

// Key identifies an instance within the registry.
type Key struct {
	ServiceName string
	InstanceID  string
}

func (k Key) String() string { return k.ServiceName + "/" + k.InstanceID }

// ServiceInstance is one registered endpoint of a service.
// Values are treated as immutable once they enter a CatalogSnapshot; the
// Tags and Metadata returned by the cache are shared and must not be modified.
type ServiceInstance struct {
	ServiceName string            `json:"service_name"`
	InstanceID  string            `json:"instance_id"`
	Address     string            `json:"address"`
	Port        int               `json:"port"`
	Tags        []string          `json:"tags,omitempty"`
	Health      HealthStatus      `json:"health"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Weight      int               `json:"weight,omitempty"`
}

// Key returns the identity of the instance.
func (i ServiceInstance) Key() Key {
	return Key{ServiceName: i.ServiceName, InstanceID: i.InstanceID}
}

// HostPort returns "address:port".
func (i ServiceInstance) HostPort() string {
	return net.JoinHostPort(i.Address, strconv.Itoa(i.Port))
}

// IsPassing reports whether the instance should receive traffic.
func (i ServiceInstance) IsPassing() bool { return i.Health == HealthPassing }

// HasTag reports whether the instance carries tag.
func (i ServiceInstance) HasTag(tag string) bool {
	_, found := slices.BinarySearch(i.Tags, tag)
	return found
}

// Equal compares every field, treating tags as a set.
func (i ServiceInstance) Equal(o ServiceInstance) bool {
	return i.ServiceName == o.ServiceName &&
		i.InstanceID == o.InstanceID &&
		i.Address == o.Address &&
		i.Port == o.Port &&
		i.Health == o.Health &&
		i.Weight == o.Weight &&
		slices.Equal(i.Tags, o.Tags) &&
		maps.Equal(i.Metadata, o.Metadata)
}

// normalized returns a copy with sorted, de-duplicated tags and a private
// metadata map. The weight falls back to the "weight" metadata key.
func (i ServiceInstance) normalized() ServiceInstance {
	if len(i.Tags) > 0 {
		tags := slices.Clone(i.Tags)
		sort.Strings(tags)
		i.Tags = slices.Compact(tags)
	} else {
		i.Tags = nil
	}
	if len(i.Metadata) > 0 {
		i.Metadata = maps.Clone(i.Metadata)
	} else {
		i.Metadata = nil
	}
	if i.Health == "" {
		i.Health = HealthUnknown
	}
	if i.Weight <= 0 {
		if w, err := strconv.Atoi(i.Metadata["weight"]); err == nil && w > 0 {
			i.Weight = w
		}
	}
	return i
}

// CatalogSnapshot is the registry's view of one service at a blocking-query index.
type CatalogSnapshot struct {
	ServiceName string            `json:"service_name"`
	Instances   []ServiceInstance `json:"instances"`
	Index       uint64            `json:"index"`
}

// NewSnapshot builds a snapshot with unique identities (first occurrence
// wins) ordered by instance ID.
func NewSnapshot(serviceName string, index uint64, instances []ServiceInstance) CatalogSnapshot {
	seen := make(map[string]struct{}, len(instances))
	out := make([]ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		if inst.InstanceID == "" {
			continue
		}
		if _, dup := seen[inst.InstanceID]; dup {
			continue
		}
		seen[inst.InstanceID] = struct{}{}
		inst.ServiceName = serviceName
		out = append(out, inst.normalized())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].InstanceID < out[b].InstanceID })
	return CatalogSnapshot{ServiceName: serviceName, Instances: out, Index: index}
}

// Lookup returns the instance with the given ID.
func (s CatalogSnapshot) Lookup(instanceID string) (ServiceInstance, bool) {
	idx := sort.Search(len(s.Instances), func(i int) bool { return s.Instances[i].InstanceID >= instanceID })
	if idx < len(s.Instances) && s.Instances[idx].InstanceID == instanceID {
		return s.Instances[idx], true
	}
	return ServiceInstance{}, false
}

// Len returns the number of instances in the snapshot.
func (s CatalogSnapshot) Len() int { return len(s.Instances) }

// Filter selects instances for a read.
type Filter func(ServiceInstance) bool

// PassingOnly is the default read filter.
func PassingOnly(i ServiceInstance) bool { return i.IsPassing() }

// PassingOrWarning also admits instances in warning state.
func PassingOrWarning(i ServiceInstance) bool {
	return i.Health == HealthPassing || i.Health == HealthWarning
}

// Any admits every instance.
func Any(ServiceInstance) bool { return true }

// WithTags admits instances carrying every tag, on top of base.
func WithTags(base Filter, tags ...string) Filter {
	if len(tags) == 0 {
		return base
	}
	return func(i ServiceInstance) bool {
		if base != nil && !base(i) {
			return false
		}
		for _, t := range tags {
			if !i.HasTag(t) {
				return false
			}
		}
		return true
	}
}

func (s CatalogSnapshot) filter(f Filter) []ServiceInstance {
	out := make([]ServiceInstance, 0, len(s.Instances))
	for _, inst := range s.Instances {
		if f == nil || f(inst) {
			out = append(out, inst)
		}
	}
	return out
}
