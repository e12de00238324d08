package discovery

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// LoadBalancingStrategy names a selection policy.
type LoadBalancingStrategy string

const (
	StrategyRandom     LoadBalancingStrategy = "random"
	StrategyRoundRobin LoadBalancingStrategy = "round_robin"
	StrategyWeighted   LoadBalancingStrategy = "weighted"
)

// Strategy selects one instance out of a non-empty candidate list.
// Implementations must be safe for concurrent use.
type Strategy interface {
	Name() LoadBalancingStrategy
	Pick(serviceName string, instances []ServiceInstance) ServiceInstance
}

// NewStrategy returns the built-in strategy with the given name.
// An empty name selects round robin.
func NewStrategy(name LoadBalancingStrategy) (Strategy, error) {
	switch name {
	case "", StrategyRoundRobin:
		return NewRoundRobin(), nil
	case StrategyRandom:
		return NewRandom(), nil
	case StrategyWeighted:
		return NewWeighted(), nil
	default:
		return nil, fmt.Errorf("unknown load balancing strategy %q", name)
	}
}

// RoundRobin cycles through instances, keeping one cursor per service.
type RoundRobin struct {
	mu      sync.Mutex
	cursors map[string]uint64
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{cursors: make(map[string]uint64)}
}

func (r *RoundRobin) Name() LoadBalancingStrategy { return StrategyRoundRobin }

func (r *RoundRobin) Pick(serviceName string, instances []ServiceInstance) ServiceInstance {
	r.mu.Lock()
	idx := r.cursors[serviceName]
	r.cursors[serviceName] = idx + 1
	r.mu.Unlock()
	return instances[idx%uint64(len(instances))]
}

// Random picks uniformly.
type Random struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewRandom() *Random {
	return &Random{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (s *Random) Name() LoadBalancingStrategy { return StrategyRandom }

func (s *Random) Pick(_ string, instances []ServiceInstance) ServiceInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return instances[s.r.Intn(len(instances))]
}

// Weighted picks proportionally to ServiceInstance.Weight; missing weights count as 1.
type Weighted struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewWeighted() *Weighted {
	return &Weighted{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (s *Weighted) Name() LoadBalancingStrategy { return StrategyWeighted }

func (s *Weighted) Pick(_ string, instances []ServiceInstance) ServiceInstance {
	total := 0
	for _, inst := range instances {
		total += weightOf(inst)
	}

	s.mu.Lock()
	n := s.r.Intn(total)
	s.mu.Unlock()

	for _, inst := range instances {
		n -= weightOf(inst)
		if n < 0 {
			return inst
		}
	}
	return instances[len(instances)-1]
}

func weightOf(inst ServiceInstance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}

// Query narrows a resolve call.
type Query struct {
	ServiceName string
	// Tags must all be present on a returned instance.
	Tags []string
	// IncludeWarning also returns instances in warning state.
	IncludeWarning bool
}

func (q Query) filter() Filter {
	base := Filter(PassingOnly)
	if q.IncludeWarning {
		base = PassingOrWarning
	}
	return WithTags(base, q.Tags...)
}
